package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"updown/internal/client/binance"
	"updown/internal/config"
	cronrunner "updown/internal/cron"
	"updown/internal/db"
	"updown/internal/handler"
	"updown/internal/logger"
	"updown/internal/market"
	gormrepository "updown/internal/repository/gorm"
	"updown/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("UD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("UD_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	registry, err := market.NewRegistry(cfg.Markets, cfg.Engine.ReferenceTimezone)
	if err != nil {
		logger.Fatal("market registry failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	feedHTTP := &http.Client{Timeout: cfg.Feed.Timeout}
	feed := &service.BinanceFeed{
		Client: binance.NewClient(feedHTTP, cfg.Feed.BaseURL),
		Logger: logger,
	}

	minStake, err := decimal.NewFromString(cfg.Engine.MinStake)
	if err != nil {
		logger.Fatal("invalid engine.min_stake", zap.Error(err))
	}

	candleSync := &service.CandleSyncService{
		Repo:     store,
		Markets:  registry,
		Feed:     feed,
		Logger:   logger,
		Lookback: cfg.Engine.CandleLookback,
	}
	pollSvc := &service.PollService{
		Repo:     store,
		Markets:  registry,
		Feed:     feed,
		Logger:   logger,
		MinStake: minStake,
	}
	settlementSvc := &service.SettlementService{
		Repo:         store,
		Markets:      registry,
		Feed:         feed,
		Logger:       logger,
		ScanLimit:    cfg.Engine.SettleScanLimit,
		FetchTimeout: cfg.Engine.FetchTimeout,
	}
	ratingSvc := &service.RatingService{
		Repo:    store,
		Markets: registry,
		Logger:  logger,
		Scorer:  service.BalanceWinRateScorer{},
	}

	currentSeason := func() string {
		if s := strings.TrimSpace(cfg.Season.Current); s != "" {
			return s
		}
		return service.CurrentSeasonID(time.Now(), registry.Location())
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	jobHandler := &handler.JobHandler{
		Candles:       candleSync,
		Settlement:    settlementSvc,
		Rating:        ratingSvc,
		Logger:        logger,
		DefaultSeason: currentSeason,
	}
	jobHandler.Register(engine)
	pollHandler := &handler.PollHandler{Polls: pollSvc}
	pollHandler.Register(engine)
	rankingHandler := &handler.RankingHandler{
		Repo:          store,
		DefaultSeason: currentSeason,
	}
	rankingHandler.Register(engine)
	accountHandler := &handler.AccountHandler{Accounts: store}
	accountHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.CandleSync, func(ctx context.Context) {
			results := candleSync.SyncAll(ctx)
			for _, res := range results {
				logger.Debug("cron candle sync",
					zap.String("market", res.Market),
					zap.Int("fetched", res.Fetched),
					zap.Int("inserted", res.Inserted),
					zap.Int("failed", res.Failed),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register candle sync failed", zap.Error(err))
		}
		_, err = cronRunner.Add(cfg.Cron.Settle, func(ctx context.Context) {
			results, err := settlementSvc.SettleDue(ctx, "")
			if err != nil {
				logger.Warn("cron settle sweep failed", zap.Error(err))
				return
			}
			for _, res := range results {
				if res.Status == service.StatusPriceUnavailable {
					continue
				}
				logger.Info("cron settle",
					zap.String("market", res.Market),
					zap.String("window_key", res.WindowKey),
					zap.String("status", res.Status),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register settle failed", zap.Error(err))
		}
		_, err = cronRunner.Add(cfg.Cron.RatingRefresh, func(ctx context.Context) {
			rows, err := ratingSvc.RefreshAll(ctx, currentSeason())
			if err != nil {
				logger.Warn("cron rating refresh failed", zap.Error(err))
				return
			}
			logger.Info("cron rating refresh ok", zap.Int("rows", rows))
		})
		if err != nil {
			logger.Warn("cron register rating refresh failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Job-Token")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
