package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"updown/internal/auth"
	"updown/internal/service"
)

// JobHandler exposes the periodic-trigger entry points. A scheduler
// (external or the in-process cron) hits these with the shared job
// token; every operation is idempotent, so overlapping triggers are
// harmless.
type JobHandler struct {
	Candles    *service.CandleSyncService
	Settlement *service.SettlementService
	Rating     *service.RatingService
	Logger     *zap.Logger

	// DefaultSeason is used when refresh requests omit one; empty means
	// derive from the current date.
	DefaultSeason func() string
}

func (h *JobHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/jobs", auth.RequireJobToken())
	group.POST("/sync-candles", h.syncCandles)
	group.POST("/settle", h.settle)
	group.POST("/refresh-rankings", h.refreshRankings)
}

func (h *JobHandler) syncCandles(c *gin.Context) {
	marketName := strings.TrimSpace(c.Query("market"))
	if marketName != "" {
		m, ok := h.Candles.Markets.Get(marketName)
		if !ok {
			Error(c, 404, "unknown market", nil)
			return
		}
		res, err := h.Candles.SyncMarket(c.Request.Context(), m)
		if err != nil {
			ServiceError(c, err)
			return
		}
		Ok(c, res, nil)
		return
	}
	results := h.Candles.SyncAll(c.Request.Context())
	if h.Logger != nil {
		h.Logger.Info("candle sync triggered", zap.Int("markets", len(results)))
	}
	Ok(c, results, nil)
}

func (h *JobHandler) settle(c *gin.Context) {
	marketName := strings.TrimSpace(c.Query("market"))
	windowKey := strings.TrimSpace(c.Query("window_key"))
	if windowKey != "" {
		if marketName == "" {
			Error(c, 400, "market is required with window_key", nil)
			return
		}
		res, err := h.Settlement.SettlePoll(c.Request.Context(), marketName, windowKey)
		if err != nil {
			ServiceError(c, err)
			return
		}
		Ok(c, res, nil)
		return
	}
	results, err := h.Settlement.SettleDue(c.Request.Context(), marketName)
	if err != nil {
		ServiceError(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("settle sweep triggered",
			zap.String("market", marketName),
			zap.Int("polls", len(results)),
		)
	}
	Ok(c, results, map[string]any{"count": len(results)})
}

func (h *JobHandler) refreshRankings(c *gin.Context) {
	season := strings.TrimSpace(c.Query("season"))
	if season == "" && h.DefaultSeason != nil {
		season = h.DefaultSeason()
	}
	scope := strings.TrimSpace(c.Query("scope"))
	var (
		rows int
		err  error
	)
	if scope != "" {
		rows, err = h.Rating.RefreshMarketSeason(c.Request.Context(), scope, season)
	} else {
		rows, err = h.Rating.RefreshAll(c.Request.Context(), season)
	}
	if err != nil {
		ServiceError(c, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Info("ranking refresh triggered",
			zap.String("scope", scope),
			zap.String("season", season),
			zap.Int("rows", rows),
		)
	}
	Ok(c, gin.H{"rows_updated": rows, "season": season}, nil)
}
