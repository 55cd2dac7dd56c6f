package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`
	Feed   FeedConfig   `mapstructure:"feed"`
	Engine EngineConfig `mapstructure:"engine"`
	Season SeasonConfig `mapstructure:"season"`

	Markets []MarketConfig `mapstructure:"markets"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	CandleSync    string `mapstructure:"candle_sync"`
	Settle        string `mapstructure:"settle"`
	RatingRefresh string `mapstructure:"rating_refresh"`
}

type FeedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	ReferenceTimezone string        `mapstructure:"reference_timezone"`
	MinStake          string        `mapstructure:"min_stake"`
	CandleLookback    int           `mapstructure:"candle_lookback"`
	SettleScanLimit   int           `mapstructure:"settle_scan_limit"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
}

type SeasonConfig struct {
	Current string `mapstructure:"current"`
}

// MarketConfig describes one tradable market and its poll window shape.
type MarketConfig struct {
	Name       string        `mapstructure:"name"`
	Symbol     string        `mapstructure:"symbol"`
	Interval   string        `mapstructure:"interval"`
	VoteCutoff time.Duration `mapstructure:"vote_cutoff"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("UD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.candle_sync", "@every 1m")
	v.SetDefault("cron.settle", "@every 1m")
	v.SetDefault("cron.rating_refresh", "@every 10m")
	v.SetDefault("feed.base_url", "https://api.binance.com")
	v.SetDefault("feed.timeout", "15s")
	v.SetDefault("engine.reference_timezone", "Asia/Seoul")
	v.SetDefault("engine.min_stake", "1")
	v.SetDefault("engine.candle_lookback", 10)
	v.SetDefault("engine.settle_scan_limit", 200)
	v.SetDefault("engine.fetch_timeout", "10s")
	v.SetDefault("season.current", "")
	v.SetDefault("markets", []map[string]any{
		{"name": "btc-daily", "symbol": "BTCUSDT", "interval": "1d", "vote_cutoff": "1h"},
		{"name": "btc-4h", "symbol": "BTCUSDT", "interval": "4h", "vote_cutoff": "30m"},
		{"name": "eth-daily", "symbol": "ETHUSDT", "interval": "1d", "vote_cutoff": "1h"},
	})

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
