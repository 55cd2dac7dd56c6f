package config

import (
	"testing"
	"time"
)

func TestLoadEnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("does-not-exist.yaml", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("http_addr=%q", cfg.Server.HTTPAddr)
	}
	if cfg.Engine.ReferenceTimezone != "Asia/Seoul" {
		t.Fatalf("reference_timezone=%q", cfg.Engine.ReferenceTimezone)
	}
	if cfg.Engine.MinStake != "1" {
		t.Fatalf("min_stake=%q", cfg.Engine.MinStake)
	}
	if cfg.Feed.BaseURL != "https://api.binance.com" {
		t.Fatalf("feed base_url=%q", cfg.Feed.BaseURL)
	}
	if !cfg.Cron.Enabled {
		t.Fatal("cron should default enabled")
	}
	if len(cfg.Markets) != 3 {
		t.Fatalf("markets=%d want 3", len(cfg.Markets))
	}
	daily := cfg.Markets[0]
	if daily.Name != "btc-daily" || daily.Interval != "1d" || daily.VoteCutoff != time.Hour {
		t.Fatalf("unexpected default market: %+v", daily)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("UD_SERVER_HTTP_ADDR", ":9090")
	t.Setenv("UD_LOG_LEVEL", "debug")
	t.Setenv("UD_ENGINE_MIN_STAKE", "5")

	cfg, err := Load("does-not-exist.yaml", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9090" {
		t.Fatalf("http_addr=%q", cfg.Server.HTTPAddr)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
	if cfg.Engine.MinStake != "5" {
		t.Fatalf("min_stake=%q", cfg.Engine.MinStake)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("does-not-exist.yaml", false); err == nil {
		t.Fatal("expected error reading missing config file")
	}
}
