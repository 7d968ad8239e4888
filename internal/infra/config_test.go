package infra

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
feed:
  ws_url: wss://feed.example.com/md
  venue: XEXCH
  symbols: [BTC-USDT]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Ingest.BatchSize != 1000 || cfg.Ingest.FlushIntervalMS != 100 {
		t.Errorf("ingest defaults not applied: %+v", cfg.Ingest)
	}
	if cfg.Ingest.RetryAttempts != 5 {
		t.Errorf("expected 5 retry attempts, got %d", cfg.Ingest.RetryAttempts)
	}
	if cfg.Book.SnapshotIntervalMS != 250 {
		t.Errorf("expected 250ms snapshot interval, got %d", cfg.Book.SnapshotIntervalMS)
	}
	if cfg.Candle.BucketWidthSec != 60 {
		t.Errorf("expected 60s candle buckets, got %d", cfg.Candle.BucketWidthSec)
	}
	if cfg.Detector.MinTrades != 5 || cfg.Detector.MinTotalVolume != 1000 {
		t.Errorf("detector defaults not applied: %+v", cfg.Detector)
	}
	w := cfg.Detector.Weights
	if w.TradeCount+w.Frequency+w.Variation+w.Aggression != 1.0 {
		t.Errorf("default weights should sum to 1, got %+v", w)
	}
}

func TestLoadConfigExplicitValuesWin(t *testing.T) {
	path := writeConfigFile(t, `
ingest:
  batch_size: 50
  flush_interval_ms: 10
detector:
  min_trades: 3
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Ingest.BatchSize != 50 || cfg.Ingest.FlushIntervalMS != 10 {
		t.Errorf("explicit ingest values lost: %+v", cfg.Ingest)
	}
	if cfg.Detector.MinTrades != 3 {
		t.Errorf("explicit min_trades lost: %d", cfg.Detector.MinTrades)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfigFile(t, `
database:
  path: data/from_file.db
`)
	t.Setenv("TICKPULSE_DB_PATH", "/tmp/from_env.db")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/from_env.db" {
		t.Errorf("env override not applied: %s", cfg.Database.Path)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad feed url", "feed:\n  ws_url: http://not-websocket\n  symbols: [X]\n"},
		{"feed without symbols", "feed:\n  ws_url: wss://feed.example.com\n"},
		{"inverted pool bounds", "database:\n  min_conns: 20\n  max_conns: 5\n"},
		{"inverted frequency range", "detector:\n  min_frequency_minutes: 500\n  max_frequency_minutes: 120\n"},
		{"broker without topic", "audit:\n  broker_url: localhost:9092\n  topic: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
