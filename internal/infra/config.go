package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized option of the pipeline. Zero values are
// filled with the documented defaults after loading, so a minimal file with
// just the feed section is enough to run.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		WSURL   string   `yaml:"ws_url"`
		Venue   string   `yaml:"venue"`
		Symbols []string `yaml:"symbols"`
	} `yaml:"feed"`

	Database struct {
		Path     string `yaml:"path"`
		MinConns int    `yaml:"min_conns"`
		MaxConns int    `yaml:"max_conns"`
	} `yaml:"database"`

	Ingest struct {
		BatchSize       int `yaml:"batch_size"`
		FlushIntervalMS int `yaml:"flush_interval_ms"`
		RetryAttempts   int `yaml:"retry_attempts"`
		RetryBackoffMS  int `yaml:"retry_backoff_ms"`
	} `yaml:"ingest"`

	Book struct {
		SnapshotIntervalMS int  `yaml:"snapshot_interval_ms"`
		PersistSnapshots   bool `yaml:"persist_snapshots"`
	} `yaml:"book"`

	Candle struct {
		BucketWidthSec  int `yaml:"bucket_width_sec"`
		SweepIntervalSec int `yaml:"sweep_interval_sec"`
	} `yaml:"candle"`

	Detector struct {
		IntervalSec       int             `yaml:"interval_sec"`
		WindowHours       int             `yaml:"window_hours"`
		MinTrades         int             `yaml:"min_trades"`
		MinTotalVolume    int64           `yaml:"min_total_volume"`
		MinFrequencyMin   float64         `yaml:"min_frequency_minutes"`
		MaxFrequencyMin   float64         `yaml:"max_frequency_minutes"`
		MaxPriceVariation decimal.Decimal `yaml:"max_price_variation"`
		MinConfidence     float64         `yaml:"min_confidence"`
		ActiveConfidence  float64         `yaml:"active_confidence"`
		InactiveAfterHours int            `yaml:"inactive_after_hours"`

		// Confidence sub-score weights. Empirically tuned, not load-bearing
		// beyond "more regular evidence scores higher".
		Weights struct {
			TradeCount float64 `yaml:"trade_count"`
			Frequency  float64 `yaml:"frequency"`
			Variation  float64 `yaml:"variation"`
			Aggression float64 `yaml:"aggression"`
		} `yaml:"weights"`
	} `yaml:"detector"`

	Audit struct {
		BrokerURL string `yaml:"broker_url"`
		Topic     string `yaml:"topic"`
	} `yaml:"audit"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Metrics struct {
		LogIntervalSec int `yaml:"log_interval_sec"`
	} `yaml:"metrics"`
}

// LoadConfig reads and parses the configuration file, applies defaults,
// environment overrides and validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset options with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/tickpulse.db"
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 2
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 1000
	}
	if c.Ingest.FlushIntervalMS <= 0 {
		c.Ingest.FlushIntervalMS = 100
	}
	if c.Ingest.RetryAttempts <= 0 {
		c.Ingest.RetryAttempts = 5
	}
	if c.Ingest.RetryBackoffMS <= 0 {
		c.Ingest.RetryBackoffMS = 100
	}
	if c.Book.SnapshotIntervalMS <= 0 {
		c.Book.SnapshotIntervalMS = 250
	}
	if c.Candle.BucketWidthSec <= 0 {
		c.Candle.BucketWidthSec = 60
	}
	if c.Candle.SweepIntervalSec <= 0 {
		c.Candle.SweepIntervalSec = 60
	}
	if c.Detector.IntervalSec <= 0 {
		c.Detector.IntervalSec = 300
	}
	if c.Detector.WindowHours <= 0 {
		c.Detector.WindowHours = 24
	}
	if c.Detector.MinTrades <= 0 {
		c.Detector.MinTrades = 5
	}
	if c.Detector.MinTotalVolume <= 0 {
		c.Detector.MinTotalVolume = 1000
	}
	if c.Detector.MinFrequencyMin <= 0 {
		c.Detector.MinFrequencyMin = 0.001
	}
	if c.Detector.MaxFrequencyMin <= 0 {
		c.Detector.MaxFrequencyMin = 120
	}
	if c.Detector.MaxPriceVariation.IsZero() {
		c.Detector.MaxPriceVariation = decimal.NewFromFloat(0.15)
	}
	if c.Detector.MinConfidence <= 0 {
		c.Detector.MinConfidence = 0.4
	}
	if c.Detector.ActiveConfidence <= 0 {
		c.Detector.ActiveConfidence = 0.6
	}
	if c.Detector.InactiveAfterHours <= 0 {
		c.Detector.InactiveAfterHours = 48
	}
	w := &c.Detector.Weights
	if w.TradeCount+w.Frequency+w.Variation+w.Aggression == 0 {
		w.TradeCount = 0.30
		w.Frequency = 0.30
		w.Variation = 0.25
		w.Aggression = 0.15
	}
	if c.Metrics.LogIntervalSec <= 0 {
		c.Metrics.LogIntervalSec = 60
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Feed.WSURL != "" && !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
	}
	if c.Feed.WSURL != "" && len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("at least one feed symbol is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("pool min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Detector.MinFrequencyMin >= c.Detector.MaxFrequencyMin {
		return fmt.Errorf("min_frequency_minutes must be below max_frequency_minutes")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1]")
	}
	if c.Audit.BrokerURL != "" && c.Audit.Topic == "" {
		return fmt.Errorf("audit topic is required when a broker is configured")
	}
	return nil
}

// overrideWithEnv replaces values from the environment when present.
func overrideWithEnv(cfg *Config) {
	if path := os.Getenv("TICKPULSE_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if url := os.Getenv("TICKPULSE_FEED_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
	if broker := os.Getenv("TICKPULSE_AUDIT_BROKER"); broker != "" {
		cfg.Audit.BrokerURL = broker
	}
}
