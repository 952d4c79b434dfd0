package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string `yaml:"environment" default:"dev"`
	RunsDir     string `yaml:"runs_dir" default:"runs" validate:"required"`
	Repository  string `yaml:"repository"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled" default:"true"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	Exchange struct {
		Name              string        `yaml:"name" default:"binance" validate:"required"`
		BaseURL           string        `yaml:"base_url" default:"https://api.binance.com"`
		Symbol            string        `yaml:"symbol" default:"BTC/USDT" validate:"required"`
		Timeframe         string        `yaml:"timeframe" default:"1m" validate:"oneof=1m 5m 15m 1h"`
		PageLimit         int           `yaml:"page_limit" default:"1000" validate:"gt=0,lte=1000"`
		RequestsPerSecond float64       `yaml:"requests_per_second" default:"5" validate:"gt=0"`
		RequestTimeout    time.Duration `yaml:"request_timeout" default:"15s"`
	} `yaml:"exchange"`

	Collect struct {
		OHLCVDays  int   `yaml:"ohlcv_days" default:"90" validate:"gt=0"`
		WithTrades bool  `yaml:"with_trades"`
		TradesDays int   `yaml:"trades_days" default:"14" validate:"gt=0"`
		MaxTrades  int64 `yaml:"max_trades" default:"200000" validate:"gt=0"`
	} `yaml:"collect"`

	// Retry bounds are conservative documented defaults; the page fetch
	// state machine doubles the delay per attempt up to max_backoff.
	Retry struct {
		MaxAttempts int           `yaml:"max_attempts" default:"5" validate:"gte=1"`
		BaseBackoff time.Duration `yaml:"base_backoff" default:"500ms"`
		MaxBackoff  time.Duration `yaml:"max_backoff" default:"30s"`
	} `yaml:"retry"`

	Proxies struct {
		VolWindows   []int         `yaml:"vol_windows" default:"[30,120]"`
		IntensityBin time.Duration `yaml:"intensity_bin" default:"60s"`
	} `yaml:"proxies"`

	Export struct {
		Backend string `yaml:"backend" default:"none" validate:"oneof=none kafka clickhouse"`
		Kafka   struct {
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic"`
			Compression  string        `yaml:"compression" default:"gzip"`
			RequiredAcks int           `yaml:"required_acks" default:"-1"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port" default:"9000"`
			Database     string        `yaml:"database" default:"marketpull"`
			User         string        `yaml:"user" default:"default"`
			Password     string        `yaml:"password"`
			DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		} `yaml:"clickhouse"`
	} `yaml:"export"`
}

// Load reads a YAML configuration file, applies struct defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("RUNS_DIR"); v != "" {
		c.RunsDir = v
	}
	if v := os.Getenv("EXCHANGE"); v != "" {
		c.Exchange.Name = v
	}
	if v := os.Getenv("SYMBOL"); v != "" {
		c.Exchange.Symbol = v
	}
	if v := os.Getenv("EXPORT_BACKEND"); v != "" {
		c.Export.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Export.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Export.Kafka.Topic = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.Export.ClickHouse.Host = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks field rules plus cross-field constraints the struct tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Retry.BaseBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return fmt.Errorf("retry: base_backoff must be > 0 and <= max_backoff")
	}
	for _, w := range c.Proxies.VolWindows {
		if w < 2 {
			return fmt.Errorf("proxies.vol_windows: window %d must be >= 2", w)
		}
	}
	if c.Proxies.IntensityBin < time.Second {
		return fmt.Errorf("proxies.intensity_bin must be >= 1s")
	}
	switch c.Export.Backend {
	case "kafka":
		if len(c.Export.Kafka.Brokers) == 0 || c.Export.Kafka.Topic == "" {
			return fmt.Errorf("export.kafka: brokers and topic are required")
		}
	case "clickhouse":
		if c.Export.ClickHouse.Host == "" {
			return fmt.Errorf("export.clickhouse: host is required")
		}
	}
	return nil
}
