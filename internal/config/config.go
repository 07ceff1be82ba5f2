package config

import (
	"fmt"
	"time"

	"danmuget/internal/domain"
)

// Config holds all run configuration. Values come from DG_* environment
// variables (optionally via a .env file) and may be overridden by CLI
// flags before Validate is called.
type Config struct {
	Input   string `envconfig:"DG_INPUT"`
	BaseURL string `envconfig:"DG_BASE_URL" default:"http://127.0.0.1:9321"`
	Token   string `envconfig:"DG_TOKEN"`

	OutputDir     string `envconfig:"DG_OUTPUT_DIR" default:"./downloads"`
	DefaultFormat string `envconfig:"DG_FORMAT" default:"xml"`
	NamingRule    string `envconfig:"DG_NAMING_RULE" default:"{index}_{base}"`

	Concurrency    int           `envconfig:"DG_CONCURRENCY" default:"6"`
	Retries        int           `envconfig:"DG_RETRIES" default:"5"`
	RetryDelay     time.Duration `envconfig:"DG_RETRY_DELAY" default:"1500ms"`
	Throttle       time.Duration `envconfig:"DG_THROTTLE" default:"120ms"`
	RequestTimeout time.Duration `envconfig:"DG_TIMEOUT" default:"45s"`

	StatusAddr string `envconfig:"DG_STATUS_ADDR"`

	LogLevel  string `envconfig:"DG_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"DG_LOG_FORMAT" default:"text"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("input file is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	switch domain.Format(c.DefaultFormat) {
	case domain.FormatJSON, domain.FormatXML:
	default:
		return fmt.Errorf("default format must be json or xml, got %q", c.DefaultFormat)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1: %d", c.Concurrency)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0: %d", c.Retries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be >= 0: %v", c.RetryDelay)
	}
	if c.Throttle < 0 {
		return fmt.Errorf("throttle must be >= 0: %v", c.Throttle)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive: %v", c.RequestTimeout)
	}

	return nil
}
