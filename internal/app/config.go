package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the promotion processor configuration, loadable from
// environment variables (PROMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8081" usage:"Admin server listen address (health probes)"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PROMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Processor   ProcessorConfig
	Graceful    GracefulConfig
}

// ProcessorConfig controls the order processing loop.
type ProcessorConfig struct {
	Interval          time.Duration `default:"5s"  usage:"Delay between pending order polls"`
	BatchSize         int           `default:"100" usage:"Pending orders fetched per poll" flag:"batch-size"`
	Workers           int           `default:"4"   usage:"Orders processed concurrently"`
	PromotionCacheTTL time.Duration `default:"30s" usage:"How long active promotions are cached per channel" flag:"promotion-cache-ttl"`
	SeenCapacity      int           `default:"1000000" usage:"Expected applied order/promotion pairs kept in memory" flag:"seen-capacity"`
	HeartbeatMaxAge   time.Duration `default:"1m"  usage:"Liveness fails when no batch completed for this long" flag:"heartbeat-max-age"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PROMO",
		Files:     []string{"config.yaml", "/etc/promo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PROMO_DATABASE_URL or DATABASE_URL")
	}
	if c.Processor.Workers < 1 {
		return errors.Errorf("processor workers must be positive, got %d", c.Processor.Workers)
	}
	if c.Processor.BatchSize < 1 {
		return errors.Errorf("processor batch size must be positive, got %d", c.Processor.BatchSize)
	}
	if c.Processor.HeartbeatMaxAge <= c.Processor.Interval {
		return errors.Errorf("heartbeat max age %s must exceed the poll interval %s",
			c.Processor.HeartbeatMaxAge, c.Processor.Interval)
	}
	return nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT variables
// onto the PROMO_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8081" {
		c.Addr = "0.0.0.0:" + port
	}
}
