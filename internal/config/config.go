// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/qurbani/slot-allocation/internal/model"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; nested structs group related settings.
type Config struct {
	Env      string     `env:"APP_ENV" envDefault:"dev"`   // application environment (dev/test/prod)
	Port     string     `env:"APP_PORT" envDefault:"8080"` // HTTP port to listen on
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// StoreDriver selects the persistence backend: mysql, mongo or memory.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mysql"`
	DB          DBConfig
	Mongo       MongoConfig

	JWTSecret    string `env:"JWT_SECRET,required,notEmpty"`        // secret used to verify (and mint) JWTs
	AccessTTLMin int    `env:"ACCESS_TOKEN_TTL_MIN" envDefault:"60"` // TTL of tokens minted by cmd/token

	// RabbitURL enables completion messages when set.
	RabbitURL            string `env:"RABBITMQ_URL"`
	QueueConsumerEnabled bool   `env:"QUEUE_CONSUMER_ENABLED" envDefault:"true"`
	CompletionLogPath    string `env:"COMPLETION_LOG_PATH" envDefault:"logs/completions.log"`

	// RealtimeChannel is the redis pub/sub channel used to fan events out to
	// every instance.  Empty keeps delivery local to the process.
	RealtimeChannel string `env:"REALTIME_CHANNEL" envDefault:"qurbani:events"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	Allocation AllocationConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Cache      CacheConfig
}

// DBConfig carries the MySQL connection settings.
type DBConfig struct {
	User    string `env:"DB_USER"`
	Pass    string `env:"DB_PASS"` // empty allowed
	Host    string `env:"DB_HOST" envDefault:"localhost"`
	Port    string `env:"DB_PORT" envDefault:"3306"`
	Name    string `env:"DB_NAME"`
	Migrate bool   `env:"DB_MIGRATE" envDefault:"true"` // apply embedded migrations on start
}

// MongoConfig carries the MongoDB connection settings.
type MongoConfig struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DB" envDefault:"qurbani"`
}

// AllocationConfig groups the knobs of the share ledger and allocation.
type AllocationConfig struct {
	// DefaultTierMax is the cap given to a tier the first time the ledger
	// sees it.
	DefaultTierMax int             `env:"DEFAULT_TIER_MAX" envDefault:"7"`
	PriceStandard  decimal.Decimal `env:"PRICE_STANDARD" envDefault:"150"`
	PriceMedium    decimal.Decimal `env:"PRICE_MEDIUM" envDefault:"200"`
	PricePremium   decimal.Decimal `env:"PRICE_PREMIUM" envDefault:"250"`
	// ReleaseOnRemoval gives shares back to the ledger when a participation
	// is rejected or deleted.  Off by default: consumed shares stay consumed.
	ReleaseOnRemoval bool `env:"LEDGER_RELEASE_ON_REMOVAL" envDefault:"false"`
}

// Prices returns the per-share price of every tier.
func (a AllocationConfig) Prices() map[model.Quality]decimal.Decimal {
	return map[model.Quality]decimal.Decimal{
		model.QualityStandard: a.PriceStandard,
		model.QualityMedium:   a.PriceMedium,
		model.QualityPremium:  a.PricePremium,
	}
}

// Load reads an optional .env file, then parses the environment into a
// Config and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.RateLimit.normalize()
	return cfg, nil
}

// Validate checks cross-field rules env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case DriverMySQL:
		if c.DB.User == "" || c.DB.Name == "" {
			errs = append(errs, errors.New("DB_USER and DB_NAME are required for the mysql store"))
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.Allocation.DefaultTierMax < 0 {
		errs = append(errs, errors.New("DEFAULT_TIER_MAX must not be negative"))
	}
	for q, p := range c.Allocation.Prices() {
		if !p.IsPositive() {
			errs = append(errs, fmt.Errorf("price for %s must be positive", strings.ToLower(string(q))))
		}
	}
	return errors.Join(errs...)
}

// MySQLDSN renders the go-sql-driver DSN.  parseTime=true maps DATETIME to
// time.Time and loc=UTC keeps times consistent.
func (d DBConfig) MySQLDSN() string {
	auth := d.User
	if d.Pass != "" {
		auth = fmt.Sprintf("%s:%s", d.User, d.Pass)
	}
	return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC", auth, d.Host, d.Port, d.Name)
}
