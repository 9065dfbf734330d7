package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	extErrors "github.com/pkg/errors"
)

// Environment names accepted in API_ENV
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Backend is the configuration shared by every process touching the database and the gateway
type Backend struct {
	Environment string `env:"API_ENV" envDefault:"development" validate:"oneof=production development"`

	PostgresURI string `env:"POSTGRES_URI" validate:"required"`
	StripeKey   string `env:"STRIPE_KEY" validate:"required"`

	ReconcileConcurrency int `env:"RECONCILE_CONCURRENCY" envDefault:"5" validate:"min=1"`
	TrialDays            int `env:"TRIAL_DAYS" envDefault:"14" validate:"min=0"`
	MaxPaymentRetries    int `env:"MAX_PAYMENT_RETRIES" envDefault:"4" validate:"min=1"`
}

// Config is the configuration of the API server
type Config struct {
	Backend

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":42069" validate:"required"`

	RedisURI      string `env:"REDIS_URI"`
	RedisPassword string `env:"REDIS_PW"`
	AMQPURI       string `env:"AMQP_URI"`

	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeDashboardURL  string `env:"STRIPE_DASHBOARD_URL" envDefault:"https://dashboard.stripe.com" validate:"url"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY" validate:"required,min=16"`

	FeeBasisPoints         int64         `env:"FEE_BASIS_POINTS" envDefault:"1000" validate:"min=0,max=10000"`
	PriceLookupConcurrency int           `env:"PRICE_LOOKUP_CONCURRENCY" envDefault:"4" validate:"min=1"`
	GraceDays              int           `env:"GRACE_DAYS" envDefault:"7" validate:"min=1"`
	EventGuardTTL          time.Duration `env:"EVENT_GUARD_TTL" envDefault:"72h" validate:"min=1m"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Production reports whether the process runs in production
func (c *Backend) Production() bool {
	return c.Environment == EnvProduction
}

// DotFile returns the .env file for the environment named by API_ENV
func DotFile(environment string) string {
	if environment == EnvProduction {
		return ".env.production"
	}
	return ".env.development"
}

func loadDotFile(dotFile string) error {
	if len(dotFile) == 0 {
		return nil
	}
	if err := godotenv.Load(dotFile); err != nil && !os.IsNotExist(err) {
		return extErrors.Wrapf(err, "Cannot load configurations from %s", dotFile)
	}
	return nil
}

func parse(target interface{}) error {
	if err := env.Parse(target); err != nil {
		return extErrors.Wrap(err, "Cannot parse environment")
	}
	if err := validator.New().Struct(target); err != nil {
		return extErrors.Wrap(err, "Invalid configuration")
	}
	return nil
}

// Load reads dotFile into the environment when it exists, then parses and validates Config.
// Variables already present in the environment win over the file.
func Load(dotFile string) (*Config, error) {
	if err := loadDotFile(dotFile); err != nil {
		return nil, err
	}
	return Parse()
}

// Parse reads Config from the environment only
func Parse() (*Config, error) {
	var cfg Config
	if err := parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadBackend is Load for processes that only need Backend
func LoadBackend(dotFile string) (*Backend, error) {
	if err := loadDotFile(dotFile); err != nil {
		return nil, err
	}
	var cfg Backend
	if err := parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
