package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Webhook      WebhookConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PLATEFUL_APP_ENV" required:"true"`
	Port         string `envconfig:"PLATEFUL_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PLATEFUL_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PLATEFUL_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PLATEFUL_DB_DSN"`
	Driver string `envconfig:"PLATEFUL_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PLATEFUL_DB_HOST"`
	LegacyPort     int    `envconfig:"PLATEFUL_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PLATEFUL_DB_USER"`
	LegacyPassword string `envconfig:"PLATEFUL_DB_PASSWORD"`
	LegacyName     string `envconfig:"PLATEFUL_DB_NAME"`
	LegacySSLMode  string `envconfig:"PLATEFUL_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PLATEFUL_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PLATEFUL_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PLATEFUL_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PLATEFUL_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PLATEFUL_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PLATEFUL_REDIS_ADDR"`
	Password     string        `envconfig:"PLATEFUL_REDIS_PASSWORD"`
	DB           int           `envconfig:"PLATEFUL_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PLATEFUL_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PLATEFUL_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PLATEFUL_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PLATEFUL_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PLATEFUL_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PLATEFUL_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PLATEFUL_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PLATEFUL_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PLATEFUL_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PLATEFUL_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"PLATEFUL_STRIPE_API_KEY"`
	Secret string `envconfig:"PLATEFUL_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"PLATEFUL_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	SuccessURL string `envconfig:"PLATEFUL_CHECKOUT_SUCCESS_URL" required:"true"`
	CancelURL  string `envconfig:"PLATEFUL_CHECKOUT_CANCEL_URL" required:"true"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"PLATEFUL_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	BillingTopic        string `envconfig:"PLATEFUL_PUBSUB_BILLING_TOPIC" default:"plateful-billing-events"`
	BillingSubscription string `envconfig:"PLATEFUL_PUBSUB_BILLING_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PLATEFUL_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PLATEFUL_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PLATEFUL_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PLATEFUL_OUTBOX_RETENTION_DAYS" default:"14"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"PLATEFUL_CRON_INTERVAL" default:"1h"`
	ReconcileLimit    int           `envconfig:"PLATEFUL_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"PLATEFUL_CRON_RECONCILE_LOOKBACK" default:"168h"`
}

type WebhookConfig struct {
	ProcessTimeout time.Duration `envconfig:"PLATEFUL_WEBHOOK_PROCESS_TIMEOUT" default:"15s"`
	IdempotencyTTL time.Duration `envconfig:"PLATEFUL_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
