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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
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
	Env          string `envconfig:"PITCHSIDE_APP_ENV" required:"true"`
	Port         string `envconfig:"PITCHSIDE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PITCHSIDE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PITCHSIDE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PITCHSIDE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PITCHSIDE_DB_DSN"`
	Driver string `envconfig:"PITCHSIDE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PITCHSIDE_DB_HOST"`
	LegacyPort     int    `envconfig:"PITCHSIDE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PITCHSIDE_DB_USER"`
	LegacyPassword string `envconfig:"PITCHSIDE_DB_PASSWORD"`
	LegacyName     string `envconfig:"PITCHSIDE_DB_NAME"`
	LegacySSLMode  string `envconfig:"PITCHSIDE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PITCHSIDE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PITCHSIDE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PITCHSIDE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PITCHSIDE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PITCHSIDE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PITCHSIDE_REDIS_ADDR"`
	Password     string        `envconfig:"PITCHSIDE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PITCHSIDE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PITCHSIDE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PITCHSIDE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PITCHSIDE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PITCHSIDE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PITCHSIDE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PITCHSIDE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PITCHSIDE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PITCHSIDE_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PITCHSIDE_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey         string        `envconfig:"PITCHSIDE_STRIPE_API_KEY"`
	Secret         string        `envconfig:"PITCHSIDE_STRIPE_WEBHOOK_SECRET"`
	Env            string        `envconfig:"PITCHSIDE_STRIPE_ENV" default:"test"`
	RequestTimeout time.Duration `envconfig:"PITCHSIDE_STRIPE_REQUEST_TIMEOUT" default:"20s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	DefaultCurrency    string `envconfig:"PITCHSIDE_BILLING_DEFAULT_CURRENCY" default:"usd"`
	CheckoutSuccessURL string `envconfig:"PITCHSIDE_BILLING_CHECKOUT_SUCCESS_URL" default:"https://app.pitchside.io/billing/success"`
	CheckoutCancelURL  string `envconfig:"PITCHSIDE_BILLING_CHECKOUT_CANCEL_URL" default:"https://app.pitchside.io/billing/cancel"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PITCHSIDE_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"PITCHSIDE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"PITCHSIDE_PUBSUB_NOTIFICATION_TOPIC" default:"ps-notification-events"`
	NotificationSubscription string `envconfig:"PITCHSIDE_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type CronConfig struct {
	LockTTL           time.Duration `envconfig:"PITCHSIDE_CRON_LOCK_TTL" default:"25h"`
	ReconcileLimit    int           `envconfig:"PITCHSIDE_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"PITCHSIDE_CRON_RECONCILE_LOOKBACK" default:"168h"`
}

type RateLimitConfig struct {
	CheckoutWindow       time.Duration `envconfig:"PITCHSIDE_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPLimit      int           `envconfig:"PITCHSIDE_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"30"`
	CheckoutAcademyLimit int           `envconfig:"PITCHSIDE_RATE_LIMIT_CHECKOUT_ACADEMY_LIMIT" default:"10"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PITCHSIDE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PITCHSIDE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PITCHSIDE_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
