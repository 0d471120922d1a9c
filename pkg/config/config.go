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
	Payments     PaymentsConfig
	Overdue      OverdueConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"SCHOOLDESK_APP_ENV" required:"true"`
	Port         string `envconfig:"SCHOOLDESK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SCHOOLDESK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SCHOOLDESK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SCHOOLDESK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SCHOOLDESK_DB_DSN"`
	Driver string `envconfig:"SCHOOLDESK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SCHOOLDESK_DB_HOST"`
	LegacyPort     int    `envconfig:"SCHOOLDESK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SCHOOLDESK_DB_USER"`
	LegacyPassword string `envconfig:"SCHOOLDESK_DB_PASSWORD"`
	LegacyName     string `envconfig:"SCHOOLDESK_DB_NAME"`
	LegacySSLMode  string `envconfig:"SCHOOLDESK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SCHOOLDESK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SCHOOLDESK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SCHOOLDESK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SCHOOLDESK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SCHOOLDESK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SCHOOLDESK_REDIS_ADDR"`
	Password     string        `envconfig:"SCHOOLDESK_REDIS_PASSWORD"`
	DB           int           `envconfig:"SCHOOLDESK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SCHOOLDESK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SCHOOLDESK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SCHOOLDESK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SCHOOLDESK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SCHOOLDESK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SCHOOLDESK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SCHOOLDESK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SCHOOLDESK_JWT_EXPIRATION_MINUTES" required:"true"`
}

// PaymentsConfig tunes the per-student serialization around payment recording.
type PaymentsConfig struct {
	LockTTL          time.Duration `envconfig:"SCHOOLDESK_PAYMENTS_LOCK_TTL" default:"10s"`
	LockRetries      int           `envconfig:"SCHOOLDESK_PAYMENTS_LOCK_RETRIES" default:"5"`
	LockRetryBackoff time.Duration `envconfig:"SCHOOLDESK_PAYMENTS_LOCK_RETRY_BACKOFF" default:"100ms"`
}

type OverdueConfig struct {
	SweepInterval time.Duration `envconfig:"SCHOOLDESK_OVERDUE_SWEEP_INTERVAL" default:"24h"`
	SweepLockTTL  time.Duration `envconfig:"SCHOOLDESK_OVERDUE_SWEEP_LOCK_TTL" default:"5m"`
	BatchSize     int           `envconfig:"SCHOOLDESK_OVERDUE_SWEEP_BATCH_SIZE" default:"500"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SCHOOLDESK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SCHOOLDESK_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SCHOOLDESK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SCHOOLDESK_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SCHOOLDESK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SCHOOLDESK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	FeesTopic        string `envconfig:"SCHOOLDESK_PUBSUB_FEES_TOPIC" default:"sd-fee-events"`
	FeesSubscription string `envconfig:"SCHOOLDESK_PUBSUB_FEES_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SCHOOLDESK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SCHOOLDESK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SCHOOLDESK_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
