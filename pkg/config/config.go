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
	Points       PointsConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Outbox       OutboxConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
	Square       SquareConfig
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
	Env          string `envconfig:"POINTBANK_APP_ENV" required:"true"`
	Port         string `envconfig:"POINTBANK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"POINTBANK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"POINTBANK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"POINTBANK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"POINTBANK_DB_DSN"`
	Driver string `envconfig:"POINTBANK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"POINTBANK_DB_HOST"`
	LegacyPort     int    `envconfig:"POINTBANK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"POINTBANK_DB_USER"`
	LegacyPassword string `envconfig:"POINTBANK_DB_PASSWORD"`
	LegacyName     string `envconfig:"POINTBANK_DB_NAME"`
	LegacySSLMode  string `envconfig:"POINTBANK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"POINTBANK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"POINTBANK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"POINTBANK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POINTBANK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"POINTBANK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"POINTBANK_REDIS_ADDR"`
	Password     string        `envconfig:"POINTBANK_REDIS_PASSWORD"`
	DB           int           `envconfig:"POINTBANK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"POINTBANK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"POINTBANK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"POINTBANK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"POINTBANK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"POINTBANK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"POINTBANK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"POINTBANK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"POINTBANK_JWT_EXPIRATION_MINUTES" required:"true"`
}

// PointsConfig tunes the ledger's grant and consume behavior.
type PointsConfig struct {
	AttendanceAmount      int `envconfig:"POINTBANK_POINTS_ATTENDANCE_AMOUNT" default:"10"`
	PurchaseCentsPerPoint int `envconfig:"POINTBANK_POINTS_PURCHASE_CENTS_PER_POINT" default:"1"`
	ConsumeMaxRetries     int `envconfig:"POINTBANK_POINTS_CONSUME_MAX_RETRIES" default:"3"`
	ExpiryMonths          int `envconfig:"POINTBANK_POINTS_EXPIRY_MONTHS" default:"12"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"POINTBANK_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	Enabled              bool          `envconfig:"POINTBANK_EVENTING_ENABLED" default:"false"`
	OutboxIdempotencyTTL time.Duration `envconfig:"POINTBANK_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"POINTBANK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"POINTBANK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"POINTBANK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"POINTBANK_OUTBOX_RETENTION_DAYS" default:"14"`
}

type PubSubConfig struct {
	PointsTopic        string `envconfig:"POINTBANK_PUBSUB_POINTS_TOPIC" default:"pb-points-events"`
	PointsSubscription string `envconfig:"POINTBANK_PUBSUB_POINTS_SUBSCRIPTION"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"POINTBANK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"POINTBANK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"POINTBANK_GOOGLE_APPLICATION_CREDENTIALS"`
}

type SquareConfig struct {
	AccessToken   string `envconfig:"POINTBANK_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"POINTBANK_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"POINTBANK_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
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
