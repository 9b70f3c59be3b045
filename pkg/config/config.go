package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Password     PasswordConfig
	FeatureFlags FeatureFlagsConfig
	Library      LibraryConfig
	Cron         CronConfig
	Stats        StatsConfig
	CORS         CORSConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Library.validate(); err != nil {
		return nil, fmt.Errorf("library config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BOOKITZZZ_APP_ENV" required:"true"`
	Port         string `envconfig:"BOOKITZZZ_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BOOKITZZZ_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BOOKITZZZ_LOG_WARN_STACK" default:"false"`

	// MetricsAddr is where worker binaries serve /metrics. Empty disables it.
	MetricsAddr string `envconfig:"BOOKITZZZ_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BOOKITZZZ_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BOOKITZZZ_DB_DSN"`
	Driver string `envconfig:"BOOKITZZZ_DB_DRIVER" default:"postgres"`

	// SQLitePath is used instead of DSN when the sqlite feature flag is on.
	SQLitePath string `envconfig:"BOOKITZZZ_SQLITE_PATH" default:"bookitzzz.db"`

	LegacyHost     string `envconfig:"BOOKITZZZ_DB_HOST"`
	LegacyPort     int    `envconfig:"BOOKITZZZ_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BOOKITZZZ_DB_USER"`
	LegacyPassword string `envconfig:"BOOKITZZZ_DB_PASSWORD"`
	LegacyName     string `envconfig:"BOOKITZZZ_DB_NAME"`
	LegacySSLMode  string `envconfig:"BOOKITZZZ_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BOOKITZZZ_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BOOKITZZZ_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BOOKITZZZ_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BOOKITZZZ_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"BOOKITZZZ_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BOOKITZZZ_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BOOKITZZZ_REDIS_ADDR"`
	Password     string        `envconfig:"BOOKITZZZ_REDIS_PASSWORD"`
	DB           int           `envconfig:"BOOKITZZZ_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BOOKITZZZ_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BOOKITZZZ_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BOOKITZZZ_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BOOKITZZZ_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BOOKITZZZ_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"BOOKITZZZ_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"BOOKITZZZ_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"BOOKITZZZ_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"BOOKITZZZ_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"BOOKITZZZ_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"BOOKITZZZ_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"BOOKITZZZ_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"BOOKITZZZ_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"BOOKITZZZ_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BOOKITZZZ_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BOOKITZZZ_AUTO_MIGRATE" default:"false"`
}

// LibraryConfig holds the circulation rules.
type LibraryConfig struct {
	LoanPeriodDays    int           `envconfig:"BOOKITZZZ_LOAN_PERIOD_DAYS" default:"14"`
	FinePerDay        int64         `envconfig:"BOOKITZZZ_FINE_PER_DAY" default:"50"`
	MaxPageSize       int           `envconfig:"BOOKITZZZ_MAX_PAGE_SIZE" default:"50"`
	DefaultPageSize   int           `envconfig:"BOOKITZZZ_DEFAULT_PAGE_SIZE" default:"20"`
	ReservationPolicy string        `envconfig:"BOOKITZZZ_RESERVATION_POLICY" default:"fcfs"`
	ReservationHold   time.Duration `envconfig:"BOOKITZZZ_RESERVATION_HOLD" default:"48h"`
	ImportMaxMB       int           `envconfig:"BOOKITZZZ_IMPORT_MAX_MB" default:"10"`
}

// HoldsEnabled reports whether fulfilled reservations reserve a copy for the holder.
func (l LibraryConfig) HoldsEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(l.ReservationPolicy), ReservationPolicyHold)
}

// validate reports every broken circulation rule at once.
func (l LibraryConfig) validate() error {
	var err error
	if l.LoanPeriodDays <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s must be positive", EnvLoanPeriodDays))
	}
	if l.FinePerDay < 0 {
		err = multierr.Append(err, fmt.Errorf("%s must not be negative", EnvFinePerDay))
	}
	if l.DefaultPageSize <= 0 || l.MaxPageSize < l.DefaultPageSize {
		err = multierr.Append(err, fmt.Errorf("%s must be between 1 and %s", EnvDefaultPageSize, EnvMaxPageSize))
	}
	switch strings.ToLower(strings.TrimSpace(l.ReservationPolicy)) {
	case ReservationPolicyFCFS:
	case ReservationPolicyHold:
		if l.ReservationHold <= 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be positive when %s=%s", EnvReservationHold, EnvReservationPolicy, ReservationPolicyHold))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("invalid %s %q", EnvReservationPolicy, l.ReservationPolicy))
	}
	return err
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"BOOKITZZZ_CRON_INTERVAL" default:"1h"`
	LockTTL        time.Duration `envconfig:"BOOKITZZZ_CRON_LOCK_TTL" default:"10m"`
	SweepBatchSize int           `envconfig:"BOOKITZZZ_SWEEP_BATCH_SIZE" default:"200"`
}

type StatsConfig struct {
	CacheTTL time.Duration `envconfig:"BOOKITZZZ_STATS_CACHE_TTL" default:"30s"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"BOOKITZZZ_CORS_ALLOWED_ORIGINS" default:"*"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"BOOKITZZZ_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"BOOKITZZZ_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"BOOKITZZZ_GOOGLE_APPLICATION_CREDENTIALS"`

	// PubSubEmulatorHost points the client at a local emulator without auth.
	PubSubEmulatorHost string `envconfig:"BOOKITZZZ_PUBSUB_EMULATOR_HOST"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"BOOKITZZZ_PUBSUB_NOTIFICATION_TOPIC" default:"bk-notification-events"`
	DeadLetterTopic   string `envconfig:"BOOKITZZZ_PUBSUB_DLQ_TOPIC"`
}

type OutboxConfig struct {
	BatchSize        int `envconfig:"BOOKITZZZ_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS   int `envconfig:"BOOKITZZZ_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts      int `envconfig:"BOOKITZZZ_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays    int `envconfig:"BOOKITZZZ_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays int `envconfig:"BOOKITZZZ_OUTBOX_DLQ_RETENTION_DAYS" default:"90"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		if db.SQLitePath == "" {
			return fmt.Errorf("%s is required when %s is set", EnvSQLitePath, EnvUseSQLite)
		}
		db.Driver = DriverSQLite
		return nil
	}
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
