package config

const (
	EnvPrefix = "BOOKITZZZ"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ReservationPolicyFCFS = "fcfs"
	ReservationPolicyHold = "hold"
)

const (
	EnvAppEnv   = "BOOKITZZZ_APP_ENV"
	EnvPort     = "BOOKITZZZ_APP_PORT"
	EnvLogLevel = "BOOKITZZZ_LOG_LEVEL"

	EnvDBDSN      = "BOOKITZZZ_DB_DSN"
	EnvDBHost     = "BOOKITZZZ_DB_HOST"
	EnvDBUser     = "BOOKITZZZ_DB_USER"
	EnvDBPassword = "BOOKITZZZ_DB_PASSWORD"
	EnvDBName     = "BOOKITZZZ_DB_NAME"
	EnvSQLitePath = "BOOKITZZZ_SQLITE_PATH"
	EnvUseSQLite  = "BOOKITZZZ_USE_SQLITE"

	EnvRedisURL = "BOOKITZZZ_REDIS_URL"

	EnvJWTSecret  = "BOOKITZZZ_JWT_SECRET"
	EnvJWTIssuer  = "BOOKITZZZ_JWT_ISSUER"
	EnvJWTExpMins = "BOOKITZZZ_JWT_EXPIRATION_MINUTES"

	EnvLoanPeriodDays    = "BOOKITZZZ_LOAN_PERIOD_DAYS"
	EnvFinePerDay        = "BOOKITZZZ_FINE_PER_DAY"
	EnvMaxPageSize       = "BOOKITZZZ_MAX_PAGE_SIZE"
	EnvDefaultPageSize   = "BOOKITZZZ_DEFAULT_PAGE_SIZE"
	EnvReservationPolicy = "BOOKITZZZ_RESERVATION_POLICY"
	EnvReservationHold   = "BOOKITZZZ_RESERVATION_HOLD"

	EnvGCPProjectID          = "BOOKITZZZ_GCP_PROJECT_ID"
	EnvPubSubNotificationTop = "BOOKITZZZ_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
