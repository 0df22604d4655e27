package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "pointbank"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv     = "POINTBANK_APP_ENV"
	EnvPort       = "POINTBANK_APP_PORT"
	EnvDBDSN      = "POINTBANK_DB_DSN"
	EnvDBHost     = "POINTBANK_DB_HOST"
	EnvDBUser     = "POINTBANK_DB_USER"
	EnvDBName     = "POINTBANK_DB_NAME"
	EnvRedisURL   = "POINTBANK_REDIS_URL"
	EnvJWTSecret  = "POINTBANK_JWT_SECRET"
	EnvJWTIssuer  = "POINTBANK_JWT_ISSUER"
	EnvJWTExpMins = "POINTBANK_JWT_EXPIRATION_MINUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
