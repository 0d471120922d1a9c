package config

const (
	EnvPrefix = "SCHOOLDESK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "SCHOOLDESK_APP_ENV"
	EnvPort   = "SCHOOLDESK_APP_PORT"

	EnvDBDSN  = "SCHOOLDESK_DB_DSN"
	EnvDBHost = "SCHOOLDESK_DB_HOST"
	EnvDBUser = "SCHOOLDESK_DB_USER"
	EnvDBName = "SCHOOLDESK_DB_NAME"

	EnvRedisURL = "SCHOOLDESK_REDIS_URL"

	EnvJWTSecret  = "SCHOOLDESK_JWT_SECRET"
	EnvJWTIssuer  = "SCHOOLDESK_JWT_ISSUER"
	EnvJWTExpMins = "SCHOOLDESK_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID  = "SCHOOLDESK_GCP_PROJECT_ID"
	EnvPubSubFeesSub = "SCHOOLDESK_PUBSUB_FEES_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
