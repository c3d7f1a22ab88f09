package config

// EnvPrefix is passed to envconfig; individual fields carry fully-qualified
// names so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "PITCHSIDE_APP_ENV"
	EnvDBDSN  = "PITCHSIDE_DB_DSN"
	EnvDBHost = "PITCHSIDE_DB_HOST"
	EnvDBUser = "PITCHSIDE_DB_USER"
	EnvDBName = "PITCHSIDE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
