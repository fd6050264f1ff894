package config

// EnvPrefix is passed to envconfig; individual fields carry fully
// qualified names so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "PLATEFUL_DB_DSN"
	EnvDBHost = "PLATEFUL_DB_HOST"
	EnvDBUser = "PLATEFUL_DB_USER"
	EnvDBName = "PLATEFUL_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
