package config

// Constants defining default values for application configuration
const (
	DefaultSourcesCSVPath = "./sources.csv"
	DefaultDBDriver       = "sqlite3"
	DefaultDBDSN          = "./newsdesk.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces
	DefaultServerURL  = "http://localhost:8080"

	DefaultWorkerCount = 0  // 0 means use runtime.NumCPU()
	DefaultInterval    = 15 // Minutes between scheduled pulls, 0 disables them

	DefaultFeedReader = "gofeed"
	DefaultUserAgent  = "newsdesk/1.0 (+https://github.com/reddot-watch)"

	DefaultLogLevel = "info"

	// ConfigPathEnv names the optional YAML configuration file.
	ConfigPathEnv = "NEWSDESK_CONFIG"
	// EnvFileEnv overrides the location of the dotenv file.
	EnvFileEnv     = "NEWSDESK_ENV_FILE"
	DefaultEnvFile = ".env"
)
