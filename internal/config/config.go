package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds the process configuration. Editorial limits are not part of
// it; they live in the settings document of the store.
type Config struct {
	// Database
	DBDriver string `yaml:"db_driver" env:"NEWSDESK_DB_DRIVER"`
	DBDSN    string `yaml:"db_dsn" env:"NEWSDESK_DB_DSN"`

	// Server settings
	ServerHost string `yaml:"server_host" env:"NEWSDESK_SERVER_HOST"`
	ServerPort int    `yaml:"server_port" env:"NEWSDESK_SERVER_PORT"`
	AdminToken string `yaml:"admin_token" env:"NEWSDESK_ADMIN_TOKEN"`

	// ServerURL is where the pull subcommand reaches a running server.
	ServerURL string `yaml:"server_url" env:"NEWSDESK_SERVER_URL"`

	// Processing settings
	WorkerCount int           `yaml:"worker_count" env:"NEWSDESK_WORKER_COUNT"`
	Interval    time.Duration `yaml:"interval" env:"NEWSDESK_INTERVAL"`
	FeedReader  string        `yaml:"feed_reader" env:"NEWSDESK_FEED_READER"`
	UserAgent   string        `yaml:"user_agent" env:"NEWSDESK_USER_AGENT"`

	// Optional integrations, disabled when empty
	RedisAddr     string `yaml:"redis_addr" env:"NEWSDESK_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"NEWSDESK_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"NEWSDESK_REDIS_DB"`
	NATSURL       string `yaml:"nats_url" env:"NEWSDESK_NATS_URL"`

	// Log settings
	LogLevel string `yaml:"log_level" env:"NEWSDESK_LOG_LEVEL"`

	// File paths
	SourcesCSVPath string `yaml:"sources_csv" env:"NEWSDESK_SOURCES_CSV"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	return &Config{
		DBDriver:       DefaultDBDriver,
		DBDSN:          DefaultDBDSN,
		ServerHost:     DefaultServerHost,
		ServerPort:     DefaultServerPort,
		ServerURL:      DefaultServerURL,
		WorkerCount:    DefaultWorkerCount,
		Interval:       time.Duration(DefaultInterval) * time.Minute,
		FeedReader:     DefaultFeedReader,
		UserAgent:      DefaultUserAgent,
		LogLevel:       DefaultLogLevel,
		SourcesCSVPath: DefaultSourcesCSVPath,
	}
}

// Load layers the defaults, the YAML file named by NEWSDESK_CONFIG, the
// dotenv file and the environment, in increasing priority. Command line
// flags are applied on top by the caller.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	envFile := DefaultEnvFile
	if path := os.Getenv(EnvFileEnv); path != "" {
		envFile = path
	}
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
