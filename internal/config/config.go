package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN in the key=value form gorm's postgres driver accepts.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		p.Host, p.User, p.Password, p.DBName, p.Port, p.SSLMode)
}

type ReaperConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Schedule  string        `yaml:"schedule"`
	IdleAfter time.Duration `yaml:"idle_after"`
}

// app config. Values come from defaults, then the optional CONFIG_FILE, then
// environment variables.
type Config struct {
	Port               string         `yaml:"port"`
	StoreDriver        string         `yaml:"store_driver"`
	StoreTimeout       time.Duration  `yaml:"store_timeout"`
	MongoURI           string         `yaml:"mongo_uri"`
	MongoDBName        string         `yaml:"mongo_db_name"`
	SessionsCollection string         `yaml:"sessions_collection"`
	Postgres           PostgresConfig `yaml:"postgres"`
	SQLitePath         string         `yaml:"sqlite_path"`
	RedisAddr          string         `yaml:"redis_addr"`
	RedisChannel       string         `yaml:"redis_channel"`
	ScoringPolicy      string         `yaml:"scoring_policy"`
	Reaper             ReaperConfig   `yaml:"reaper"`
	CORSAllowedOrigins []string       `yaml:"cors_allowed_origins"`
}

func defaults() *Config {
	return &Config{
		Port:               "8080",
		StoreDriver:        DriverMemory,
		StoreTimeout:       5 * time.Second,
		MongoURI:           "mongodb://localhost:27017",
		MongoDBName:        "proctoring",
		SessionsCollection: "sessions",
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			DBName:  "proctoring",
			SSLMode: "disable",
		},
		SQLitePath:    "proctoring.db",
		RedisChannel:  "session_finalized",
		ScoringPolicy: "v1",
		Reaper: ReaperConfig{
			Enabled:   true,
			Schedule:  "@every 1m",
			IdleAfter: 30 * time.Minute,
		},
		CORSAllowedOrigins: []string{"*"},
	}
}

// loads configuration from the optional file and environment variables
func LoadConfig() (*Config, error) {
	config := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(config *Config) error {
	config.Port = getEnvOrDefault("PORT", config.Port)
	config.StoreDriver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", config.StoreDriver))
	config.MongoURI = getEnvOrDefault("MONGO_URI", config.MongoURI)
	config.MongoDBName = getEnvOrDefault("MONGO_DB_NAME", config.MongoDBName)
	config.SessionsCollection = getEnvOrDefault("SESSIONS_COLLECTION", config.SessionsCollection)
	config.Postgres.Host = getEnvOrDefault("POSTGRES_HOST", config.Postgres.Host)
	config.Postgres.Port = getEnvOrDefault("POSTGRES_PORT", config.Postgres.Port)
	config.Postgres.User = getEnvOrDefault("POSTGRES_USER", config.Postgres.User)
	config.Postgres.Password = getEnvOrDefault("POSTGRES_PASSWORD", config.Postgres.Password)
	config.Postgres.DBName = getEnvOrDefault("POSTGRES_DB", config.Postgres.DBName)
	config.Postgres.SSLMode = getEnvOrDefault("POSTGRES_SSLMODE", config.Postgres.SSLMode)
	config.SQLitePath = getEnvOrDefault("SQLITE_PATH", config.SQLitePath)
	config.RedisAddr = getEnvOrDefault("REDIS_ADDR", config.RedisAddr)
	config.RedisChannel = getEnvOrDefault("REDIS_CHANNEL", config.RedisChannel)
	config.ScoringPolicy = getEnvOrDefault("SCORING_POLICY", config.ScoringPolicy)
	config.Reaper.Schedule = getEnvOrDefault("REAPER_SCHEDULE", config.Reaper.Schedule)

	var err error
	if config.StoreTimeout, err = getDurationOrDefault("STORE_TIMEOUT", config.StoreTimeout); err != nil {
		return err
	}
	if config.Reaper.IdleAfter, err = getDurationOrDefault("REAPER_IDLE_AFTER", config.Reaper.IdleAfter); err != nil {
		return err
	}
	if config.Reaper.Enabled, err = getBoolOrDefault("REAPER_ENABLED", config.Reaper.Enabled); err != nil {
		return err
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.CORSAllowedOrigins = splitList(origins)
	}
	return nil
}

func validateConfig(config *Config) error {
	switch config.StoreDriver {
	case DriverMemory, DriverMongo, DriverPostgres, DriverSQLite:
	default:
		return errors.New("unsupported store driver: " + config.StoreDriver + ". Supported: memory, mongo, postgres, sqlite")
	}
	if config.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if config.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be positive")
	}
	if config.StoreDriver == DriverMongo && (config.MongoURI == "" || config.MongoDBName == "") {
		return errors.New("MONGO_URI and MONGO_DB_NAME are required for the mongo store")
	}
	if config.StoreDriver == DriverSQLite && config.SQLitePath == "" {
		return errors.New("SQLITE_PATH is required for the sqlite store")
	}
	if config.Reaper.Enabled {
		if config.Reaper.Schedule == "" {
			return errors.New("REAPER_SCHEDULE must not be empty when the reaper is enabled")
		}
		if config.Reaper.IdleAfter <= 0 {
			return errors.New("REAPER_IDLE_AFTER must be positive when the reaper is enabled")
		}
	}
	if len(config.CORSAllowedOrigins) == 0 {
		return errors.New("CORS_ALLOWED_ORIGINS must list at least one origin")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
