// Package config reads settings from .env and the environment and builds
// the process logger.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

type Config struct {
	Store        string `validate:"oneof=memory sqlite mongo"`
	SQLitePath   string `validate:"required_if=Store sqlite"`
	MongoURL     string `validate:"required_if=Store mongo"`
	DatabaseName string `validate:"required_if=Store mongo"`

	RedisAddr     string
	RedisPassword string
	RedisDB       int           `validate:"gte=0"`
	LockTTL       time.Duration `validate:"gt=0"`

	PairLimit    int    `validate:"gte=0"`
	ReportDir    string `validate:"required"`
	ReportFormat string `validate:"oneof=text yaml"`

	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `validate:"oneof=text json"`
	Port      string `validate:"required,numeric"`
}

var validate = validator.New()

// Load reads .env when present, then the environment. Malformed numbers
// are reported by Validate through their zero or negative values.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Store:         getEnv("FIXDUP_STORE", StoreSQLite),
		SQLitePath:    getEnv("SQLITE_PATH", "fixdup.db"),
		MongoURL:      os.Getenv("MONGODB_URL"),
		DatabaseName:  getEnv("DATABASE_NAME", "tipzyy_fix_duplicates"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		LockTTL:       time.Duration(getInt("LOCK_TTL_SECONDS", 300)) * time.Second,
		PairLimit:     getInt("PAIR_LIMIT", 1),
		ReportDir:     getEnv("REPORT_DIR", "."),
		ReportFormat:  strings.ToLower(getEnv("REPORT_FORMAT", "text")),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		Port:          getEnv("PORT", "8080"),
	}
}

// Validate checks every field against its tag.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return n
}
