package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Rooms          RoomConfig
	Mirror         MirrorConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RoomConfig controls idle room eviction
type RoomConfig struct {
	TTL            time.Duration
	ReaperInterval time.Duration
}

// MirrorConfig sizes the Redis presence mirror
type MirrorConfig struct {
	Workers   int
	QueueSize int
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Rooms: RoomConfig{
			TTL:            getEnvDuration("ROOM_TTL", time.Hour),
			ReaperInterval: getEnvDuration("REAPER_INTERVAL", 15*time.Minute),
		},
		Mirror: MirrorConfig{
			Workers:   getEnvInt("MIRROR_WORKERS", 4),
			QueueSize: getEnvInt("MIRROR_QUEUE_SIZE", 1024),
		},
	}
}

// Validate reports settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is empty"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is empty"))
	}
	if c.Rooms.TTL <= 0 || c.Rooms.ReaperInterval <= 0 {
		errs = append(errs, errors.New("room ttl and reaper interval must be positive"))
	} else if c.Rooms.ReaperInterval >= c.Rooms.TTL {
		// sweeps must be materially more frequent than the ttl
		errs = append(errs, errors.New("reaper interval must be shorter than room ttl"))
	}
	if c.Mirror.Workers < 1 || c.Mirror.QueueSize < 1 {
		errs = append(errs, errors.New("mirror workers and queue size must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

// IsProduction reports whether the server runs in release mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
