// Package config reads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string
	MongoURI      string
	MongoDatabase string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LowStockThreshold int
	SnapshotTTL       time.Duration
}

// Load reads every setting, falling back to development defaults. An empty
// MONGO_URI selects the in-memory backend; an empty REDIS_ADDR disables the
// analytics snapshot cache.
func Load() Config {
	return Config{
		Port:              getEnv("PORT", "8080"),
		MongoURI:          getEnv("MONGO_URI", ""),
		MongoDatabase:     getEnv("MONGO_DATABASE", "posledger"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		LowStockThreshold: getEnvInt("LOW_STOCK_THRESHOLD", 5),
		SnapshotTTL:       time.Duration(getEnvInt("SNAPSHOT_TTL_SECONDS", 300)) * time.Second,
	}
}

func getEnv(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
