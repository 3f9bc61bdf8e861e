// Package config loads the marketplace settings from the environment.
// Values are read once at package initialization; a .env file in the working
// directory is honored when present.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	LogLevel         string
	ServerRunAddress string

	// StorageBackend selects the snapshot backend: "file" or "postgres".
	StorageBackend string
	DataDir        string
	DatabaseURI    string
	UploadDir      string

	// LockTimeout bounds how long an operation waits for an account or item lock.
	LockTimeout  time.Duration
	InitialCoins int64
	// SingleUnitItems removes an item from the catalog once it is bought.
	SingleUnitItems bool
	// RequireRegistration rejects logins of unknown users instead of
	// registering them on the spot.
	RequireRegistration bool

	RedisAddr    string
	NatsURL      string
	OTLPEndpoint string
	JWTSecret    string
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values")
	}

	LogLevel = getEnv("LOG_LEVEL", "info")
	ServerRunAddress = getEnv("SERVER_RUN_ADDRESS", "0.0.0.0:8080")
	StorageBackend = getEnv("STORAGE_BACKEND", "file")
	DataDir = getEnv("DATA_DIR", "data")
	DatabaseURI = getEnv("DATABASE_URI", "host=db user=postgres password=password dbname=shop sslmode=disable")
	UploadDir = getEnv("UPLOAD_DIR", "uploads")

	LockTimeout = getEnvDuration("LOCK_TIMEOUT", 2*time.Second)
	InitialCoins = getEnvInt("INITIAL_COINS", 100)
	SingleUnitItems = getEnvBool("SINGLE_UNIT_ITEMS", false)
	RequireRegistration = getEnvBool("REQUIRE_REGISTRATION", false)

	RedisAddr = os.Getenv("REDIS_ADDR")
	NatsURL = os.Getenv("NATS_URL")
	OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	JWTSecret = getEnv("JWT_SECRET", "supersecretkey")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, val, defaultVal)
		return defaultVal
	}
	return intVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		log.Printf("Invalid %s=%q, using %t", key, val, defaultVal)
		return defaultVal
	}
	return boolVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, val, defaultVal)
		return defaultVal
	}
	return d
}
