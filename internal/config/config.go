package config

import (
	"os"
	"strconv"
)

const defaultDiffChunkSize = 100

// Config is the server configuration, read from the environment after
// godotenv has loaded .env.
type Config struct {
	Port          string
	DatabaseURL   string
	AutoMigrate   bool
	GCSBucket     string
	DiffChunkSize int
	RedisAddr     string
	// MDNSService, when set, advertises the server on the local network.
	MDNSService string
}

func Load() Config {
	return Config{
		Port:          getenv("PORT", "3000"),
		DatabaseURL:   os.Getenv("DB_URL"),
		AutoMigrate:   getbool("AUTO_MIGRATE", false),
		GCSBucket:     os.Getenv("GCS_BUCKET"),
		DiffChunkSize: getint("DIFF_CHUNK_SIZE", defaultDiffChunkSize),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		MDNSService:   os.Getenv("MDNS_SERVICE"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getbool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}
