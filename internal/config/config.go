package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string
	AccessTTL   time.Duration
	CORSOrigin  string
	// Collaboration tuning
	AutoSaveInterval time.Duration
	AutoSaveDebounce time.Duration
	// Artifact materialization (go-git repos for published sessions)
	ArtifactsDir  string
	MigrationsDir string
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Invite token storage
	RedisURL  string
	InviteTTL time.Duration
	// Archive (object storage for published bundles)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:             getenv("API_ADDR", ":8790"),
		DatabaseURL:      getenv("DATABASE_URL", ""),
		JWTSecret:        getenv("ATELIER_JWT_SECRET", "atelier-dev-secret"),
		AccessTTL:        time.Duration(getenvInt("ATELIER_ACCESS_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:       getenv("ATELIER_CORS_ORIGIN", "*"),
		AutoSaveInterval: time.Duration(getenvInt("ATELIER_AUTOSAVE_INTERVAL_MS", 30000)) * time.Millisecond,
		AutoSaveDebounce: time.Duration(getenvInt("ATELIER_AUTOSAVE_DEBOUNCE_MS", 5000)) * time.Millisecond,
		ArtifactsDir:     getenv("ATELIER_ARTIFACTS_DIR", "./data/artifacts"),
		MigrationsDir:    getenv("ATELIER_MIGRATIONS_DIR", "./db/migrations"),
		MeiliURL:         getenv("MEILI_URL", ""),
		MeiliMasterKey:   getenv("MEILI_MASTER_KEY", ""),
		RedisURL:         getenv("REDIS_URL", ""),
		InviteTTL:        time.Duration(getenvInt("ATELIER_INVITE_TTL_SECONDS", 604800)) * time.Second,
		MinioEndpoint:    getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:   getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:   getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:      getenv("MINIO_BUCKET", "atelier-artifacts"),
		MinioUseSSL:      getenvBool("MINIO_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
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

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
