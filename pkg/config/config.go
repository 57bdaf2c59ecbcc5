package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvFileVar names the variable pointing at an optional dotenv file.
const EnvFileVar = "CHATROOM_ENV_FILE"

type Config struct {
	Port            string
	Environment     string
	LogLevel        string
	DatabasePath    string
	JWTSecret       string
	SessionTTL      time.Duration
	CORSOrigins     string
	MaxUploadSize   int64
	FileStoragePath string
	AdminUsername   string
}

// Load reads the dotenv file (CHATROOM_ENV_FILE, or ./.env when present)
// without overriding variables already set in the process environment,
// then resolves every setting from the environment with defaults.
func Load() *Config {
	loadEnvFile()

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabasePath:    getEnv("DATABASE_PATH", "./data/chatroom.db"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		SessionTTL:      parseDuration(getEnv("SESSION_TTL", "24h"), 24*time.Hour),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		MaxUploadSize:   parseInt64(getEnv("MAX_UPLOAD_SIZE", "10485760")), // 10MB default
		FileStoragePath: getEnv("FILE_STORAGE_PATH", "./data/uploads"),
		AdminUsername:   getEnv("ADMIN_USERNAME", ""),
	}
}

func loadEnvFile() {
	if path, ok := os.LookupEnv(EnvFileVar); ok && path != "" {
		_ = godotenv.Load(path)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val <= 0 {
		return 10485760 // 10MB default
	}
	return val
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
