package config

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port          string
	DatabaseDSN   string
	Env           string
	AdminPassword string // plain shared password; hashed at boot when no hash is given
	AdminHash     string // bcrypt hash of the shared back-office password
	ImageDir      string
}

// Load loads configuration from environment with sensible defaults.
// Precedence: explicit env var > .env file (if loaded by user) > default.
func Load() Config {
	cfg := Config{}
	cfg.Port = getEnv("PORT", "8080")
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "file:orderform.db?_fk=1")
	cfg.Env = getEnv("APP_ENV", "development")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AdminHash = os.Getenv("ADMIN_PASSWORD_HASH")
	cfg.ImageDir = getEnv("IMAGE_DIR", "images")
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseBool reads an env var as bool with default.
func ParseBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warnf("invalid boolean for %s: %s", key, v)
			return def
		}
		return b
	}
	return def
}
