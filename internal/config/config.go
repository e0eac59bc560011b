package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	HTTPAddr       string
	DataDir        string
	UsersPath      string
	JWTSecret      string
	ImportAPIKey   string
	CollectTimeout time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultDataDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(base, "hermescore")
}

func Load() Config {
	cfg := Config{
		HTTPAddr:     getenv("HERMES_HTTP_ADDR", "127.0.0.1:8743"),
		DataDir:      getenv("HERMES_DATA_DIR", defaultDataDir()),
		UsersPath:    getenv("HERMES_USERS_PATH", "config/users.yaml"),
		JWTSecret:    os.Getenv("HERMES_JWT_SECRET"),
		ImportAPIKey: os.Getenv("HERMES_IMPORT_API_KEY"),
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret-change-me"
	}
	cfg.CollectTimeout = 60 * time.Second
	if v := os.Getenv("HERMES_COLLECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CollectTimeout = d
		}
	}
	return cfg
}
