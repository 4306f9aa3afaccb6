package config

import (
	"fmt"
	"os"
)

type Config struct {
	Env          string
	ListenAddr   string
	DatabaseURL  string
	RegistryPath string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		Env:          getenv("APP_ENV", "development"),
		ListenAddr:   getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RegistryPath: os.Getenv("REGISTRY_PATH"),
	}
	if cfg.DatabaseURL == "" {
		// Not fatal: the server falls back to the in-memory store for local
		// runs. Warn via error value so callers can decide.
		return cfg, fmt.Errorf("DATABASE_URL not set, using in-memory store")
	}
	return cfg, nil
}
