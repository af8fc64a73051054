package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Process-wide settings shared by every binary. Service specific knobs live
// next to the service.
type AppConfig struct {
	ServiceName string
	LogLevel    string
	Env         string
	HTTPAddr    string
}

var knownEnvs = map[string]bool{"development": true, "test": true, "staging": true, "production": true}

func (c AppConfig) IsProduction() bool {
	return c.Env == "production"
}

func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: lookup("SERVICE_NAME", ""),
		LogLevel:    strings.ToLower(lookup("LOG_LEVEL", "info")),
		Env:         strings.ToLower(lookup("APP_ENV", "development")),
		HTTPAddr:    lookup("HTTP_ADDR", ":8080"),
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if !knownEnvs[cfg.Env] {
		return AppConfig{}, fmt.Errorf("APP_ENV %q is not one of development, test, staging, production", cfg.Env)
	}
	return cfg, nil
}

func lookup(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
