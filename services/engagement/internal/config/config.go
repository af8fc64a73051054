package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	NATSURL     string
	JWTSecret   []byte
	// RequireAuth rejects mutations without a bearer token.
	RequireAuth bool
	GRPCAddr    string

	RateLimitRPS   float64
	RateLimitBurst int
	DedupWindow    time.Duration

	AnswerCacheTTL         time.Duration
	CacheInvalidateSubject string

	// SeedDemo seeds a handful of answers into an empty development store.
	SeedDemo bool
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:            env("DATABASE_URL", ""),
		SQLitePath:             env("SQLITE_PATH", ""),
		RedisURL:               env("REDIS_URL", ""),
		NATSURL:                env("NATS_URL", ""),
		JWTSecret:              []byte(env("JWT_SECRET", "")),
		GRPCAddr:               env("GRPC_ADDR", ":9090"),
		CacheInvalidateSubject: env("CACHE_INVALIDATE_SUBJECT", "engagement.cache.invalidate"),
	}

	var err error
	if cfg.RequireAuth, err = envBool("REQUIRE_AUTH", false); err != nil {
		return Config{}, err
	}
	if cfg.SeedDemo, err = envBool("SEED_DEMO", false); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", 5); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 20); err != nil {
		return Config{}, err
	}
	if cfg.DedupWindow, err = envDuration("DEDUP_WINDOW", 800*time.Millisecond); err != nil {
		return Config{}, err
	}
	ttlSec, err := envInt("ANSWER_CACHE_TTL_SEC", 30)
	if err != nil {
		return Config{}, err
	}
	cfg.AnswerCacheTTL = time.Duration(ttlSec) * time.Second

	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if cfg.RequireAuth && len(cfg.JWTSecret) == 0 {
		return Config{}, fmt.Errorf("REQUIRE_AUTH needs JWT_SECRET")
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := env(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := env(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := env(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := env(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}
