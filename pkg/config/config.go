package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

type Config struct {
	ServicePort        string
	StoreBackend       string
	DatabaseURL        string
	SQLitePath         string
	RedisAddr          string
	LedgerURL          string
	LedgerSecret       string
	LedgerTimeout      time.Duration
	BootstrapPrincipal string
	LogMode            string
}

func Load() (*Config, error) {
	bootstrap := strings.TrimSpace(os.Getenv("BOOTSTRAP_PRINCIPAL"))
	if bootstrap == "" {
		return nil, fmt.Errorf("BOOTSTRAP_PRINCIPAL is required")
	}

	backend := strings.ToLower(envOr("STORE_BACKEND", BackendMemory))
	cfg := &Config{
		ServicePort:        envOr("SERVICE_PORT", "8085"),
		StoreBackend:       backend,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         envOr("SQLITE_PATH", "./data/escrow.db"),
		RedisAddr:          envOr("REDIS_ADDR", "localhost:6379"),
		LedgerURL:          strings.TrimRight(os.Getenv("LEDGER_URL"), "/"),
		LedgerSecret:       os.Getenv("LEDGER_SECRET"),
		BootstrapPrincipal: bootstrap,
		LogMode:            envOr("LOG_MODE", "dev"),
	}

	timeout, err := durationOr("LEDGER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.LedgerTimeout = timeout

	switch backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", backend)
	}
	if cfg.LedgerURL != "" && cfg.LedgerSecret == "" {
		return nil, fmt.Errorf("LEDGER_SECRET is required when LEDGER_URL is set")
	}
	return cfg, nil
}

func envOr(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func durationOr(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
