package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL       string
	Port              string
	JWTSecret         string
	Env               string
	ReconcileInterval time.Duration
	ProviderTimeout   time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	reconcile, err := durationEnv("RECONCILE_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}
	providerTimeout, err := durationEnv("PROVIDER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:       dbURL,
		Port:              port,
		JWTSecret:         secret,
		Env:               env,
		ReconcileInterval: reconcile,
		ProviderTimeout:   providerTimeout,
	}, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}
