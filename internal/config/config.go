// Package config содержит логику чтения конфигурации сервиса столовой.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса столовой.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	RedisAddress   string `env:"REDIS_ADDRESS"`
	SuggestAddress string `env:"SUGGEST_ADDRESS"`
	JWTSecret      string `env:"JWT_SECRET"`
	UPIPayeeVPA    string `env:"UPI_PAYEE_VPA"`
	UPIPayeeName   string `env:"UPI_PAYEE_NAME"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envSuggestAddress := cfg.SuggestAddress
	envJWTSecret := cfg.JWTSecret
	envUPIPayeeVPA := cfg.UPIPayeeVPA
	envUPIPayeeName := cfg.UPIPayeeName

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address (optional)")
	flag.StringVar(&cfg.SuggestAddress, "s", "", "suggestion service address (optional)")
	flag.StringVar(&cfg.JWTSecret, "j", "canteen-secret", "JWT signing secret")
	flag.StringVar(&cfg.UPIPayeeVPA, "pa", "canteen@upi", "UPI payee VPA")
	flag.StringVar(&cfg.UPIPayeeName, "pn", "Campus Canteen", "UPI payee name")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envSuggestAddress != "" {
		cfg.SuggestAddress = envSuggestAddress
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}
	if envUPIPayeeVPA != "" {
		cfg.UPIPayeeVPA = envUPIPayeeVPA
	}
	if envUPIPayeeName != "" {
		cfg.UPIPayeeName = envUPIPayeeName
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
