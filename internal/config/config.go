// Package config содержит логику чтения конфигурации сервиса управления
// заказами.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса управления заказами.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DataDir       string `env:"DATA_DIR"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDataDir := cfg.DataDir
	envAdminPassword := cfg.AdminPassword

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DataDir, "d", "./data", "directory for JSON documents")
	flag.StringVar(&cfg.AdminPassword, "p", "admin123", "default admin password seeded on first run")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDataDir != "" {
		cfg.DataDir = envDataDir
	}
	if envAdminPassword != "" {
		cfg.AdminPassword = envAdminPassword
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}

	return cfg, nil
}
