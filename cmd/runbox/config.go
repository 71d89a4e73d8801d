package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"runbox/internal/archive"
	"runbox/internal/runner"
	"runbox/internal/token"
	"runbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultEnvironment     = "development"

	// Environment overrides recognized on top of the config file.
	envPort         = "RUNBOX_PORT"
	envMode         = "RUNBOX_ENV"
	envAllowedHosts = "RUNBOX_ALLOWED_HOSTS"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// WorkspaceConfig holds scratch directory settings.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// AppConfig holds the full runbox config.
type AppConfig struct {
	Server      ServerConfig        `yaml:"server"`
	Environment string              `yaml:"environment"`
	Logger      logger.Config       `yaml:"logger"`
	Workspace   WorkspaceConfig     `yaml:"workspace"`
	Runner      runner.Config       `yaml:"runner"`
	Redis       token.RedisConfig   `yaml:"redis"`
	Archive     archive.MinIOConfig `yaml:"archive"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}

	if port := os.Getenv(envPort); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}
	if mode := os.Getenv(envMode); mode != "" {
		cfg.Environment = mode
	}
	if hosts := os.Getenv(envAllowedHosts); hosts != "" {
		cfg.Runner.AllowedHosts = splitHosts(hosts)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		// Downloads and long runs both ride this timeout; it must exceed
		// the runner's maximum execution deadline.
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}
	return &cfg, nil
}

func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	hosts := parts[:0]
	for _, part := range parts {
		if host := strings.TrimSpace(part); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}
