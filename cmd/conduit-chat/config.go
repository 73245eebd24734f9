package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// serverConfig is the demo server's file configuration. Environment
// variables override the file, which overrides the defaults.
type serverConfig struct {
	Addr              string   `yaml:"addr"`
	Transport         string   `yaml:"transport"` // inproc | nats | redis
	NATSURL           string   `yaml:"nats_url"`
	RedisAddr         string   `yaml:"redis_addr"`
	CompletionSignals bool     `yaml:"completion_signals"`
	IgnoredActions    []string `yaml:"ignored_actions"`
	LogLevel          string   `yaml:"log_level"`
}

func defaultConfig() serverConfig {
	return serverConfig{
		Addr:           ":8080",
		Transport:      "inproc",
		NATSURL:        "nats://127.0.0.1:4222",
		RedisAddr:      "127.0.0.1:6379",
		IgnoredActions: []string{"ping"},
		LogLevel:       "info",
	}
}

func loadConfig(path string) (serverConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("CHAT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CHAT_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	switch cfg.Transport {
	case "inproc", "nats", "redis":
	default:
		return cfg, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return cfg, nil
}
