package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration for the API server. Values
// not present fall back to environment variables, then defaults.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Session struct {
		TTLHours      int `yaml:"ttl_hours"`
		TokenTTLHours int `yaml:"token_ttl_hours"`
	} `yaml:"session"`
	EditLock struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"edit_lock"`
	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
	} `yaml:"rate_limit"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) serverPort() string {
	if c.Server.Port != "" {
		return c.Server.Port
	}
	return getEnv("PORT", "8080")
}

func (c *Config) sessionTTL() time.Duration {
	if c.Session.TTLHours > 0 {
		return time.Duration(c.Session.TTLHours) * time.Hour
	}
	return time.Duration(getEnvAsInt("SESSION_TTL_HOURS", 4)) * time.Hour
}

func (c *Config) tokenTTL() time.Duration {
	if c.Session.TokenTTLHours > 0 {
		return time.Duration(c.Session.TokenTTLHours) * time.Hour
	}
	return time.Duration(getEnvAsInt("TOKEN_TTL_HOURS", 12)) * time.Hour
}

func (c *Config) editLockTTL() time.Duration {
	if c.EditLock.TTLSeconds > 0 {
		return time.Duration(c.EditLock.TTLSeconds) * time.Second
	}
	return time.Duration(getEnvAsInt("EDIT_LOCK_TTL_SECONDS", 15)) * time.Second
}

func (c *Config) rateLimitPerMinute() int {
	if c.RateLimit.RequestsPerMinute > 0 {
		return c.RateLimit.RequestsPerMinute
	}
	return getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120)
}

func (c *Config) natsURL() string {
	if c.NATS.URL != "" {
		return c.NATS.URL
	}
	return getEnv("NATS_URL", "nats://localhost:4222")
}
