// Package config loads service configuration from the environment, with an
// optional YAML file (CONFIG_FILE) supplying defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	RedisURL    string `yaml:"redisUrl"`

	// Merchant keypair for the aggregator API.
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`

	// APIBaseURL is the aggregator endpoint, e.g. https://shipping.example.com/api/v2.
	APIBaseURL string `yaml:"apiBaseUrl"`
	// PublicBaseURL is our own externally reachable base, used for webhook
	// registration and sync trigger URLs.
	PublicBaseURL string `yaml:"publicBaseUrl"`

	WeightUnit    string `yaml:"weightUnit"`
	DimensionUnit string `yaml:"dimensionUnit"`

	SyncCheckInterval time.Duration `yaml:"syncCheckInterval"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`
}

// Load reads CONFIG_FILE (when set) and then lets environment variables
// override. Missing values fall back to sane defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:              "8080",
		WeightUnit:        "kg",
		DimensionUnit:     "cm",
		SyncCheckInterval: time.Hour,
		RateRPS:           50,
		RateBurst:         100,
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	overrideStr(&cfg.Port, "PORT")
	overrideStr(&cfg.DatabaseURL, "DATABASE_URL")
	overrideStr(&cfg.RedisURL, "REDIS_URL")
	overrideStr(&cfg.AccessKey, "SHIPPING_ACCESS_KEY")
	overrideStr(&cfg.SecretKey, "SHIPPING_SECRET_KEY")
	overrideStr(&cfg.APIBaseURL, "SHIPPING_API_URL")
	overrideStr(&cfg.PublicBaseURL, "PUBLIC_BASE_URL")
	overrideStr(&cfg.WeightUnit, "WEIGHT_UNIT")
	overrideStr(&cfg.DimensionUnit, "DIMENSION_UNIT")
	if v := os.Getenv("SYNC_CHECK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("SYNC_CHECK_INTERVAL: %w", err)
		}
		cfg.SyncCheckInterval = d
	}
	if v := os.Getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("RATE_RPS: %w", err)
		}
		cfg.RateRPS = f
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("RATE_BURST: %w", err)
		}
		cfg.RateBurst = n
	}
	return cfg, nil
}

func overrideStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
