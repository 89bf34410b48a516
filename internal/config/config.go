package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	Environment string `yaml:"environment"`

	// Simulated disables all externally-calling endpoints and swaps in
	// the in-memory store; used when real credentials are not desired.
	Simulated bool `yaml:"simulated"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr                  string `yaml:"redisAddr"`
	RedisPassword              string `yaml:"redisPassword"`
	GenerateRateLimitPerMinute int    `yaml:"generateRateLimitPerMinute"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`

	GoogleClientID string `yaml:"googleClientID"`
	GoogleJWKSURL  string `yaml:"googleJWKSURL"`

	GeminiAPIKey string `yaml:"geminiAPIKey"`
	GeminiModel  string `yaml:"geminiModel"`

	VideoAPIBase   string `yaml:"videoAPIBase"`
	VideoAccessKey string `yaml:"videoAccessKey"`
	VideoSecretKey string `yaml:"videoSecretKey"`
	VideoModel     string `yaml:"videoModel"`
	VideoDuration  string `yaml:"videoDuration"`
	VideoMode      string `yaml:"videoMode"`

	StripeSecretKey     string `yaml:"stripeSecretKey"`
	StripeWebhookSecret string `yaml:"stripeWebhookSecret"`
	FrontendURL         string `yaml:"frontendURL"`

	AdminEmails []string `yaml:"adminEmails"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.GoogleClientID = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("VIDEO_ACCESS_KEY"); v != "" {
		cfg.VideoAccessKey = v
	}
	if v := os.Getenv("VIDEO_SECRET_KEY"); v != "" {
		cfg.VideoSecretKey = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.StripeSecretKey = v
	}
	if v := os.Getenv("STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.StripeWebhookSecret = v
	}
	if v := os.Getenv("FAMILYART_SIMULATED"); strings.EqualFold(v, "true") {
		cfg.Simulated = true
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.Simulated {
		return nil
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.GoogleClientID == "" {
		return errors.New("config: googleClientID is required (set in config.yaml or GOOGLE_CLIENT_ID)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.VideoAccessKey == "" || cfg.VideoSecretKey == "" {
		return errors.New("config: videoAccessKey and videoSecretKey are required (set in config.yaml)")
	}
	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		return errors.New("config: stripeSecretKey and stripeWebhookSecret are required (set in config.yaml)")
	}
	if cfg.FrontendURL == "" {
		return errors.New("config: frontendURL is required (set in config.yaml)")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}
