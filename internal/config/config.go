package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	HTTPPort string `yaml:"http_port"`
	LogLevel string `yaml:"log_level"`

	StoreBackend  string `yaml:"store_backend"`
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	GeminiAPIKey      string        `yaml:"gemini_api_key"`
	GeminiModel       string        `yaml:"gemini_model"`
	ResponseLanguage  string        `yaml:"response_language"`
	MaxReplyChars     int           `yaml:"max_reply_chars"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	GenerationRetries int           `yaml:"generation_retries"`

	TokenTTL      time.Duration `yaml:"token_ttl"`
	SeedDemoUsers bool          `yaml:"seed_demo_users"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPPort:          "8080",
		LogLevel:          "INFO",
		StoreBackend:      BackendBolt,
		DatabaseURL:       "kami.db",
		RedisAddr:         "localhost:6379",
		GeminiModel:       "gemini-1.5-flash",
		ResponseLanguage:  "Japanese",
		MaxReplyChars:     150,
		GenerationTimeout: 15 * time.Second,
		GenerationRetries: 1,
		TokenTTL:          7 * 24 * time.Hour,
		SeedDemoUsers:     true,
	}
}

// Load builds the configuration from defaults, an optional .env file, an optional
// YAML file named by KAMI_CONFIG and finally the process environment.
func Load() (*Config, error) {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := Default()

	if path := getEnv("KAMI_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvAsInt("REDIS_DB", cfg.RedisDB)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.ResponseLanguage = getEnv("RESPONSE_LANGUAGE", cfg.ResponseLanguage)
	cfg.MaxReplyChars = getEnvAsInt("MAX_REPLY_CHARS", cfg.MaxReplyChars)
	cfg.GenerationTimeout = getEnvAsDuration("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	cfg.GenerationRetries = getEnvAsInt("GENERATION_RETRIES", cfg.GenerationRetries)
	cfg.TokenTTL = getEnvAsDuration("TOKEN_TTL", cfg.TokenTTL)
	cfg.SeedDemoUsers = getEnvAsBool("SEED_DEMO_USERS", cfg.SeedDemoUsers)
}

// Validate rejects configurations the server can not start with.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendBolt, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}

	port, err := strconv.Atoi(c.HTTPPort)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %q", c.HTTPPort)
	}

	if c.GenerationRetries < 0 {
		return fmt.Errorf("generation retries can not be negative")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("generation timeout must be positive")
	}
	if c.TokenTTL < 0 {
		return fmt.Errorf("token ttl can not be negative")
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
