package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/mshop/internal/pkg/password"
)

type Config struct {
	Port          int              `json:"port"`
	JWTSecret     string           `json:"jwt_secret"`
	JWTTTLHours   int              `json:"jwt_ttl_hours"`
	FrontendURL   string           `json:"frontend_url"`
	Database      DatabaseConfig   `json:"database"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Token         TokenConfig      `json:"token"`
	Password      password.Config  `json:"password"`
	Notify        NotifyConfig     `json:"notify"`
	RateLimit     RateLimitConfig  `json:"rate_limit"`
	CORSAllowlist []string         `json:"cors_allowlist"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type TokenConfig struct {
	VerificationTTLMinutes int    `json:"verification_ttl_minutes"`
	ResetTTLMinutes        int    `json:"reset_ttl_minutes"`
	CleanupCron            string `json:"cleanup_cron"`
}

// NotifyConfig selects a notify backend; Data is decoded by the backend itself.
type NotifyConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type RateLimitConfig struct {
	Disabled bool        `json:"disabled"`
	Backend  string      `json:"backend"`
	Prefix   string      `json:"prefix"`
	Redis    RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

const envPrefix = "MSHOP_"

func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv(envPrefix + "DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PASSWORD"); v != "" {
		cfg.RateLimit.Redis.Password = v
	}
	data, ok := cfg.Notify.Data.(map[string]interface{})
	if !ok {
		return
	}
	if v := os.Getenv(envPrefix + "SMTP_PASSWORD"); v != "" {
		data["password"] = v
	}
	if v := os.Getenv(envPrefix + "AMQP_URL"); v != "" {
		data["url"] = v
	}
}

func (cfg *Config) normalize() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.JWTTTLHours == 0 {
		cfg.JWTTTLHours = 7 * 24
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:5173"
	}
	if cfg.Token.VerificationTTLMinutes <= 0 {
		cfg.Token.VerificationTTLMinutes = 24 * 60
	}
	if cfg.Token.ResetTTLMinutes <= 0 {
		cfg.Token.ResetTTLMinutes = 30
	}
	if cfg.Token.CleanupCron == "" {
		cfg.Token.CleanupCron = "0 * * * *"
	}
	applyPasswordDefaults(&cfg.Password)
	if cfg.Notify.Type == "" {
		cfg.Notify.Type = "log"
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.Prefix == "" {
		cfg.RateLimit.Prefix = "mshop:rl"
	}
	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if cfg.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.redis.addr is required for redis backend")
		}
	default:
		return fmt.Errorf("rate_limit.backend must be memory or redis")
	}
	return nil
}

func applyPasswordDefaults(c *password.Config) {
	def := password.DefaultConfig()
	if c.MemoryKB == 0 {
		c.MemoryKB = def.MemoryKB
	}
	if c.Time == 0 {
		c.Time = def.Time
	}
	if c.Parallelism == 0 {
		c.Parallelism = def.Parallelism
	}
	if c.SaltLength == 0 {
		c.SaltLength = def.SaltLength
	}
	if c.KeyLength == 0 {
		c.KeyLength = def.KeyLength
	}
}
