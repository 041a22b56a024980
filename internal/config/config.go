package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Proxy    ProxyConfig
	Payment  PaymentConfig
	Admin    AdminConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL      string
	User     string
	Password string
}

// DSN returns the database connection string with credentials applied.
func (c DatabaseConfig) DSN() string {
	dsn := c.URL
	if c.User != "" {
		dsn += " user=" + c.User
	}
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	return dsn
}

// RedisConfig holds the optional Redis configuration; empty URL disables it.
type RedisConfig struct {
	URL      string
	Password string
}

// ProxyConfig holds the ingress and backend knobs
type ProxyConfig struct {
	TargetURL        string
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	IdleTimeout      time.Duration
	ProtectedMethods []string
	ReloadInterval   time.Duration
}

// PaymentConfig holds the chain-facing payment knobs
type PaymentConfig struct {
	ServerSecret    []byte
	AcceptedCoinID  string
	MinimumPayment  *big.Int
	TokenTypeName   string
	TokenTypeIDsURL string
	TrustBasePath   string
}

// AdminConfig holds the operator surface configuration
type AdminConfig struct {
	Password string
}

// Load loads configuration from environment variables. SERVER_SECRET is the
// only hard requirement; everything else has a workable default.
func Load() (*Config, error) {
	secretHex := os.Getenv("SERVER_SECRET")
	if secretHex == "" {
		return nil, fmt.Errorf("SERVER_SECRET is required")
	}
	secret, err := hex.DecodeString(strings.TrimPrefix(secretHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("SERVER_SECRET must be hex: %w", err)
	}

	minPayment, ok := new(big.Int).SetString(getEnv("MINIMUM_PAYMENT_AMOUNT", "1000"), 10)
	if !ok {
		return nil, fmt.Errorf("MINIMUM_PAYMENT_AMOUNT must be an integer string")
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("SERVER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DB_URL", "host=localhost port=5432 dbname=unicity_proxy sslmode=disable"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Proxy: ProxyConfig{
			TargetURL:        os.Getenv("TARGET_URL"),
			ConnectTimeout:   getEnvAsMillis("CONNECT_TIMEOUT", 5000),
			ReadTimeout:      getEnvAsMillis("READ_TIMEOUT", 30000),
			IdleTimeout:      getEnvAsMillis("IDLE_TIMEOUT", 3000),
			ProtectedMethods: splitCSV(getEnv("PROTECTED_METHODS", "submit_commitment")),
			ReloadInterval:   getEnvAsMillis("SHARD_RELOAD_INTERVAL", 15000),
		},
		Payment: PaymentConfig{
			ServerSecret:    secret,
			AcceptedCoinID:  os.Getenv("ACCEPTED_COIN_ID"),
			MinimumPayment:  minPayment,
			TokenTypeName:   getEnv("TOKEN_TYPE_NAME", "unicity"),
			TokenTypeIDsURL: os.Getenv("TOKEN_TYPE_IDS_URL"),
			TrustBasePath:   os.Getenv("TRUST_BASE_PATH"),
		},
		Admin: AdminConfig{
			Password: os.Getenv("ADMIN_PASSWORD"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	ms := defaultValue
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			ms = intVal
		}
	}
	return time.Duration(ms) * time.Millisecond
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
