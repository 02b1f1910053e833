package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Logger   LoggerConfig
	Database DatabaseConfig
	Chain    ChainConfig
	Provider ProviderConfig
	Planner  PlannerConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	ConnMaxLifetime time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
}

// ChainConfig holds RPC access, contract addresses and signing keys
type ChainConfig struct {
	RPCURL             string
	USDCAddress        string
	PreviewerAddress   string
	IssuerChecker      string
	KeeperPrivateKey   string
	IssuerPrivateKey   string
	CollectorAddresses []string
	ChainID            int64
	ReceiptTimeout     time.Duration
}

// ProviderConfig holds card-processor webhook credentials
type ProviderConfig struct {
	PandaSignatureKey    string
	CryptomateWebhookKey string
}

// PlannerConfig holds collection planning and lock parameters
type PlannerConfig struct {
	MaturityInterval  time.Duration
	MinBorrowInterval time.Duration
	LockTimeout       time.Duration
	MaxLockWaiters    int
}

// WorkerConfig holds background reconciliation settings
type WorkerConfig struct {
	ReconcileSpec  string
	ReconcileBatch int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level string // debug, info, warn, error
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout: getEnvAsDuration("SERVER_READ_TIMEOUT", "15s"),
			// Must outlast the chain receipt timeout: clearings hold the
			// request open until the settlement receipt arrives.
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", "150s"),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "settlement"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Chain: ChainConfig{
			RPCURL:             getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
			ChainID:            int64(getEnvAsInt("CHAIN_ID", 10)),
			USDCAddress:        getEnv("CHAIN_USDC_ADDRESS", ""),
			PreviewerAddress:   getEnv("CHAIN_PREVIEWER_ADDRESS", ""),
			IssuerChecker:      getEnv("CHAIN_ISSUER_CHECKER_ADDRESS", ""),
			CollectorAddresses: getEnvAsList("CHAIN_COLLECTOR_ADDRESSES"),
			KeeperPrivateKey:   getEnv("KEEPER_PRIVATE_KEY", ""),
			IssuerPrivateKey:   getEnv("ISSUER_PRIVATE_KEY", ""),
			ReceiptTimeout:     getEnvAsDuration("CHAIN_RECEIPT_TIMEOUT", "2m"),
		},
		Provider: ProviderConfig{
			PandaSignatureKey:    getEnv("PANDA_SIGNATURE_KEY", ""),
			CryptomateWebhookKey: getEnv("CRYPTOMATE_WEBHOOK_KEY", ""),
		},
		Planner: PlannerConfig{
			MaturityInterval:  getEnvAsDuration("PLANNER_MATURITY_INTERVAL", "672h"), // 4 weeks
			MinBorrowInterval: getEnvAsDuration("PLANNER_MIN_BORROW_INTERVAL", "24h"),
			LockTimeout:       getEnvAsDuration("PLANNER_LOCK_TIMEOUT", "2s"),
			MaxLockWaiters:    getEnvAsInt("PLANNER_MAX_LOCK_WAITERS", 8),
		},
		Worker: WorkerConfig{
			ReconcileSpec:  getEnv("WORKER_RECONCILE_SPEC", "@every 5m"),
			ReconcileBatch: getEnvAsInt("WORKER_RECONCILE_BATCH", 50),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain rpc url cannot be empty")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive, got %d", c.Chain.ChainID)
	}

	if c.Planner.MaturityInterval <= 0 {
		return fmt.Errorf("maturity interval must be positive")
	}
	if c.Planner.MinBorrowInterval <= 0 || c.Planner.MinBorrowInterval >= c.Planner.MaturityInterval {
		return fmt.Errorf("min borrow interval must be positive and below the maturity interval")
	}
	if c.Planner.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.Planner.MaxLockWaiters <= 0 {
		return fmt.Errorf("max lock waiters must be positive")
	}

	if c.Worker.ReconcileBatch <= 0 {
		return fmt.Errorf("reconcile batch must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to parsing the default if provided value is invalid
		duration, err = time.ParseDuration(defaultValue)
		if err != nil {
			return 0
		}
	}
	return duration
}
