package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends for the SecretStore.
const (
	StoreFile    = "file"
	StoreKeyring = "keyring"
	StoreMemory  = "memory"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `envconfig:"APP_NAME" default:"PezkuwiWallet"`
	AppEnv         string        `envconfig:"APP_ENV" default:"development"`
	Port           string        `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	ShutdownPeriod time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	ChainRPCURL       string        `envconfig:"CHAIN_RPC_URL" default:"http://127.0.0.1:9933"`
	ChainTimeout      time.Duration `envconfig:"CHAIN_TIMEOUT" default:"10s"`
	SS58Prefix        uint16        `envconfig:"SS58_PREFIX" default:"42"`
	GovernanceAssetID uint32        `envconfig:"GOVERNANCE_ASSET_ID" default:"1"`
	TokenDecimals     uint8         `envconfig:"TOKEN_DECIMALS" default:"12"`

	StoreBackend    string `envconfig:"STORE_BACKEND" default:"file"`
	StorePath       string `envconfig:"STORE_PATH" default:"./data/wallet.store"`
	StorePassphrase string `envconfig:"STORE_PASSPHRASE"`
	StoreScryptN    int    `envconfig:"STORE_SCRYPT_N" default:"32768"`

	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionSecret  string        `envconfig:"SESSION_SECRET"`
	LoginRateLimit int           `envconfig:"LOGIN_RATE_LIMIT" default:"5"`

	KYCPollInterval time.Duration `envconfig:"KYC_POLL_INTERVAL" default:"30s"`
	TxPollInterval  time.Duration `envconfig:"TX_POLL_INTERVAL" default:"6s"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules envconfig cannot express.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case StoreFile, StoreKeyring, StoreMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == StoreFile && c.StorePath == "" {
		return fmt.Errorf("STORE_PATH must be set for the file store")
	}
	if c.ChainRPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL must be set")
	}
	if c.TokenDecimals == 0 || c.TokenDecimals > 30 {
		return fmt.Errorf("invalid TOKEN_DECIMALS %d", c.TokenDecimals)
	}
	if c.SS58Prefix > 16383 {
		return fmt.Errorf("invalid SS58_PREFIX %d", c.SS58Prefix)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if !c.IsDev() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET must be set when APP_ENV=%s", c.AppEnv)
		}
		if c.StoreBackend == StoreMemory {
			return fmt.Errorf("STORE_BACKEND=memory is only allowed in development")
		}
	}
	return nil
}

// IsDev reports whether the app runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
