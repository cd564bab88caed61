// Package config loads the proxy's process configuration from environment
// variables, loading an optional .env file first and falling back to
// defaults where the deployment leaves a variable unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// WalletMode selects which Wallet implementation the proxy constructs.
type WalletMode string

const (
	WalletModeEOA          WalletMode = "eoa"
	WalletModeSmartAccount WalletMode = "smart-account"
)

// TreasurerMode selects which Treasurer implementation the proxy constructs.
type TreasurerMode string

const (
	TreasurerModeNaive  TreasurerMode = "naive"
	TreasurerModeRemote TreasurerMode = "remote"
)

// Config holds the proxy's process-wide configuration.
type Config struct {
	// Host/Port is where the proxy's HTTP front door listens.
	Host string
	Port int

	// WalletMode selects EOA or smart-account signing.
	WalletMode WalletMode

	// WalletPrivateKey is the hex-encoded EOA private key. Required (and
	// mutually exclusive with the smart-account fields below) when
	// WalletMode is eoa.
	WalletPrivateKey string

	// SmartAccountAddress is the deployed smart account's address. Only
	// consulted when WalletMode is smart-account.
	SmartAccountAddress string

	// WalletSessionKeyPrivateKey is the session signer key registered with
	// the smart account's ownable validator module. Only consulted when
	// WalletMode is smart-account.
	WalletSessionKeyPrivateKey string

	// WalletValidatorAddress is the ownable-validator module address the
	// smart account delegates signature validation to. Only consulted
	// when WalletMode is smart-account; empty uses a fixed default.
	WalletValidatorAddress string

	// WalletChainID is the EIP-712 domain chain id the smart-account
	// wallet signs every payment with, in place of the id derived from the
	// requirement's network string. Zero uses Base Sepolia (84532). Only
	// consulted when WalletMode is smart-account.
	WalletChainID int64

	// SettlementRPCURL is an EVM JSON-RPC endpoint read from the
	// environment; no component of the proxy currently uses it.
	SettlementRPCURL string

	// TreasurerMode selects the naive auto-approver or a remote policy
	// service.
	TreasurerMode TreasurerMode

	// TreasurerURL is the remote treasurer's base URL. Required when
	// TreasurerMode is "remote".
	TreasurerURL string

	// TreasurerTimeout bounds every HTTP call the remote treasurer client
	// makes.
	TreasurerTimeout time.Duration

	// MaxPendingRequests bounds the bridge's in-flight request map before
	// it starts rejecting new calls with backpressure.
	MaxPendingRequests int

	// NaiveAutoApproveMaxAmount caps what the naive treasurer will ever
	// auto-approve, expressed in the asset's atomic units. Zero means no
	// cap, matching the "auto-approve the cheapest accepted option"
	// default behavior.
	NaiveAutoApproveMaxAmount int64

	// LogLevel controls the slog handler's minimum level.
	LogLevel string
}

const (
	defaultHost               = "localhost"
	defaultPort               = 8402
	defaultSettlementRPCURL   = "https://sepolia.base.org"
	defaultTreasurerTimeout   = 30 * time.Second
	defaultMaxPendingRequests = 1000
	defaultLogLevel           = "info"
)

// defaultEnvPrefix is the prefix Load uses when called with an empty
// prefix.
const defaultEnvPrefix = "X402MCP_"

// Load reads configuration from the environment, loading a .env file first
// if one is present. A missing .env is not an error; production deployments
// set real environment variables instead. prefix is stripped from every
// environment key this reads before falling back to defaultEnvPrefix when
// empty, e.g. prefix "X402MCP_" reads "X402MCP_WALLET_MODE".
func Load(prefix string) (*Config, error) {
	_ = godotenv.Load()

	if prefix == "" {
		prefix = defaultEnvPrefix
	}
	env := func(key, fallback string) string { return getEnv(prefix+key, fallback) }
	envInt := func(key string, fallback int) int { return getEnvInt(prefix+key, fallback) }

	cfg := &Config{
		Host:                       env("HOST", defaultHost),
		Port:                       envInt("PORT", defaultPort),
		WalletMode:                 WalletMode(env("WALLET_MODE", string(WalletModeEOA))),
		WalletPrivateKey:           env("WALLET_PRIVATE_KEY", ""),
		SmartAccountAddress:        env("SMART_ACCOUNT_ADDRESS", ""),
		WalletSessionKeyPrivateKey: env("WALLET_SESSION_KEY_PRIVATE_KEY", ""),
		WalletValidatorAddress:     env("WALLET_VALIDATOR_ADDRESS", ""),
		WalletChainID:              int64(envInt("WALLET_CHAIN_ID", 0)),
		SettlementRPCURL:           env("SETTLEMENT_RPC_URL", defaultSettlementRPCURL),
		TreasurerMode:              TreasurerMode(env("TREASURER_MODE", string(TreasurerModeNaive))),
		TreasurerURL:               env("TREASURER_URL", ""),
		TreasurerTimeout:           time.Duration(envInt("TREASURER_TIMEOUT_SECONDS", int(defaultTreasurerTimeout.Seconds()))) * time.Second,
		MaxPendingRequests:         envInt("MAX_PENDING_REQUESTS", defaultMaxPendingRequests),
		NaiveAutoApproveMaxAmount:  int64(envInt("NAIVE_MAX_AMOUNT", 0)),
		LogLevel:                   env("LOG_LEVEL", defaultLogLevel),
	}

	if err := cfg.validate(prefix); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(prefix string) error {
	eoaSupplied := c.WalletPrivateKey != ""
	smartAccountSupplied := c.SmartAccountAddress != "" || c.WalletSessionKeyPrivateKey != ""
	if eoaSupplied && smartAccountSupplied {
		return fmt.Errorf("%sWALLET_PRIVATE_KEY cannot be combined with %sSMART_ACCOUNT_ADDRESS/%sWALLET_SESSION_KEY_PRIVATE_KEY: EOA and smart-account credentials are mutually exclusive", prefix, prefix, prefix)
	}

	switch c.WalletMode {
	case WalletModeEOA:
		if c.WalletPrivateKey == "" {
			return fmt.Errorf("%sWALLET_PRIVATE_KEY is required when %sWALLET_MODE=%s", prefix, prefix, WalletModeEOA)
		}
	case WalletModeSmartAccount:
		if c.SmartAccountAddress == "" {
			return fmt.Errorf("%sSMART_ACCOUNT_ADDRESS is required when %sWALLET_MODE=%s", prefix, prefix, WalletModeSmartAccount)
		}
		if c.WalletSessionKeyPrivateKey == "" {
			return fmt.Errorf("%sWALLET_SESSION_KEY_PRIVATE_KEY is required when %sWALLET_MODE=%s", prefix, prefix, WalletModeSmartAccount)
		}
	default:
		return fmt.Errorf("%sWALLET_MODE must be %q or %q, got %q", prefix, WalletModeEOA, WalletModeSmartAccount, c.WalletMode)
	}

	switch c.TreasurerMode {
	case TreasurerModeNaive:
	case TreasurerModeRemote:
		if c.TreasurerURL == "" {
			return fmt.Errorf("%sTREASURER_URL is required when %sTREASURER_MODE=%s", prefix, prefix, TreasurerModeRemote)
		}
	default:
		return fmt.Errorf("%sTREASURER_MODE must be %q or %q, got %q", prefix, TreasurerModeNaive, TreasurerModeRemote, c.TreasurerMode)
	}

	if c.MaxPendingRequests <= 0 {
		return fmt.Errorf("%sMAX_PENDING_REQUESTS must be positive", prefix)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
