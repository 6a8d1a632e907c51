package basepay

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Verification policy selectors.
const (
	PolicyExact = "exact"
	PolicySlack = "slack"
)

// Base mainnet defaults. The USDC contract address matches the canonical
// Base deployment.
const (
	BaseMainnetUSDC = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	BaseChainID     = 8453
)

// Config holds everything the daemon needs. Values come from the
// environment; Validate reports the first fatal omission as a ConfigError.
type Config struct {
	// Wallet is the shared receiving address (EVM hex).
	Wallet string

	// Indexer settings (Etherscan V2 compatible).
	IndexerURL    string
	IndexerAPIKey string
	TokenContract string
	ChainID       int64
	PageSize      int

	// Matching policy: PolicyExact or PolicySlack.
	MatchPolicy  string
	SlackPercent decimal.Decimal

	SessionTTL      time.Duration
	ReservationTTL  time.Duration
	FreshnessWindow time.Duration

	// Notifications.
	AdminEmail         string
	DisableAdminNotify bool
	SupportURL         string
	MailEndpoint       string
	MailAPIKey         string
	MailFrom           string

	// HTTP surface.
	ListenAddr string
	AdminToken string

	// DataDir enables the durable ledger when set; empty means in-memory.
	DataDir string

	// CatalogPath points at the JSON content catalog.
	CatalogPath string
}

// ConfigFromEnv loads configuration from BASEPAY_* environment variables,
// applying Base-mainnet defaults for everything optional.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Wallet:             os.Getenv("BASEPAY_WALLET"),
		IndexerURL:         envOr("BASEPAY_INDEXER_URL", ""),
		IndexerAPIKey:      os.Getenv("BASEPAY_INDEXER_API_KEY"),
		TokenContract:      envOr("BASEPAY_TOKEN_CONTRACT", BaseMainnetUSDC),
		ChainID:            BaseChainID,
		PageSize:           0,
		MatchPolicy:        envOr("BASEPAY_MATCH_POLICY", PolicyExact),
		SlackPercent:       decimal.NewFromFloat(2.0),
		SessionTTL:         DefaultSessionTTL,
		ReservationTTL:     DefaultReservationTTL,
		FreshnessWindow:    DefaultFreshnessWindow,
		AdminEmail:         os.Getenv("BASEPAY_ADMIN_EMAIL"),
		DisableAdminNotify: os.Getenv("BASEPAY_DISABLE_ADMIN_NOTIFY") == "1",
		SupportURL:         os.Getenv("BASEPAY_SUPPORT_URL"),
		MailEndpoint:       os.Getenv("BASEPAY_MAIL_ENDPOINT"),
		MailAPIKey:         os.Getenv("BASEPAY_MAIL_API_KEY"),
		MailFrom:           os.Getenv("BASEPAY_MAIL_FROM"),
		ListenAddr:         envOr("BASEPAY_LISTEN_ADDR", ":8080"),
		AdminToken:         os.Getenv("BASEPAY_ADMIN_TOKEN"),
		DataDir:            os.Getenv("BASEPAY_DATA_DIR"),
		CatalogPath:        os.Getenv("BASEPAY_CATALOG"),
	}

	if v := os.Getenv("BASEPAY_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse BASEPAY_CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("BASEPAY_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse BASEPAY_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = n
	}
	if v := os.Getenv("BASEPAY_SLACK_PERCENT"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse BASEPAY_SLACK_PERCENT: %w", err)
		}
		cfg.SlackPercent = d
	}
	for _, f := range []struct {
		env string
		dst *time.Duration
	}{
		{"BASEPAY_SESSION_TTL", &cfg.SessionTTL},
		{"BASEPAY_RESERVATION_TTL", &cfg.ReservationTTL},
		{"BASEPAY_FRESHNESS_WINDOW", &cfg.FreshnessWindow},
	} {
		if v := os.Getenv(f.env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", f.env, err)
			}
			*f.dst = d
		}
	}

	return cfg, nil
}

// Validate checks the values the payment flow cannot run without.
func (c Config) Validate() error {
	if c.Wallet == "" {
		return NewConfigError("receiving wallet is not configured")
	}
	if !common.IsHexAddress(c.Wallet) {
		return NewConfigError("receiving wallet is not a valid EVM address")
	}
	if c.IndexerAPIKey == "" {
		return NewConfigError("indexer API key is not configured")
	}
	if !common.IsHexAddress(c.TokenContract) {
		return NewConfigError("token contract is not a valid EVM address")
	}
	if c.MatchPolicy != PolicyExact && c.MatchPolicy != PolicySlack {
		return NewConfigError(fmt.Sprintf("unknown match policy %q", c.MatchPolicy))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
