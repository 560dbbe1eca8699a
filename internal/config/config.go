// Package config defines all configuration for the taker bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via POLY_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	API     APIConfig     `mapstructure:"api"`
	Market  MarketConfig  `mapstructure:"market"`
	Trading TradingConfig `mapstructure:"trading"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth, order digests, and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from
// signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the bot derives them
// via L1 auth on startup. RPCURL is a Polygon JSON-RPC endpoint used for
// on-chain token balance reads.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	RPCURL      string `mapstructure:"rpc_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`
}

// MarketConfig identifies the binary cricket market being traded.
// TokenA/TokenB are the CTF outcome token IDs for the two teams.
// FirstBatting names the team batting in innings 1 ("TEAM_A" or "TEAM_B").
type MarketConfig struct {
	ConditionID  string `mapstructure:"condition_id"`
	TokenA       string `mapstructure:"token_a"`
	TokenB       string `mapstructure:"token_b"`
	NegRisk      bool   `mapstructure:"neg_risk"`
	FirstBatting string `mapstructure:"first_batting"`
}

// TradingConfig tunes the wicket trade protocol.
//
//   - Budget: total USDC the session may spend on buys (the ratchet budget).
//   - MaxOrderNotional: USDC cap per order (size = notional / price).
//   - SafeBandMinPct: skip wicket trades unless both best prices sit inside
//     [SafeBandMinPct, 100-SafeBandMinPct] percent.
//   - InitialBuyUSDC: notional to split across both teams' tokens when a
//     session starts (0 skips the initial purchase).
//   - FillPollInterval / FillPollTimeout: cadence and deadline for polling
//     order fills after firing FAK legs.
//   - RevertDelay: time from trade initiation until revert orders go out.
//   - BalanceSyncInterval: cadence of on-chain holdings refresh.
//   - HeartbeatInterval: cadence of WebSocket PING frames.
type TradingConfig struct {
	Budget              float64       `mapstructure:"budget"`
	MaxOrderNotional    float64       `mapstructure:"max_order_notional"`
	SafeBandMinPct      float64       `mapstructure:"safe_band_min_pct"`
	InitialBuyUSDC      float64       `mapstructure:"initial_buy_usdc"`
	FillPollInterval    time.Duration `mapstructure:"fill_poll_interval"`
	FillPollTimeout     time.Duration `mapstructure:"fill_poll_timeout"`
	RevertDelay         time.Duration `mapstructure:"revert_delay"`
	BalanceSyncInterval time.Duration `mapstructure:"balance_sync_interval"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig controls the HTTP control API.
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CTF exchange contract addresses by chain, used as the EIP-712 verifying
// contract when signing orders.
const (
	exchangePolygon        = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	exchangeAmoy           = "0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40"
	negRiskExchangePolygon = "0xC5d563A36AE78145C45a50134d48A1215220f80a"
	negRiskExchangeAmoy    = "0xd91E80cF2E7be2e162c6513ceD06f1dD0dA35296"

	// ConditionalTokens is the CTF ERC-1155 contract holding outcome tokens.
	ConditionalTokens = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	// CollateralUSDC is the USDC.e collateral contract on Polygon.
	CollateralUSDC = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
)

// ExchangeAddress returns the verifying contract for the configured chain
// and market type. Polygon mainnet (137) has dedicated deployments; any
// other chain ID maps to the Amoy testnet contracts.
func (c *Config) ExchangeAddress() string {
	if c.Market.NegRisk {
		if c.Wallet.ChainID == 137 {
			return negRiskExchangePolygon
		}
		return negRiskExchangeAmoy
	}
	if c.Wallet.ChainID == 137 {
		return exchangePolygon
	}
	return exchangeAmoy
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY,
// POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults for cadence knobs so configs only need to name the market.
	v.SetDefault("trading.fill_poll_interval", 500*time.Millisecond)
	v.SetDefault("trading.fill_poll_timeout", 10*time.Second)
	v.SetDefault("trading.revert_delay", 15*time.Second)
	v.SetDefault("trading.balance_sync_interval", 30*time.Second)
	v.SetDefault("trading.heartbeat_interval", 10*time.Second)
	v.SetDefault("trading.safe_band_min_pct", 10)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set POLY_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Market.TokenA == "" || c.Market.TokenB == "" {
		return fmt.Errorf("market.token_a and market.token_b are required")
	}
	if c.Market.TokenA == c.Market.TokenB {
		return fmt.Errorf("market.token_a and market.token_b must differ")
	}
	switch c.Market.FirstBatting {
	case "TEAM_A", "TEAM_B":
	default:
		return fmt.Errorf("market.first_batting must be TEAM_A or TEAM_B")
	}
	if c.Trading.Budget <= 0 {
		return fmt.Errorf("trading.budget must be > 0")
	}
	if c.Trading.MaxOrderNotional <= 0 {
		return fmt.Errorf("trading.max_order_notional must be > 0")
	}
	if c.Trading.SafeBandMinPct < 0 || c.Trading.SafeBandMinPct >= 50 {
		return fmt.Errorf("trading.safe_band_min_pct must be in [0, 50)")
	}
	return nil
}
