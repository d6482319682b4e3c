package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root static configuration for a Meridian process. Live
// trading parameters (trade sizing, exit thresholds, enable flag) are NOT
// here: they live in the store's TradingConfig record so they can change
// without a restart.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Chain     ChainConfig     `yaml:"chain"`
	Explorer  ExplorerConfig  `yaml:"explorer"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Store     StoreConfig     `yaml:"store"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	CEX       CEXConfig       `yaml:"cex"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

type ChainConfig struct {
	// Space-delimited RPC endpoint list; order is the failover order.
	RPCEndpoints string `yaml:"rpc_endpoints"`

	// Websocket endpoint for the pair-creation watch (optional).
	WSEndpoint string `yaml:"ws_endpoint"`

	ChainID        int64  `yaml:"chain_id"`
	RouterAddress  string `yaml:"router_address"`
	FactoryAddress string `yaml:"factory_address"`

	// Space-delimited "SYMBOL,address" pairs. The wrapped native token must
	// be listed under the symbol given by native_symbol.
	KnownTokens  string `yaml:"known_tokens"`
	NativeSymbol string `yaml:"native_symbol"`

	// Symbols within known_tokens treated as USD-pegged.
	StableSymbols []string `yaml:"stable_symbols"`

	ReceiptPollMs int `yaml:"receipt_poll_ms"`
	HTTPTimeoutMs int `yaml:"http_timeout_ms"`
}

type ExplorerConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

type OracleConfig struct {
	BaseURL string `yaml:"base_url"`
	ChainID string `yaml:"chain_id"`
}

type WalletConfig struct {
	Address           string `yaml:"address"`
	CurrencySymbol    string `yaml:"currency_symbol"`
	PrivateKey        string `yaml:"private_key"`
	SpendTokenAddress string `yaml:"spend_token_address"`

	// Decimals of the spend token. BEP-20 stables and WBNB all use 18.
	SpendTokenDecimals int32 `yaml:"spend_token_decimals"`
}

type StoreConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type TelegramConfig struct {
	Enabled  bool     `yaml:"enabled"`
	BotToken string   `yaml:"bot_token"`
	ChatIDs  []string `yaml:"chat_ids"`
}

type CEXConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type SchedulerConfig struct {
	Workers            int `yaml:"workers"`
	ScanIntervalSec    int `yaml:"scan_interval_sec"`
	SweepIntervalSec   int `yaml:"sweep_interval_sec"`
	CleanupIntervalHrs int `yaml:"cleanup_interval_hours"`
	RetentionDays      int `yaml:"retention_days"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "meridian-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 56
	}
	if cfg.Chain.NativeSymbol == "" {
		cfg.Chain.NativeSymbol = "WBNB"
	}
	if len(cfg.Chain.StableSymbols) == 0 {
		cfg.Chain.StableSymbols = []string{"USDT", "BUSD"}
	}
	if cfg.Chain.ReceiptPollMs == 0 {
		cfg.Chain.ReceiptPollMs = 3000
	}
	if cfg.Chain.HTTPTimeoutMs == 0 {
		cfg.Chain.HTTPTimeoutMs = 60000
	}
	if cfg.Oracle.BaseURL == "" {
		cfg.Oracle.BaseURL = "https://api.gopluslabs.io"
	}
	if cfg.Oracle.ChainID == "" {
		cfg.Oracle.ChainID = fmt.Sprintf("%d", cfg.Chain.ChainID)
	}
	if cfg.Wallet.SpendTokenDecimals == 0 {
		cfg.Wallet.SpendTokenDecimals = 18
	}
	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.CEX.BaseURL == "" {
		cfg.CEX.BaseURL = "https://api.binance.com"
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 8
	}
	if cfg.Scheduler.ScanIntervalSec == 0 {
		cfg.Scheduler.ScanIntervalSec = 300
	}
	if cfg.Scheduler.SweepIntervalSec == 0 {
		cfg.Scheduler.SweepIntervalSec = 300
	}
	if cfg.Scheduler.CleanupIntervalHrs == 0 {
		cfg.Scheduler.CleanupIntervalHrs = 24
	}
	if cfg.Scheduler.RetentionDays == 0 {
		cfg.Scheduler.RetentionDays = 30
	}
}

// RPCEndpointList splits the space-delimited endpoint string, preserving
// order. Order is the failover order.
func (c *ChainConfig) RPCEndpointList() []string {
	return strings.Fields(c.RPCEndpoints)
}

// KnownTokenMap parses the "SYMBOL,address" pairs into a symbol -> address
// map.
func (c *ChainConfig) KnownTokenMap() (map[string]string, error) {
	tokens := make(map[string]string)
	for _, entry := range strings.Fields(c.KnownTokens) {
		parts := strings.SplitN(entry, ",", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("config: malformed known_tokens entry %q", entry)
		}
		tokens[parts[0]] = parts[1]
	}
	return tokens, nil
}

// Validate checks that the configuration is complete enough to start the
// daemon.
func (c *Config) Validate() error {
	if len(c.Chain.RPCEndpointList()) == 0 {
		return fmt.Errorf("config: chain.rpc_endpoints must list at least one endpoint")
	}
	if c.Chain.RouterAddress == "" {
		return fmt.Errorf("config: chain.router_address is required")
	}
	if c.Chain.FactoryAddress == "" {
		return fmt.Errorf("config: chain.factory_address is required")
	}
	known, err := c.Chain.KnownTokenMap()
	if err != nil {
		return err
	}
	if len(known) == 0 {
		return fmt.Errorf("config: chain.known_tokens must list the well-known token set")
	}
	if _, ok := known[c.Chain.NativeSymbol]; !ok {
		return fmt.Errorf("config: chain.known_tokens is missing the native token %s", c.Chain.NativeSymbol)
	}
	if c.Explorer.APIURL == "" {
		return fmt.Errorf("config: explorer.api_url is required")
	}
	if c.Wallet.Address == "" || c.Wallet.SpendTokenAddress == "" {
		return fmt.Errorf("config: wallet.address and wallet.spend_token_address are required")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("config: telegram.bot_token is required when telegram is enabled")
	}
	if c.CEX.Enabled && (c.CEX.APIKey == "" || c.CEX.APISecret == "") {
		return fmt.Errorf("config: cex.api_key and cex.api_secret are required when cex is enabled")
	}
	return nil
}
