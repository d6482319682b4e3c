package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
general:
  instance_id: "test-node"
  environment: "development"
  log_level: "debug"

chain:
  rpc_endpoints: "https://rpc-a.example https://rpc-b.example https://rpc-c.example"
  router_address: "0x10ED43C718714eb63d5aA57B78B54704E256024E"
  factory_address: "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"
  known_tokens: "WBNB,0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c USDT,0x55d398326f99059fF775485246999027B3197955"

explorer:
  api_url: "https://api.bscscan.com/api"
  api_key: "test-key"

wallet:
  address: "0x1111111111111111111111111111111111111111"
  currency_symbol: "USDT"
  spend_token_address: "0x55d398326f99059fF775485246999027B3197955"

telegram:
  enabled: true
  bot_token: "123:abc"
  chat_ids:
    - "777"
    - "888"
`

func writeTemp(t *testing.T, body string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "meridian-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(body)
	require.NoError(t, err)
	tmpFile.Close()

	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "development", cfg.General.Environment)
	assert.Equal(t, []string{
		"https://rpc-a.example",
		"https://rpc-b.example",
		"https://rpc-c.example",
	}, cfg.Chain.RPCEndpointList())
	assert.Equal(t, "0x10ED43C718714eb63d5aA57B78B54704E256024E", cfg.Chain.RouterAddress)
	assert.Equal(t, []string{"777", "888"}, cfg.Telegram.ChatIDs)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "general:\n  environment: staging\n"))
	require.NoError(t, err)

	assert.Equal(t, "meridian-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, int64(56), cfg.Chain.ChainID)
	assert.Equal(t, "WBNB", cfg.Chain.NativeSymbol)
	assert.Equal(t, 300, cfg.Scheduler.ScanIntervalSec)
	assert.Equal(t, 24, cfg.Scheduler.CleanupIntervalHrs)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.Equal(t, "https://api.gopluslabs.io", cfg.Oracle.BaseURL)
	assert.Equal(t, "56", cfg.Oracle.ChainID)
	assert.Equal(t, int32(18), cfg.Wallet.SpendTokenDecimals)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_MERIDIAN_KEY", "env-key")
	defer os.Unsetenv("TEST_MERIDIAN_KEY")

	cfg, err := Load(writeTemp(t, "explorer:\n  api_key: \"${TEST_MERIDIAN_KEY}\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Explorer.APIKey)
}

func TestKnownTokenMap(t *testing.T) {
	c := ChainConfig{KnownTokens: "WBNB,0xabc USDT,0xdef"}
	tokens, err := c.KnownTokenMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"WBNB": "0xabc", "USDT": "0xdef"}, tokens)

	c = ChainConfig{KnownTokens: "nocomma"}
	_, err = c.KnownTokenMap()
	assert.Error(t, err)
}

func TestValidateRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no endpoints", func(c *Config) { c.Chain.RPCEndpoints = "" }},
		{"no router", func(c *Config) { c.Chain.RouterAddress = "" }},
		{"no factory", func(c *Config) { c.Chain.FactoryAddress = "" }},
		{"native token missing", func(c *Config) { c.Chain.KnownTokens = "USDT,0xdef" }},
		{"no wallet", func(c *Config) { c.Wallet.Address = "" }},
		{"telegram enabled without token", func(c *Config) { c.Telegram.BotToken = "" }},
		{"cex enabled without secret", func(c *Config) {
			c.CEX.Enabled = true
			c.CEX.APIKey = "k"
			c.CEX.APISecret = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, validYAML))
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
