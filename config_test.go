package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemini-wallet/bridge/pkg/log"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv(configDirPathEnv, t.TempDir())

		config, err := LoadConfig(log.NewNoopLogger())
		require.NoError(t, err)

		assert.Equal(t, defaultWalletURL, config.WalletURL)
		assert.Equal(t, uint64(1), config.DefaultChainID)
		assert.Equal(t, "sqlite", config.DB.Driver)
		require.NotNil(t, config.Chains)
		assert.True(t, config.Chains.Supported(1))
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv(configDirPathEnv, t.TempDir())
		t.Setenv("BRIDGE_APP_NAME", "Acceptance App")
		t.Setenv("BRIDGE_WALLET_URL", "https://wallet.internal/popup")
		t.Setenv("BRIDGE_DEFAULT_CHAIN_ID", "8453")

		config, err := LoadConfig(log.NewNoopLogger())
		require.NoError(t, err)

		assert.Equal(t, "Acceptance App", config.AppName)
		assert.Equal(t, "https://wallet.internal/popup", config.WalletURL)
		assert.Equal(t, uint64(8453), config.DefaultChainID)
	})
}
