package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainRegistry(t *testing.T) {
	t.Run("defaults cover the supported set", func(t *testing.T) {
		r := NewChainRegistry()

		for _, id := range []uint64{1, 10, 137, 8453, 42161, 11155111} {
			assert.True(t, r.Supported(id), "chain %d should be supported", id)
			chain, ok := r.Get(id)
			require.True(t, ok)
			assert.NotEmpty(t, chain.RPCURL)
		}
		assert.False(t, r.Supported(999))
		assert.Len(t, r.IDs(), 6)
	})

	t.Run("explicit chains replace the defaults", func(t *testing.T) {
		r := NewChainRegistry(Chain{ID: 31337, Name: "devnet", RPCURL: "http://localhost:8545"})

		assert.True(t, r.Supported(31337))
		assert.False(t, r.Supported(1))
		assert.Len(t, r.IDs(), 1)
	})
}

func TestLoadChainRegistry(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		r, err := LoadChainRegistry(t.TempDir())
		require.NoError(t, err)
		assert.True(t, r.Supported(1))
	})

	t.Run("reads chains.yaml", func(t *testing.T) {
		dir := t.TempDir()
		data := `chains:
  - id: 31337
    name: devnet
    rpc_url: http://localhost:8545
  - id: 1
    name: mainnet
    rpc_url: https://eth.internal
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chains.yaml"), []byte(data), 0o600))

		r, err := LoadChainRegistry(dir)
		require.NoError(t, err)
		assert.True(t, r.Supported(31337))

		mainnet, ok := r.Get(1)
		require.True(t, ok)
		assert.Equal(t, "https://eth.internal", mainnet.RPCURL)
		assert.False(t, r.Supported(137))
	})

	t.Run("rejects malformed files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chains.yaml"), []byte("chains: {"), 0o600))

		_, err := LoadChainRegistry(dir)
		require.Error(t, err)
	})

	t.Run("rejects chains without an id", func(t *testing.T) {
		dir := t.TempDir()
		data := "chains:\n  - name: nameless\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chains.yaml"), []byte(data), 0o600))

		_, err := LoadChainRegistry(dir)
		require.Error(t, err)
	})
}
