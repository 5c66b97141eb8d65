package bridge

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const chainsFileName = "chains.yaml"

// Chain is one network the wallet session can operate on.
type Chain struct {
	// ID is the EIP-155 chain id.
	ID uint64 `yaml:"id" json:"id"`
	// Name is a human-readable network identifier.
	Name string `yaml:"name" json:"name,omitempty"`
	// RPCURL is the JSON-RPC endpoint used for receipt lookups and request
	// fallthrough. May be empty, in which case RPC-dependent calls fail.
	RPCURL string `yaml:"rpc_url" json:"rpcUrl,omitempty"`
}

// chainsConfig is the on-disk shape of a chains.yaml file.
type chainsConfig struct {
	Chains []Chain `yaml:"chains"`
}

// defaultChains is the built-in supported set with best-effort public RPC
// endpoints. A chains.yaml file replaces it wholesale.
var defaultChains = []Chain{
	{ID: 1, Name: "mainnet", RPCURL: "https://cloudflare-eth.com"},
	{ID: 10, Name: "optimism", RPCURL: "https://mainnet.optimism.io"},
	{ID: 137, Name: "polygon", RPCURL: "https://polygon-rpc.com"},
	{ID: 8453, Name: "base", RPCURL: "https://mainnet.base.org"},
	{ID: 42161, Name: "arbitrum", RPCURL: "https://arb1.arbitrum.io/rpc"},
	{ID: 11155111, Name: "sepolia", RPCURL: "https://rpc.sepolia.org"},
}

// ChainRegistry is the set of chains the SDK supports locally.
// Switching to a registered chain happens without a popup round trip;
// anything else is delegated to the wallet.
type ChainRegistry struct {
	chains map[uint64]Chain
}

// NewChainRegistry creates a registry over the given chains.
// With no chains given, the built-in default set is used.
func NewChainRegistry(chains ...Chain) *ChainRegistry {
	if len(chains) == 0 {
		chains = defaultChains
	}

	m := make(map[uint64]Chain, len(chains))
	for _, c := range chains {
		m[c.ID] = c
	}
	return &ChainRegistry{chains: m}
}

// LoadChainRegistry builds a registry from <dir>/chains.yaml.
// A missing file is not an error: the built-in defaults apply.
func LoadChainRegistry(dir string) (*ChainRegistry, error) {
	path := filepath.Join(dir, chainsFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewChainRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg chainsConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("%s: no chains defined", path)
	}
	for _, c := range cfg.Chains {
		if c.ID == 0 {
			return nil, fmt.Errorf("%s: chain %q has no id", path, c.Name)
		}
	}

	return NewChainRegistry(cfg.Chains...), nil
}

// Supported reports whether the chain id is in the registry.
func (r *ChainRegistry) Supported(id uint64) bool {
	_, ok := r.chains[id]
	return ok
}

// Get returns the chain registered under id.
func (r *ChainRegistry) Get(id uint64) (Chain, bool) {
	c, ok := r.chains[id]
	return c, ok
}

// IDs returns all registered chain ids.
func (r *ChainRegistry) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	return ids
}
