package bridge

import (
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/gemini-wallet/bridge/pkg/log"
	"github.com/gemini-wallet/bridge/pkg/storage"
)

// Version identifies the bridge build; it is announced to the popup in the
// app-context message.
const Version = "0.4.2"

const (
	configDirPathEnv     = "BRIDGE_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	defaultWalletURL     = "https://keys.gemini.com/popup"
)

// Config carries everything needed to assemble a provider: the embedding
// application's identity, the wallet popup URL, and the ambient settings.
type Config struct {
	// AppName is shown by the wallet UI when asking the user to approve
	// a connection.
	AppName string `env:"BRIDGE_APP_NAME" env-default:"unnamed app"`
	// AppLogoURL optionally points at a logo for the wallet UI.
	AppLogoURL string `env:"BRIDGE_APP_LOGO_URL" env-default:""`
	// AppOrigin is the origin outgoing messages are stamped with.
	AppOrigin string `env:"BRIDGE_APP_ORIGIN" env-default:""`
	// WalletURL is where popup windows are opened.
	WalletURL string `env:"BRIDGE_WALLET_URL" env-default:""`
	// DefaultChainID is the session chain used until storage hydration or a
	// chain switch says otherwise.
	DefaultChainID uint64 `env:"BRIDGE_DEFAULT_CHAIN_ID" env-default:"1"`

	// Log configures the zap logger.
	Log log.Config
	// DB configures the persistent store. Left at defaults it runs on
	// in-memory SQLite.
	DB storage.DatabaseConfig

	// Chains is the supported chain set, loaded from chains.yaml when
	// present, otherwise the built-in defaults.
	Chains *ChainRegistry
}

// LoadConfig builds configuration from environment variables and optional
// files (.env, chains.yaml) in the configured directory.
func LoadConfig(logger log.Logger) (*Config, error) {
	logger = logger.WithName("config")

	configDirPath := os.Getenv(configDirPathEnv)
	if configDirPath == "" {
		configDirPath = defaultConfigDirPath
	}

	configDotEnvPath := filepath.Join(configDirPath, ".env")
	if err := godotenv.Load(configDotEnvPath); err != nil {
		logger.Debug(".env file not found", "path", configDotEnvPath)
	}

	var config Config
	if err := cleanenv.ReadEnv(&config); err != nil {
		logger.Error("failed to read env", "error", err)
		return nil, err
	}
	if config.WalletURL == "" {
		config.WalletURL = defaultWalletURL
	}

	chains, err := LoadChainRegistry(configDirPath)
	if err != nil {
		logger.Error("failed to load chain registry", "error", err)
		return nil, err
	}
	config.Chains = chains

	if !chains.Supported(config.DefaultChainID) {
		logger.Warn("default chain id not in supported set", "chainId", config.DefaultChainID)
	}

	logger.Info("configuration loaded",
		"appName", config.AppName,
		"walletUrl", config.WalletURL,
		"defaultChainId", config.DefaultChainID,
	)
	return &config, nil
}
