package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/models"
)

// accountsEnvVar overrides the persisted account list with inline JSON.
const accountsEnvVar = "ACCOUNTS_CONFIG"

// LoadAccountConfigs resolves the account list: the ACCOUNTS_CONFIG
// environment variable takes precedence, otherwise the bridge. A configured
// but failing backend is fatal here — the pool must not start half-loaded.
func LoadAccountConfigs(bridge *Bridge, logger *zap.Logger) ([]models.AccountConfig, error) {
	if raw := os.Getenv(accountsEnvVar); raw != "" {
		var configs []models.AccountConfig
		if err := json.Unmarshal([]byte(raw), &configs); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", accountsEnvVar, err)
		}
		logger.Info("accounts loaded from environment", zap.Int("count", len(configs)))
		return configs, nil
	}

	configs, err := bridge.LoadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts from storage: %w", err)
	}
	if len(configs) == 0 {
		logger.Warn("no accounts in storage, pool starts empty")
	} else {
		logger.Info("accounts loaded from storage", zap.Int("count", len(configs)))
	}
	return configs, nil
}
