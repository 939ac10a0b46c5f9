package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/polyrelay/polyrelay/internal/config"
	"github.com/polyrelay/polyrelay/internal/logger"
	"github.com/polyrelay/polyrelay/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored accounts and their expiry",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 命令行工具只输出到控制台
	cfg.Logging.Output = ""
	cfg.Logging.ConsoleOutput = false
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	bridge, err := openBridge(cfg, log)
	if err != nil {
		return err
	}
	defer bridge.Close()

	accounts, err := storage.LoadAccountConfigs(bridge, log)
	if err != nil {
		return err
	}

	fmt.Printf("Storage engine: %s\n", bridge.Engine())
	fmt.Printf("Accounts: %d\n\n", len(accounts))

	now := time.Now()
	for _, acc := range accounts {
		state := "enabled"
		if acc.Disabled {
			state = "disabled"
		}
		expiryStatus, expiryDisplay := acc.FormatExpiry(now)
		fmt.Printf("  %-20s %-9s expiry: %s (%s)\n", acc.AccountID, state, expiryDisplay, expiryStatus)
	}
	return nil
}
