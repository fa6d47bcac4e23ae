package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/web3ekko/ekko-erc20/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "erc20-balances",
	Short: "ERC-20 balance change inference",
	Long: `Infers ERC-20 balance changes from traced EVM blocks by correlating
Transfer events with the storage writes that moved the balances.

Configuration is read from an optional YAML file and ERC20_* environment
variables, e.g. ERC20_SOURCE_KIND=nats or ERC20_SINKS_DUCKDB_ENABLED=true.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config named by the --config flag and builds the logger
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, logger, nil
}

// ignoreCanceled treats an interrupted run as a clean exit
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
