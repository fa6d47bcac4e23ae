package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/web3ekko/ekko-erc20/internal/pipeline"
	"github.com/web3ekko/ekko-erc20/pkg/balances"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream blocks from the configured source into the configured sinks",
	Long: `Consumes traced blocks from the configured source until it ends or the
process receives SIGINT/SIGTERM. Blocks at or below the stored cursor are
skipped; the cursor advances only once every sink has persisted a block.

Example:
  erc20-balances run -c config.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx := cmd.Context()
	log := logger.WithFields(logrus.Fields{"network": cfg.Network, "source": cfg.Source.Kind})

	res := &resources{}
	defer res.close()
	conns := natsConnections{}

	store, err := newCursorStore(ctx, cfg, res)
	if err != nil {
		return err
	}
	sink, err := newSink(ctx, cfg, conns, res, log)
	if err != nil {
		return err
	}
	src, err := newSource(ctx, cfg, conns, res, log)
	if err != nil {
		_ = sink.Close()
		return err
	}

	p := pipeline.NewPipeline(balances.NewEngine(log), sink, store, cfg.CursorKey, log)
	log.WithField("cursor_key", cfg.CursorKey).Info("Starting pipeline")

	runErr := ignoreCanceled(p.Run(ctx, src))
	if err := p.Close(); err != nil {
		log.WithError(err).Error("Failed to close sinks")
		if runErr == nil {
			runErr = err
		}
	}

	stats := p.Stats()
	log.WithFields(logrus.Fields{
		"processed":       stats.Processed,
		"skipped":         stats.Skipped,
		"transfers":       stats.Transfers,
		"balance_changes": stats.BalanceChanges,
	}).Info("Pipeline stopped")
	return runErr
}
