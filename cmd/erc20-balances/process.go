package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/web3ekko/ekko-erc20/internal/pipeline"
	"github.com/web3ekko/ekko-erc20/pkg/balances"
	"github.com/web3ekko/ekko-erc20/pkg/source"
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Print the records of JSON-lines traced blocks",
	Long: `Reads JSON-lines encoded traced blocks from a file, or stdin when the
file is omitted or "-", and prints one JSON record per line on stdout.

Example:
  erc20-balances process blocks.jsonl
  cat blocks.jsonl | erc20-balances process --balance-changes-only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Bool("balance-changes-only", false, "Do not print transfer records")
}

func runProcess(cmd *cobra.Command, args []string) error {
	onlyChanges, _ := cmd.Flags().GetBool("balance-changes-only")

	_, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	var sink pipeline.Sink = pipeline.NewJSONSink(cmd.OutOrStdout())
	if onlyChanges {
		sink = balanceChangesOnly{sink}
	}

	ctx := cmd.Context()
	src := source.NewFileSource(ctx, in, logger)
	p := pipeline.NewPipeline(balances.NewEngine(logger), sink, nil, "process", logger)
	defer p.Close()

	if err := p.Run(ctx, src); err != nil {
		return ignoreCanceled(err)
	}

	stats := p.Stats()
	logger.WithField("blocks", stats.Processed).
		WithField("transfers", stats.Transfers).
		WithField("balance_changes", stats.BalanceChanges).
		Info("Done")
	return nil
}

// balanceChangesOnly drops transfer records before writing
type balanceChangesOnly struct {
	pipeline.Sink
}

func (s balanceChangesOnly) Write(ctx context.Context, batch pipeline.Batch) error {
	filtered := *batch.Events
	filtered.Transfers = nil
	batch.Events = &filtered
	return s.Sink.Write(ctx, batch)
}
