package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"github.com/web3ekko/ekko-erc20/internal/storage"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the DuckDB database written by the duckdb sink",
}

var queryBalancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "List stored balance changes in version order",
	Long: `Prints stored balance changes as JSON lines, filtered by owner, contract
and block range. Addresses may be given with or without the 0x prefix.

Example:
  erc20-balances query balances -c config.yaml --owner 0xd8da6bf26964af9d7eed9e03e53415d37aa96045`,
	RunE: runQueryBalances,
}

var queryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print record counts and the stored block range",
	RunE:  runQueryStats,
}

var queryTopOwnersCmd = &cobra.Command{
	Use:   "top-owners",
	Short: "List the owners with the most balance changes for a contract",
	RunE:  runQueryTopOwners,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(queryBalancesCmd, queryStatsCmd, queryTopOwnersCmd)

	queryBalancesCmd.Flags().String("owner", "", "Owner address")
	queryBalancesCmd.Flags().String("contract", "", "Token contract address")
	queryBalancesCmd.Flags().Uint64("from-block", 0, "First block")
	queryBalancesCmd.Flags().Uint64("to-block", 0, "Last block, 0 for no bound")
	queryBalancesCmd.Flags().Int("limit", 100, "Maximum rows")

	queryTopOwnersCmd.Flags().String("contract", "", "Token contract address (required)")
	queryTopOwnersCmd.Flags().Int("limit", 10, "Maximum rows")
	if err := queryTopOwnersCmd.MarkFlagRequired("contract"); err != nil {
		panic(err)
	}
}

func openStorage(cmd *cobra.Command) (*storage.DuckDBStorage, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return storage.NewDuckDBStorage(cfg.Sinks.DuckDB.Path, nil, logger)
}

func runQueryBalances(cmd *cobra.Command, _ []string) error {
	var q storage.BalanceQuery
	q.Owner, _ = cmd.Flags().GetString("owner")
	q.Contract, _ = cmd.Flags().GetString("contract")
	q.FromBlock, _ = cmd.Flags().GetUint64("from-block")
	q.ToBlock, _ = cmd.Flags().GetUint64("to-block")
	q.Limit, _ = cmd.Flags().GetInt("limit")

	db, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.BalanceHistory(cmd.Context(), q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func runQueryStats(cmd *cobra.Command, _ []string) error {
	db, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "transfers:       %d\n", stats.Transfers)
	fmt.Fprintf(out, "balance changes: %d\n", stats.BalanceChanges)
	fmt.Fprintf(out, "blocks:          %d - %d\n", stats.MinBlock, stats.MaxBlock)
	for _, changeType := range slices.Sorted(maps.Keys(stats.ByChangeType)) {
		fmt.Fprintf(out, "  %-13s  %d\n", changeType, stats.ByChangeType[changeType])
	}
	return nil
}

func runQueryTopOwners(cmd *cobra.Command, _ []string) error {
	contract, _ := cmd.Flags().GetString("contract")
	limit, _ := cmd.Flags().GetInt("limit")

	db, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	owners, err := db.TopOwnersByChanges(cmd.Context(), contract, limit)
	if err != nil {
		return err
	}
	for _, o := range owners {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", o.Owner, o.Changes)
	}
	return nil
}
