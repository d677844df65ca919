package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/backcheck/internal/config"
)

const (
	appName = "backcheck"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "backcheck",
		Short:   "Backtest simulation and validation toolkit",
		Version: version,
		Long: `backcheck replays trading strategies over historical daily bars with
cost-aware execution, then stress-tests the results: walk-forward
validation quantifies overfitting, and the cost validator reconciles
the slippage model against live fills.`,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML config file (defaults are used when empty)")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a single momentum backtest",
		Long:  "Simulate a momentum strategy across weekdays with slippage-adjusted fills and risk gates",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("data", "data/bars", "Directory of per-symbol CSV bar files")
	backtestCmd.Flags().StringSlice("symbols", nil, "Universe symbols (required)")
	backtestCmd.Flags().String("start", "", "Simulation start date, YYYY-MM-DD (required)")
	backtestCmd.Flags().String("end", "", "Simulation end date, YYYY-MM-DD (required)")
	backtestCmd.Flags().Float64("capital", 100000, "Initial capital in dollars")
	backtestCmd.Flags().Float64("allocation", 10000, "Dollar notional per entry")
	backtestCmd.Flags().Float64("stop-loss", 0.05, "Stop loss fraction, 0 disables")
	backtestCmd.Flags().Float64("take-profit", 0.10, "Take profit fraction, 0 disables")
	backtestCmd.Flags().Float64("scale-pct", 0, "Size entries as a fraction of portfolio value instead of a fixed notional")
	backtestCmd.Flags().String("output", "out/backtest", "Artifact output directory")

	walkforwardCmd := &cobra.Command{
		Use:   "walkforward",
		Short: "Run walk-forward validation over a parameter grid",
		Long:  "Re-optimize per training window, test the winner out-of-sample, and aggregate efficiency decay into an overfitting verdict",
		RunE:  runWalkforward,
	}
	walkforwardCmd.Flags().String("data", "data/bars", "Directory of per-symbol CSV bar files")
	walkforwardCmd.Flags().StringSlice("symbols", nil, "Universe symbols (required)")
	walkforwardCmd.Flags().String("start", "", "Overall start date, YYYY-MM-DD (required)")
	walkforwardCmd.Flags().String("end", "", "Overall end date, YYYY-MM-DD (required)")
	walkforwardCmd.Flags().Float64("capital", 100000, "Initial capital per window")
	walkforwardCmd.Flags().String("scheme", "rolling", "Training scheme (rolling|expanding)")
	walkforwardCmd.Flags().Int("train-days", 180, "Calendar days per training window")
	walkforwardCmd.Flags().Int("test-days", 60, "Calendar days per test window")
	walkforwardCmd.Flags().Int("step-days", 0, "Fold advance in days, defaults to test-days")
	walkforwardCmd.Flags().String("metric", "sharpe_ratio", "Optimization target (sharpe_ratio|total_return|win_rate)")
	walkforwardCmd.Flags().Int("max-parallel", 4, "Concurrent grid-search backtests")
	walkforwardCmd.Flags().String("grid-allocation", "5000,10000,20000", "Comma-separated allocation candidates")
	walkforwardCmd.Flags().String("grid-stop-loss", "0.03,0.05,0.08", "Comma-separated stop-loss candidates")
	walkforwardCmd.Flags().String("grid-take-profit", "0.10,0.15", "Comma-separated take-profit candidates")
	walkforwardCmd.Flags().String("history", "", "Append-only JSONL history file for trend tracking")
	walkforwardCmd.Flags().String("output", "out/walkforward", "Artifact output directory")

	costvalCmd := &cobra.Command{
		Use:   "costval",
		Short: "Reconcile the slippage model against live fills",
		Long:  "Compare predicted execution costs with a trailing window of live fills and suggest a recalibrated base spread",
		RunE:  runCostval,
	}
	costvalCmd.Flags().String("fills", "", "JSONL file of live fills (required)")
	costvalCmd.Flags().Duration("window", 30*24*time.Hour, "Trailing window of fills to examine")
	costvalCmd.Flags().String("as-of", "", "Window end date, YYYY-MM-DD (defaults to now)")
	costvalCmd.Flags().Int("min-samples", 30, "Minimum fills before suggesting calibration")
	costvalCmd.Flags().Int("max-samples", 200, "Fill count at which calibration confidence saturates")
	costvalCmd.Flags().String("history", "", "Append-only JSONL history file for trend tracking")
	costvalCmd.Flags().String("output", "out/costval", "Artifact output directory")

	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(walkforwardCmd)
	rootCmd.AddCommand(costvalCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadKnobs resolves the shared config flag. An empty path means defaults.
func loadKnobs(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func parseDate(value, name string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s date %q: expected YYYY-MM-DD", name, value)
	}
	return t, nil
}
