package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/backcheck/internal/backtest"
	"github.com/sawpanic/backcheck/internal/data"
	"github.com/sawpanic/backcheck/internal/strategy"
)

// runBacktest executes a single momentum simulation and writes its artifacts.
func runBacktest(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data")
	symbols, _ := cmd.Flags().GetStringSlice("symbols")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	capital, _ := cmd.Flags().GetFloat64("capital")
	allocation, _ := cmd.Flags().GetFloat64("allocation")
	stopLoss, _ := cmd.Flags().GetFloat64("stop-loss")
	takeProfit, _ := cmd.Flags().GetFloat64("take-profit")
	scalePct, _ := cmd.Flags().GetFloat64("scale-pct")
	outputDir, _ := cmd.Flags().GetString("output")

	if len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	start, err := parseDate(startStr, "start")
	if err != nil {
		return err
	}
	end, err := parseDate(endStr, "end")
	if err != nil {
		return err
	}

	knobs, err := loadKnobs(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	absOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}

	log.Info().
		Strs("symbols", symbols).
		Str("start", startStr).
		Str("end", endStr).
		Float64("capital", capital).
		Str("output_dir", absOutputDir).
		Msg("Starting backtest")

	engine, err := backtest.NewEngine(backtest.EngineConfig{
		Strategy: &strategy.Momentum{
			Symbols:    symbols,
			Allocation: allocation,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			ScalePct:   scalePct,
		},
		Provider:       data.NewCSVProvider(dataDir),
		Start:          start,
		End:            end,
		InitialCapital: capital,
		Knobs:          knobs,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := engine.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Backtest failed")
		return fmt.Errorf("backtest failed: %w", err)
	}

	if err := writeRunArtifacts(absOutputDir, result); err != nil {
		log.Warn().Err(err).Msg("Failed to write artifacts")
	}

	fmt.Printf("✅ Backtest complete (%s)\n\n", result.RunID)
	fmt.Printf("📊 Summary:\n")
	fmt.Printf("   • Final Value: $%.2f (%.2f%%)\n", result.FinalValue, result.Summary.TotalReturnPct)
	fmt.Printf("   • Sharpe Ratio: %.2f\n", result.Summary.SharpeRatio)
	fmt.Printf("   • Max Drawdown: %.2f%%\n", result.Summary.MaxDrawdownPct)
	fmt.Printf("   • Trades: %d (win rate %.1f%%)\n", result.Summary.TotalTrades, result.Summary.WinRate*100)
	if len(result.DroppedSymbols) > 0 {
		fmt.Printf("   • Dropped Symbols: %v\n", result.DroppedSymbols)
	}
	fmt.Printf("\nArtifacts: %s\n", absOutputDir)
	return nil
}

// writeRunArtifacts persists the raw result JSON next to the markdown report.
func writeRunArtifacts(dir string, result *backtest.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102-150405")
	jsonPath := filepath.Join(dir, fmt.Sprintf("backtest-%s.json", stamp))
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}
	mdPath := filepath.Join(dir, fmt.Sprintf("backtest-%s.md", stamp))
	if err := os.WriteFile(mdPath, []byte(result.Report()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", mdPath, err)
	}
	return nil
}
