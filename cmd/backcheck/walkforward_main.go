package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/backcheck/internal/backtest"
	"github.com/sawpanic/backcheck/internal/data"
	"github.com/sawpanic/backcheck/internal/strategy"
	"github.com/sawpanic/backcheck/internal/walkforward"
)

// runWalkforward executes grid-searched walk-forward validation.
func runWalkforward(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data")
	symbols, _ := cmd.Flags().GetStringSlice("symbols")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	capital, _ := cmd.Flags().GetFloat64("capital")
	scheme, _ := cmd.Flags().GetString("scheme")
	trainDays, _ := cmd.Flags().GetInt("train-days")
	testDays, _ := cmd.Flags().GetInt("test-days")
	stepDays, _ := cmd.Flags().GetInt("step-days")
	metric, _ := cmd.Flags().GetString("metric")
	maxParallel, _ := cmd.Flags().GetInt("max-parallel")
	historyPath, _ := cmd.Flags().GetString("history")
	outputDir, _ := cmd.Flags().GetString("output")

	if len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if trainDays <= 0 || testDays <= 0 {
		return fmt.Errorf("train-days and test-days must be positive, got %d/%d", trainDays, testDays)
	}
	start, err := parseDate(startStr, "start")
	if err != nil {
		return err
	}
	end, err := parseDate(endStr, "end")
	if err != nil {
		return err
	}

	grid, err := buildGrid(cmd)
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

	wfConfig := walkforward.Config{
		Scheme:      walkforward.Scheme(scheme),
		TrainDays:   trainDays,
		TestDays:    testDays,
		StepDays:    stepDays,
		Metric:      metric,
		MaxParallel: maxParallel,
		HistoryPath: historyPath,
	}
	defaults := walkforward.DefaultConfig()
	wfConfig.MinEfficiency = defaults.MinEfficiency
	wfConfig.MaxDegradationPct = defaults.MaxDegradationPct

	log.Info().
		Strs("symbols", symbols).
		Str("scheme", scheme).
		Int("train_days", trainDays).
		Int("test_days", testDays).
		Str("metric", metric).
		Msg("Starting walk-forward validation")

	validator, err := walkforward.New(wfConfig, backtest.EngineConfig{
		Provider:       data.NewCSVProvider(dataDir),
		Start:          start,
		End:            end,
		InitialCapital: capital,
		Knobs:          knobs,
	}, grid, func(params walkforward.ParamSet) backtest.Strategy {
		return &strategy.Momentum{
			Symbols:    symbols,
			Allocation: paramFloat(params, "allocation", 10000),
			StopLoss:   paramFloat(params, "stop_loss", 0.05),
			TakeProfit: paramFloat(params, "take_profit", 0.10),
		}
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
	defer cancel()

	report, err := validator.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Walk-forward validation failed")
		return fmt.Errorf("walk-forward validation failed: %w", err)
	}

	path, err := report.WriteReport(absOutputDir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to write report")
	}

	verdict := "✅ VALID"
	if !report.Valid {
		verdict = "❌ INVALID"
	}
	fmt.Printf("%s (%s)\n\n", verdict, report.ID)
	fmt.Printf("📊 Diagnostics:\n")
	fmt.Printf("   • Folds: %d (%d failed, %d profitable)\n",
		len(report.Folds), report.FailedFolds, report.ProfitableFolds)
	fmt.Printf("   • Mean Efficiency: %.2f\n", report.MeanEfficiency)
	fmt.Printf("   • Degradation: %.1f%%\n", report.DegradationPct)
	fmt.Printf("   • Overfitting Score: %.2f\n", report.OverfittingScore)
	if report.Trend != "" {
		fmt.Printf("   • Trend: %s\n", report.Trend)
	}
	for _, reason := range report.Reasons {
		fmt.Printf("   • %s\n", reason)
	}
	if path != "" {
		fmt.Printf("\nReport: %s\n", path)
	}
	return nil
}

// buildGrid assembles the parameter grid from the comma-separated candidate flags.
func buildGrid(cmd *cobra.Command) (walkforward.Grid, error) {
	grid := walkforward.Grid{}
	for flag, param := range map[string]string{
		"grid-allocation":  "allocation",
		"grid-stop-loss":   "stop_loss",
		"grid-take-profit": "take_profit",
	} {
		raw, _ := cmd.Flags().GetString(flag)
		if raw == "" {
			continue
		}
		values, err := splitFloats(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", flag, raw, err)
		}
		grid[param] = values
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("at least one grid parameter is required")
	}
	return grid, nil
}

func splitFloats(raw string) ([]interface{}, error) {
	parts := strings.Split(raw, ",")
	values := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		values = append(values, f)
	}
	return values, nil
}

func paramFloat(params walkforward.ParamSet, key string, fallback float64) float64 {
	if v, ok := params[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return fallback
}
