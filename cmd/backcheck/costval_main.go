package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/backcheck/internal/costval"
	"github.com/sawpanic/backcheck/internal/slippage"
)

// runCostval reconciles the slippage model against a live fill journal.
func runCostval(cmd *cobra.Command, args []string) error {
	fillsPath, _ := cmd.Flags().GetString("fills")
	window, _ := cmd.Flags().GetDuration("window")
	asOfStr, _ := cmd.Flags().GetString("as-of")
	minSamples, _ := cmd.Flags().GetInt("min-samples")
	maxSamples, _ := cmd.Flags().GetInt("max-samples")
	historyPath, _ := cmd.Flags().GetString("history")
	outputDir, _ := cmd.Flags().GetString("output")

	if fillsPath == "" {
		return fmt.Errorf("fills file is required")
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive, got: %v", window)
	}
	asOf := time.Now().UTC()
	if asOfStr != "" {
		parsed, err := parseDate(asOfStr, "as-of")
		if err != nil {
			return err
		}
		asOf = parsed
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
		Str("fills", fillsPath).
		Dur("window", window).
		Time("as_of", asOf).
		Msg("Starting cost validation")

	validator, err := costval.New(costval.Config{
		Window:      window,
		MinSamples:  minSamples,
		MaxSamples:  maxSamples,
		HistoryPath: historyPath,
	}, slippage.NewModel(knobs.Slippage), costval.NewJSONLFillSource(fillsPath))
	if err != nil {
		return err
	}

	report, err := validator.Validate(asOf)
	if err != nil {
		log.Error().Err(err).Msg("Cost validation failed")
		return fmt.Errorf("cost validation failed: %w", err)
	}

	if err := writeCostvalArtifact(absOutputDir, report); err != nil {
		log.Warn().Err(err).Msg("Failed to write artifact")
	}

	fmt.Printf("📊 Cost Validation (%s → %s)\n",
		report.WindowStart.Format("2006-01-02"), report.WindowEnd.Format("2006-01-02"))
	fmt.Printf("   • Status: %s\n", report.Status)
	fmt.Printf("   • Fills: %d\n", report.Fills)
	fmt.Printf("   • Mean Divergence: %.2f bps\n", report.MeanDivergenceBps)
	symbols := make([]string, 0, len(report.PerSymbolBps))
	for symbol := range report.PerSymbolBps {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		fmt.Printf("   • %s: %.2f bps\n", symbol, report.PerSymbolBps[symbol])
	}
	if report.Trend != "" {
		fmt.Printf("   • Trend: %s\n", report.Trend)
	}
	if report.Calibration != nil {
		fmt.Printf("\n🔧 Calibration:\n")
		fmt.Printf("   • Suggested Base Spread: %.2f bps (currently %.2f)\n",
			report.Calibration.SuggestedBaseSpreadBps, report.Calibration.CurrentBaseSpreadBps)
		fmt.Printf("   • Confidence: %.2f (%d samples)\n",
			report.Calibration.Confidence, report.Calibration.SampleSize)
	}
	return nil
}

func writeCostvalArtifact(dir string, report *costval.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("costval-%s.json", report.GeneratedAt.UTC().Format("20060102-150405")))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
