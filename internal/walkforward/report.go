package walkforward

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Report renders the validation outcome as markdown.
func (r *ValidationReport) Report() string {
	var b strings.Builder

	b.WriteString("# Walk-Forward Validation Report\n\n")
	fmt.Fprintf(&b, "**Run:** %s\n", r.ID)
	fmt.Fprintf(&b, "**Generated:** %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Scheme:** %s (train %dd / test %dd / step %dd)\n\n",
		r.Config.Scheme, r.Config.TrainDays, r.Config.TestDays, r.Config.StepDays)

	verdict := "✅ PASS"
	if !r.Valid {
		verdict = "❌ FAIL"
	}
	fmt.Fprintf(&b, "## Verdict: %s\n\n", verdict)
	for _, reason := range r.Reasons {
		fmt.Fprintf(&b, "- %s\n", reason)
	}

	b.WriteString("\n## Diagnostics\n\n")
	fmt.Fprintf(&b, "- Mean Efficiency Ratio: %.3f\n", r.MeanEfficiency)
	fmt.Fprintf(&b, "- IS→OOS Degradation: %.1f%%\n", r.DegradationPct)
	fmt.Fprintf(&b, "- Overfitting Score: %.3f\n", r.OverfittingScore)
	fmt.Fprintf(&b, "- Mean Parameter Stability: %.3f\n", r.MeanParamStability)
	fmt.Fprintf(&b, "- Profitable Folds: %d/%d\n", r.ProfitableFolds, len(r.Folds))
	if r.FailedFolds > 0 {
		fmt.Fprintf(&b, "- Failed Folds: %d\n", r.FailedFolds)
	}
	if r.Trend != "" {
		fmt.Fprintf(&b, "- Trend vs history: %s\n", r.Trend)
	}

	b.WriteString("\n## Folds\n\n")
	b.WriteString("| # | Train | Test | Efficiency | Stability | OOS Sharpe | OOS Return |\n")
	b.WriteString("|---|-------|------|------------|-----------|------------|------------|\n")
	for _, fold := range r.Folds {
		if fold.Failed {
			fmt.Fprintf(&b, "| %d | %s → %s | %s → %s | FAILED | - | - | - |\n",
				fold.Fold.Number,
				fold.Fold.TrainStart.Format("2006-01-02"), fold.Fold.TrainEnd.Format("2006-01-02"),
				fold.Fold.TestStart.Format("2006-01-02"), fold.Fold.TestEnd.Format("2006-01-02"))
			continue
		}
		fmt.Fprintf(&b, "| %d | %s → %s | %s → %s | %.3f | %.3f | %s | %.2f%% |\n",
			fold.Fold.Number,
			fold.Fold.TrainStart.Format("2006-01-02"), fold.Fold.TrainEnd.Format("2006-01-02"),
			fold.Fold.TestStart.Format("2006-01-02"), fold.Fold.TestEnd.Format("2006-01-02"),
			fold.EfficiencyRatio, fold.ParamStability,
			formatSharpe(fold.OutOfSample.SharpeRatio), fold.OutOfSample.TotalReturnPct)
	}
	return b.String()
}

// WriteReport writes the markdown report under dir.
func (r *ValidationReport) WriteReport(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("walkforward_%s.md", r.GeneratedAt.Format("20060102_150405")))
	if err := os.WriteFile(path, []byte(r.Report()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func formatSharpe(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.2f", v)
}
