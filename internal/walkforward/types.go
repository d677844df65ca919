// Package walkforward quantifies whether a strategy's in-sample edge
// survives out-of-sample. It repeatedly re-optimizes the strategy over a
// parameter grid on a training window, tests the winner on the held-out
// window, and aggregates the decay into an overfitting verdict.
package walkforward

import (
	"errors"
	"time"

	"github.com/sawpanic/backcheck/internal/perf"
)

// ErrInsufficientData marks a date range too short to generate any fold.
// Fatal to the validator call, not to the process.
var ErrInsufficientData = errors.New("insufficient history for walk-forward validation")

// Scheme selects how training windows advance across folds.
type Scheme string

const (
	// SchemeExpanding anchors every training window at the overall start.
	SchemeExpanding Scheme = "expanding"
	// SchemeRolling slides a fixed-width training window forward.
	SchemeRolling Scheme = "rolling"
)

// Config controls fold generation, optimization and the verdict gates.
type Config struct {
	Scheme            Scheme  `json:"scheme" yaml:"scheme"`
	TrainDays         int     `json:"train_days" yaml:"train_days"`                    // Calendar days per training window
	TestDays          int     `json:"test_days" yaml:"test_days"`                      // Calendar days per test window
	StepDays          int     `json:"step_days" yaml:"step_days"`                      // Advance per fold; defaults to TestDays
	Metric            string  `json:"metric" yaml:"metric"`                            // Optimization target, default sharpe_ratio
	MinEfficiency     float64 `json:"min_efficiency" yaml:"min_efficiency"`            // Verdict floor on mean efficiency
	MaxDegradationPct float64 `json:"max_degradation_pct" yaml:"max_degradation_pct"`  // Verdict ceiling on IS->OOS decay
	MaxParallel       int     `json:"max_parallel" yaml:"max_parallel"`                // Grid-search workers, default 4
	HistoryPath       string  `json:"-" yaml:"history_path"`                           // Optional JSONL history file
}

// DefaultConfig returns a quarterly-rolling validation setup.
func DefaultConfig() Config {
	return Config{
		Scheme:            SchemeRolling,
		TrainDays:         180,
		TestDays:          60,
		StepDays:          60,
		Metric:            "sharpe_ratio",
		MinEfficiency:     0.5,
		MaxDegradationPct: 30,
		MaxParallel:       4,
	}
}

// Fold is one (train-window, test-window) pair. Test windows never overlap
// and advance by a fixed step; folds are immutable once generated.
type Fold struct {
	Number     int       `json:"fold_number"`
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// ParamSet is one concrete assignment of grid parameters.
type ParamSet map[string]interface{}

// Grid maps parameter names to candidate values. Enumeration order is
// deterministic: names sorted, values in declared order.
type Grid map[string][]interface{}

// FoldResult carries one fold's optimization outcome. A fold whose
// backtests raised an error is recorded with Failed set and sentinel
// statistics (NaN Sharpe, zero trades); the matrix continues without it.
type FoldResult struct {
	Fold            Fold         `json:"fold"`
	OptimalParams   ParamSet     `json:"optimal_params"`
	InSample        perf.Summary `json:"in_sample"`
	OutOfSample     perf.Summary `json:"out_of_sample"`
	EfficiencyRatio float64      `json:"efficiency_ratio"`
	ParamStability  float64      `json:"param_stability_score"`
	Failed          bool         `json:"failed,omitempty"`
	FailReason      string       `json:"fail_reason,omitempty"`
}

// ValidationReport is the terminal artifact of one validator run.
type ValidationReport struct {
	ID                 string       `json:"id"`
	GeneratedAt        time.Time    `json:"generated_at"`
	Config             Config       `json:"config"`
	Folds              []FoldResult `json:"folds"`
	MeanEfficiency     float64      `json:"mean_efficiency"`
	DegradationPct     float64      `json:"degradation_pct"`
	OverfittingScore   float64      `json:"overfitting_score"`
	MeanParamStability float64      `json:"mean_param_stability"`
	ProfitableFolds    int          `json:"profitable_folds"`
	FailedFolds        int          `json:"failed_folds"`
	Valid              bool         `json:"valid"`
	Reasons            []string     `json:"reasons,omitempty"` // Every failing gate, no short-circuit
	Trend              string       `json:"trend,omitempty"`   // vs prior runs in the history file
}
