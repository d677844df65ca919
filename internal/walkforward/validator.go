package walkforward

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/backcheck/internal/backtest"
	"github.com/sawpanic/backcheck/internal/perf"
	"github.com/sawpanic/backcheck/internal/persistence"
)

// StrategyFactory builds a fresh strategy from one parameter assignment.
// It is called once per (fold x combination); the returned strategy must
// not share mutable state with any other.
type StrategyFactory func(params ParamSet) backtest.Strategy

// Validator runs the full walk-forward matrix. Each (fold x combination)
// backtest gets its own isolated Engine and portfolio so optimization
// trials can run in parallel without cross-contamination.
type Validator struct {
	cfg     Config
	engine  backtest.EngineConfig
	grid    Grid
	factory StrategyFactory
	history *persistence.History
}

// historyRecord is the compact per-run line persisted to the JSONL history.
// Aggregates only: fold summaries can carry NaN sentinels, which JSON
// cannot encode.
type historyRecord struct {
	ID               string    `json:"id"`
	GeneratedAt      time.Time `json:"generated_at"`
	MeanEfficiency   float64   `json:"mean_efficiency"`
	OverfittingScore float64   `json:"overfitting_score"`
	DegradationPct   float64   `json:"degradation_pct"`
	Valid            bool      `json:"valid"`
}

// New validates the setup. engineCfg supplies the overall date range,
// capital, price provider and knobs; its Strategy field is ignored in
// favor of the factory's output.
func New(cfg Config, engineCfg backtest.EngineConfig, grid Grid, factory StrategyFactory) (*Validator, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: strategy factory is required", backtest.ErrConfiguration)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("%w: parameter grid is empty", backtest.ErrConfiguration)
	}
	if cfg.Metric == "" {
		cfg.Metric = "sharpe_ratio"
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.StepDays <= 0 {
		cfg.StepDays = cfg.TestDays
	}
	if cfg.StepDays < cfg.TestDays {
		return nil, fmt.Errorf("%w: step of %d days would overlap %d-day test windows",
			backtest.ErrConfiguration, cfg.StepDays, cfg.TestDays)
	}
	v := &Validator{cfg: cfg, engine: engineCfg, grid: grid, factory: factory}
	if cfg.HistoryPath != "" {
		v.history = persistence.NewHistory(cfg.HistoryPath)
	}
	return v, nil
}

// Run executes every fold and returns the aggregate report. Zero folds is
// fatal; a single failing fold is not.
func (v *Validator) Run(ctx context.Context) (*ValidationReport, error) {
	folds := generateFolds(v.cfg, v.engine.Start, v.engine.End)
	if len(folds) == 0 {
		return nil, fmt.Errorf("%w: %d train + %d test days do not fit in %s..%s",
			ErrInsufficientData, v.cfg.TrainDays, v.cfg.TestDays,
			v.engine.Start.Format("2006-01-02"), v.engine.End.Format("2006-01-02"))
	}

	combos := combinations(v.grid)
	log.Info().
		Int("folds", len(folds)).
		Int("combinations", len(combos)).
		Str("metric", v.cfg.Metric).
		Str("scheme", string(v.cfg.Scheme)).
		Msg("Starting walk-forward validation")

	report := &ValidationReport{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Config:      v.cfg,
	}

	var prevParams ParamSet
	for _, fold := range folds {
		result := v.runFold(ctx, fold, combos, prevParams)
		if !result.Failed {
			prevParams = result.OptimalParams
		}
		report.Folds = append(report.Folds, result)
	}

	v.aggregate(report)

	if v.history != nil {
		v.attachTrend(report)
		if err := v.history.Append(historyRecord{
			ID:               report.ID,
			GeneratedAt:      report.GeneratedAt,
			MeanEfficiency:   report.MeanEfficiency,
			OverfittingScore: report.OverfittingScore,
			DegradationPct:   report.DegradationPct,
			Valid:            report.Valid,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to append walk-forward history")
		}
	}
	return report, nil
}

// runFold optimizes in-sample, tests out-of-sample, and scores the fold.
// Any backtest error inside the fold degrades it to a sentinel result.
func (v *Validator) runFold(ctx context.Context, fold Fold, combos []ParamSet, prevParams ParamSet) FoldResult {
	best, bestSummary, err := v.optimize(ctx, fold, combos)
	if err != nil {
		log.Warn().Err(err).Int("fold", fold.Number).Msg("Fold optimization failed, recording sentinel result")
		return failedFold(fold, err)
	}

	oos, err := v.runWindow(ctx, best, fold.TestStart, fold.TestEnd)
	if err != nil {
		log.Warn().Err(err).Int("fold", fold.Number).Msg("Out-of-sample run failed, recording sentinel result")
		return failedFold(fold, err)
	}

	isMetric := metricValue(bestSummary, v.cfg.Metric)
	oosMetric := metricValue(oos.Summary, v.cfg.Metric)

	return FoldResult{
		Fold:            fold,
		OptimalParams:   best,
		InSample:        bestSummary,
		OutOfSample:     oos.Summary,
		EfficiencyRatio: efficiencyRatio(isMetric, oosMetric),
		ParamStability:  stabilityScore(prevParams, best),
	}
}

// optimize grid-searches the training window. Combinations execute in
// parallel on isolated engines; selection happens afterwards in
// enumeration order so ties resolve to the first-seen combination.
func (v *Validator) optimize(ctx context.Context, fold Fold, combos []ParamSet) (ParamSet, perf.Summary, error) {
	type trial struct {
		summary perf.Summary
		err     error
	}
	trials := make([]trial, len(combos))

	sem := make(chan struct{}, v.cfg.MaxParallel)
	var wg sync.WaitGroup
	for i := range combos {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			result, err := v.runWindow(ctx, combos[i], fold.TrainStart, fold.TrainEnd)
			if err != nil {
				trials[i] = trial{err: err}
				return
			}
			trials[i] = trial{summary: result.Summary}
		}(i)
	}
	wg.Wait()

	bestIdx := -1
	bestValue := math.Inf(-1)
	var firstErr error
	for i, tr := range trials {
		if tr.err != nil {
			if firstErr == nil {
				firstErr = tr.err
			}
			continue
		}
		if value := metricValue(tr.summary, v.cfg.Metric); value > bestValue {
			bestValue = value
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, perf.Summary{}, fmt.Errorf("all %d combinations failed: %w", len(combos), firstErr)
	}
	return combos[bestIdx], trials[bestIdx].summary, nil
}

// runWindow backtests one parameter set on one window with a fresh engine.
// Windows are half-open [start, end): the train window ends where the test
// window begins without sharing a day.
func (v *Validator) runWindow(ctx context.Context, params ParamSet, start, end time.Time) (*backtest.Result, error) {
	cfg := v.engine
	cfg.Strategy = v.factory(params)
	cfg.Start = start
	cfg.End = end.AddDate(0, 0, -1)
	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}

// efficiencyRatio is OOS metric / IS metric, guarded so it is always
// finite: a zero in-sample metric yields 0 when out-of-sample is also
// non-positive and 1 otherwise, and the ratio is clamped to [-10, 10].
func efficiencyRatio(inSample, outOfSample float64) float64 {
	if inSample == 0 || math.IsNaN(inSample) {
		if outOfSample <= 0 || math.IsNaN(outOfSample) {
			return 0
		}
		return 1
	}
	ratio := outOfSample / inSample
	if math.IsNaN(ratio) {
		return 0
	}
	if ratio > 10 {
		return 10
	}
	if ratio < -10 {
		return -10
	}
	return ratio
}

func failedFold(fold Fold, err error) FoldResult {
	return FoldResult{
		Fold:       fold,
		Failed:     true,
		FailReason: err.Error(),
		InSample:   perf.Summary{SharpeRatio: math.NaN()},
		OutOfSample: perf.Summary{
			SharpeRatio: math.NaN(),
			TotalTrades: 0,
		},
	}
}

func metricValue(s perf.Summary, metric string) float64 {
	switch metric {
	case "total_return":
		return s.TotalReturnPct
	case "win_rate":
		return s.WinRate
	default: // sharpe_ratio
		return s.SharpeRatio
	}
}

// aggregate fills the report's diagnostics and verdict. Every failing gate
// is collected; there is no fail-fast short-circuit, so the report can
// justify the verdict completely.
func (v *Validator) aggregate(report *ValidationReport) {
	var efficiencies, stabilities, foldIdx []float64
	var isReturns, oosReturns []float64
	profitable := 0
	failed := 0

	for i, fold := range report.Folds {
		if fold.Failed {
			failed++
			continue
		}
		efficiencies = append(efficiencies, fold.EfficiencyRatio)
		stabilities = append(stabilities, fold.ParamStability)
		foldIdx = append(foldIdx, float64(i))
		isReturns = append(isReturns, fold.InSample.TotalReturnPct)
		oosReturns = append(oosReturns, fold.OutOfSample.TotalReturnPct)
		if fold.OutOfSample.TotalReturnPct > 0 {
			profitable++
		}
	}

	report.FailedFolds = failed
	report.ProfitableFolds = profitable

	if len(efficiencies) > 0 {
		report.MeanEfficiency = stat.Mean(efficiencies, nil)
		report.MeanParamStability = stat.Mean(stabilities, nil)
	}

	meanIS := 0.0
	meanOOS := 0.0
	if len(isReturns) > 0 {
		meanIS = stat.Mean(isReturns, nil)
		meanOOS = stat.Mean(oosReturns, nil)
	}
	if meanIS != 0 {
		report.DegradationPct = (meanIS - meanOOS) / math.Abs(meanIS) * 100
	}

	report.OverfittingScore = overfittingScore(efficiencies, foldIdx, stabilities, meanIS, meanOOS, report.MeanEfficiency)

	var reasons []string
	if report.MeanEfficiency < v.cfg.MinEfficiency {
		reasons = append(reasons, fmt.Sprintf("mean efficiency %.2f below floor %.2f", report.MeanEfficiency, v.cfg.MinEfficiency))
	}
	if report.DegradationPct > v.cfg.MaxDegradationPct {
		reasons = append(reasons, fmt.Sprintf("degradation %.1f%% exceeds ceiling %.1f%%", report.DegradationPct, v.cfg.MaxDegradationPct))
	}
	if report.OverfittingScore > 0.5 {
		reasons = append(reasons, fmt.Sprintf("overfitting score %.2f exceeds 0.5", report.OverfittingScore))
	}
	if profitable*2 < len(report.Folds) {
		reasons = append(reasons, fmt.Sprintf("only %d of %d test folds profitable", profitable, len(report.Folds)))
	}
	report.Reasons = reasons
	report.Valid = len(reasons) == 0
}

// overfittingScore blends four diagnostics into [0, 1]: low mean
// efficiency, a declining efficiency trend across folds, the IS/OOS
// total-return gap, and parameter instability.
func overfittingScore(efficiencies, foldIdx, stabilities []float64, meanIS, meanOOS, meanEff float64) float64 {
	if len(efficiencies) == 0 {
		return 1
	}

	low := clamp01(1 - meanEff)

	trend := 0.0
	if len(efficiencies) >= 2 {
		_, slope := stat.LinearRegression(foldIdx, efficiencies, nil, false)
		trend = clamp01(-slope)
	}

	gap := 0.0
	if meanIS > meanOOS {
		denom := math.Abs(meanIS)
		if denom < 1 {
			denom = 1
		}
		gap = clamp01((meanIS - meanOOS) / denom)
	}

	instability := clamp01(1 - stat.Mean(stabilities, nil))

	return clamp01(0.35*low + 0.20*trend + 0.25*gap + 0.20*instability)
}

// attachTrend compares the recent half of the history's overfitting scores
// against the older half.
func (v *Validator) attachTrend(report *ValidationReport) {
	records, err := persistence.ReadInto[historyRecord](v.history)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read walk-forward history")
		return
	}
	scores := make([]float64, 0, len(records)+1)
	for _, record := range records {
		scores = append(scores, record.OverfittingScore)
	}
	scores = append(scores, report.OverfittingScore)
	report.Trend = trendLabel(scores)
}

// trendLabel compares the mean of the newer half against the older half.
// Lower overfitting is an improvement.
func trendLabel(scores []float64) string {
	if len(scores) < 4 {
		return "insufficient_history"
	}
	mid := len(scores) / 2
	older := stat.Mean(scores[:mid], nil)
	newer := stat.Mean(scores[mid:], nil)
	switch {
	case newer < older-0.05:
		return "improving"
	case newer > older+0.05:
		return "degrading"
	default:
		return "stable"
	}
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
