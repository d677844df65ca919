// Package costval reconciles the slippage model's assumptions against real
// fills. It compares the slippage observed on live executions with what the
// model would have predicted for the same orders, classifies the drift, and
// proposes recalibrated parameters when the gap grows.
package costval

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/backcheck/internal/persistence"
	"github.com/sawpanic/backcheck/internal/slippage"
)

// Status classifies model drift against fixed thresholds.
type Status string

const (
	StatusExcellent   Status = "excellent"
	StatusGood        Status = "good"
	StatusAcceptable  Status = "acceptable"
	StatusRecalibrate Status = "needs-recalibration"
	StatusNoData      Status = "no-data"
)

// Divergence thresholds in absolute basis points.
const (
	excellentBps  = 2.0
	goodBps       = 5.0
	acceptableBps = 10.0
)

// LiveFill is one real execution from the external fill log. The reference
// price is the quote the order was priced against, so live slippage is
// directly observable per fill.
type LiveFill struct {
	Timestamp      time.Time     `json:"timestamp"`
	Symbol         string        `json:"symbol"`
	Side           slippage.Side `json:"side"`
	Quantity       float64       `json:"quantity"`
	ReferencePrice float64       `json:"reference_price"`
	FillPrice      float64       `json:"fill_price"`
	Volume         float64       `json:"volume,omitempty"`
	Volatility     float64       `json:"volatility,omitempty"`
}

// Comparison is the per-fill divergence between live and predicted cost.
type Comparison struct {
	Fill          LiveFill `json:"fill"`
	LiveBps       float64  `json:"live_bps"`
	PredictedBps  float64  `json:"predicted_bps"`
	DivergenceBps float64  `json:"divergence_bps"` // live - predicted, signed
}

// Calibration is a suggested base-spread update.
type Calibration struct {
	CurrentBaseSpreadBps   float64 `json:"current_base_spread_bps"`
	SuggestedBaseSpreadBps float64 `json:"suggested_base_spread_bps"`
	SampleSize             int     `json:"sample_size"`
	Confidence             float64 `json:"confidence"` // Scales with sample size, saturates at 1
}

// Report is the terminal artifact of one validation pass.
type Report struct {
	GeneratedAt       time.Time          `json:"generated_at"`
	WindowStart       time.Time          `json:"window_start"`
	WindowEnd         time.Time          `json:"window_end"`
	Fills             int                `json:"fills"`
	MeanDivergenceBps float64            `json:"mean_divergence_bps"`
	PerSymbolBps      map[string]float64 `json:"per_symbol_bps,omitempty"`
	Status            Status             `json:"status"`
	Trend             string             `json:"trend,omitempty"`
	Comparisons       []Comparison       `json:"comparisons,omitempty"`
	Calibration       *Calibration       `json:"calibration,omitempty"`
}

// Config controls the validation pass.
type Config struct {
	Window      time.Duration `yaml:"window"`       // Trailing window of fills to examine
	MinSamples  int           `yaml:"min_samples"`  // Minimum fills before suggesting calibration
	MaxSamples  int           `yaml:"max_samples"`  // Confidence saturates here
	HistoryPath string        `yaml:"history_path"` // Append-only JSONL history
	TrendWindow int           `yaml:"trend_window"` // Recent reports per trend half
}

// DefaultConfig returns a 30-day validation window.
func DefaultConfig() Config {
	return Config{
		Window:      30 * 24 * time.Hour,
		MinSamples:  30,
		MaxSamples:  200,
		TrendWindow: 5,
	}
}

// FillSource supplies live fills for a trailing window. External
// collaborator: typically a broker export or execution journal.
type FillSource interface {
	Fills(start, end time.Time) ([]LiveFill, error)
}

// Validator compares live fills against model predictions.
type Validator struct {
	cfg     Config
	model   *slippage.Model
	source  FillSource
	history *persistence.History
}

// historyRecord is the compact line persisted per validation pass.
type historyRecord struct {
	GeneratedAt       time.Time `json:"generated_at"`
	MeanDivergenceBps float64   `json:"mean_divergence_bps"`
	Fills             int       `json:"fills"`
	Status            Status    `json:"status"`
}

// New creates a cost validator around the given model and fill source.
func New(cfg Config, model *slippage.Model, source FillSource) (*Validator, error) {
	if model == nil || source == nil {
		return nil, fmt.Errorf("cost validator requires a slippage model and a fill source")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.MaxSamples < cfg.MinSamples {
		cfg.MaxSamples = DefaultConfig().MaxSamples
	}
	v := &Validator{cfg: cfg, model: model, source: source}
	if cfg.HistoryPath != "" {
		v.history = persistence.NewHistory(cfg.HistoryPath)
	}
	return v, nil
}

// Validate runs one pass over the trailing window ending at asOf. An empty
// window is not an error: the report comes back with StatusNoData.
func (v *Validator) Validate(asOf time.Time) (*Report, error) {
	start := asOf.Add(-v.cfg.Window)
	fills, err := v.source.Fills(start, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load live fills: %w", err)
	}

	report := &Report{
		GeneratedAt: asOf,
		WindowStart: start,
		WindowEnd:   asOf,
		Fills:       len(fills),
	}
	if len(fills) == 0 {
		report.Status = StatusNoData
		return report, nil
	}

	divergences := make([]float64, 0, len(fills))
	liveCosts := make([]float64, 0, len(fills))
	perSymbol := make(map[string][]float64)

	for _, fill := range fills {
		comparison, ok := v.compare(fill)
		if !ok {
			continue
		}
		report.Comparisons = append(report.Comparisons, comparison)
		divergences = append(divergences, comparison.DivergenceBps)
		liveCosts = append(liveCosts, comparison.LiveBps)
		perSymbol[fill.Symbol] = append(perSymbol[fill.Symbol], comparison.DivergenceBps)
	}
	if len(divergences) == 0 {
		report.Status = StatusNoData
		return report, nil
	}

	report.MeanDivergenceBps = stat.Mean(divergences, nil)
	report.PerSymbolBps = make(map[string]float64, len(perSymbol))
	for symbol, values := range perSymbol {
		report.PerSymbolBps[symbol] = stat.Mean(values, nil)
	}
	report.Status = classify(report.MeanDivergenceBps)
	if report.Status == StatusRecalibrate {
		log.Warn().
			Float64("mean_divergence_bps", report.MeanDivergenceBps).
			Msg("Slippage model drift exceeds acceptable range")
	}

	if len(liveCosts) >= v.cfg.MinSamples {
		report.Calibration = v.calibrate(liveCosts)
	}

	if v.history != nil {
		v.attachTrend(report)
		if err := v.history.Append(historyRecord{
			GeneratedAt:       report.GeneratedAt,
			MeanDivergenceBps: report.MeanDivergenceBps,
			Fills:             report.Fills,
			Status:            report.Status,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to append cost-validation history")
		}
	}
	return report, nil
}

// compare recomputes the model's prediction for one live fill.
func (v *Validator) compare(fill LiveFill) (Comparison, bool) {
	if fill.ReferencePrice <= 0 || fill.Quantity <= 0 {
		return Comparison{}, false
	}

	// Signed live cost: positive means the fill was worse than the
	// reference on the order's side.
	direction := 1.0
	if fill.Side == slippage.Sell {
		direction = -1.0
	}
	liveBps := direction * (fill.FillPrice - fill.ReferencePrice) / fill.ReferencePrice * 10000

	predicted := v.model.Calculate(fill.ReferencePrice, fill.Quantity, fill.Side, fill.Symbol, fill.Volume, fill.Volatility)

	return Comparison{
		Fill:          fill,
		LiveBps:       liveBps,
		PredictedBps:  predicted.SlippageBps,
		DivergenceBps: liveBps - predicted.SlippageBps,
	}, true
}

// calibrate blends the mean and 75th percentile of observed live costs
// into a suggested base spread.
func (v *Validator) calibrate(liveCosts []float64) *Calibration {
	sorted := append([]float64(nil), liveCosts...)
	sort.Float64s(sorted)

	mean := stat.Mean(sorted, nil)
	p75 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	suggested := 0.5*mean + 0.5*p75
	if suggested < 0 {
		suggested = 0
	}

	confidence := float64(len(liveCosts)) / float64(v.cfg.MaxSamples)
	if confidence > 1 {
		confidence = 1
	}
	return &Calibration{
		CurrentBaseSpreadBps:   v.model.BaseSpreadBps(),
		SuggestedBaseSpreadBps: suggested,
		SampleSize:             len(liveCosts),
		Confidence:             confidence,
	}
}

// attachTrend compares the recent rolling average divergence against the
// preceding one.
func (v *Validator) attachTrend(report *Report) {
	records, err := persistence.ReadInto[historyRecord](v.history)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read cost-validation history")
		return
	}
	window := v.cfg.TrendWindow
	if window <= 0 {
		window = 5
	}
	values := make([]float64, 0, len(records)+1)
	for _, record := range records {
		values = append(values, math.Abs(record.MeanDivergenceBps))
	}
	values = append(values, math.Abs(report.MeanDivergenceBps))
	if len(values) < 2*window {
		report.Trend = "insufficient_history"
		return
	}
	recent := stat.Mean(values[len(values)-window:], nil)
	older := stat.Mean(values[len(values)-2*window:len(values)-window], nil)
	switch {
	case recent < older-0.5:
		report.Trend = "improving"
	case recent > older+0.5:
		report.Trend = "degrading"
	default:
		report.Trend = "stable"
	}
}

func classify(meanDivergenceBps float64) Status {
	abs := math.Abs(meanDivergenceBps)
	switch {
	case abs < excellentBps:
		return StatusExcellent
	case abs < goodBps:
		return StatusGood
	case abs < acceptableBps:
		return StatusAcceptable
	default:
		return StatusRecalibrate
	}
}

// JSONLFillSource reads live fills from a JSONL execution journal.
type JSONLFillSource struct {
	history *persistence.History
}

// NewJSONLFillSource creates a fill source over the given journal path.
func NewJSONLFillSource(path string) *JSONLFillSource {
	return &JSONLFillSource{history: persistence.NewHistory(path)}
}

// Fills returns every journal fill inside [start, end].
func (s *JSONLFillSource) Fills(start, end time.Time) ([]LiveFill, error) {
	var fills []LiveFill
	err := s.history.ReadAll(func(line []byte) error {
		var fill LiveFill
		if err := json.Unmarshal(line, &fill); err != nil {
			return err
		}
		if fill.Timestamp.Before(start) || fill.Timestamp.After(end) {
			return nil
		}
		fills = append(fills, fill)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fills, nil
}
