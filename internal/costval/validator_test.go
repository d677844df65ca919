package costval

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backcheck/internal/slippage"
)

type stubSource struct {
	fills []LiveFill
}

func (s *stubSource) Fills(start, end time.Time) ([]LiveFill, error) {
	var out []LiveFill
	for _, fill := range s.fills {
		if !fill.Timestamp.Before(start) && !fill.Timestamp.After(end) {
			out = append(out, fill)
		}
	}
	return out, nil
}

var asOf = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fillAtBps builds a buy fill whose live slippage is exactly bps.
func fillAtBps(ts time.Time, bps float64) LiveFill {
	ref := 100.0
	return LiveFill{
		Timestamp:      ts,
		Symbol:         "AAPL",
		Side:           slippage.Buy,
		Quantity:       100,
		ReferencePrice: ref,
		FillPrice:      ref * (1 + bps/10000),
	}
}

func modelWithSpread(spreadBps float64) *slippage.Model {
	cfg := slippage.DefaultConfig()
	cfg.BaseSpreadBps = spreadBps
	cfg.LatencyBps = 0
	return slippage.NewModel(cfg)
}

func TestValidate_NoFillsIsNeutral(t *testing.T) {
	validator, err := New(DefaultConfig(), modelWithSpread(5), &stubSource{})
	require.NoError(t, err)

	report, err := validator.Validate(asOf)
	require.NoError(t, err, "an empty window is not an error")
	assert.Equal(t, StatusNoData, report.Status)
	assert.Zero(t, report.Fills)
}

func TestValidate_StatusLadder(t *testing.T) {
	// Model with 5bps spread and no latency predicts 2.5bps per buy (no
	// volume on the fills, so only the half-spread term applies).
	cases := []struct {
		name    string
		liveBps float64
		want    Status
	}{
		{"excellent", 3.0, StatusExcellent},    // divergence 0.5bps
		{"good", 6.0, StatusGood},              // divergence 3.5bps
		{"acceptable", 10.0, StatusAcceptable}, // divergence 7.5bps
		{"recalibrate", 20.0, StatusRecalibrate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := &stubSource{fills: []LiveFill{fillAtBps(asOf.Add(-time.Hour), tc.liveBps)}}
			validator, err := New(DefaultConfig(), modelWithSpread(5), source)
			require.NoError(t, err)

			report, err := validator.Validate(asOf)
			require.NoError(t, err)
			assert.Equal(t, tc.want, report.Status)
		})
	}
}

func TestValidate_SignedDivergencePerSymbol(t *testing.T) {
	sellRef := 200.0
	source := &stubSource{fills: []LiveFill{
		fillAtBps(asOf.Add(-time.Hour), 8.0),
		{
			// Sell filled above reference: negative live slippage, so the
			// signed divergence goes negative.
			Timestamp:      asOf.Add(-2 * time.Hour),
			Symbol:         "MSFT",
			Side:           slippage.Sell,
			Quantity:       50,
			ReferencePrice: sellRef,
			FillPrice:      sellRef * 1.0002,
		},
	}}
	validator, err := New(DefaultConfig(), modelWithSpread(5), source)
	require.NoError(t, err)

	report, err := validator.Validate(asOf)
	require.NoError(t, err)
	require.Len(t, report.Comparisons, 2)

	assert.InDelta(t, 8.0-2.5, report.PerSymbolBps["AAPL"], 1e-6)
	assert.InDelta(t, -2.0-2.5, report.PerSymbolBps["MSFT"], 1e-6)
}

func TestValidate_CalibrationSuggestion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 10
	cfg.MaxSamples = 40

	fills := make([]LiveFill, 0, 20)
	for i := 0; i < 20; i++ {
		fills = append(fills, fillAtBps(asOf.Add(-time.Duration(i+1)*time.Hour), 6.0))
	}
	validator, err := New(cfg, modelWithSpread(5), &stubSource{fills: fills})
	require.NoError(t, err)

	report, err := validator.Validate(asOf)
	require.NoError(t, err)
	require.NotNil(t, report.Calibration)

	// All live costs are 6bps, so mean and p75 agree.
	assert.InDelta(t, 6.0, report.Calibration.SuggestedBaseSpreadBps, 0.01)
	assert.Equal(t, 5.0, report.Calibration.CurrentBaseSpreadBps, "calibration must report the spread it proposes to replace")
	assert.Equal(t, 20, report.Calibration.SampleSize)
	assert.InDelta(t, 0.5, report.Calibration.Confidence, 1e-9, "confidence is sample/max")
}

func TestValidate_CalibrationConfidenceSaturates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 5
	cfg.MaxSamples = 10

	fills := make([]LiveFill, 0, 30)
	for i := 0; i < 30; i++ {
		fills = append(fills, fillAtBps(asOf.Add(-time.Duration(i+1)*time.Minute), 4.0))
	}
	validator, err := New(cfg, modelWithSpread(5), &stubSource{fills: fills})
	require.NoError(t, err)

	report, err := validator.Validate(asOf)
	require.NoError(t, err)
	require.NotNil(t, report.Calibration)
	assert.Equal(t, 1.0, report.Calibration.Confidence)
}

func TestValidate_HistoryAndTrend(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), "costval_history.jsonl")
	cfg := DefaultConfig()
	cfg.HistoryPath = historyPath
	cfg.TrendWindow = 2

	run := func(liveBps float64, at time.Time) *Report {
		source := &stubSource{fills: []LiveFill{fillAtBps(at.Add(-time.Hour), liveBps)}}
		validator, err := New(cfg, modelWithSpread(5), source)
		require.NoError(t, err)
		report, err := validator.Validate(at)
		require.NoError(t, err)
		return report
	}

	// Divergence shrinks run over run: 17.5, 12.5, 3.5, 0.5 bps.
	run(20, asOf)
	run(15, asOf.Add(time.Hour))
	run(6, asOf.Add(2*time.Hour))
	report := run(3, asOf.Add(3*time.Hour))

	assert.Equal(t, "improving", report.Trend)
}

func TestJSONLFillSource_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.jsonl")
	journal := NewJSONLFillSource(path)

	// Seed via the same persistence layer the validator reads with.
	require.NoError(t, journal.history.Append(fillAtBps(asOf.Add(-time.Hour), 5)))
	require.NoError(t, journal.history.Append(fillAtBps(asOf.Add(-48*time.Hour), 5)))

	fills, err := journal.Fills(asOf.Add(-24*time.Hour), asOf)
	require.NoError(t, err)
	assert.Len(t, fills, 1, "fills outside the window are excluded")
}
