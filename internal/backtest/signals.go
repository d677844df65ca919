package backtest

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/backcheck/internal/config"
	"github.com/sawpanic/backcheck/internal/data"
)

// MACD and RSI periods for the momentum score. Fixed rather than tunable:
// the walk-forward grid tunes thresholds and sizing, not indicator math.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	rsiPeriod  = 14
)

// momentumScore blends MACD histogram, RSI and volume ratio into a single
// score in roughly [-1, 1]. ok is false when the symbol has too little
// history to score - the caller skips the symbol for the day, non-fatally.
func momentumScore(history []data.Bar, cfg config.SignalConfig) (float64, bool) {
	minBars := cfg.MinHistoryBars
	if minBars <= 0 {
		minBars = 50
	}
	if len(history) < minBars {
		return 0, false
	}

	closes := make([]float64, len(history))
	volumes := make([]float64, len(history))
	for i, bar := range history {
		closes[i] = bar.Close
		volumes[i] = bar.Volume
	}

	_, _, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	rsi := talib.Rsi(closes, rsiPeriod)

	lastClose := closes[len(closes)-1]
	lastHist := hist[len(hist)-1]
	lastRSI := rsi[len(rsi)-1]
	if lastClose <= 0 || math.IsNaN(lastHist) || math.IsNaN(lastRSI) {
		return 0, false
	}

	// Histogram normalized by price so the score is scale-free across
	// symbols; clipped to [-1, 1].
	macdComponent := clip(lastHist/lastClose*200, -1, 1)
	rsiComponent := clip((lastRSI-50)/50, -1, 1)
	volumeComponent := clip(volumeRatio(volumes, cfg.VolumeLookbackDays)/2, 0, 1)

	return 0.4*macdComponent + 0.4*rsiComponent + 0.2*volumeComponent, true
}

// volumeRatio compares the latest volume to its trailing average.
func volumeRatio(volumes []float64, lookback int) float64 {
	if lookback <= 0 {
		lookback = 20
	}
	if len(volumes) < 2 {
		return 0
	}
	start := len(volumes) - 1 - lookback
	if start < 0 {
		start = 0
	}
	window := volumes[start : len(volumes)-1]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	if sum <= 0 {
		return 0
	}
	avg := sum / float64(len(window))
	return volumes[len(volumes)-1] / avg
}

// dailyVolatility estimates the trailing return volatility fed to the
// slippage model. Returns 0 when there is not enough history, which the
// model treats as "unknown" rather than an error.
func dailyVolatility(history []data.Bar, lookback int) float64 {
	if lookback <= 1 || len(history) < 3 {
		return 0
	}
	start := len(history) - lookback - 1
	if start < 0 {
		start = 0
	}
	window := history[start:]
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1].Close <= 0 {
			continue
		}
		returns = append(returns, (window[i].Close-window[i-1].Close)/window[i-1].Close)
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
