// Package perf derives summary statistics from a backtest's equity curve
// and trade ledger. All statistics are numerically defended: volatility is
// floored before division and the Sharpe ratio is clamped, so a degenerate
// curve still yields a reportable result instead of an error or an Inf.
package perf

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Config holds the statistical parameters, read once at construction.
type Config struct {
	RiskFreeRate       float64 `yaml:"risk_free_rate"`        // Annual risk-free rate (default: 0.02)
	TradingDaysPerYear int     `yaml:"trading_days_per_year"` // Annualization basis (default: 252)
	DailyTargetPnL     float64 `yaml:"daily_target_pnl"`      // Dollar target for PctDaysAboveTarget
	MinObservations    int     `yaml:"min_observations"`      // Below this, stats are flagged low-confidence
}

// DefaultConfig returns the standard statistical parameters.
func DefaultConfig() Config {
	return Config{
		RiskFreeRate:       0.02,
		TradingDaysPerYear: 252,
		DailyTargetPnL:     0,
		MinObservations:    20,
	}
}

// Volatility floor and Sharpe clamp. Near-zero-volatility curves would
// otherwise produce unbounded ratios.
const (
	minDailyVolatility = 0.001
	sharpeClampBound   = 10.0
)

// Summary is the terminal statistics artifact of one backtest run.
type Summary struct {
	TotalReturnPct   float64 `json:"total_return_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"`
	WinRate          float64 `json:"win_rate"`
	TotalTrades      int     `json:"total_trades"`
	AvgTradeReturn   float64 `json:"avg_trade_return"`
	AvgDailyPnL      float64 `json:"avg_daily_pnl"`
	PctDaysAboveTgt  float64 `json:"pct_days_above_target"`
	Worst5DayLoss    float64 `json:"worst_5d_drawdown"`  // Dollars
	Worst20DayLoss   float64 `json:"worst_20d_drawdown"` // Dollars
	Volatility       float64 `json:"volatility"`         // Annualized
	ObservationCount int     `json:"observation_count"`
	LowConfidence    bool    `json:"low_confidence"`
}

// Calculator computes Summary values from raw run output.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator with the given parameters.
func NewCalculator(config Config) *Calculator {
	if config.TradingDaysPerYear <= 0 {
		config.TradingDaysPerYear = 252
	}
	return &Calculator{config: config}
}

// Calculate derives the full summary from an equity curve (initial value
// first, one point per simulated day after) and the realized PnL of each
// closed trade. It never fails: degenerate inputs produce a degenerate but
// internally consistent Summary.
func (c *Calculator) Calculate(equity []float64, tradePnLs []float64) Summary {
	summary := Summary{
		TotalTrades:      len(tradePnLs),
		ObservationCount: len(equity),
	}
	if len(equity) < 2 {
		summary.LowConfidence = true
		return summary
	}

	returns := dailyReturns(equity)
	summary.LowConfidence = len(returns) < c.config.MinObservations

	if equity[0] != 0 {
		summary.TotalReturnPct = (equity[len(equity)-1] - equity[0]) / equity[0] * 100
	}
	summary.SharpeRatio = c.sharpe(returns)
	summary.MaxDrawdownPct = MaxDrawdown(equity)
	summary.Worst5DayLoss = RollingDrawdown(equity, 5)
	summary.Worst20DayLoss = RollingDrawdown(equity, 20)
	summary.Volatility = stat.StdDev(returns, nil) * math.Sqrt(float64(c.config.TradingDaysPerYear))

	positive := 0
	above := 0
	totalPnL := 0.0
	for i := 1; i < len(equity); i++ {
		pnl := equity[i] - equity[i-1]
		totalPnL += pnl
		if pnl > 0 {
			positive++
		}
		if pnl > c.config.DailyTargetPnL {
			above++
		}
	}
	days := float64(len(equity) - 1)
	summary.WinRate = float64(positive) / days
	summary.PctDaysAboveTgt = float64(above) / days * 100
	summary.AvgDailyPnL = totalPnL / days

	if len(tradePnLs) > 0 {
		summary.AvgTradeReturn = stat.Mean(tradePnLs, nil)
	}

	return summary
}

// sharpe annualizes the mean excess daily return over a floored daily
// volatility and clamps the result to [-10, 10].
func (c *Calculator) sharpe(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	dailyRiskFree := c.config.RiskFreeRate / float64(c.config.TradingDaysPerYear)
	mean := stat.Mean(returns, nil)

	vol := 0.0
	if len(returns) > 1 {
		vol = stat.StdDev(returns, nil)
	}
	if vol < minDailyVolatility {
		vol = minDailyVolatility
	}

	ratio := (mean - dailyRiskFree) / vol * math.Sqrt(float64(c.config.TradingDaysPerYear))
	return clamp(ratio, -sharpeClampBound, sharpeClampBound)
}

// MaxDrawdown reports the deepest peak-to-trough loss of the curve as a
// positive percentage. It is exactly 0 for a non-decreasing curve and
// strictly positive whenever the curve ends below its start.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, value := range equity {
		if value > peak {
			peak = value
		} else if peak > 0 {
			dd := (peak - value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

// RollingDrawdown reports the worst peak-to-trough dollar loss inside any
// sliding window of the given number of daily points.
func RollingDrawdown(equity []float64, window int) float64 {
	if window <= 1 || len(equity) < 2 {
		return 0
	}
	worst := 0.0
	for start := 0; start < len(equity); start++ {
		end := start + window
		if end > len(equity) {
			end = len(equity)
		}
		peak := equity[start]
		for _, value := range equity[start:end] {
			if value > peak {
				peak = value
			} else if loss := peak - value; loss > worst {
				worst = loss
			}
		}
	}
	return worst
}

func dailyReturns(equity []float64) []float64 {
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	return returns
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
