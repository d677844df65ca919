// Package strategy holds concrete Strategy implementations. The engine
// only sees the backtest.Strategy capability set.
package strategy

import (
	"time"
)

// Momentum is a single-position momentum strategy with fixed daily sizing
// and optional protective exits. Its fields are the natural targets for
// walk-forward grid search.
type Momentum struct {
	Symbols    []string
	Allocation float64 // Dollar notional per entry
	StopLoss   float64 // Fraction, 0 disables
	TakeProfit float64 // Fraction, 0 disables

	// ScalePct, when > 0, sizes entries as a fraction of portfolio value
	// instead of the fixed Allocation.
	ScalePct float64
}

func (m *Momentum) Universe() []string       { return m.Symbols }
func (m *Momentum) DailyAllocation() float64 { return m.Allocation }
func (m *Momentum) StopLossPct() float64     { return m.StopLoss }
func (m *Momentum) TakeProfitPct() float64   { return m.TakeProfit }

// AllocationFor implements the optional variable-allocation capability.
func (m *Momentum) AllocationFor(_ time.Time, _ string, portfolioValue float64) float64 {
	if m.ScalePct > 0 {
		return portfolioValue * m.ScalePct
	}
	return m.Allocation
}
