// Package backtest implements the deterministic day-by-day portfolio
// simulator. One Engine owns one portfolio, trade ledger and equity curve
// for the lifetime of a run; nothing is shared across runs.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/backcheck/internal/perf"
	"github.com/sawpanic/backcheck/internal/slippage"
)

// ErrConfiguration marks malformed constructor arguments. It is fatal and
// raised immediately, never swallowed.
var ErrConfiguration = errors.New("invalid backtest configuration")

// Strategy is the read-only capability set the engine consumes. Every field
// the engine may read is enumerated here; there is no attribute probing.
type Strategy interface {
	// Universe returns the tradable symbols, in priority order.
	Universe() []string
	// DailyAllocation returns the default dollar notional per new position.
	DailyAllocation() float64
	// StopLossPct returns the loss fraction that forces an exit; 0 disables.
	StopLossPct() float64
	// TakeProfitPct returns the gain fraction that forces an exit; 0 disables.
	TakeProfitPct() float64
}

// AllocationSizer is the optional variable-allocation capability. When a
// strategy implements it, the returned notional replaces DailyAllocation
// for that day; risk gates may still shrink it, never enlarge it.
type AllocationSizer interface {
	AllocationFor(date time.Time, symbol string, portfolioValue float64) float64
}

// ConfidenceGate is the hybrid-mode RL gate. It must be point-in-time: the
// implementation may only consult information dated at or before date.
type ConfidenceGate interface {
	Confidence(symbol string, date time.Time) float64
}

// SentimentGate is the hybrid-mode sentiment gate, point-in-time like
// ConfidenceGate.
type SentimentGate interface {
	Accept(symbol string, date time.Time) bool
}

// Trade is one executed order. Created at execution time, immutable after,
// appended to the run's ledger.
type Trade struct {
	Date          time.Time     `json:"date"`
	Symbol        string        `json:"symbol"`
	Side          slippage.Side `json:"side"`
	Quantity      float64       `json:"quantity"`
	ExecutedPrice float64       `json:"executed_price"`
	BasePrice     float64       `json:"base_price"`
	SlippageCost  float64       `json:"slippage_cost"`
	Amount        float64       `json:"amount"`
	Reason        string        `json:"reason"`
	RealizedPnL   float64       `json:"realized_pnl,omitempty"` // Sells only
}

// EquityPoint is the portfolio's mark-to-market value on one date.
type EquityPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Position tracks one open holding. CostBasis is total dollars invested,
// so CostBasis/Quantity is the volume-weighted average entry price.
type Position struct {
	Symbol    string  `json:"symbol"`
	Quantity  float64 `json:"quantity"`
	CostBasis float64 `json:"cost_basis"`
}

// AvgEntryPrice returns the volume-weighted average entry price.
func (p *Position) AvgEntryPrice() float64 {
	if p.Quantity == 0 {
		return 0
	}
	return p.CostBasis / p.Quantity
}

// portfolio owns cash and open positions for exactly one run. Invariants
// (quantity >= 0, cost-basis consistency) are enforced at every mutation.
type portfolio struct {
	cash      float64
	positions map[string]*Position
}

func newPortfolio(cash float64) *portfolio {
	return &portfolio{cash: cash, positions: make(map[string]*Position)}
}

// symbols returns open position symbols in a fixed, sorted order so that
// iteration never depends on map ordering.
func (p *portfolio) symbols() []string {
	out := make([]string, 0, len(p.positions))
	for symbol := range p.positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// buy debits cash and grows the position's quantity and cost basis.
func (p *portfolio) buy(symbol string, quantity, notional float64) error {
	if quantity <= 0 || notional <= 0 {
		return fmt.Errorf("buy %s: non-positive quantity %f or notional %f", symbol, quantity, notional)
	}
	if notional > p.cash+1e-9 {
		return fmt.Errorf("buy %s: notional %.2f exceeds cash %.2f", symbol, notional, p.cash)
	}
	p.cash -= notional
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		p.positions[symbol] = pos
	}
	pos.Quantity += quantity
	pos.CostBasis += notional
	return nil
}

// sellAll liquidates the position, credits proceeds, and returns the
// realized PnL (proceeds minus cost basis). The position is destroyed.
func (p *portfolio) sellAll(symbol string, proceeds float64) (float64, error) {
	pos, ok := p.positions[symbol]
	if !ok || pos.Quantity <= 0 {
		return 0, fmt.Errorf("sell %s: no open position", symbol)
	}
	realized := proceeds - pos.CostBasis
	p.cash += proceeds
	delete(p.positions, symbol)
	return realized, nil
}

// position returns the open position for symbol, or nil.
func (p *portfolio) position(symbol string) *Position {
	return p.positions[symbol]
}

// marketValue marks all holdings at the given prices; symbols without a
// price fall back to their average entry.
func (p *portfolio) marketValue(prices map[string]float64) float64 {
	value := p.cash
	for _, pos := range p.positions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 || math.IsNaN(price) {
			price = pos.AvgEntryPrice()
		}
		value += pos.Quantity * price
	}
	return value
}

// Result is the terminal artifact of one run: the complete ledger, curve
// and summary statistics. A completed run always returns an internally
// consistent Result (curve length == simulated days + 1).
type Result struct {
	RunID          string        `json:"run_id"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	InitialCapital float64       `json:"initial_capital"`
	FinalValue     float64       `json:"final_value"`
	Trades         []Trade       `json:"trades"`
	Equity         []EquityPoint `json:"equity"`
	OpenPositions  []Position    `json:"open_positions,omitempty"`
	Summary        perf.Summary  `json:"summary"`
	DroppedSymbols []string      `json:"dropped_symbols,omitempty"`
}

// EquityValues projects the curve to raw values for the stats engine.
func (r *Result) EquityValues() []float64 {
	values := make([]float64, len(r.Equity))
	for i, point := range r.Equity {
		values[i] = point.Value
	}
	return values
}
