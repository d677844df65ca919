// Package slippage models execution costs: the gap between a reference
// price and the price a simulated order actually fills at.
package slippage

import (
	"math"
)

// Side identifies the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Config holds the model parameters, read once at construction.
type Config struct {
	BaseSpreadBps        float64 `yaml:"base_spread_bps"`       // Quoted spread in basis points
	ImpactCoefficient    float64 `yaml:"impact_coefficient"`    // Market impact per unit participation
	LatencyBps           float64 `yaml:"latency_bps"`           // Fixed latency/adverse-selection cost
	VolatilityMultiplier float64 `yaml:"volatility_multiplier"` // Scales impact with daily volatility
	MaxImpactBps         float64 `yaml:"max_impact_bps"`        // Cap on the impact term
}

// DefaultConfig returns parameters calibrated for liquid US equities.
func DefaultConfig() Config {
	return Config{
		BaseSpreadBps:        5.0,
		ImpactCoefficient:    30.0,
		LatencyBps:           1.0,
		VolatilityMultiplier: 1.0,
		MaxImpactBps:         50.0,
	}
}

// Fill is the result of pricing one order through the model.
type Fill struct {
	ExecutedPrice  float64 `json:"executed_price"`
	SlippageAmount float64 `json:"slippage_amount"` // Dollar cost vs the reference price
	SlippageBps    float64 `json:"slippage_bps"`
}

// Model converts reference prices into executable fills. It is a pure
// function of its inputs: no randomness, no clock, no shared state, so two
// identical backtests produce identical ledgers.
type Model struct {
	config Config
}

// NewModel creates a slippage model with the given parameters.
func NewModel(config Config) *Model {
	return &Model{config: config}
}

// Calculate prices an order of quantity shares at the given reference
// price. volume is the bar's share volume and volatility the daily return
// volatility; either may be <= 0, in which case the model falls back to the
// base-spread assumption for that term rather than failing.
//
// Buys always fill at or above the reference price, sells at or below.
func (m *Model) Calculate(price, quantity float64, side Side, symbol string, volume, volatility float64) Fill {
	if price <= 0 || quantity <= 0 {
		return Fill{ExecutedPrice: price}
	}

	totalBps := m.config.BaseSpreadBps / 2

	if volume > 0 {
		participation := quantity / volume
		impactBps := m.config.ImpactCoefficient * math.Sqrt(participation)
		if volatility > 0 {
			impactBps *= 1 + m.config.VolatilityMultiplier*volatility
		}
		if impactBps > m.config.MaxImpactBps {
			impactBps = m.config.MaxImpactBps
		}
		totalBps += impactBps
	}

	totalBps += m.config.LatencyBps

	direction := 1.0
	if side == Sell {
		direction = -1.0
	}

	executed := price * (1 + direction*totalBps/10000)
	amount := math.Abs(executed-price) * quantity

	return Fill{
		ExecutedPrice:  executed,
		SlippageAmount: amount,
		SlippageBps:    totalBps,
	}
}

// BaseSpreadBps exposes the configured spread for cost-validation reports.
func (m *Model) BaseSpreadBps() float64 {
	return m.config.BaseSpreadBps
}
