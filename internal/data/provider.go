// Package data defines the price-history surface the simulator consumes.
// The engine is agnostic to where bars come from: any PriceProvider works,
// and a failed symbol degrades out of the universe instead of failing a run.
package data

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNoData marks a symbol/range with no bars available. Callers recover
// locally (drop the symbol, skip the day); it is never fatal to a run.
var ErrNoData = errors.New("no bar data available")

// Bar is one OHLCV observation for a symbol on a trading date. Immutable
// once loaded.
type Bar struct {
	Date   time.Time `json:"date" csv:"date"`
	Open   float64   `json:"open" csv:"open"`
	High   float64   `json:"high" csv:"high"`
	Low    float64   `json:"low" csv:"low"`
	Close  float64   `json:"close" csv:"close"`
	Volume float64   `json:"volume" csv:"volume"`
}

// PriceProvider supplies daily bars for one symbol over a date range,
// ordered by date ascending.
type PriceProvider interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// MemoryProvider serves bars from an in-memory map, used for tests and
// synthetic scenarios.
type MemoryProvider struct {
	bars map[string][]Bar
}

// NewMemoryProvider creates a provider over the given per-symbol series.
// Each series is sorted by date once at construction.
func NewMemoryProvider(bars map[string][]Bar) *MemoryProvider {
	for symbol := range bars {
		series := bars[symbol]
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		bars[symbol] = series
	}
	return &MemoryProvider{bars: bars}
}

// Bars returns the stored bars inside [start, end].
func (p *MemoryProvider) Bars(_ context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	series, ok := p.bars[symbol]
	if !ok || len(series) == 0 {
		return nil, ErrNoData
	}
	var out []Bar
	for _, bar := range series {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}
