package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backcheck/internal/config"
	"github.com/sawpanic/backcheck/internal/data"
	"github.com/sawpanic/backcheck/internal/perf"
	"github.com/sawpanic/backcheck/internal/slippage"
)

// EngineConfig describes one simulation run. Everything is read at
// construction; nothing is consulted ambiently inside the loop.
type EngineConfig struct {
	Strategy       Strategy
	Provider       data.PriceProvider
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Knobs          config.Config

	// Hybrid-mode gates, both optional and both point-in-time.
	Confidence ConfidenceGate
	Sentiment  SentimentGate

	// Extra calendar days of history preloaded before Start so indicators
	// have their warm-up window. Defaults to 120.
	PreloadBufferDays int
}

// Engine deterministically replays a strategy across every weekday in
// [start, end]. One Engine instance owns exactly one run's state; create a
// fresh Engine per run.
type Engine struct {
	cfg       EngineConfig
	slip      *slippage.Model
	calc      *perf.Calculator
	portfolio *portfolio
	cache     *priceCache
	trades    []Trade
	equity    []EquityPoint
}

// NewEngine validates the configuration. Malformed arguments are fatal and
// reported immediately, wrapped in ErrConfiguration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("%w: strategy is required", ErrConfiguration)
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: price provider is required", ErrConfiguration)
	}
	if !cfg.Start.Before(cfg.End) {
		return nil, fmt.Errorf("%w: start %s must be before end %s",
			ErrConfiguration, cfg.Start.Format("2006-01-02"), cfg.End.Format("2006-01-02"))
	}
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("%w: initial capital must be positive, got %.2f", ErrConfiguration, cfg.InitialCapital)
	}
	if cfg.PreloadBufferDays <= 0 {
		cfg.PreloadBufferDays = 120
	}
	return &Engine{
		cfg:  cfg,
		slip: slippage.NewModel(cfg.Knobs.Slippage),
		calc: perf.NewCalculator(cfg.Knobs.Perf),
	}, nil
}

// Run executes the simulation. It either completes with an internally
// consistent Result or fails before the loop starts; there is no partial
// output and no mid-run cancellation.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	preloadStart := e.cfg.Start.AddDate(0, 0, -e.cfg.PreloadBufferDays)
	cache, dropped := preload(ctx, e.cfg.Provider, e.cfg.Strategy.Universe(), preloadStart, e.cfg.End)
	e.cache = cache

	universe := activeUniverse(e.cfg.Strategy.Universe(), dropped)
	if len(universe) == 0 {
		return nil, fmt.Errorf("%w: no symbol in the universe has loadable history", ErrConfiguration)
	}

	e.portfolio = newPortfolio(e.cfg.InitialCapital)
	e.trades = nil
	e.equity = []EquityPoint{{Date: e.cfg.Start, Value: e.cfg.InitialCapital}}

	simulatedDays := 0
	for day := e.cfg.Start; !day.After(e.cfg.End); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		e.simulateDay(day, universe)
		simulatedDays++
	}

	tradePnLs := make([]float64, 0, len(e.trades))
	for _, trade := range e.trades {
		if trade.Side == slippage.Sell {
			tradePnLs = append(tradePnLs, trade.RealizedPnL)
		}
	}

	var open []Position
	for _, symbol := range e.portfolio.symbols() {
		open = append(open, *e.portfolio.position(symbol))
	}

	result := &Result{
		RunID:          uuid.NewString(),
		Start:          e.cfg.Start,
		End:            e.cfg.End,
		InitialCapital: e.cfg.InitialCapital,
		Trades:         e.trades,
		Equity:         e.equity,
		OpenPositions:  open,
		DroppedSymbols: dropped,
	}
	values := result.EquityValues()
	result.FinalValue = values[len(values)-1]
	result.Summary = e.calc.Calculate(values, tradePnLs)

	if len(result.Equity) != simulatedDays+1 {
		// Guarded by construction of the loop; a mismatch means the run is
		// inconsistent and must not be returned.
		return nil, fmt.Errorf("equity curve has %d points for %d simulated days", len(result.Equity), simulatedDays)
	}

	log.Debug().
		Str("run_id", result.RunID).
		Int("trades", len(result.Trades)).
		Float64("final_value", result.FinalValue).
		Msg("Backtest run complete")
	return result, nil
}

// simulateDay applies the fixed per-day order: exits, signal, risk gates,
// execution, mark-to-market. The order is a correctness requirement.
func (e *Engine) simulateDay(day time.Time, universe []string) {
	e.checkExits(day)

	symbol, ok := e.pickSignal(day, universe)
	if ok {
		e.tryBuy(day, symbol)
	}

	e.markToMarket(day)
}

// checkExits closes any position breaching its stop-loss or take-profit,
// evaluated on the quantity-weighted average entry price.
func (e *Engine) checkExits(day time.Time) {
	stopLoss := e.cfg.Strategy.StopLossPct()
	takeProfit := e.cfg.Strategy.TakeProfitPct()
	if stopLoss <= 0 && takeProfit <= 0 {
		return
	}

	for _, symbol := range e.portfolio.symbols() {
		bar, ok := e.cache.barOn(symbol, day)
		if !ok {
			continue // No bar today: re-evaluated next day.
		}
		pos := e.portfolio.position(symbol)
		entry := pos.AvgEntryPrice()
		if entry <= 0 {
			continue
		}
		ret := (bar.Close - entry) / entry

		switch {
		case stopLoss > 0 && ret <= -stopLoss:
			e.closePosition(day, symbol, bar, fmt.Sprintf("Stop Loss (-%.1f%%)", stopLoss*100))
		case takeProfit > 0 && ret >= takeProfit:
			e.closePosition(day, symbol, bar, fmt.Sprintf("Take Profit (+%.1f%%)", takeProfit*100))
		}
	}
}

// closePosition sells the full position at the day's close through the
// slippage model. Slippage reduces proceeds, so it always reduces realized
// PnL and never improves it.
func (e *Engine) closePosition(day time.Time, symbol string, bar data.Bar, reason string) {
	pos := e.portfolio.position(symbol)
	history := e.cache.historyThrough(symbol, day)
	fill := e.slip.Calculate(bar.Close, pos.Quantity, slippage.Sell, symbol, bar.Volume, dailyVolatility(history, 20))

	quantity := pos.Quantity
	proceeds := quantity * fill.ExecutedPrice
	slippageCost := (bar.Close - fill.ExecutedPrice) * quantity

	realized, err := e.portfolio.sellAll(symbol, proceeds)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Exit rejected by portfolio invariants")
		return
	}

	e.trades = append(e.trades, Trade{
		Date:          day,
		Symbol:        symbol,
		Side:          slippage.Sell,
		Quantity:      quantity,
		ExecutedPrice: fill.ExecutedPrice,
		BasePrice:     bar.Close,
		SlippageCost:  slippageCost,
		Amount:        proceeds,
		Reason:        reason,
		RealizedPnL:   realized,
	})
}

// pickSignal scores every eligible symbol and returns the best one above
// the momentum threshold. Ties keep the earliest symbol in universe order,
// so results never depend on map iteration.
func (e *Engine) pickSignal(day time.Time, universe []string) (string, bool) {
	bestSymbol := ""
	bestScore := e.cfg.Knobs.Signal.MinMomentumScore

	for _, symbol := range universe {
		if _, ok := e.cache.barOn(symbol, day); !ok {
			continue // Missing bar today: skip symbol, non-fatal.
		}
		history := e.cache.historyThrough(symbol, day)
		score, ok := momentumScore(history, e.cfg.Knobs.Signal)
		if !ok {
			continue // Too little history yet.
		}
		if e.cfg.Confidence != nil && e.cfg.Confidence.Confidence(symbol, day) < e.cfg.Knobs.Signal.MinConfidence {
			continue
		}
		if e.cfg.Sentiment != nil && !e.cfg.Sentiment.Accept(symbol, day) {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestSymbol = symbol
		}
	}
	return bestSymbol, bestSymbol != ""
}

// tryBuy pushes the proposed allocation through the risk gates in order:
// circuit breaker, position cap, minimum trade size. Each gate can veto or
// shrink the trade, never enlarge it.
func (e *Engine) tryBuy(day time.Time, symbol string) {
	bar, ok := e.cache.barOn(symbol, day)
	if !ok || bar.Close <= 0 {
		return
	}

	value := e.markValue(day)
	risk := e.cfg.Knobs.Risk

	// Gate (a): daily-loss circuit breaker halts all new buying.
	if risk.CircuitBreakerPct > 0 && value < e.cfg.InitialCapital*(1-risk.CircuitBreakerPct) {
		log.Debug().Time("day", day).Float64("value", value).Msg("Circuit breaker active, skipping buys")
		return
	}

	allocation := e.cfg.Strategy.DailyAllocation()
	if sizer, ok := e.cfg.Strategy.(AllocationSizer); ok {
		allocation = sizer.AllocationFor(day, symbol, value)
	}
	if allocation <= 0 {
		return
	}

	// Gate (b): per-symbol position cap clips the allocation down.
	if risk.PositionCapPct > 0 {
		held := 0.0
		if pos := e.portfolio.position(symbol); pos != nil {
			held = pos.Quantity * bar.Close
		}
		room := risk.PositionCapPct*value - held
		if allocation > room {
			allocation = room
		}
	}
	if allocation > e.portfolio.cash {
		allocation = e.portfolio.cash
	}

	// Gate (c): minimum-trade-size floor.
	if allocation < risk.MinTradeSize || allocation <= 0 {
		return
	}

	history := e.cache.historyThrough(symbol, day)
	estimatedQty := allocation / bar.Close
	fill := e.slip.Calculate(bar.Close, estimatedQty, slippage.Buy, symbol, bar.Volume, dailyVolatility(history, 20))
	if fill.ExecutedPrice <= 0 {
		return
	}

	quantity := allocation / fill.ExecutedPrice
	slippageCost := (fill.ExecutedPrice - bar.Close) * quantity

	if err := e.portfolio.buy(symbol, quantity, allocation); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Buy rejected by portfolio invariants")
		return
	}

	e.trades = append(e.trades, Trade{
		Date:          day,
		Symbol:        symbol,
		Side:          slippage.Buy,
		Quantity:      quantity,
		ExecutedPrice: fill.ExecutedPrice,
		BasePrice:     bar.Close,
		SlippageCost:  slippageCost,
		Amount:        allocation,
		Reason:        "Momentum Signal",
	})
}

// markValue marks the portfolio at the given day's closes, falling back to
// the last known close for symbols without a bar.
func (e *Engine) markValue(day time.Time) float64 {
	prices := make(map[string]float64, len(e.portfolio.positions))
	for _, symbol := range e.portfolio.symbols() {
		if bar, ok := e.cache.barOn(symbol, day); ok {
			prices[symbol] = bar.Close
		} else if close, ok := e.cache.lastCloseThrough(symbol, day); ok {
			prices[symbol] = close
		}
	}
	return e.portfolio.marketValue(prices)
}

// markToMarket appends the day's equity point.
func (e *Engine) markToMarket(day time.Time) {
	e.equity = append(e.equity, EquityPoint{Date: day, Value: e.markValue(day)})
}

func activeUniverse(universe, dropped []string) []string {
	if len(dropped) == 0 {
		return universe
	}
	droppedSet := make(map[string]struct{}, len(dropped))
	for _, symbol := range dropped {
		droppedSet[symbol] = struct{}{}
	}
	out := make([]string, 0, len(universe))
	for _, symbol := range universe {
		if _, gone := droppedSet[symbol]; !gone {
			out = append(out, symbol)
		}
	}
	return out
}
