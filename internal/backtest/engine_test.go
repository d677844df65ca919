package backtest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/backcheck/internal/config"
	"github.com/sawpanic/backcheck/internal/data"
	"github.com/sawpanic/backcheck/internal/slippage"
	"github.com/sawpanic/backcheck/internal/strategy"
)

// nextWeekday advances d by one day, skipping weekends.
func nextWeekday(d time.Time) time.Time {
	d = d.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// risingBars builds n weekday bars ending the day before start, rising
// ratePct per bar from basePrice, with constant volume.
func risingBars(start time.Time, n int, basePrice, ratePct float64) []data.Bar {
	bars := make([]data.Bar, 0, n)
	day := start
	for i := 0; i < n; i++ {
		day = nextWeekday(day)
	}
	// Walk backwards from the day before start.
	dates := make([]time.Time, 0, n)
	day = start.AddDate(0, 0, -1)
	for len(dates) < n {
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			dates = append(dates, day)
		}
		day = day.AddDate(0, 0, -1)
	}
	price := basePrice
	for i := n - 1; i >= 0; i-- {
		bars = append(bars, data.Bar{
			Date:   dates[i],
			Open:   price,
			High:   price * 1.01,
			Low:    price * 0.99,
			Close:  price,
			Volume: 1e6,
		})
		price *= 1 + ratePct
	}
	return bars
}

func appendBar(bars []data.Bar, date time.Time, close float64) []data.Bar {
	return append(bars, data.Bar{
		Date: date, Open: close, High: close * 1.01, Low: close * 0.99,
		Close: close, Volume: 1e6,
	})
}

// monday is a known Monday used as the simulation start in these tests.
var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func baseConfig(strat Strategy, provider data.PriceProvider, start, end time.Time) EngineConfig {
	return EngineConfig{
		Strategy:       strat,
		Provider:       provider,
		Start:          start,
		End:            end,
		InitialCapital: 100000,
		Knobs:          config.Default(),
	}
}

func TestNewEngine_ConfigurationErrors(t *testing.T) {
	provider := data.NewMemoryProvider(nil)
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 10000}

	cases := []struct {
		name string
		cfg  EngineConfig
	}{
		{"nil strategy", baseConfig(nil, provider, monday, monday.AddDate(0, 0, 10))},
		{"start after end", baseConfig(strat, provider, monday.AddDate(0, 0, 10), monday)},
		{"start equals end", baseConfig(strat, provider, monday, monday)},
		{"zero capital", func() EngineConfig {
			c := baseConfig(strat, provider, monday, monday.AddDate(0, 0, 10))
			c.InitialCapital = 0
			return c
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(tc.cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
		})
	}
}

func TestRun_StopLossTriggersOnGapDown(t *testing.T) {
	// Rising history, a rising first simulated day, then a 10% gap down.
	bars := risingBars(monday, 60, 100, 0.01)
	day1 := monday
	day2 := nextWeekday(day1)
	lastClose := bars[len(bars)-1].Close
	preGapClose := lastClose * 1.01
	bars = appendBar(bars, day1, preGapClose)
	bars = appendBar(bars, day2, preGapClose*0.90)

	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 10000, StopLoss: 0.05}

	engine, err := NewEngine(baseConfig(strat, provider, day1, day2))
	require.NoError(t, err)

	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	var sell *Trade
	for i := range result.Trades {
		if result.Trades[i].Side == slippage.Sell {
			sell = &result.Trades[i]
			break
		}
	}
	require.NotNil(t, sell, "expected a stop-loss sell, got trades: %+v", result.Trades)
	assert.Contains(t, sell.Reason, "Stop Loss")
	assert.Contains(t, sell.Reason, "5.0%", "reason must reference the configured threshold")
	assert.LessOrEqual(t, sell.ExecutedPrice, preGapClose, "exit must fill at or below the pre-gap close")
	assert.Negative(t, sell.RealizedPnL)
}

func TestRun_Deterministic(t *testing.T) {
	bars := risingBars(monday, 80, 100, 0.008)
	end := monday
	price := bars[len(bars)-1].Close
	// 15 simulated weekdays with mild oscillation.
	day := monday
	for i := 0; i < 15; i++ {
		if i%4 == 3 {
			price *= 0.985
		} else {
			price *= 1.007
		}
		bars = appendBar(bars, day, price)
		end = day
		day = nextWeekday(day)
	}

	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 8000, StopLoss: 0.05, TakeProfit: 0.10}

	run := func() *Result {
		engine, err := NewEngine(baseConfig(strat, provider, monday, end))
		require.NoError(t, err)
		result, err := engine.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()

	require.Equal(t, len(first.Trades), len(second.Trades))
	assert.Equal(t, first.Trades, second.Trades, "identical inputs must yield identical ledgers")
	assert.Equal(t, first.Equity, second.Equity, "identical inputs must yield identical curves")
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRun_EquityCurveLengthInvariant(t *testing.T) {
	bars := risingBars(monday, 60, 100, 0.005)
	end := monday
	day := monday
	price := bars[len(bars)-1].Close
	for i := 0; i < 10; i++ {
		price *= 1.004
		bars = appendBar(bars, day, price)
		end = day
		day = nextWeekday(day)
	}

	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 5000}

	engine, err := NewEngine(baseConfig(strat, provider, monday, end))
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	weekdays := 0
	for d := monday; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			weekdays++
		}
	}
	assert.Len(t, result.Equity, weekdays+1, "curve must have one point per simulated day plus the initial value")
	assert.Equal(t, 100000.0, result.Equity[0].Value)
}

func TestRun_CostBasisMatchesVWAP(t *testing.T) {
	bars := risingBars(monday, 70, 100, 0.006)
	end := monday
	day := monday
	price := bars[len(bars)-1].Close
	for i := 0; i < 8; i++ {
		price *= 1.006
		bars = appendBar(bars, day, price)
		end = day
		day = nextWeekday(day)
	}

	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	// No stops, so buys accumulate into one growing position.
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 3000}

	engine, err := NewEngine(baseConfig(strat, provider, monday, end))
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	require.Len(t, result.OpenPositions, 1)

	pos := result.OpenPositions[0]
	totalQty := 0.0
	totalCost := 0.0
	for _, trade := range result.Trades {
		require.Equal(t, slippage.Buy, trade.Side)
		totalQty += trade.Quantity
		totalCost += trade.Amount
	}
	require.Positive(t, pos.Quantity)
	assert.InDelta(t, totalCost/totalQty, pos.AvgEntryPrice(), 1e-6,
		"cost_basis/quantity must equal the volume-weighted average entry price")
}

func TestRun_ThinHistorySymbolNeverTrades(t *testing.T) {
	// 20 bars of warm-up is well below the 50-bar signal minimum, so the
	// symbol is skipped every day without failing the run.
	bars := risingBars(monday, 20, 100, 0.01)
	end := monday
	day := monday
	price := bars[len(bars)-1].Close
	for i := 0; i < 5; i++ {
		price *= 1.01
		bars = appendBar(bars, day, price)
		end = day
		day = nextWeekday(day)
	}

	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 5000}

	engine, err := NewEngine(baseConfig(strat, provider, monday, end))
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Empty(t, result.DroppedSymbols, "thin history is a per-day skip, not a preload drop")
	assert.Equal(t, 100000.0, result.FinalValue, "no trades means the curve stays at initial capital")
}

func TestRun_MissingSymbolDroppedNonFatal(t *testing.T) {
	bars := risingBars(monday, 60, 100, 0.005)
	end := monday
	day := monday
	price := bars[len(bars)-1].Close
	for i := 0; i < 5; i++ {
		price *= 1.005
		bars = appendBar(bars, day, price)
		end = day
		day = nextWeekday(day)
	}

	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	strat := &strategy.Momentum{Symbols: []string{"GHOST", "AAPL"}, Allocation: 5000}

	engine, err := NewEngine(baseConfig(strat, provider, monday, end))
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"GHOST"}, result.DroppedSymbols)
}

func TestRun_AllSymbolsMissingIsFatal(t *testing.T) {
	provider := data.NewMemoryProvider(nil)
	strat := &strategy.Momentum{Symbols: []string{"GHOST"}, Allocation: 5000}

	engine, err := NewEngine(baseConfig(strat, provider, monday, monday.AddDate(0, 0, 10)))
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestTryBuy_RiskGates(t *testing.T) {
	bars := risingBars(monday, 60, 100, 0.008)
	lastClose := bars[len(bars)-1].Close
	bars = appendBar(bars, monday, lastClose*1.008)
	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})

	newEngineWithCache := func(strat Strategy, knobs config.Config) *Engine {
		cfg := baseConfig(strat, provider, monday, nextWeekday(monday))
		cfg.Knobs = knobs
		engine, err := NewEngine(cfg)
		require.NoError(t, err)
		cache, dropped := preload(context.Background(), provider, strat.Universe(), monday.AddDate(0, 0, -120), nextWeekday(monday))
		require.Empty(t, dropped)
		engine.cache = cache
		engine.portfolio = newPortfolio(cfg.InitialCapital)
		return engine
	}

	t.Run("circuit breaker vetoes all buying", func(t *testing.T) {
		knobs := config.Default()
		knobs.Risk.CircuitBreakerPct = 0.05
		engine := newEngineWithCache(&strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 5000}, knobs)
		engine.portfolio.cash = 90000 // Value below the 95000 floor.

		engine.tryBuy(monday, "AAPL")
		assert.Empty(t, engine.trades)
	})

	t.Run("position cap clips the allocation down", func(t *testing.T) {
		knobs := config.Default()
		knobs.Risk.PositionCapPct = 0.10
		engine := newEngineWithCache(&strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 50000}, knobs)

		engine.tryBuy(monday, "AAPL")
		require.Len(t, engine.trades, 1)
		assert.InDelta(t, 10000, engine.trades[0].Amount, 1e-6, "allocation must be clipped to 10%% of value, not rejected")
	})

	t.Run("minimum trade size vetoes small buys", func(t *testing.T) {
		knobs := config.Default()
		knobs.Risk.MinTradeSize = 1000
		engine := newEngineWithCache(&strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 500}, knobs)

		engine.tryBuy(monday, "AAPL")
		assert.Empty(t, engine.trades)
	})
}

func TestResult_EquityValuesProjectsCurve(t *testing.T) {
	result := &Result{Equity: []EquityPoint{
		{Date: monday, Value: 100000},
		{Date: nextWeekday(monday), Value: 100500},
		{Date: nextWeekday(nextWeekday(monday)), Value: 99800},
	}}
	assert.Equal(t, []float64{100000, 100500, 99800}, result.EquityValues())
}

func TestRun_ReportMentionsCoreMetrics(t *testing.T) {
	bars := risingBars(monday, 60, 100, 0.005)
	end := monday
	day := monday
	price := bars[len(bars)-1].Close
	for i := 0; i < 5; i++ {
		price *= 1.005
		bars = appendBar(bars, day, price)
		end = day
		day = nextWeekday(day)
	}
	provider := data.NewMemoryProvider(map[string][]data.Bar{"AAPL": bars})
	strat := &strategy.Momentum{Symbols: []string{"AAPL"}, Allocation: 5000}

	engine, err := NewEngine(baseConfig(strat, provider, monday, end))
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)

	report := result.Report()
	for _, want := range []string{"Sharpe Ratio", "Max Drawdown", "Total Return", "Win Rate"} {
		assert.True(t, strings.Contains(report, want), "report missing %q", want)
	}
}
