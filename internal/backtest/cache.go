package backtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/backcheck/internal/data"
)

// priceCache holds every bar a run will need, loaded before the date loop
// begins so no step blocks on I/O mid-simulation. It is owned by one run
// and read-only after preload.
type priceCache struct {
	series map[string][]data.Bar    // Date-ascending per symbol
	byDate map[string]map[int64]int // symbol -> day key -> series index
}

func dayKey(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}

// preload fetches all symbols in parallel. Symbols whose history fails to
// load are dropped from the universe for the whole run; the run continues.
func preload(ctx context.Context, provider data.PriceProvider, symbols []string, start, end time.Time) (*priceCache, []string) {
	cache := &priceCache{
		series: make(map[string][]data.Bar, len(symbols)),
		byDate: make(map[string]map[int64]int, len(symbols)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var dropped []string

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			bars, err := provider.Bars(ctx, symbol, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || len(bars) == 0 {
				log.Warn().Str("symbol", symbol).Err(err).Msg("Preload failed, dropping symbol from universe")
				dropped = append(dropped, symbol)
				return
			}
			index := make(map[int64]int, len(bars))
			for i, bar := range bars {
				index[dayKey(bar.Date)] = i
			}
			cache.series[symbol] = bars
			cache.byDate[symbol] = index
		}(symbol)
	}
	wg.Wait()

	sort.Strings(dropped)
	return cache, dropped
}

// barOn returns the symbol's bar for the given date, if one exists.
func (c *priceCache) barOn(symbol string, date time.Time) (data.Bar, bool) {
	index, ok := c.byDate[symbol]
	if !ok {
		return data.Bar{}, false
	}
	i, ok := index[dayKey(date)]
	if !ok {
		return data.Bar{}, false
	}
	return c.series[symbol][i], true
}

// historyThrough returns all bars dated at or before date, oldest first.
// Nothing after the simulated day is ever visible to a caller, which is
// what keeps signal generation free of look-ahead bias.
func (c *priceCache) historyThrough(symbol string, date time.Time) []data.Bar {
	bars := c.series[symbol]
	key := dayKey(date)
	// Bars are date-ascending; binary search for the cut.
	n := sort.Search(len(bars), func(i int) bool {
		return dayKey(bars[i].Date) > key
	})
	return bars[:n]
}

// lastCloseThrough returns the most recent close at or before date.
func (c *priceCache) lastCloseThrough(symbol string, date time.Time) (float64, bool) {
	history := c.historyThrough(symbol, date)
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Close, true
}
