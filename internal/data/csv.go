package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
)

// csvBar is the on-disk row shape: dates are plain YYYY-MM-DD strings.
type csvBar struct {
	Date   string  `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// CSVProvider reads one <SYMBOL>.csv file per symbol from a directory.
// Files are parsed lazily on first request and cached for the lifetime of
// the provider. Safe for concurrent use; the engine preloads symbols in
// parallel.
type CSVProvider struct {
	dir string

	mu    sync.Mutex
	cache map[string][]Bar
}

// NewCSVProvider creates a provider over the given directory.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir, cache: make(map[string][]Bar)}
}

// Bars loads the symbol's CSV file and returns bars inside [start, end].
func (p *CSVProvider) Bars(_ context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	p.mu.Lock()
	series, ok := p.cache[symbol]
	if !ok {
		loaded, err := p.load(symbol)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.cache[symbol] = loaded
		series = loaded
	}
	p.mu.Unlock()

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

func (p *CSVProvider) load(symbol string) ([]Bar, error) {
	path := filepath.Join(p.dir, strings.ToUpper(symbol)+".csv")
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file for %s: %w", symbol, err)
	}
	defer file.Close()

	var rows []*csvBar
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse bar file for %s: %w", symbol, err)
	}

	bars := make([]Bar, 0, len(rows))
	for i, row := range rows {
		date, err := time.Parse("2006-01-02", row.Date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q on row %d of %s: %w", row.Date, i+1, path, err)
		}
		bars = append(bars, Bar{
			Date:   date,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

var _ PriceProvider = (*CSVProvider)(nil)
var _ PriceProvider = (*MemoryProvider)(nil)
