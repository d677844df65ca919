package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMemoryProvider_RangeAndOrdering(t *testing.T) {
	provider := NewMemoryProvider(map[string][]Bar{
		"AAPL": {
			{Date: day(2024, 1, 3), Close: 102},
			{Date: day(2024, 1, 1), Close: 100},
			{Date: day(2024, 1, 2), Close: 101},
		},
	})

	bars, err := provider.Bars(context.Background(), "AAPL", day(2024, 1, 1), day(2024, 1, 2))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Date.Before(bars[1].Date), "bars must be date-ascending")
}

func TestMemoryProvider_UnknownSymbol(t *testing.T) {
	provider := NewMemoryProvider(nil)

	_, err := provider.Bars(context.Background(), "NOPE", day(2024, 1, 1), day(2024, 1, 31))
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestCSVProvider_LoadsAndFilters(t *testing.T) {
	dir := t.TempDir()
	csv := "date,open,high,low,close,volume\n" +
		"2024-01-02,100,102,99,101,500000\n" +
		"2024-01-03,101,103,100,102,600000\n" +
		"2024-01-04,102,104,101,103,700000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(csv), 0644))

	provider := NewCSVProvider(dir)

	bars, err := provider.Bars(context.Background(), "aapl", day(2024, 1, 2), day(2024, 1, 3))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 101.0, bars[0].Close)
	assert.Equal(t, 600000.0, bars[1].Volume)
}

func TestCSVProvider_MissingFileIsNoData(t *testing.T) {
	provider := NewCSVProvider(t.TempDir())

	_, err := provider.Bars(context.Background(), "GHOST", day(2024, 1, 1), day(2024, 1, 31))
	assert.True(t, errors.Is(err, ErrNoData))
}
