package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_PartialFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knobs.yaml")
	content := "risk:\n  circuit_breaker_pct: 0.10\nslippage:\n  base_spread_bps: 8\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.10, cfg.Risk.CircuitBreakerPct)
	assert.Equal(t, 8.0, cfg.Slippage.BaseSpreadBps)
	// Untouched knobs keep their defaults.
	assert.Equal(t, Default().Risk.PositionCapPct, cfg.Risk.PositionCapPct)
	assert.Equal(t, Default().Signal.MinHistoryBars, cfg.Signal.MinHistoryBars)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knobs.yaml")

	want := Default()
	want.Risk.MinTradeSize = 250
	want.Signal.MinMomentumScore = 0.42
	require.NoError(t, Save(want, path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
