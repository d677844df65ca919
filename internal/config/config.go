// Package config loads the engine's tunable knobs from YAML. Knobs are read
// once at construction time and never consulted mid-run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/backcheck/internal/perf"
	"github.com/sawpanic/backcheck/internal/slippage"
)

// Config is the top-level knob file.
type Config struct {
	Risk     RiskConfig      `yaml:"risk"`
	Signal   SignalConfig    `yaml:"signal"`
	Slippage slippage.Config `yaml:"slippage"`
	Perf     perf.Config     `yaml:"perf"`
}

// RiskConfig holds the risk-gate thresholds applied each simulated day.
type RiskConfig struct {
	CircuitBreakerPct float64 `yaml:"circuit_breaker_pct"` // Daily-loss floor vs initial capital
	PositionCapPct    float64 `yaml:"position_cap_pct"`    // Max per-symbol share of portfolio value
	MinTradeSize      float64 `yaml:"min_trade_size"`      // Dollar floor below which buys are skipped
}

// SignalConfig holds momentum-signal thresholds.
type SignalConfig struct {
	MinMomentumScore   float64 `yaml:"min_momentum_score"`  // Minimum score to trade at all
	MinConfidence      float64 `yaml:"min_confidence"`      // Hybrid-mode RL confidence gate
	MinHistoryBars     int     `yaml:"min_history_bars"`    // Bars required before scoring a symbol
	VolumeLookbackDays int     `yaml:"volume_lookback_days"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Risk: RiskConfig{
			CircuitBreakerPct: 0.05,
			PositionCapPct:    0.20,
			MinTradeSize:      100,
		},
		Signal: SignalConfig{
			MinMomentumScore:   0.3,
			MinConfidence:      0.6,
			MinHistoryBars:     50,
			VolumeLookbackDays: 20,
		},
		Slippage: slippage.DefaultConfig(),
		Perf:     perf.DefaultConfig(),
	}
}

// Load reads a config file, layering it over the defaults so a partial file
// only overrides what it names.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return config, nil
}

// Save writes the configuration back out, used to seed a starter file.
func Save(config Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
