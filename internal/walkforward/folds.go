package walkforward

import (
	"time"
)

// generateFolds produces the fold schedule for [start, end]. Test windows
// are non-overlapping: the step never falls below TestDays, so each fold's
// test window starts at or after the previous one ends. The last partial
// window is dropped rather than truncated so every fold tests the same
// horizon.
func generateFolds(cfg Config, start, end time.Time) []Fold {
	step := cfg.StepDays
	if step < cfg.TestDays {
		step = cfg.TestDays
	}
	if cfg.TrainDays <= 0 || cfg.TestDays <= 0 || step <= 0 {
		return nil
	}

	var folds []Fold
	number := 1
	for offset := 0; ; offset += step {
		var trainStart time.Time
		var trainEnd time.Time
		switch cfg.Scheme {
		case SchemeExpanding:
			trainStart = start
			trainEnd = start.AddDate(0, 0, cfg.TrainDays+offset)
		default: // SchemeRolling
			trainStart = start.AddDate(0, 0, offset)
			trainEnd = trainStart.AddDate(0, 0, cfg.TrainDays)
		}
		testStart := trainEnd
		testEnd := testStart.AddDate(0, 0, cfg.TestDays)
		if testEnd.After(end) {
			break
		}
		folds = append(folds, Fold{
			Number:     number,
			TrainStart: trainStart,
			TrainEnd:   trainEnd,
			TestStart:  testStart,
			TestEnd:    testEnd,
		})
		number++
	}
	return folds
}
