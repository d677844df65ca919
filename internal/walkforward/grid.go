package walkforward

import (
	"fmt"
	"sort"
)

// combinations expands the grid into every parameter assignment in a fixed
// order: parameter names sorted lexicographically, values in declared
// order. Selection requires strict improvement to replace the incumbent,
// so the first-seen combination in this order wins ties.
func combinations(grid Grid) []ParamSet {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := []ParamSet{{}}
	for _, name := range names {
		values := grid[name]
		if len(values) == 0 {
			continue
		}
		expanded := make([]ParamSet, 0, len(sets)*len(values))
		for _, base := range sets {
			for _, value := range values {
				next := make(ParamSet, len(base)+1)
				for k, v := range base {
					next[k] = v
				}
				next[name] = value
				expanded = append(expanded, next)
			}
		}
		sets = expanded
	}
	return sets
}

// stabilityScore compares a fold's winning parameters with the previous
// fold's. Identical sets score 1.0; numeric parameters degrade linearly
// with relative difference; non-numeric parameters score a binary match.
// The first fold has no predecessor and always scores 1.0.
func stabilityScore(prev, current ParamSet) float64 {
	if prev == nil {
		return 1.0
	}

	shared := make([]string, 0, len(current))
	for name := range current {
		if _, ok := prev[name]; ok {
			shared = append(shared, name)
		}
	}
	if len(shared) == 0 {
		return 1.0
	}
	sort.Strings(shared)

	total := 0.0
	for _, name := range shared {
		total += paramMatch(prev[name], current[name])
	}
	return total / float64(len(shared))
}

func paramMatch(a, b interface{}) float64 {
	av, aNum := asFloat(a)
	bv, bNum := asFloat(b)
	if aNum && bNum {
		if av == bv {
			return 1.0
		}
		denom := maxAbs(av, bv)
		if denom == 0 {
			return 1.0
		}
		diff := (av - bv) / denom
		if diff < 0 {
			diff = -diff
		}
		if diff > 1 {
			diff = 1
		}
		return 1 - diff
	}
	if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) {
		return 1.0
	}
	return 0.0
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func maxAbs(a, b float64) float64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
