package metrics

import "sync"

// Governor gates the tracking path on measured overhead. When overhead
// exceeds the configured ceiling, it raises the sampling pressure level
// stepwise; when overhead falls to half the ceiling or below, pressure
// eases one step.
// The session consults the level to scale sampling thresholds.
type Governor struct {
	mu sync.Mutex

	maxOverheadPercent float64
	level              int
	maxLevel           int
}

// NewGovernor creates a governor for the given overhead ceiling in
// percent. A ceiling of zero disables gating.
func NewGovernor(maxOverheadPercent float64) *Governor {
	return &Governor{
		maxOverheadPercent: maxOverheadPercent,
		maxLevel:           8,
	}
}

// Observe feeds a fresh overhead measurement and returns the resulting
// pressure level. Level 0 means no throttling; each level above doubles
// the effective sampling stride and halves probabilistic rates.
func (g *Governor) Observe(overheadPercent float64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.maxOverheadPercent <= 0 {
		return 0
	}
	switch {
	case overheadPercent > g.maxOverheadPercent && g.level < g.maxLevel:
		g.level++
	case overheadPercent <= g.maxOverheadPercent/2 && g.level > 0:
		g.level--
	}
	return g.level
}

// Level returns the current pressure level.
func (g *Governor) Level() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// ApplyPressure scales sampling rates and stride by the pressure level:
// probabilistic rates are halved and the deterministic stride doubled
// per level. The input is not mutated.
func ApplyPressure(level int, smallRate, mediumRate float64, interval uint64) (float64, float64, uint64) {
	for i := 0; i < level; i++ {
		smallRate /= 2
		mediumRate /= 2
		if interval > 0 {
			interval *= 2
		}
	}
	return smallRate, mediumRate, interval
}
