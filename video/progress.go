package video

import (
	"math"
	"time"
)

// ProgressFunc receives completion percentages in [0, 100].
type ProgressFunc func(percent float64)

// progressTracker reports non-decreasing percentages derived from the
// position of forwarded frames in the source duration.
type progressTracker struct {
	duration time.Duration
	notify   ProgressFunc
	last     float64
	emitted  bool
}

func newProgressTracker(duration time.Duration, notify ProgressFunc) *progressTracker {
	return &progressTracker{duration: duration, notify: notify}
}

// update reports the progress at current. Nothing is reported for sources
// with an unknown (zero) duration.
func (p *progressTracker) update(current time.Duration) {
	if p.duration <= 0 {
		return
	}
	pct := math.Min(float64(current)/float64(p.duration)*100, 100)
	p.emit(math.Max(pct, 0))
}

// complete reports 100 once the source is exhausted.
func (p *progressTracker) complete() {
	if p.duration <= 0 {
		return
	}
	p.emit(100)
}

func (p *progressTracker) emit(pct float64) {
	if p.emitted && pct <= p.last {
		return
	}
	p.last = pct
	p.emitted = true
	if p.notify != nil {
		p.notify(pct)
	}
}
