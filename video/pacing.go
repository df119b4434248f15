package video

import "time"

// frameGate forwards frames no faster than the target interval, measured on
// presentation timestamps. A small tolerance keeps jittery timestamps from
// starving the gate.
type frameGate struct {
	interval  time.Duration
	tolerance time.Duration
	last      time.Duration
	started   bool
}

func newFrameGate(frameRate float64, tolerance time.Duration) *frameGate {
	return &frameGate{
		interval:  frameInterval(frameRate),
		tolerance: tolerance,
	}
}

// frameInterval is 1000/frameRate milliseconds.
func frameInterval(frameRate float64) time.Duration {
	return time.Duration(float64(time.Second) / frameRate)
}

// allow reports whether a frame at pts should be forwarded and records it if
// so. A timestamp at or before the last forwarded one is never forwarded.
func (g *frameGate) allow(pts time.Duration) bool {
	if !g.started {
		g.started = true
		g.last = pts
		return true
	}
	if pts <= g.last {
		return false
	}
	if pts-g.last < g.interval-g.tolerance {
		return false
	}
	g.last = pts
	return true
}
