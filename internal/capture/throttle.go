package capture

import "time"

// throttle decides which producer frames a session keeps. Accepted timestamps
// sit on a grid spaced by the fps interval, so producer jitter cannot push
// more than fps frames into any one-second window (plus one at the boundary).
// It is not safe for concurrent use; Session guards it.
type throttle struct {
	interval     time.Duration
	nextDue      time.Time
	lastAccepted time.Time
}

func newThrottle(fps FPS) *throttle {
	return &throttle{interval: fps.Interval()}
}

// admit reports whether a frame captured at ts should be kept and, if so,
// advances the grid.
func (t *throttle) admit(ts time.Time) bool {
	if !t.lastAccepted.IsZero() && !ts.After(t.lastAccepted) {
		return false
	}
	if !t.nextDue.IsZero() && ts.Before(t.nextDue) {
		return false
	}

	t.lastAccepted = ts
	if t.nextDue.IsZero() {
		t.nextDue = ts
	}
	t.nextDue = t.nextDue.Add(t.interval)
	if !t.nextDue.After(ts) {
		// Resync after a gap so an idle period does not bank a burst.
		t.nextDue = ts.Add(t.interval)
	}
	return true
}

func (t *throttle) setFPS(fps FPS) {
	t.interval = fps.Interval()
	if !t.lastAccepted.IsZero() {
		t.nextDue = t.lastAccepted.Add(t.interval)
	}
}
