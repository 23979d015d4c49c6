package capture

import "time"

// FPS is a per-preview frame-rate cap.
type FPS int

// Allowed frame-rate presets.
var FPSPresets = []FPS{5, 15, 30, 60}

// DefaultFPS applies when nothing else is specified.
const DefaultFPS FPS = 30

// Valid reports whether f is one of FPSPresets.
func (f FPS) Valid() bool {
	for _, p := range FPSPresets {
		if f == p {
			return true
		}
	}
	return false
}

// NormalizeFPS snaps any value to the nearest preset. Ties go to the lower
// preset; non-positive values become DefaultFPS.
func NormalizeFPS(n int) FPS {
	if n <= 0 {
		return DefaultFPS
	}
	best := FPSPresets[0]
	bestDist := abs(n - int(best))
	for _, p := range FPSPresets[1:] {
		if d := abs(n - int(p)); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// Interval is the minimum spacing of accepted frames, rounded up so that a
// full second never holds more than f intervals.
func (f FPS) Interval() time.Duration {
	if f <= 0 {
		f = DefaultFPS
	}
	return (time.Second + time.Duration(f) - 1) / time.Duration(f)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
