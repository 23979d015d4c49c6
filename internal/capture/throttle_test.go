package capture

import (
	"math/rand"
	"testing"
	"time"
)

// maxInWindow returns the most timestamps falling in any closed one-second
// window.
func maxInWindow(ts []time.Time) int {
	best := 0
	j := 0
	for i := range ts {
		for ts[i].Sub(ts[j]) > time.Second {
			j++
		}
		if n := i - j + 1; n > best {
			best = n
		}
	}
	return best
}

func TestThrottleBoundsEveryPreset(t *testing.T) {
	producers := []time.Duration{
		time.Millisecond,
		4 * time.Millisecond,
		16666 * time.Microsecond,
		33 * time.Millisecond,
		199 * time.Millisecond,
	}
	for _, fps := range FPSPresets {
		for _, period := range producers {
			th := newThrottle(fps)
			var accepted []time.Time
			for ts := epoch; ts.Before(epoch.Add(5 * time.Second)); ts = ts.Add(period) {
				if th.admit(ts) {
					accepted = append(accepted, ts)
				}
			}
			if got := maxInWindow(accepted); got > int(fps)+1 {
				t.Errorf("fps %d, producer every %v: %d frames in one second", fps, period, got)
			}
			producerRate := int(time.Second / period)
			if producerRate >= int(fps) && len(accepted) < int(fps)*5-int(fps)/2 {
				t.Errorf("fps %d, producer every %v: only %d frames in 5s", fps, period, len(accepted))
			}
		}
	}
}

func TestThrottleJitteryProducer(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, fps := range FPSPresets {
		th := newThrottle(fps)
		var accepted []time.Time
		ts := epoch
		for i := 0; i < 20000; i++ {
			ts = ts.Add(time.Duration(rng.Int63n(int64(3 * time.Millisecond))))
			if th.admit(ts) {
				accepted = append(accepted, ts)
			}
		}
		if got := maxInWindow(accepted); got > int(fps)+1 {
			t.Errorf("fps %d: %d frames in one second", fps, got)
		}
		for i := 1; i < len(accepted); i++ {
			if !accepted[i].After(accepted[i-1]) {
				t.Fatalf("fps %d: accepted timestamps not increasing at %d", fps, i)
			}
		}
	}
}

func TestThrottleResyncsAfterGap(t *testing.T) {
	th := newThrottle(30)
	if !th.admit(epoch) {
		t.Fatal("first frame rejected")
	}
	later := epoch.Add(10 * time.Second)
	if !th.admit(later) {
		t.Fatal("frame after idle gap rejected")
	}
	// No banked burst: the next frame must wait a full interval.
	if th.admit(later.Add(time.Millisecond)) {
		t.Error("burst admitted after idle gap")
	}
}

func TestNormalizeFPS(t *testing.T) {
	tests := []struct {
		in   int
		want FPS
	}{
		{-3, 30}, {0, 30}, {1, 5}, {5, 5}, {10, 5}, {11, 15}, {22, 15}, {23, 30}, {45, 30}, {46, 60}, {1000, 60},
	}
	for _, tt := range tests {
		if got := NormalizeFPS(tt.in); got != tt.want {
			t.Errorf("NormalizeFPS(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
	for _, p := range FPSPresets {
		if !p.Valid() || p.Interval()*time.Duration(p) < time.Second {
			t.Errorf("preset %d: interval %v too short", p, p.Interval())
		}
	}
}
