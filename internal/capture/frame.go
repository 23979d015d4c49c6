package capture

import (
	"image"
	"sync/atomic"
	"time"
)

// Frame is one captured image of a source window.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// Slot holds the most recent frame of a session. One goroutine writes while
// any number read; readers never block the writer and never see a partially
// written frame. Frames are immutable once written.
type Slot struct {
	latest atomic.Pointer[Frame]
}

// Write publishes f, replacing the previous frame.
func (s *Slot) Write(f *Frame) {
	s.latest.Store(f)
}

// Latest returns the newest frame, or nil if none has been written.
func (s *Slot) Latest() *Frame {
	return s.latest.Load()
}
