package output

import (
	"fmt"
	"image"
)

// Output is a sink for composited canvas frames.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame hands one composited frame to the output. The output may
	// keep a reference; callers must not reuse the image afterwards.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int
}

// Multi fans frames out to several outputs. A failing output does not keep
// the others from receiving the frame; the first error is returned.
type Multi []Output

// WriteFrame hands frame to every running output.
func (m Multi) WriteFrame(frame *image.RGBA) error {
	var first error
	for _, o := range m {
		if !o.IsRunning() {
			continue
		}
		if err := o.WriteFrame(frame); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", o.Name(), err)
		}
	}
	return first
}

// Stop stops every output.
func (m Multi) Stop() error {
	var first error
	for _, o := range m {
		if err := o.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
