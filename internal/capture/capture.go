package capture

import (
	"context"
	"errors"
	"fmt"
)

// SourceID identifies a capturable window. It is opaque outside the backend
// that produced it; on X11 it is the window XID.
type SourceID uint64

func (id SourceID) String() string {
	return fmt.Sprintf("0x%x", uint64(id))
}

var (
	// ErrSourceUnavailable is reported when a window disappears, is
	// destroyed, or refuses capture.
	ErrSourceUnavailable = errors.New("capture source unavailable")

	// ErrCaptureStall is reported when a live stream stops delivering frames.
	ErrCaptureStall = errors.New("capture stalled")
)

// Capability abstracts the platform capture API.
type Capability interface {
	// Begin starts capturing a source. Frames arrive on the returned stream
	// until it ends or is closed.
	Begin(ctx context.Context, id SourceID) (Stream, error)
}

// Stream is an open capture of a single source.
type Stream interface {
	// Frames is closed when the source stops producing for good.
	Frames() <-chan *Frame

	// Err reports why Frames was closed. It is only meaningful after that.
	Err() error

	// Close ends the capture and returns once the platform handle has been
	// released. It is safe to call more than once.
	Close() error
}
