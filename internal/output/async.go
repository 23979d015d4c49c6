package output

import (
	"errors"
	"image"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// ErrNotRunning is returned for frames written to a stopped output.
var ErrNotRunning = errors.New("output not running")

// FrameWriter receives frames. Every Output and Multi satisfy it.
type FrameWriter interface {
	WriteFrame(frame *image.RGBA) error
}

// Async hands frames to a slower writer on its own goroutine. WriteFrame
// never blocks: a frame the worker has not picked up yet is replaced by the
// newer one.
type Async struct {
	next FrameWriter

	mu      sync.Mutex
	pending *image.RGBA
	running bool
	dropped uint64
	wake    chan struct{}
	stop    chan struct{}
	wg      conc.WaitGroup
}

// NewAsync wraps next. Call Start before writing.
func NewAsync(next FrameWriter) *Async {
	return &Async{next: next}
}

func (a *Async) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.wake = make(chan struct{}, 1)
	a.stop = make(chan struct{})
	wake, stop := a.wake, a.stop
	a.wg.Go(func() { a.loop(wake, stop) })
	return nil
}

// Stop waits for the frame being written, then drops any pending one.
func (a *Async) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	close(a.stop)
	a.mu.Unlock()

	a.wg.Wait()

	a.mu.Lock()
	a.pending = nil
	a.mu.Unlock()
	return nil
}

func (a *Async) WriteFrame(frame *image.RGBA) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrNotRunning
	}
	if a.pending != nil {
		a.dropped++
	}
	a.pending = frame
	wake := a.wake
	a.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	return nil
}

func (a *Async) Name() string { return "async" }

func (a *Async) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Dropped counts frames replaced before the writer took them.
func (a *Async) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *Async) loop(wake, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-wake:
		}

		a.mu.Lock()
		frame := a.pending
		a.pending = nil
		a.mu.Unlock()
		if frame == nil {
			continue
		}
		if err := a.next.WriteFrame(frame); err != nil {
			logger.WithComponent("output").Debug().Err(err).Msg("Frame write failed")
		}
	}
}
