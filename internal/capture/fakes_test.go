package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// scriptedCapability hands every opened stream to the test, which then
// drives it by hand.
type scriptedCapability struct {
	mu     sync.Mutex
	begins map[SourceID]int
	fail   func(id SourceID, attempt int) error

	began   chan SourceID
	streams chan *scriptedStream
}

func newScriptedCapability() *scriptedCapability {
	return &scriptedCapability{
		begins:  make(map[SourceID]int),
		began:   make(chan SourceID, 1024),
		streams: make(chan *scriptedStream, 1024),
	}
}

func (c *scriptedCapability) Begin(ctx context.Context, id SourceID) (Stream, error) {
	c.mu.Lock()
	c.begins[id]++
	attempt := c.begins[id]
	fail := c.fail
	c.mu.Unlock()

	c.began <- id
	if fail != nil {
		if err := fail(id, attempt); err != nil {
			return nil, err
		}
	}
	s := &scriptedStream{id: id, frames: make(chan *Frame, 16), closed: make(chan struct{})}
	c.streams <- s
	return s, nil
}

func (c *scriptedCapability) nextStream(t *testing.T) *scriptedStream {
	t.Helper()
	select {
	case s := <-c.streams:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

func (c *scriptedCapability) waitBegin(t *testing.T) SourceID {
	t.Helper()
	select {
	case id := <-c.began:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("Begin not called")
		return 0
	}
}

type scriptedStream struct {
	id     SourceID
	frames chan *Frame
	err    error
	closed chan struct{}
	once   sync.Once
}

func (s *scriptedStream) Frames() <-chan *Frame { return s.frames }
func (s *scriptedStream) Err() error            { return s.err }

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// end finishes the stream as a vanished window would.
func (s *scriptedStream) end(err error) {
	s.err = err
	close(s.frames)
}

func (s *scriptedStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type statusEvent struct {
	status    Status
	err       error
	exhausted bool
}

type statusLog struct {
	ch chan statusEvent
}

func newStatusLog() *statusLog {
	return &statusLog{ch: make(chan statusEvent, 256)}
}

func (l *statusLog) record(_ *Session, status Status, err error, exhausted bool) {
	l.ch <- statusEvent{status: status, err: err, exhausted: exhausted}
}

func (l *statusLog) next(t *testing.T) statusEvent {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no status change")
		return statusEvent{}
	}
}

func (l *statusLog) expect(t *testing.T, want Status) statusEvent {
	t.Helper()
	ev := l.next(t)
	if ev.status != want {
		t.Fatalf("status = %v (err %v), want %v", ev.status, ev.err, want)
	}
	return ev
}

// waitForTimers blocks until n timers or tickers are pending on c.
func waitForTimers(t *testing.T, c *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func frameAt(d time.Duration) *Frame {
	return &Frame{CapturedAt: epoch.Add(d)}
}
