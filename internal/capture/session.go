package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// errPaused ends an attempt when the session is paused.
var errPaused = errors.New("capture paused")

// Status is the lifecycle state of a capture session.
type Status int

const (
	StatusStarting Status = iota
	StatusLive
	StatusLost
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusLive:
		return "live"
	case StatusLost:
		return "lost"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionConfig tunes failure handling.
type SessionConfig struct {
	StallTimeout time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Clock        clockwork.Clock
}

// DefaultSessionConfig matches the shipped config defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		StallTimeout: 3 * time.Second,
		MaxRetries:   5,
		BackoffBase:  250 * time.Millisecond,
		BackoffMax:   8 * time.Second,
		Clock:        clockwork.NewRealClock(),
	}
}

// StatusFunc observes session transitions. Exhausted is true only for the
// final Stopped transition caused by running out of retries. It runs on the
// session goroutine and must not call Stop.
type StatusFunc func(s *Session, status Status, err error, exhausted bool)

// Session owns the capture of one source window. It feeds a Slot from a
// Capability stream, rate-limited to its fps, and recovers from lost sources
// with bounded exponential backoff. A paused session holds no stream and
// keeps its status.
type Session struct {
	id         SourceID
	capability Capability
	cfg        SessionConfig
	slot       Slot
	onStatus   StatusFunc

	mu       sync.Mutex
	status   Status
	lastErr  error
	throttle *throttle
	retry    backoff.BackOff
	paused   bool
	started  bool
	stopping bool

	wakeup chan struct{}

	lastDelivery time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewSession creates a session in Starting. Call Start to begin capturing.
func NewSession(id SourceID, fps FPS, capability Capability, cfg SessionConfig, onStatus StatusFunc) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultSessionConfig().StallTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultSessionConfig().BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if !fps.Valid() {
		fps = NormalizeFPS(int(fps))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:         id,
		capability: capability,
		cfg:        cfg,
		onStatus:   onStatus,
		status:     StatusStarting,
		throttle:   newThrottle(fps),
		retry:      newRetry(cfg),
		wakeup:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// ID returns the captured source.
func (s *Session) ID() SourceID { return s.id }

// Slot returns the session's frame slot.
func (s *Session) Slot() *Slot { return &s.slot }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error behind the last Lost or Stopped transition.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetFPS changes the throttle for subsequent frames.
func (s *Session) SetFPS(fps FPS) {
	if !fps.Valid() {
		fps = NormalizeFPS(int(fps))
	}
	s.mu.Lock()
	s.throttle.setFPS(fps)
	s.mu.Unlock()
}

// Pause releases the capture stream until Resume. Frames are not accepted
// while paused and a paused session is never marked Lost.
func (s *Session) Pause() {
	s.mu.Lock()
	changed := !s.paused
	s.paused = true
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

// Resume reopens capture after Pause.
func (s *Session) Resume() {
	s.mu.Lock()
	changed := s.paused
	s.paused = false
	s.mu.Unlock()
	if changed {
		s.signal()
	}
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Session) signal() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Start launches the capture goroutine. It does nothing after Stop.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
}

// Stop ends the session and returns only after the capture handle has been
// released and no further frame writes or status callbacks can happen.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		started := s.started
		s.mu.Unlock()

		s.cancel()
		if started {
			<-s.done
		} else {
			close(s.done)
		}
		s.transition(StatusStopped, nil, false)
	})
}

// Done is closed when the capture goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Accept offers a frame to the session. It reports whether the frame was
// kept. Stream frames go through here; it is exported for capabilities that
// push frames directly.
func (s *Session) Accept(f *Frame) bool {
	if f == nil {
		return false
	}
	s.mu.Lock()
	if s.stopping || s.paused || s.status == StatusStopped {
		s.mu.Unlock()
		return false
	}
	if !s.throttle.admit(f.CapturedAt) {
		s.mu.Unlock()
		return false
	}
	s.slot.Write(f)
	s.mu.Unlock()

	s.transition(StatusLive, nil, false)
	return true
}

func (s *Session) run() {
	exhausted, err := s.loop()
	if exhausted {
		s.transition(StatusStopped, err, true)
	}
	close(s.done)
}

// loop runs capture attempts until the context is cancelled or the retry
// budget is spent.
func (s *Session) loop() (bool, error) {
	log := logger.WithComponent("capture").With().Str("source", s.id.String()).Logger()

	for {
		err := s.attempt()
		if s.ctx.Err() != nil {
			return false, nil
		}
		if errors.Is(err, errPaused) {
			log.Debug().Msg("Capture paused")
			if !s.waitResume() {
				return false, nil
			}
			log.Debug().Msg("Capture resumed")
			continue
		}
		if err == nil {
			err = ErrSourceUnavailable
		}

		s.transition(StatusLost, err, false)

		s.mu.Lock()
		delay := s.retry.NextBackOff()
		s.mu.Unlock()
		if delay == backoff.Stop {
			log.Warn().Err(err).Msg("Capture retry budget exhausted")
			return true, err
		}

		log.Debug().Err(err).Dur("backoff", delay).Msg("Retrying capture")

		select {
		case <-s.ctx.Done():
			return false, nil
		case <-s.cfg.Clock.After(delay):
		}
	}
}

// waitResume blocks while the session is paused. It reports false when the
// session was stopped first.
func (s *Session) waitResume() bool {
	for s.Paused() {
		select {
		case <-s.ctx.Done():
			return false
		case <-s.wakeup:
		}
	}
	return true
}

// attempt opens one stream and pumps it until it ends, stalls, or the
// session is stopped or paused. The stream is always closed before returning.
func (s *Session) attempt() error {
	if s.Paused() {
		return errPaused
	}
	stream, err := s.capability.Begin(s.ctx, s.id)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer stream.Close()

	s.mu.Lock()
	s.lastDelivery = s.cfg.Clock.Now()
	s.mu.Unlock()

	check := s.cfg.StallTimeout / 4
	if check <= 0 {
		check = s.cfg.StallTimeout
	}
	ticker := s.cfg.Clock.NewTicker(check)
	defer ticker.Stop()

	frames := stream.Frames()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				if err := stream.Err(); err != nil {
					return err
				}
				return ErrSourceUnavailable
			}
			s.mu.Lock()
			s.lastDelivery = s.cfg.Clock.Now()
			s.mu.Unlock()
			s.Accept(f)
		case <-s.wakeup:
			if s.Paused() {
				return errPaused
			}
		case <-ticker.Chan():
			if s.stalled(s.cfg.Clock.Now()) {
				return ErrCaptureStall
			}
		}
	}
}

func (s *Session) stalled(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// A reopened stream is held to the same deadline as a live one.
	return s.status != StatusStarting && now.Sub(s.lastDelivery) >= s.cfg.StallTimeout
}

// newRetry yields BackoffBase * 2^n capped at BackoffMax, for at most
// MaxRetries delays.
func newRetry(cfg SessionConfig) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               cfg.Clock,
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithMaxRetries(exp, uint64(retries))
	b.Reset()
	return b
}

// transition applies a status change and notifies the observer. Live resets
// the retry budget. Once Stopped, no further transitions happen.
func (s *Session) transition(to Status, err error, exhausted bool) {
	s.mu.Lock()
	from := s.status
	if from == to || from == StatusStopped {
		s.mu.Unlock()
		return
	}
	if to == StatusLive {
		if s.stopping {
			s.mu.Unlock()
			return
		}
		s.retry.Reset()
	}
	s.status = to
	s.lastErr = err
	s.mu.Unlock()

	logger.WithComponent("capture").Debug().
		Str("source", s.id.String()).
		Str("from", from.String()).
		Str("to", to.String()).
		Err(err).
		Msg("Session status changed")

	if s.onStatus != nil {
		s.onStatus(s, to, err, exhausted)
	}
}
