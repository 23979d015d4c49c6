package capture

import (
	"errors"
	"sort"
	"sync"

	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/sourcegraph/conc"
)

// ErrUnboundEntity is returned when binding with an empty entity id.
var ErrUnboundEntity = errors.New("entity id required")

// StatusEvent reports a session transition together with the entities bound
// to that source at the time.
type StatusEvent struct {
	Source   SourceID
	Status   Status
	Err      error
	Entities []string

	// Exhausted marks the terminal event of a session that gave up
	// retrying. The coordinator has already dropped its bindings.
	Exhausted bool
}

type binding struct {
	session *Session
	refs    map[string]struct{}
	hidden  map[string]struct{}
}

// syncPauseLocked pauses the session while every bound entity is hidden.
func (b *binding) syncPauseLocked() {
	if len(b.refs) > 0 && len(b.hidden) == len(b.refs) {
		b.session.Pause()
	} else {
		b.session.Resume()
	}
}

// Coordinator shares one Session per source among the previews that display
// it. A session exists exactly while at least one entity is bound to its
// source. The registry lock is held only for map updates, never across a
// session start or stop.
type Coordinator struct {
	capability Capability
	cfg        SessionConfig
	onEvent    func(StatusEvent)

	mu       sync.Mutex
	sessions map[SourceID]*binding
	entities map[string]SourceID
}

// NewCoordinator creates an empty registry. onEvent may be nil; it is called
// from session goroutines.
func NewCoordinator(capability Capability, cfg SessionConfig, onEvent func(StatusEvent)) *Coordinator {
	return &Coordinator{
		capability: capability,
		cfg:        cfg,
		onEvent:    onEvent,
		sessions:   make(map[SourceID]*binding),
		entities:   make(map[string]SourceID),
	}
}

// Bind attaches an entity to a source, starting a session if none exists.
// The fps of the most recent Bind wins for a shared session. Binding an
// entity that is already bound elsewhere moves it.
func (c *Coordinator) Bind(entityID string, source SourceID, fps FPS) error {
	if entityID == "" {
		return ErrUnboundEntity
	}
	fps = NormalizeFPS(int(fps))

	var toStart, toStop *Session

	c.mu.Lock()
	if prev, ok := c.entities[entityID]; ok && prev != source {
		toStop = c.releaseLocked(entityID)
	}
	b := c.sessions[source]
	if b == nil {
		s := NewSession(source, fps, c.capability, c.cfg, c.handleStatus)
		b = &binding{session: s, refs: make(map[string]struct{}), hidden: make(map[string]struct{})}
		c.sessions[source] = b
		toStart = s
	}
	b.refs[entityID] = struct{}{}
	delete(b.hidden, entityID)
	b.syncPauseLocked()
	c.entities[entityID] = source
	session := b.session
	c.mu.Unlock()

	session.SetFPS(fps)
	if toStart != nil {
		logger.WithComponent("coordinator").Info().
			Str("source", source.String()).
			Int("fps", int(fps)).
			Msg("Starting capture session")
		toStart.Start()
	}
	if toStop != nil {
		toStop.Stop()
	}
	return nil
}

// Unbind detaches an entity. The last unbind of a source stops its session
// and waits for the capture handle to be released.
func (c *Coordinator) Unbind(entityID string) {
	c.mu.Lock()
	toStop := c.releaseLocked(entityID)
	c.mu.Unlock()

	if toStop != nil {
		logger.WithComponent("coordinator").Info().
			Str("source", toStop.ID().String()).
			Msg("Stopping capture session")
		toStop.Stop()
	}
}

// releaseLocked drops an entity's reference and returns the session to stop
// if it was the last one.
func (c *Coordinator) releaseLocked(entityID string) *Session {
	source, ok := c.entities[entityID]
	if !ok {
		return nil
	}
	delete(c.entities, entityID)

	b := c.sessions[source]
	if b == nil {
		return nil
	}
	delete(b.refs, entityID)
	delete(b.hidden, entityID)
	if len(b.refs) > 0 {
		b.syncPauseLocked()
		return nil
	}
	delete(c.sessions, source)
	return b.session
}

// SetFPS updates the rate of the session an entity is bound to.
func (c *Coordinator) SetFPS(entityID string, fps FPS) {
	c.mu.Lock()
	var session *Session
	if source, ok := c.entities[entityID]; ok {
		if b := c.sessions[source]; b != nil {
			session = b.session
		}
	}
	c.mu.Unlock()

	if session != nil {
		session.SetFPS(fps)
	}
}

// SetVisible records whether an entity is on screen. A session whose
// entities are all off screen is paused and releases its capture stream.
func (c *Coordinator) SetVisible(entityID string, visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source, ok := c.entities[entityID]
	if !ok {
		return
	}
	b := c.sessions[source]
	if b == nil {
		return
	}
	if visible {
		delete(b.hidden, entityID)
	} else {
		b.hidden[entityID] = struct{}{}
	}
	b.syncPauseLocked()
}

// Paused reports whether the session for a source is paused.
func (c *Coordinator) Paused(source SourceID) bool {
	c.mu.Lock()
	b := c.sessions[source]
	c.mu.Unlock()

	return b != nil && b.session.Paused()
}

// StatusOf reports the state of the session for a source. The second result
// is false when no session exists.
func (c *Coordinator) StatusOf(source SourceID) (Status, bool) {
	c.mu.Lock()
	b := c.sessions[source]
	c.mu.Unlock()

	if b == nil {
		return StatusStopped, false
	}
	return b.session.Status(), true
}

// Latest returns the newest frame for a source, or nil.
func (c *Coordinator) Latest(source SourceID) *Frame {
	c.mu.Lock()
	b := c.sessions[source]
	c.mu.Unlock()

	if b == nil {
		return nil
	}
	return b.session.Slot().Latest()
}

// Bound reports the source an entity is bound to.
func (c *Coordinator) Bound(entityID string) (SourceID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	source, ok := c.entities[entityID]
	return source, ok
}

// Sources lists the sources with a live session, sorted.
func (c *Coordinator) Sources() []SourceID {
	c.mu.Lock()
	out := make([]SourceID, 0, len(c.sessions))
	for id := range c.sessions {
		out = append(out, id)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StopAll unbinds everything and stops all sessions concurrently.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, b := range c.sessions {
		sessions = append(sessions, b.session)
	}
	c.sessions = make(map[SourceID]*binding)
	c.entities = make(map[string]SourceID)
	c.mu.Unlock()

	var wg conc.WaitGroup
	for _, s := range sessions {
		wg.Go(s.Stop)
	}
	wg.Wait()
}

func (c *Coordinator) handleStatus(s *Session, status Status, err error, exhausted bool) {
	c.mu.Lock()
	b := c.sessions[s.ID()]
	if b == nil || b.session != s {
		c.mu.Unlock()
		return
	}
	entities := make([]string, 0, len(b.refs))
	for id := range b.refs {
		entities = append(entities, id)
	}
	if exhausted {
		delete(c.sessions, s.ID())
		for _, id := range entities {
			delete(c.entities, id)
		}
	}
	c.mu.Unlock()

	sort.Strings(entities)

	if exhausted {
		logger.WithComponent("coordinator").Warn().
			Err(err).
			Str("source", s.ID().String()).
			Strs("entities", entities).
			Msg("Capture source gone, previews going offline")
	}

	if c.onEvent != nil {
		c.onEvent(StatusEvent{
			Source:    s.ID(),
			Status:    status,
			Err:       err,
			Entities:  entities,
			Exhausted: exhausted,
		})
	}
}
