// Package engine owns the canvas: previews, the view, capture bindings, and
// the render and autosave loops. All state changes are explicit Command
// values applied on a single goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/layout"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/bryanchriswhite/pluriview/internal/notify"
	"github.com/bryanchriswhite/pluriview/internal/preview"
	"github.com/bryanchriswhite/pluriview/internal/render"
	"github.com/bryanchriswhite/pluriview/internal/window"
)

var (
	ErrUnknownPreview = errors.New("unknown preview")
	ErrEngineStopped  = errors.New("engine stopped")
	ErrNoSource       = errors.New("source id required")
	ErrOffline        = errors.New("preview is offline")
	ErrNoFrame        = errors.New("no frame captured yet")
	ErrNoActivator    = errors.New("window activation unavailable")
	ErrNoWindows      = errors.New("window enumeration unavailable")
	ErrNoThumbnails   = errors.New("window thumbnails unavailable")
)

// Thumbnailer grabs a single still of a window. capture.X11Capability
// satisfies it.
type Thumbnailer interface {
	Snapshot(id capture.SourceID) (*image.RGBA, error)
}

// Deps are the collaborators an Engine drives. Only Capability is required.
type Deps struct {
	Capability capture.Capability
	Windows    window.Provider
	Activator  window.Activator
	Thumbnails Thumbnailer
	Surface    render.Surface
	Store      *layout.Store
	Notifier   notify.Notifier
}

type request struct {
	cmd   Command
	reply chan reply
}

type reply struct {
	res Result
	err error
}

// Engine is the capture-and-composition core. Board and view are touched only
// by the goroutine running Run (or by the caller of Apply before Run starts);
// other goroutines go through Submit and State.
type Engine struct {
	opts Options
	deps Deps

	board    *preview.Board
	view     *canvas.View
	coord    *capture.Coordinator
	showGrid bool

	requests chan request
	wake     chan struct{}

	inboxMu sync.Mutex
	inbox   []capture.StatusEvent

	listenersMu sync.RWMutex
	listeners   map[chan Event]struct{}
	closed      bool

	state   atomic.Pointer[State]
	running atomic.Bool
	done    chan struct{}
}

// New builds an engine with an empty canvas.
func New(opts Options, deps Deps) *Engine {
	opts = opts.normalized()
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}

	e := &Engine{
		opts:      opts,
		deps:      deps,
		board:     preview.NewBoard(opts.Limits),
		view:      canvas.NewView(opts.ZoomMin, opts.ZoomMax),
		requests:  make(chan request),
		wake:      make(chan struct{}, 1),
		listeners: make(map[chan Event]struct{}),
		done:      make(chan struct{}),
	}
	e.coord = capture.NewCoordinator(deps.Capability, opts.Session, e.enqueue)
	e.publishState()
	return e
}

// enqueue runs on session goroutines. It only records the event; the engine
// goroutine applies it.
func (e *Engine) enqueue(ev capture.StatusEvent) {
	e.inboxMu.Lock()
	e.inbox = append(e.inbox, ev)
	e.inboxMu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) drainEvents() bool {
	e.inboxMu.Lock()
	events := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()

	for _, ev := range events {
		e.handleCaptureEvent(ev)
	}
	return len(events) > 0
}

func (e *Engine) handleCaptureEvent(ev capture.StatusEvent) {
	if !ev.Exhausted {
		for _, id := range ev.Entities {
			e.emit(Event{Kind: EventStatus, EntityID: id, Source: ev.Source.String(), Status: ev.Status.String(), Error: errString(ev.Err)})
		}
		return
	}

	log := logger.WithComponent("engine")
	for _, id := range ev.Entities {
		ent, ok := e.board.Get(id)
		if !ok || ent.Offline || ent.Source != ev.Source {
			continue
		}
		// Rebound since the session gave up.
		if _, bound := e.coord.Bound(id); bound {
			continue
		}
		ent.Offline = true
		log.Warn().
			Str("entity_id", id).
			Str("source", ev.Source.String()).
			Err(ev.Err).
			Msg("Preview offline")
		e.emit(Event{Kind: EventOffline, EntityID: id, Source: ev.Source.String(), Status: "offline", Error: errString(ev.Err)})
	}
}

// Apply runs a command synchronously. It must only be called from the
// goroutine that owns the engine: before Run starts, or in tests.
func (e *Engine) Apply(cmd Command) (Result, error) {
	e.drainEvents()
	res, err := cmd.apply(e)
	e.updateCulling()
	e.publishState()
	return res, err
}

// updateCulling pauses capture for previews outside the viewport. A source
// shown by several previews keeps capturing while any of them is visible.
func (e *Engine) updateCulling() {
	w, h := e.viewportSize()
	visible := e.view.Visible(float64(w), float64(h))
	for _, ent := range e.board.Ordered() {
		if ent.Offline {
			continue
		}
		e.coord.SetVisible(ent.ID, visible.Intersects(ent.Rect))
	}
}

// Submit queues a command for the running engine and waits for its result.
func (e *Engine) Submit(ctx context.Context, cmd Command) (Result, error) {
	req := request{cmd: cmd, reply: make(chan reply, 1)}
	select {
	case e.requests <- req:
	case <-e.done:
		return Result{}, ErrEngineStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run drives the engine until ctx is cancelled: it applies submitted
// commands, folds in capture status changes, renders on every tick, and
// autosaves. On exit it saves the layout and stops all capture sessions.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer close(e.done)

	log := logger.WithComponent("engine")

	renderTicker := e.opts.Clock.NewTicker(e.opts.RenderInterval)
	defer renderTicker.Stop()

	var autosave <-chan time.Time
	if e.deps.Store != nil && e.opts.AutosaveInterval > 0 {
		t := e.opts.Clock.NewTicker(e.opts.AutosaveInterval)
		defer t.Stop()
		autosave = t.Chan()
	}

	log.Info().
		Dur("render_interval", e.opts.RenderInterval).
		Dur("autosave_interval", e.opts.AutosaveInterval).
		Int("previews", e.board.Len()).
		Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			log.Info().Msg("Engine stopped")
			return nil
		case req := <-e.requests:
			res, err := e.Apply(req.cmd)
			req.reply <- reply{res: res, err: err}
		case <-e.wake:
			if e.drainEvents() {
				e.publishState()
			}
		case <-renderTicker.Chan():
			if e.drainEvents() {
				e.publishState()
			}
			e.drawFrame()
		case <-autosave:
			e.save()
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) shutdown() {
	e.drainEvents()
	e.save()
	e.coord.StopAll()
	e.publishState()
	e.closeListeners()
}

// drawFrame hands one frame of instructions to the surface. It never waits
// on capture; it only reads the latest frame of each slot.
func (e *Engine) drawFrame() {
	if e.deps.Surface == nil {
		return
	}
	w, h := e.deps.Surface.Size()
	scene := render.Scene{
		Grid:         render.PlanGrid(e.view, e.opts.Grid, e.showGrid),
		Instructions: render.Plan(e.board.Ordered(), e.view, e.coord, w, h),
	}
	if err := e.deps.Surface.Draw(scene); err != nil {
		logger.WithComponent("engine").Debug().Err(err).Msg("Render failed")
	}
}

// save persists the layout. A failure leaves memory untouched and is
// reported as a warning, not returned to any caller but SaveLayout.
func (e *Engine) save() (bool, error) {
	if e.deps.Store == nil {
		return false, nil
	}
	wrote, err := e.deps.Store.Save(e.snapshot())
	if err != nil {
		logger.WithComponent("engine").Warn().
			Err(err).
			Str("path", e.deps.Store.Path()).
			Msg("Layout save failed, keeping in-memory state")
		e.deps.Notifier.Warn("Layout not saved", err.Error())
		e.emit(Event{Kind: EventSaveFailed, Error: err.Error()})
		return false, err
	}
	if wrote {
		e.emit(Event{Kind: EventSaved})
	}
	return wrote, nil
}

// Restore loads the saved layout, binding every preview whose window could
// be found and keeping the rest offline. Call it before Run.
func (e *Engine) Restore() layout.Report {
	if e.deps.Store == nil {
		return layout.Report{}
	}
	log := logger.WithComponent("engine")

	var resolver layout.Resolver
	if e.deps.Windows != nil {
		resolver = window.NewResolver(e.deps.Windows)
	}
	snap, report := e.deps.Store.Load(resolver)

	for _, ent := range snap.Entities {
		stored, err := e.board.Add(ent, false)
		if err != nil {
			log.Error().Err(err).Str("entity_id", ent.ID).Msg("Skipping restored preview")
			continue
		}
		if stored.Offline {
			continue
		}
		if err := e.coord.Bind(stored.ID, stored.Source, stored.FPS); err != nil {
			log.Error().Err(err).Str("entity_id", stored.ID).Msg("Failed to bind restored preview")
			stored.Offline = true
		}
	}
	e.view.Restore(snap.Offset, snap.Zoom)
	e.view.SetSelection(snap.Selection)
	e.showGrid = snap.ShowGrid

	if report.Corrupt != nil {
		body := report.Corrupt.Error()
		switch {
		case report.BackupPath != "":
			body = fmt.Sprintf("%s; the old file was kept as %s", body, report.BackupPath)
		case report.Protected:
			body = fmt.Sprintf("%s; saving is disabled until the layout is reset", body)
		}
		e.deps.Notifier.Warn("Layout could not be read, starting empty", body)
	}

	e.updateCulling()
	e.publishState()
	return report
}

// Windows lists capturable windows for the picker.
func (e *Engine) Windows() ([]window.Info, error) {
	if e.deps.Windows == nil {
		return nil, ErrNoWindows
	}
	return e.deps.Windows.ListWindows()
}

// Thumbnail grabs a still of a window, at most maxWidth pixels wide. It is
// safe to call from any goroutine.
func (e *Engine) Thumbnail(id capture.SourceID, maxWidth int) (*image.RGBA, error) {
	if e.deps.Thumbnails == nil {
		return nil, ErrNoThumbnails
	}
	img, err := e.deps.Thumbnails.Snapshot(id)
	if err != nil {
		return nil, fmt.Errorf("thumbnail %s: %w", id, err)
	}
	return render.ScaleToWidth(img, maxWidth), nil
}

func (e *Engine) viewportSize() (int, int) {
	if e.deps.Surface != nil {
		if w, h := e.deps.Surface.Size(); w > 0 && h > 0 {
			return w, h
		}
	}
	return e.opts.ViewportWidth, e.opts.ViewportHeight
}

func (e *Engine) entity(id string) (*preview.Entity, error) {
	ent, ok := e.board.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreview, id)
	}
	return ent, nil
}
