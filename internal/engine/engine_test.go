package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/layout"
	"github.com/bryanchriswhite/pluriview/internal/preview"
	"github.com/bryanchriswhite/pluriview/internal/render"
	"github.com/bryanchriswhite/pluriview/internal/window"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeCapability opens streams that deliver an optional first frame and then
// stay silent until closed.
type fakeCapability struct {
	mu     sync.Mutex
	broken map[capture.SourceID]bool
	frame  *capture.Frame
	open   map[capture.SourceID]int
}

func newFakeCapability() *fakeCapability {
	return &fakeCapability{
		broken: make(map[capture.SourceID]bool),
		open:   make(map[capture.SourceID]int),
	}
}

func (f *fakeCapability) Begin(ctx context.Context, id capture.SourceID) (capture.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[id] {
		return nil, capture.ErrSourceUnavailable
	}
	s := &fakeStream{frames: make(chan *capture.Frame, 1), owner: f, id: id}
	if f.frame != nil {
		s.frames <- f.frame
	}
	f.open[id]++
	return s, nil
}

func (f *fakeCapability) setBroken(id capture.SourceID, broken bool) {
	f.mu.Lock()
	f.broken[id] = broken
	f.mu.Unlock()
}

func (f *fakeCapability) openStreams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.open {
		n += c
	}
	return n
}

type fakeStream struct {
	frames chan *capture.Frame
	owner  *fakeCapability
	id     capture.SourceID
	once   sync.Once
}

func (s *fakeStream) Frames() <-chan *capture.Frame { return s.frames }
func (s *fakeStream) Err() error                    { return nil }
func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.open[s.id]--
		s.owner.mu.Unlock()
	})
	return nil
}

type fakeWindows []window.Info

func (f fakeWindows) ListWindows() ([]window.Info, error) { return f, nil }

type fakeActivator struct{ raised []capture.SourceID }

func (a *fakeActivator) BringToFront(id capture.SourceID) error {
	a.raised = append(a.raised, id)
	return nil
}

type fakeThumbnails struct {
	img *image.RGBA
	err error
}

func (f fakeThumbnails) Snapshot(capture.SourceID) (*image.RGBA, error) { return f.img, f.err }

type recordingNotifier struct {
	mu       sync.Mutex
	warnings []string
}

func (n *recordingNotifier) Warn(summary, body string) {
	n.mu.Lock()
	n.warnings = append(n.warnings, summary)
	n.mu.Unlock()
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Clock = clockwork.NewFakeClockAt(epoch)
	opts.Session.MaxRetries = 0
	opts.AutosaveInterval = time.Minute
	return opts
}

func newTestEngine(t *testing.T, deps Deps) (*Engine, *fakeCapability) {
	t.Helper()
	capability := newFakeCapability()
	deps.Capability = capability
	e := New(testOptions(), deps)
	t.Cleanup(e.coord.StopAll)
	return e, capability
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustApply(t *testing.T, e *Engine, cmd Command) Result {
	t.Helper()
	res, err := e.Apply(cmd)
	if err != nil {
		t.Fatalf("%T: %v", cmd, err)
	}
	return res
}

func TestSharedSourceSessionLifecycle(t *testing.T) {
	e, capability := newTestEngine(t, Deps{})

	a := mustApply(t, e, AddPreview{Source: 0x42, FPS: 30})
	b := mustApply(t, e, AddPreview{Source: 0x42, FPS: 60})

	if got := e.coord.Sources(); len(got) != 1 || got[0] != 0x42 {
		t.Fatalf("sessions = %v, want one for 0x42", got)
	}
	eventually(t, "stream open", func() bool { return capability.openStreams() == 1 })

	mustApply(t, e, DeletePreview{ID: a.EntityID})
	if _, ok := e.coord.StatusOf(0x42); !ok {
		t.Fatal("session stopped while a preview still shows the source")
	}

	mustApply(t, e, DeletePreview{ID: b.EntityID})
	if len(e.coord.Sources()) != 0 {
		t.Errorf("session survived its last preview: %v", e.coord.Sources())
	}
	if n := capability.openStreams(); n != 0 {
		t.Errorf("%d capture streams still open after the last delete", n)
	}

	if _, err := e.Apply(DeletePreview{ID: a.EntityID}); !errors.Is(err, ErrUnknownPreview) {
		t.Errorf("second delete = %v, want ErrUnknownPreview", err)
	}
}

func TestExhaustedSourceGoesOfflineAndRelinks(t *testing.T) {
	e, capability := newTestEngine(t, Deps{})
	capability.setBroken(0x10, true)

	res := mustApply(t, e, AddPreview{Source: 0x10, Hint: preview.DisplayHint{Title: "Gone"}})
	before, _ := e.board.Get(res.EntityID)
	rect := before.Rect

	eventually(t, "preview offline", func() bool {
		e.drainEvents()
		ent, _ := e.board.Get(res.EntityID)
		return ent.Offline
	})
	ent, _ := e.board.Get(res.EntityID)
	if ent.Rect != rect {
		t.Errorf("offline preview moved: %+v -> %+v", rect, ent.Rect)
	}
	if len(e.coord.Sources()) != 0 {
		t.Errorf("exhausted session still registered: %v", e.coord.Sources())
	}
	if _, err := e.Apply(Activate{At: e.view.ToScreen(ent.Rect.Center())}); !errors.Is(err, ErrOffline) {
		t.Errorf("Activate offline = %v, want ErrOffline", err)
	}

	mustApply(t, e, Relink{ID: res.EntityID, Source: 0x11, Hint: preview.DisplayHint{Title: "Back"}})
	ent, _ = e.board.Get(res.EntityID)
	if ent.Offline || ent.Source != 0x11 || ent.Hint.Title != "Back" {
		t.Errorf("after relink: %+v", ent)
	}
	if src, ok := e.coord.Bound(res.EntityID); !ok || src != 0x11 {
		t.Errorf("Bound = %v, %v; want 0x11", src, ok)
	}
	if p, _ := e.State().Preview(res.EntityID); p.Status == "offline" {
		t.Error("state still reports the relinked preview offline")
	}
}

func TestEditCommands(t *testing.T) {
	e, _ := newTestEngine(t, Deps{})
	at := canvas.Point{X: 0, Y: 0}
	size := canvas.Point{X: 400, Y: 200}
	res := mustApply(t, e, AddPreview{Source: 1, At: &at, Size: &size, FPS: 17})
	id := res.EntityID
	if res.FPS != 15 {
		t.Errorf("FPS = %d, want snapped to 15", res.FPS)
	}

	mustApply(t, e, ZoomAt{Anchor: canvas.Point{}, Factor: 2})
	mustApply(t, e, MovePreview{ID: id, Delta: canvas.Point{X: 100, Y: 40}})
	ent, _ := e.board.Get(id)
	if ent.Rect.X != 50 || ent.Rect.Y != 20 {
		t.Errorf("move at zoom 2: rect = %+v, want origin (50,20)", ent.Rect)
	}

	mustApply(t, e, MovePreview{ID: id, Delta: canvas.Point{X: 2, Y: -10}, Snap: true})
	ent, _ = e.board.Get(id)
	if ent.Rect.X != 50 || ent.Rect.Y != 0 {
		t.Errorf("snapped rect = %+v, want origin (50,0)", ent.Rect)
	}

	mustApply(t, e, ResizePreview{ID: id, Handle: preview.BottomRight, Delta: canvas.Point{X: 200, Y: 200}})
	ent, _ = e.board.Get(id)
	if ent.Rect.W != 500 || ent.Rect.H != 300 {
		t.Errorf("resize at zoom 2: %+v, want 500x300", ent.Rect)
	}

	// The preview is 1000 screen pixels wide at zoom 2.
	mustApply(t, e, CropPreview{ID: id, Handle: preview.Left, Delta: canvas.Point{X: 250}})
	ent, _ = e.board.Get(id)
	if ent.Crop.U0 != 0.25 || ent.Crop.U1 != 1 {
		t.Errorf("crop = %+v, want u0 0.25", ent.Crop)
	}
	if ent.Rect.W != 500 {
		t.Error("cropping changed the preview size")
	}
	mustApply(t, e, ResetCrop{ID: id})
	ent, _ = e.board.Get(id)
	if !ent.Crop.IsFull() {
		t.Errorf("crop after reset = %+v", ent.Crop)
	}

	if _, err := e.Apply(SetCropPixels{ID: id, Rect: image.Rect(0, 0, 10, 10)}); !errors.Is(err, ErrNoFrame) {
		t.Errorf("SetCropPixels without frame = %v, want ErrNoFrame", err)
	}

	if r := mustApply(t, e, SetFPS{ID: id, FPS: 59}); r.FPS != 60 {
		t.Errorf("SetFPS(59) = %d, want 60", r.FPS)
	}

	for _, cmd := range []Command{
		MovePreview{ID: "nope"}, ResizePreview{ID: "nope"}, CropPreview{ID: "nope"},
		ResetCrop{ID: "nope"}, SetFPS{ID: "nope", FPS: 5}, BringToFront{ID: "nope"}, SendToBack{ID: "nope"},
	} {
		if _, err := e.Apply(cmd); !errors.Is(err, ErrUnknownPreview) {
			t.Errorf("%T on unknown id = %v, want ErrUnknownPreview", cmd, err)
		}
	}
}

func TestSelectionCommands(t *testing.T) {
	activator := &fakeActivator{}
	e, _ := newTestEngine(t, Deps{Activator: activator})
	size := canvas.Point{X: 200, Y: 200}
	place := func(x, y float64, source capture.SourceID) string {
		at := canvas.Point{X: x, Y: y}
		return mustApply(t, e, AddPreview{Source: source, At: &at, Size: &size}).EntityID
	}
	bottom := place(0, 0, 1)
	top := place(100, 100, 2)
	far := place(1000, 1000, 3)

	res := mustApply(t, e, Click{At: canvas.Point{X: 150, Y: 150}})
	if res.EntityID != top || len(res.Selection) != 1 {
		t.Errorf("click on overlap = %+v, want only %s", res, top)
	}

	mustApply(t, e, SendToBack{ID: top})
	res = mustApply(t, e, Click{At: canvas.Point{X: 150, Y: 150}})
	if res.EntityID != bottom {
		t.Errorf("after SendToBack click hit %s, want %s", res.EntityID, bottom)
	}

	res = mustApply(t, e, Click{At: canvas.Point{X: 1100, Y: 1100}, Additive: true})
	if len(res.Selection) != 2 {
		t.Errorf("additive click selection = %v, want 2 ids", res.Selection)
	}

	res = mustApply(t, e, Click{At: canvas.Point{X: 5000, Y: 5000}})
	if len(res.Selection) != 0 {
		t.Errorf("click on empty canvas kept selection %v", res.Selection)
	}

	res = mustApply(t, e, Marquee{Rect: canvas.Rect{X: -10, Y: -10, W: 120, H: 120}})
	if len(res.Selection) != 2 {
		t.Errorf("marquee selection = %v, want bottom and top", res.Selection)
	}

	// Moving one selected preview drags the selection.
	mustApply(t, e, MovePreview{ID: bottom, Delta: canvas.Point{X: 10}})
	if ent, _ := e.board.Get(top); ent.Rect.X != 110 {
		t.Errorf("selected sibling x = %v, want 110", ent.Rect.X)
	}
	if ent, _ := e.board.Get(far); ent.Rect.X != 1000 {
		t.Errorf("unselected preview moved to x = %v", ent.Rect.X)
	}

	res = mustApply(t, e, Activate{At: canvas.Point{X: 1050, Y: 1050}})
	if res.EntityID != far || len(activator.raised) != 1 || activator.raised[0] != 3 {
		t.Errorf("Activate = %+v, raised %v", res, activator.raised)
	}
	if res := mustApply(t, e, Activate{At: canvas.Point{X: -500, Y: -500}}); res.EntityID != "" {
		t.Errorf("Activate on empty canvas hit %s", res.EntityID)
	}
}

func TestPanAndZoomKeepAnchor(t *testing.T) {
	e, _ := newTestEngine(t, Deps{})
	mustApply(t, e, Pan{Delta: canvas.Point{X: 100, Y: -50}})
	anchor := canvas.Point{X: 400, Y: 300}
	before := e.view.ToWorld(anchor)
	mustApply(t, e, ZoomAt{Anchor: anchor, Factor: 2})
	if after := e.view.ToWorld(anchor); !after.Near(before, 1e-9) {
		t.Errorf("anchor moved from %+v to %+v", before, after)
	}
	if s := e.State(); s.Zoom != 2 {
		t.Errorf("published zoom = %v, want 2", s.Zoom)
	}
}

func TestRestoreBindsLiveAndKeepsMissingOffline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	store := layout.NewStore(path, preview.DefaultLimits())
	_, err := store.Save(layout.Snapshot{
		Entities: []preview.Entity{
			{ID: "live", Source: 0x100, Hint: preview.DisplayHint{Title: "Editor", Class: "code"}, Rect: canvas.Rect{W: 300, H: 200}, Crop: preview.FullCrop(), FPS: 15},
			{ID: "gone", Source: 0x200, Hint: preview.DisplayHint{Title: "Chat", Class: "slack"}, Rect: canvas.Rect{X: 400, W: 300, H: 200}, Crop: preview.Crop{U0: 0.5, V0: 0, U1: 1, V1: 1}, FPS: 60, ZOrder: 1},
		},
		Offset:    canvas.Point{X: 5, Y: 6},
		Zoom:      1.5,
		Selection: []string{"gone"},
	})
	if err != nil {
		t.Fatal(err)
	}

	windows := fakeWindows{{ID: 0x100, Title: "Editor", Class: "code"}}
	e, _ := newTestEngine(t, Deps{Store: layout.NewStore(path, preview.DefaultLimits()), Windows: windows})
	report := e.Restore()

	if len(report.Offline) != 1 || report.Offline[0] != "gone" {
		t.Errorf("report.Offline = %v, want [gone]", report.Offline)
	}
	if src, ok := e.coord.Bound("live"); !ok || src != 0x100 {
		t.Errorf("live preview bound = %v, %v", src, ok)
	}
	if _, ok := e.coord.Bound("gone"); ok {
		t.Error("offline preview holds a capture binding")
	}
	gone, _ := e.board.Get("gone")
	if gone.Rect.X != 400 || gone.Crop.U0 != 0.5 || gone.FPS != 60 {
		t.Errorf("offline preview lost saved fields: %+v", gone)
	}
	s := e.State()
	if s.Zoom != 1.5 || s.Offset != (canvas.Point{X: 5, Y: 6}) || len(s.Selection) != 1 {
		t.Errorf("view not restored: %+v", s)
	}
	if p, _ := s.Preview("gone"); p.Status != "offline" || !p.Selected {
		t.Errorf("state for offline preview = %+v", p)
	}
}

func TestRestoreCorruptLayoutWarns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	notifier := &recordingNotifier{}
	e, _ := newTestEngine(t, Deps{Store: layout.NewStore(path, preview.DefaultLimits()), Notifier: notifier})

	report := e.Restore()
	if report.Corrupt == nil || e.board.Len() != 0 {
		t.Fatalf("corrupt layout: report %+v, %d previews", report, e.board.Len())
	}
	if len(notifier.warnings) != 1 {
		t.Errorf("warnings = %v, want one", notifier.warnings)
	}
}

func TestSaveFailureKeepsStateAndWarns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.json")
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0755); err != nil {
		t.Fatal(err)
	}
	notifier := &recordingNotifier{}
	e, _ := newTestEngine(t, Deps{Store: layout.NewStore(path, preview.DefaultLimits()), Notifier: notifier})
	events := e.Subscribe()

	mustApply(t, e, AddPreview{Source: 7})
	if _, err := e.Apply(SaveLayout{}); !errors.Is(err, layout.ErrWriteFailed) {
		t.Fatalf("SaveLayout = %v, want ErrWriteFailed", err)
	}
	if e.board.Len() != 1 {
		t.Errorf("previews after failed save = %d, want 1", e.board.Len())
	}
	if len(notifier.warnings) != 1 {
		t.Errorf("warnings = %v, want one", notifier.warnings)
	}

	var kinds []EventKind
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	if len(kinds) != 2 || kinds[0] != EventAdded || kinds[1] != EventSaveFailed {
		t.Errorf("events = %v, want [added save_failed]", kinds)
	}
	e.Unsubscribe(events)
	if _, ok := <-events; ok {
		t.Error("channel open after Unsubscribe")
	}
}

func TestDrawFrameComposesLatestFrames(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	surface := render.NewImageSurface(200, 200, nil)
	e, capability := newTestEngine(t, Deps{Surface: surface})
	capability.frame = &capture.Frame{Image: img, CapturedAt: epoch}

	at := canvas.Point{X: 20, Y: 20}
	size := canvas.Point{X: 100, Y: 100}
	mustApply(t, e, AddPreview{Source: 5, At: &at, Size: &size})
	mustApply(t, e, Click{At: canvas.Point{X: 190, Y: 190}})

	eventually(t, "first frame", func() bool { return e.coord.Latest(5) != nil })
	e.drawFrame()

	out := surface.Last()
	if out == nil {
		t.Fatal("nothing rendered")
	}
	if got := out.RGBAAt(70, 70); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("preview center = %v, want frame white", got)
	}
	if got := out.RGBAAt(150, 150); got != render.Background {
		t.Errorf("outside preview = %v, want background", got)
	}
}

func TestRunServesSubmitAndSavesOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	e, capability := newTestEngine(t, Deps{Store: layout.NewStore(path, preview.DefaultLimits())})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	res, err := e.Submit(context.Background(), AddPreview{Source: 9, Hint: preview.DisplayHint{Title: "Term"}})
	if err != nil {
		t.Fatal(err)
	}
	if p, ok := e.State().Preview(res.EntityID); !ok || p.Hint.Title != "Term" {
		t.Errorf("state after submit = %+v, %v", p, ok)
	}
	eventually(t, "stream open", func() bool { return capability.openStreams() == 1 })

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	if n := capability.openStreams(); n != 0 {
		t.Errorf("%d streams open after shutdown", n)
	}
	if _, err := e.Submit(context.Background(), Pan{}); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Submit after stop = %v, want ErrEngineStopped", err)
	}

	snap, _ := layout.NewStore(path, preview.DefaultLimits()).Load(nil)
	if len(snap.Entities) != 1 || snap.Entities[0].ID != res.EntityID {
		t.Errorf("saved layout = %+v, want the submitted preview", snap.Entities)
	}
}

func TestOffscreenPreviewPausesCapture(t *testing.T) {
	e, capability := newTestEngine(t, Deps{})
	at := canvas.Point{X: 5000, Y: 5000}
	size := canvas.Point{X: 200, Y: 200}
	res := mustApply(t, e, AddPreview{Source: 0x30, At: &at, Size: &size})

	if !e.coord.Paused(0x30) {
		t.Fatal("capture not paused for a preview outside the viewport")
	}
	eventually(t, "stream released", func() bool { return capability.openStreams() == 0 })
	p, _ := e.State().Preview(res.EntityID)
	if !p.Paused || p.Status == "lost" || p.Status == "offline" {
		t.Errorf("state for off-screen preview = %+v", p)
	}

	mustApply(t, e, Pan{Delta: canvas.Point{X: -4900, Y: -4900}})
	if e.coord.Paused(0x30) {
		t.Fatal("capture still paused after panning the preview into view")
	}
	eventually(t, "stream reopened", func() bool { return capability.openStreams() == 1 })
	if p, _ := e.State().Preview(res.EntityID); p.Paused {
		t.Error("state still reports the visible preview paused")
	}

	// A shared source keeps capturing while any of its previews is visible.
	far := canvas.Point{X: -9000, Y: 0}
	mustApply(t, e, AddPreview{Source: 0x30, At: &far, Size: &size})
	if e.coord.Paused(0x30) {
		t.Error("shared source paused although one preview is visible")
	}
}

func TestSetGridDrawsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	surface := render.NewImageSurface(200, 200, nil)
	e, _ := newTestEngine(t, Deps{Surface: surface, Store: layout.NewStore(path, preview.DefaultLimits())})

	e.drawFrame()
	if got := surface.Last().RGBAAt(50, 7); got != render.Background {
		t.Errorf("hidden grid pixel = %v, want background", got)
	}

	mustApply(t, e, SetGrid{Show: true})
	if !e.State().ShowGrid {
		t.Error("state does not report the grid shown")
	}
	e.drawFrame()
	if got := surface.Last().RGBAAt(50, 7); got != render.GridColor {
		t.Errorf("grid line pixel = %v, want grid color", got)
	}
	if _, err := e.Apply(SaveLayout{}); err != nil {
		t.Fatal(err)
	}

	restored, _ := newTestEngine(t, Deps{Store: layout.NewStore(path, preview.DefaultLimits())})
	restored.Restore()
	if !restored.State().ShowGrid {
		t.Error("grid visibility not restored from the layout")
	}
}

func TestThumbnail(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	tests := []struct {
		name    string
		thumbs  Thumbnailer
		wantErr error
		wantW   int
	}{
		{"scaled down", fakeThumbnails{img: img}, nil, 320},
		{"grab fails", fakeThumbnails{err: capture.ErrSourceUnavailable}, capture.ErrSourceUnavailable, 0},
		{"no grabber", nil, ErrNoThumbnails, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, Deps{Thumbnails: tt.thumbs})
			got, err := e.Thumbnail(0x1, 320)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Thumbnail error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got.Bounds().Dx() != tt.wantW {
				t.Errorf("thumbnail width = %d, want %d", got.Bounds().Dx(), tt.wantW)
			}
		})
	}
}
