package engine

import (
	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/layout"
	"github.com/bryanchriswhite/pluriview/internal/preview"
)

// PreviewState is a read-only copy of a preview plus its capture status.
type PreviewState struct {
	preview.Entity
	Status   string `json:"status"`
	Selected bool   `json:"selected"`

	// Paused is set while every preview of the source is off screen.
	Paused bool `json:"paused,omitempty"`
}

// State is an immutable copy of the engine state, safe to read from any
// goroutine.
type State struct {
	Previews  []PreviewState `json:"previews"`
	Offset    canvas.Point   `json:"offset"`
	Zoom      float64        `json:"zoom"`
	Selection []string       `json:"selection"`
	Sources   []string       `json:"sources"`
	ShowGrid  bool           `json:"show_grid"`
}

// Preview finds a preview by id.
func (s *State) Preview(id string) (PreviewState, bool) {
	for _, p := range s.Previews {
		if p.ID == id {
			return p, true
		}
	}
	return PreviewState{}, false
}

// State returns the most recently published state.
func (e *Engine) State() *State {
	return e.state.Load()
}

func (e *Engine) publishState() {
	ordered := e.board.Ordered()
	s := &State{
		Previews:  make([]PreviewState, 0, len(ordered)),
		Offset:    e.view.Offset,
		Zoom:      e.view.Zoom,
		Selection: e.view.Selection(),
		ShowGrid:  e.showGrid,
	}
	for _, ent := range ordered {
		s.Previews = append(s.Previews, PreviewState{
			Entity:   *ent,
			Status:   e.statusOf(ent),
			Selected: e.view.IsSelected(ent.ID),
			Paused:   !ent.Offline && e.coord.Paused(ent.Source),
		})
	}
	for _, id := range e.coord.Sources() {
		s.Sources = append(s.Sources, id.String())
	}
	e.state.Store(s)
}

func (e *Engine) statusOf(ent *preview.Entity) string {
	if ent.Offline {
		return "offline"
	}
	st, ok := e.coord.StatusOf(ent.Source)
	if !ok {
		return "unbound"
	}
	return st.String()
}

func (e *Engine) snapshot() layout.Snapshot {
	ordered := e.board.Ordered()
	entities := make([]preview.Entity, len(ordered))
	for i, ent := range ordered {
		entities[i] = *ent
	}
	return layout.Snapshot{
		Entities:  entities,
		Offset:    e.view.Offset,
		Zoom:      e.view.Zoom,
		Selection: e.view.Selection(),
		ShowGrid:  e.showGrid,
	}
}

// aspectOf is the displayed aspect ratio of a preview: its crop of the
// latest frame, or its current rectangle when no frame has arrived.
func (e *Engine) aspectOf(ent *preview.Entity) float64 {
	if !ent.Offline {
		if f := e.coord.Latest(ent.Source); f != nil {
			if a := ent.Crop.AspectRatio(f.Width(), f.Height()); a > 0 {
				return a
			}
		}
	}
	if ent.Rect.H > 0 {
		return ent.Rect.W / ent.Rect.H
	}
	return 0
}

func (e *Engine) latestFrame(ent *preview.Entity) *capture.Frame {
	if ent.Offline {
		return nil
	}
	return e.coord.Latest(ent.Source)
}
