// Package render turns the canvas state into draw instructions and
// composites them.
package render

import (
	"math"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/preview"
)

// Instruction draws one preview. Instructions are painted in slice order, so
// later ones cover earlier ones.
type Instruction struct {
	EntityID string
	Screen   canvas.Rect
	Crop     preview.Crop

	// Frame is the newest captured frame, or nil if none is available yet.
	Frame *capture.Frame

	// Status is the capture state; HasSession is false when nothing is
	// capturing the source.
	Status     capture.Status
	HasSession bool

	Offline  bool
	Selected bool
	Label    string
}

// minGridSpacing is the screen spacing below which grid lines are not drawn.
const minGridSpacing = 4

// GridLines describes the background grid in screen space: one line every
// Spacing pixels through Origin on each axis.
type GridLines struct {
	Origin  canvas.Point
	Spacing float64
}

// Scene is one frame's worth of drawing. Grid is nil when hidden.
type Scene struct {
	Grid         *GridLines
	Instructions []Instruction
}

// Surface receives a frame's worth of instructions.
type Surface interface {
	// Size reports the viewport in screen pixels.
	Size() (width, height int)

	Draw(scene Scene) error
}

// FrameSource looks up capture state by source. capture.Coordinator
// satisfies it.
type FrameSource interface {
	Latest(source capture.SourceID) *capture.Frame
	StatusOf(source capture.SourceID) (capture.Status, bool)
}

// Plan builds instructions for the entities, which must be ordered bottom to
// top. Previews entirely outside a width×height viewport are culled; a
// non-positive size disables culling.
func Plan(entities []*preview.Entity, view *canvas.View, frames FrameSource, width, height int) []Instruction {
	cull := width > 0 && height > 0
	viewport := canvas.Rect{W: float64(width), H: float64(height)}

	out := make([]Instruction, 0, len(entities))
	for _, e := range entities {
		screen := view.RectToScreen(e.Rect)
		if cull && !screen.Intersects(viewport) {
			continue
		}

		ins := Instruction{
			EntityID: e.ID,
			Screen:   screen,
			Crop:     e.Crop,
			Offline:  e.Offline,
			Selected: view.IsSelected(e.ID),
			Label:    label(e),
		}
		if !e.Offline && frames != nil {
			ins.Status, ins.HasSession = frames.StatusOf(e.Source)
			if ins.HasSession {
				ins.Frame = frames.Latest(e.Source)
			}
		}
		out = append(out, ins)
	}
	return out
}

// PlanGrid places the snap grid on screen. It returns nil when the grid is
// hidden or too dense to read at the current zoom.
func PlanGrid(view *canvas.View, grid canvas.Grid, show bool) *GridLines {
	if !show || !(grid.Size > 0) {
		return nil
	}
	spacing := grid.Size * view.Zoom
	if math.IsInf(spacing, 0) || spacing < minGridSpacing {
		return nil
	}
	return &GridLines{Origin: view.ToScreen(canvas.Point{}), Spacing: spacing}
}

func label(e *preview.Entity) string {
	name := e.Hint.Title
	if name == "" {
		name = e.Hint.Class
	}
	if name == "" {
		name = e.Source.String()
	}
	if e.Offline {
		return "offline: " + name
	}
	return name
}
