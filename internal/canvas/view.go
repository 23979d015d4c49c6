package canvas

import (
	"math"
	"sort"
)

const (
	DefaultZoomMin = 0.1
	DefaultZoomMax = 5.0
)

// Target is anything that occupies a rectangle on the canvas and can be
// picked by the pointer.
type Target struct {
	ID     string
	Rect   Rect
	ZOrder int
}

// View is the camera over the world plane plus the current selection.
//
//	screen = (world - Offset) * Zoom
//	world  = screen / Zoom + Offset
type View struct {
	Offset Point
	Zoom   float64

	zoomMin   float64
	zoomMax   float64
	selection map[string]struct{}
}

// NewView returns a view at the origin with zoom 1.
func NewView(zoomMin, zoomMax float64) *View {
	if zoomMin <= 0 {
		zoomMin = DefaultZoomMin
	}
	if zoomMax <= 0 {
		zoomMax = DefaultZoomMax
	}
	if zoomMax < zoomMin {
		zoomMax = zoomMin
	}
	return &View{
		Zoom:      clamp(1, zoomMin, zoomMax),
		zoomMin:   zoomMin,
		zoomMax:   zoomMax,
		selection: make(map[string]struct{}),
	}
}

// Restore sets offset and zoom from persisted values, clamping as needed.
func (v *View) Restore(offset Point, zoom float64) {
	if offset.Finite() {
		v.Offset = offset
	}
	if !finite(zoom) || zoom <= 0 {
		zoom = 1
	}
	v.Zoom = clamp(zoom, v.zoomMin, v.zoomMax)
}

// ToScreen maps a world point onto the screen.
func (v *View) ToScreen(p Point) Point {
	return p.Sub(v.Offset).Scale(v.Zoom)
}

// ToWorld maps a screen point onto the world plane.
func (v *View) ToWorld(p Point) Point {
	return p.Div(v.Zoom).Add(v.Offset)
}

// RectToScreen maps a world rectangle onto the screen.
func (v *View) RectToScreen(r Rect) Rect {
	origin := v.ToScreen(r.Min())
	return Rect{X: origin.X, Y: origin.Y, W: r.W * v.Zoom, H: r.H * v.Zoom}
}

// RectToWorld maps a screen rectangle onto the world plane.
func (v *View) RectToWorld(r Rect) Rect {
	origin := v.ToWorld(r.Min())
	return Rect{X: origin.X, Y: origin.Y, W: r.W / v.Zoom, H: r.H / v.Zoom}
}

// Visible returns the world rectangle covered by a screen of the given size.
func (v *View) Visible(width, height float64) Rect {
	return v.RectToWorld(Rect{W: width, H: height})
}

// Pan shifts the view so content follows a screen-space drag of delta.
func (v *View) Pan(delta Point) {
	if !delta.Finite() {
		return
	}
	v.Offset = v.Offset.Sub(delta.Div(v.Zoom))
}

// ZoomAt multiplies the zoom by factor, clamped to the view's bounds,
// keeping the world point under anchor fixed on screen.
func (v *View) ZoomAt(anchor Point, factor float64) {
	if !anchor.Finite() || !finite(factor) || factor <= 0 {
		return
	}
	world := v.ToWorld(anchor)
	v.Zoom = clamp(v.Zoom*factor, v.zoomMin, v.zoomMax)
	v.Offset = world.Sub(anchor.Div(v.Zoom))
}

// HitTest returns the topmost target under a screen point. Equal z-orders
// resolve to the later target in the slice.
func (v *View) HitTest(targets []Target, screen Point) (string, bool) {
	world := v.ToWorld(screen)
	best := -1
	for i, t := range targets {
		if !t.Rect.Contains(world) {
			continue
		}
		if best < 0 || t.ZOrder >= targets[best].ZOrder {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return targets[best].ID, true
}

// MarqueeSelect selects every target whose world rectangle intersects the
// screen-space marquee. A marquee dragged up or left may carry a negative
// size. Additive keeps the existing selection.
func (v *View) MarqueeSelect(targets []Target, marquee Rect, additive bool) {
	area := v.RectToWorld(RectFromPoints(marquee.Min(), marquee.Max()))
	if !additive {
		v.ClearSelection()
	}
	for _, t := range targets {
		if t.Rect.Intersects(area) || area.W == 0 && area.H == 0 && t.Rect.Contains(area.Min()) {
			v.selection[t.ID] = struct{}{}
		}
	}
}

// Select picks a single target, or toggles it when additive.
func (v *View) Select(id string, additive bool) {
	if !additive {
		v.ClearSelection()
		v.selection[id] = struct{}{}
		return
	}
	if _, ok := v.selection[id]; ok {
		delete(v.selection, id)
		return
	}
	v.selection[id] = struct{}{}
}

// Deselect drops an id from the selection.
func (v *View) Deselect(id string) {
	delete(v.selection, id)
}

// ClearSelection empties the selection.
func (v *View) ClearSelection() {
	for id := range v.selection {
		delete(v.selection, id)
	}
}

// IsSelected reports whether id is selected.
func (v *View) IsSelected(id string) bool {
	_, ok := v.selection[id]
	return ok
}

// Selection returns the selected ids, sorted.
func (v *View) Selection() []string {
	out := make([]string, 0, len(v.selection))
	for id := range v.selection {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetSelection replaces the selection.
func (v *View) SetSelection(ids []string) {
	v.ClearSelection()
	for _, id := range ids {
		v.selection[id] = struct{}{}
	}
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
