// Package preview models the live window thumbnails placed on the canvas.
package preview

import (
	"math"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
)

// DefaultMinSize is the smallest world width or height of a preview.
const DefaultMinSize = 100.0

// DisplayHint remembers how a source looked so it can be found again.
type DisplayHint struct {
	Title string `json:"title"`
	Class string `json:"class"`
}

// Entity is one preview on the canvas.
type Entity struct {
	ID      string           `json:"entity_id"`
	Source  capture.SourceID `json:"source_id"`
	Hint    DisplayHint      `json:"source_hint"`
	Rect    canvas.Rect      `json:"world_rect"`
	Crop    Crop             `json:"crop_rect"`
	FPS     capture.FPS      `json:"fps"`
	ZOrder  int              `json:"z_order"`
	Offline bool             `json:"is_offline"`
}

// Limits bounds the geometry of previews.
type Limits struct {
	MinSize     float64
	CropEpsilon float64
}

// DefaultLimits returns the shipped bounds.
func DefaultLimits() Limits {
	return Limits{MinSize: DefaultMinSize, CropEpsilon: DefaultCropEpsilon}
}

func (l Limits) normalized() Limits {
	if !(l.MinSize > 0) {
		l.MinSize = DefaultMinSize
	}
	l.CropEpsilon = normalizeEpsilon(l.CropEpsilon)
	return l
}

// Normalize silently repairs every field that violates its bounds.
func (e *Entity) Normalize(l Limits) {
	l = l.normalized()
	e.Crop = e.Crop.Clamp(l.CropEpsilon)
	e.Rect = clampRect(e.Rect, l.MinSize)
	if !e.FPS.Valid() {
		e.FPS = capture.NormalizeFPS(int(e.FPS))
	}
}

// Target exposes the entity to canvas hit-testing.
func (e *Entity) Target() canvas.Target {
	return canvas.Target{ID: e.ID, Rect: e.Rect, ZOrder: e.ZOrder}
}

func clampRect(r canvas.Rect, minSize float64) canvas.Rect {
	if math.IsNaN(r.X) || math.IsInf(r.X, 0) {
		r.X = 0
	}
	if math.IsNaN(r.Y) || math.IsInf(r.Y, 0) {
		r.Y = 0
	}
	if !(r.W >= minSize) || math.IsInf(r.W, 0) {
		r.W = minSize
	}
	if !(r.H >= minSize) || math.IsInf(r.H, 0) {
		r.H = minSize
	}
	return r
}
