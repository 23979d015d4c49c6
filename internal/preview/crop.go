package preview

import (
	"image"
	"math"
)

// DefaultCropEpsilon is the smallest crop extent along either axis.
const DefaultCropEpsilon = 0.1

// Crop selects a sub-rectangle of the source in normalized coordinates,
// (U0,V0) top-left and (U1,V1) bottom-right.
type Crop struct {
	U0 float64 `json:"u0"`
	V0 float64 `json:"v0"`
	U1 float64 `json:"u1"`
	V1 float64 `json:"v1"`
}

// FullCrop shows the whole source.
func FullCrop() Crop { return Crop{0, 0, 1, 1} }

// IsFull reports whether c shows the whole source.
func (c Crop) IsFull() bool { return c == FullCrop() }

// Valid reports whether c satisfies the bounds for the given epsilon.
func (c Crop) Valid(eps float64) bool {
	return c.U0 >= 0 && c.V0 >= 0 && c.U1 <= 1 && c.V1 <= 1 &&
		c.U1-c.U0 >= eps-1e-12 && c.V1-c.V0 >= eps-1e-12
}

// Clamp forces c into [0,1]² with at least eps extent per axis. Each axis is
// fixed independently; when an extent is too small it grows around its
// center, shifted back inside the unit range if needed.
func (c Crop) Clamp(eps float64) Crop {
	eps = normalizeEpsilon(eps)
	c.U0, c.U1 = clampAxis(c.U0, c.U1, eps)
	c.V0, c.V1 = clampAxis(c.V0, c.V1, eps)
	return c
}

func clampAxis(lo, hi, eps float64) (float64, float64) {
	if math.IsNaN(lo) {
		lo = 0
	}
	if math.IsNaN(hi) {
		hi = 1
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	lo = clamp01(lo)
	hi = clamp01(hi)
	if hi-lo >= eps {
		return lo, hi
	}
	mid := (lo + hi) / 2
	lo, hi = mid-eps/2, mid+eps/2
	if lo < 0 {
		lo, hi = 0, eps
	}
	if hi > 1 {
		lo, hi = 1-eps, 1
	}
	return lo, hi
}

// Drag moves the edges named by handle by a UV delta, starting from c. The
// moving edge stops eps short of the opposite edge and at the unit bounds;
// the opposite edge never moves.
func (c Crop) Drag(h Handle, du, dv, eps float64) Crop {
	eps = normalizeEpsilon(eps)
	if math.IsNaN(du) || math.IsInf(du, 0) {
		du = 0
	}
	if math.IsNaN(dv) || math.IsInf(dv, 0) {
		dv = 0
	}
	out := c.Clamp(eps)
	switch {
	case h.movesLeft():
		out.U0 = clamp(out.U0+du, 0, out.U1-eps)
	case h.movesRight():
		out.U1 = clamp(out.U1+du, out.U0+eps, 1)
	}
	switch {
	case h.movesTop():
		out.V0 = clamp(out.V0+dv, 0, out.V1-eps)
	case h.movesBottom():
		out.V1 = clamp(out.V1+dv, out.V0+eps, 1)
	}
	return out
}

// SourceRect converts the crop into a pixel rectangle of a w×h frame. The
// result is never empty for a non-empty frame.
func (c Crop) SourceRect(w, h int) image.Rectangle {
	r := image.Rect(
		int(math.Floor(c.U0*float64(w))),
		int(math.Floor(c.V0*float64(h))),
		int(math.Ceil(c.U1*float64(w))),
		int(math.Ceil(c.V1*float64(h))),
	).Intersect(image.Rect(0, 0, w, h))
	if r.Empty() && w > 0 && h > 0 {
		return image.Rect(0, 0, w, h)
	}
	return r
}

// CropFromPixels converts a pixel rectangle of a w×h frame into a crop.
func CropFromPixels(r image.Rectangle, w, h int, eps float64) Crop {
	if w <= 0 || h <= 0 {
		return FullCrop()
	}
	return Crop{
		U0: float64(r.Min.X) / float64(w),
		V0: float64(r.Min.Y) / float64(h),
		U1: float64(r.Max.X) / float64(w),
		V1: float64(r.Max.Y) / float64(h),
	}.Clamp(eps)
}

// AspectRatio is the width/height of the cropped region of a w×h frame.
// It returns 0 when the frame size is unknown.
func (c Crop) AspectRatio(w, h int) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	ch := (c.V1 - c.V0) * float64(h)
	if ch <= 0 {
		return 0
	}
	return (c.U1 - c.U0) * float64(w) / ch
}

func normalizeEpsilon(eps float64) float64 {
	if !(eps > 0) || eps > 1 {
		return DefaultCropEpsilon
	}
	return eps
}

func clamp01(f float64) float64 { return clamp(f, 0, 1) }

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
