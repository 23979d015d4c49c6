package preview

import (
	"math"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
)

// Resize drags the edges named by handle by a world-space delta.
//
// With aspect > 0 the result keeps that width/height ratio: corners follow
// the dominant axis, edges grow the other axis about the center. The result
// is never smaller than minSize on either axis; it grows uniformly and stays
// anchored at the edges the handle does not move. The crop is not touched.
func Resize(r canvas.Rect, h Handle, delta canvas.Point, aspect, minSize float64) canvas.Rect {
	if !delta.Finite() {
		return r
	}
	if !(minSize > 0) {
		minSize = DefaultMinSize
	}

	x0, y0, x1, y1 := r.X, r.Y, r.X+r.W, r.Y+r.H
	if h.movesLeft() {
		x0 += delta.X
	}
	if h.movesRight() {
		x1 += delta.X
	}
	if h.movesTop() {
		y0 += delta.Y
	}
	if h.movesBottom() {
		y1 += delta.Y
	}

	// Do not let an edge cross its opposite; pin it at the minimum instead.
	if h.movesLeft() && x1-x0 < minSize {
		x0 = x1 - minSize
	}
	if h.movesRight() && x1-x0 < minSize {
		x1 = x0 + minSize
	}
	if h.movesTop() && y1-y0 < minSize {
		y0 = y1 - minSize
	}
	if h.movesBottom() && y1-y0 < minSize {
		y1 = y0 + minSize
	}

	w, hgt := x1-x0, y1-y0
	cx, cy := (x0+x1)/2, (y0+y1)/2

	if aspect > 0 && !math.IsInf(aspect, 0) {
		switch {
		case h.isCorner():
			if w/hgt > aspect {
				w = hgt * aspect
			} else {
				hgt = w / aspect
			}
		case h == Top || h == Bottom:
			w = hgt * aspect
		default:
			hgt = w / aspect
		}
		if scale := math.Max(minSize/w, minSize/hgt); scale > 1 {
			w *= scale
			hgt *= scale
		}
		// Edge handles grow the cross axis about its center.
		if h == Top || h == Bottom {
			x0 = cx - w/2
		}
		if h == Left || h == Right {
			y0 = cy - hgt/2
		}
	}

	w, hgt = math.Max(w, minSize), math.Max(hgt, minSize)

	// Anchor: keep the edges the handle does not move where they were.
	if h.movesLeft() {
		x0 = x1 - w
	}
	if h.movesTop() {
		y0 = y1 - hgt
	}

	return canvas.Rect{X: x0, Y: y0, W: w, H: hgt}
}
