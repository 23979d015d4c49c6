package canvas

import "math"

// Grid snaps world coordinates to a regular grid when they come within
// Threshold of a grid line.
type Grid struct {
	Size      float64
	Threshold float64
}

// DefaultGrid is a 50-unit grid that grabs within 15 units.
var DefaultGrid = Grid{Size: 50, Threshold: 15}

// SnapValue snaps a single coordinate.
func (g Grid) SnapValue(v float64) float64 {
	if g.Size <= 0 {
		return v
	}
	nearest := math.Round(v/g.Size) * g.Size
	if math.Abs(v-nearest) <= g.Threshold {
		return nearest
	}
	return v
}

// SnapRect moves r so its top-left corner snaps, keeping its size.
func (g Grid) SnapRect(r Rect) Rect {
	r.X = g.SnapValue(r.X)
	r.Y = g.SnapValue(r.Y)
	return r
}
