package render

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Sink receives composited canvas images. output.Output satisfies it.
type Sink interface {
	WriteFrame(frame *image.RGBA) error
}

var (
	Background  = color.RGBA{R: 24, G: 24, B: 28, A: 255}
	Placeholder = color.RGBA{R: 52, G: 52, B: 60, A: 255}
	OfflineTint = color.RGBA{R: 110, G: 36, B: 36, A: 255}
	Border      = color.RGBA{R: 90, G: 90, B: 100, A: 255}
	Accent      = color.RGBA{R: 64, G: 156, B: 255, A: 255}
	TextColor   = color.RGBA{R: 230, G: 230, B: 230, A: 255}
	GridColor   = color.RGBA{R: 40, G: 40, B: 48, A: 255}
)

const (
	labelPadding = 5
	// coordLimit keeps extreme zoom levels from overflowing pixel math.
	coordLimit = 1 << 24
)

// ImageSurface composites instructions into an RGBA image and hands each
// result to an optional sink.
type ImageSurface struct {
	width  int
	height int
	sink   Sink

	mu   sync.RWMutex
	last *image.RGBA
}

// NewImageSurface creates a width×height surface. sink may be nil.
func NewImageSurface(width, height int, sink Sink) *ImageSurface {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &ImageSurface{width: width, height: height, sink: sink}
}

func (s *ImageSurface) Size() (int, int) { return s.width, s.height }

// Draw composites a new canvas image. Frames are scaled from their crop
// region into the preview rectangle; previews without a frame get a labelled
// placeholder.
func (s *ImageSurface) Draw(scene Scene) error {
	dst := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	if scene.Grid != nil {
		drawGrid(dst, scene.Grid)
	}
	for i := range scene.Instructions {
		drawInstruction(dst, &scene.Instructions[i])
	}

	s.mu.Lock()
	s.last = dst
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.WriteFrame(dst); err != nil {
			logger.WithComponent("render").Debug().Err(err).Msg("Sink rejected frame")
			return err
		}
	}
	return nil
}

// Last returns the most recently composited image, or nil.
func (s *ImageSurface) Last() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// drawGrid paints 1px lines under everything else.
func drawGrid(dst *image.RGBA, g *GridLines) {
	if !(g.Spacing >= minGridSpacing) || !g.Origin.Finite() {
		return
	}
	b := dst.Bounds()
	line := image.NewUniform(GridColor)
	for x := firstLine(g.Origin.X, g.Spacing); x < float64(b.Max.X); x += g.Spacing {
		px := int(math.Floor(x))
		draw.Draw(dst, image.Rect(px, b.Min.Y, px+1, b.Max.Y), line, image.Point{}, draw.Src)
	}
	for y := firstLine(g.Origin.Y, g.Spacing); y < float64(b.Max.Y); y += g.Spacing {
		py := int(math.Floor(y))
		draw.Draw(dst, image.Rect(b.Min.X, py, b.Max.X, py+1), line, image.Point{}, draw.Src)
	}
}

// firstLine is the smallest non-negative coordinate on the grid through
// origin.
func firstLine(origin, spacing float64) float64 {
	v := math.Mod(origin, spacing)
	if v < 0 {
		v += spacing
	}
	return v
}

func drawInstruction(dst *image.RGBA, ins *Instruction) {
	r := pixelRect(ins.Screen.X, ins.Screen.Y, ins.Screen.W, ins.Screen.H)
	if r.Empty() || !r.Overlaps(dst.Bounds()) {
		return
	}

	f := ins.Frame
	if f != nil && f.Image != nil && !ins.Offline && f.Width() > 0 && f.Height() > 0 {
		src := ins.Crop.SourceRect(f.Width(), f.Height()).Add(f.Image.Rect.Min)
		draw.ApproxBiLinear.Scale(dst, r, f.Image, src, draw.Over, nil)
	} else {
		fill := Placeholder
		if ins.Offline {
			fill = OfflineTint
		}
		fillRect(dst, r, fill, 0.85)
		text := ins.Label
		if !ins.Offline && ins.HasSession && ins.Status == capture.StatusLost {
			text = "reconnecting: " + text
		}
		drawLabel(dst, r, text)
	}

	if ins.Selected {
		strokeRect(dst, r, Accent, 3)
	} else {
		strokeRect(dst, r, Border, 1)
	}
}

func pixelRect(x, y, w, h float64) image.Rectangle {
	x0 := clampCoord(math.Floor(x))
	y0 := clampCoord(math.Floor(y))
	x1 := clampCoord(math.Ceil(x + w))
	y1 := clampCoord(math.Ceil(y + h))
	return image.Rect(x0, y0, x1, y1)
}

func clampCoord(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Max(-coordLimit, math.Min(coordLimit, f)))
}

// fillRect blends a solid color over r at the given opacity.
func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity >= 1 {
		draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// strokeRect draws a border of the given thickness inside r.
func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	if thickness*2 >= r.Dx() || thickness*2 >= r.Dy() {
		fillRect(dst, r, c, 1)
		return
	}
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), c, 1)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), c, 1)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y+thickness, r.Min.X+thickness, r.Max.Y-thickness), c, 1)
	fillRect(dst, image.Rect(r.Max.X-thickness, r.Min.Y+thickness, r.Max.X, r.Max.Y-thickness), c, 1)
}

// drawLabel writes text in the top-left corner of r, clipped to r.
func drawLabel(dst *image.RGBA, r image.Rectangle, text string) {
	if text == "" {
		return
	}
	clip := r.Intersect(dst.Bounds())
	if clip.Empty() {
		return
	}
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst.SubImage(clip).(*image.RGBA),
		Src:  image.NewUniform(TextColor),
		Face: face,
		Dot:  fixed.P(r.Min.X+labelPadding, r.Min.Y+labelPadding+face.Ascent),
	}
	d.DrawString(text)
}

// ScaleToWidth returns img shrunk to at most maxWidth pixels wide, keeping
// its aspect ratio. Smaller images and a non-positive maxWidth return img.
func ScaleToWidth(img *image.RGBA, maxWidth int) *image.RGBA {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth || b.Dy() == 0 {
		return img
	}
	h := int(math.Round(float64(b.Dy()) * float64(maxWidth) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
