package engine

import (
	"fmt"
	"image"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/bryanchriswhite/pluriview/internal/preview"
)

// Command is a user intent applied on the engine goroutine. The set is
// closed: only the types in this file implement it.
type Command interface {
	apply(e *Engine) (Result, error)
}

// Result carries whatever a command produced.
type Result struct {
	EntityID  string      `json:"entity_id,omitempty"`
	FPS       capture.FPS `json:"fps,omitempty"`
	Selection []string    `json:"selection,omitempty"`
	Saved     bool        `json:"saved,omitempty"`
}

// AddPreview places a new preview of a source. At is the world position of
// its top-left corner and Size its world size; both default (centered in the
// viewport, configured size). FPS 0 means the configured default.
type AddPreview struct {
	Source capture.SourceID
	Hint   preview.DisplayHint
	At     *canvas.Point
	Size   *canvas.Point
	FPS    int
}

func (c AddPreview) apply(e *Engine) (Result, error) {
	if c.Source == 0 {
		return Result{}, ErrNoSource
	}
	size := e.opts.DefaultSize
	if c.Size != nil {
		size = *c.Size
	}
	var origin canvas.Point
	if c.At != nil {
		origin = *c.At
	} else {
		w, h := e.viewportSize()
		center := e.view.ToWorld(canvas.Point{X: float64(w) / 2, Y: float64(h) / 2})
		origin = center.Sub(size.Scale(0.5))
	}
	fps := e.opts.DefaultFPS
	if c.FPS != 0 {
		fps = capture.NormalizeFPS(c.FPS)
	}

	ent, err := e.board.Add(preview.Entity{
		Source: c.Source,
		Hint:   c.Hint,
		Rect:   canvas.Rect{X: origin.X, Y: origin.Y, W: size.X, H: size.Y},
		Crop:   preview.FullCrop(),
		FPS:    fps,
	}, true)
	if err != nil {
		return Result{}, err
	}
	if err := e.coord.Bind(ent.ID, ent.Source, ent.FPS); err != nil {
		e.board.Remove(ent.ID)
		return Result{}, err
	}
	e.view.Select(ent.ID, false)

	logger.WithComponent("engine").Info().
		Str("entity_id", ent.ID).
		Str("source", ent.Source.String()).
		Str("title", ent.Hint.Title).
		Int("fps", int(ent.FPS)).
		Msg("Preview added")
	e.emit(Event{Kind: EventAdded, EntityID: ent.ID, Source: ent.Source.String()})
	return Result{EntityID: ent.ID, FPS: ent.FPS}, nil
}

// DeletePreview removes a preview and releases its capture binding.
type DeletePreview struct {
	ID string
}

func (c DeletePreview) apply(e *Engine) (Result, error) {
	ent, ok := e.board.Remove(c.ID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPreview, c.ID)
	}
	e.coord.Unbind(c.ID)
	e.view.Deselect(c.ID)

	logger.WithComponent("engine").Info().Str("entity_id", c.ID).Msg("Preview deleted")
	e.emit(Event{Kind: EventRemoved, EntityID: c.ID, Source: ent.Source.String()})
	return Result{EntityID: c.ID}, nil
}

// MovePreview drags a preview by a screen-space delta. When the preview is
// selected the whole selection moves with it. Snap aligns the moved previews
// to the grid; shells send it with the last delta of a drag.
type MovePreview struct {
	ID    string
	Delta canvas.Point
	Snap  bool
}

func (c MovePreview) apply(e *Engine) (Result, error) {
	if _, err := e.entity(c.ID); err != nil {
		return Result{}, err
	}
	ids := []string{c.ID}
	if e.view.IsSelected(c.ID) {
		ids = e.view.Selection()
	}
	delta := c.Delta.Div(e.view.Zoom)
	for _, id := range ids {
		if err := e.board.Move(id, delta); err != nil {
			continue
		}
		if c.Snap {
			ent, _ := e.board.Get(id)
			_ = e.board.SetRect(id, e.opts.Grid.SnapRect(ent.Rect))
		}
		e.emit(Event{Kind: EventChanged, EntityID: id})
	}
	return Result{EntityID: c.ID}, nil
}

// ResizePreview drags one of the eight handles by a screen-space delta.
// KeepAspect holds the displayed aspect ratio of the cropped frame.
type ResizePreview struct {
	ID         string
	Handle     preview.Handle
	Delta      canvas.Point
	KeepAspect bool
}

func (c ResizePreview) apply(e *Engine) (Result, error) {
	ent, err := e.entity(c.ID)
	if err != nil {
		return Result{}, err
	}
	aspect := 0.0
	if c.KeepAspect {
		aspect = e.aspectOf(ent)
	}
	if err := e.board.Resize(c.ID, c.Handle, c.Delta.Div(e.view.Zoom), aspect); err != nil {
		return Result{}, err
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID}, nil
}

// CropPreview drags a crop handle by a screen-space delta. The delta is
// taken relative to the preview's on-screen size.
type CropPreview struct {
	ID     string
	Handle preview.Handle
	Delta  canvas.Point
}

func (c CropPreview) apply(e *Engine) (Result, error) {
	ent, err := e.entity(c.ID)
	if err != nil {
		return Result{}, err
	}
	screen := e.view.RectToScreen(ent.Rect)
	if screen.W <= 0 || screen.H <= 0 {
		return Result{EntityID: c.ID}, nil
	}
	du := c.Delta.X / screen.W
	dv := c.Delta.Y / screen.H
	if err := e.board.DragCrop(c.ID, c.Handle, du, dv); err != nil {
		return Result{}, err
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID}, nil
}

// ResetCrop shows the whole frame again.
type ResetCrop struct {
	ID string
}

func (c ResetCrop) apply(e *Engine) (Result, error) {
	if err := e.board.SetCrop(c.ID, preview.FullCrop()); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPreview, c.ID)
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID}, nil
}

// SetCropPixels crops to a pixel rectangle of the latest captured frame.
type SetCropPixels struct {
	ID   string
	Rect image.Rectangle
}

func (c SetCropPixels) apply(e *Engine) (Result, error) {
	ent, err := e.entity(c.ID)
	if err != nil {
		return Result{}, err
	}
	f := e.latestFrame(ent)
	if f == nil {
		return Result{}, ErrNoFrame
	}
	crop := preview.CropFromPixels(c.Rect, f.Width(), f.Height(), e.board.Limits().CropEpsilon)
	if err := e.board.SetCrop(c.ID, crop); err != nil {
		return Result{}, err
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID}, nil
}

// SetFPS changes a preview's frame-rate cap. Values snap to the nearest
// preset. A shared capture takes the most recent preview's rate.
type SetFPS struct {
	ID  string
	FPS int
}

func (c SetFPS) apply(e *Engine) (Result, error) {
	ent, err := e.entity(c.ID)
	if err != nil {
		return Result{}, err
	}
	fps, err := e.board.SetFPS(c.ID, c.FPS)
	if err != nil {
		return Result{}, err
	}
	if !ent.Offline {
		e.coord.SetFPS(c.ID, fps)
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID, FPS: fps}, nil
}

// BringToFront raises a preview above all others.
type BringToFront struct {
	ID string
}

func (c BringToFront) apply(e *Engine) (Result, error) {
	if err := e.board.BringToFront(c.ID); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPreview, c.ID)
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID}, nil
}

// SendToBack lowers a preview below all others.
type SendToBack struct {
	ID string
}

func (c SendToBack) apply(e *Engine) (Result, error) {
	if err := e.board.SendToBack(c.ID); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownPreview, c.ID)
	}
	e.emit(Event{Kind: EventChanged, EntityID: c.ID})
	return Result{EntityID: c.ID}, nil
}

// Pan follows a screen-space drag of the canvas background.
type Pan struct {
	Delta canvas.Point
}

func (c Pan) apply(e *Engine) (Result, error) {
	e.view.Pan(c.Delta)
	e.emit(Event{Kind: EventView})
	return Result{}, nil
}

// ZoomAt scales the view about a screen point.
type ZoomAt struct {
	Anchor canvas.Point
	Factor float64
}

func (c ZoomAt) apply(e *Engine) (Result, error) {
	e.view.ZoomAt(c.Anchor, c.Factor)
	e.emit(Event{Kind: EventView})
	return Result{}, nil
}

// SetGrid shows or hides the snap grid behind the previews.
type SetGrid struct {
	Show bool
}

func (c SetGrid) apply(e *Engine) (Result, error) {
	e.showGrid = c.Show
	e.emit(Event{Kind: EventView})
	return Result{}, nil
}

// Click selects the topmost preview under a screen point. Additive toggles
// it in the selection; a non-additive click on empty canvas clears it.
type Click struct {
	At       canvas.Point
	Additive bool
}

func (c Click) apply(e *Engine) (Result, error) {
	id, ok := e.view.HitTest(e.board.Targets(), c.At)
	switch {
	case ok:
		e.view.Select(id, c.Additive)
	case !c.Additive:
		e.view.ClearSelection()
	}
	e.emit(Event{Kind: EventSelection, EntityID: id})
	return Result{EntityID: id, Selection: e.view.Selection()}, nil
}

// Marquee selects every preview intersecting a screen rectangle.
type Marquee struct {
	Rect     canvas.Rect
	Additive bool
}

func (c Marquee) apply(e *Engine) (Result, error) {
	e.view.MarqueeSelect(e.board.Targets(), c.Rect, c.Additive)
	e.emit(Event{Kind: EventSelection})
	return Result{Selection: e.view.Selection()}, nil
}

// Activate brings the source window of the preview under a screen point to
// the front, as a double-click does. Missing the canvas is not an error.
type Activate struct {
	At canvas.Point
}

func (c Activate) apply(e *Engine) (Result, error) {
	id, ok := e.view.HitTest(e.board.Targets(), c.At)
	if !ok {
		return Result{}, nil
	}
	ent, _ := e.board.Get(id)
	if ent.Offline {
		return Result{EntityID: id}, ErrOffline
	}
	if e.deps.Activator == nil {
		return Result{EntityID: id}, ErrNoActivator
	}
	if err := e.deps.Activator.BringToFront(ent.Source); err != nil {
		return Result{EntityID: id}, fmt.Errorf("activate %s: %w", ent.Source, err)
	}
	logger.WithComponent("engine").Debug().Str("entity_id", id).Str("source", ent.Source.String()).Msg("Window activated")
	return Result{EntityID: id}, nil
}

// Relink points a preview at a live window, keeping its geometry, crop and
// rate. It is how offline previews come back.
type Relink struct {
	ID     string
	Source capture.SourceID
	Hint   preview.DisplayHint
}

func (c Relink) apply(e *Engine) (Result, error) {
	ent, err := e.entity(c.ID)
	if err != nil {
		return Result{}, err
	}
	if c.Source == 0 {
		return Result{}, ErrNoSource
	}
	if err := e.coord.Bind(c.ID, c.Source, ent.FPS); err != nil {
		return Result{}, err
	}
	ent.Source = c.Source
	if c.Hint != (preview.DisplayHint{}) {
		ent.Hint = c.Hint
	}
	ent.Offline = false

	logger.WithComponent("engine").Info().
		Str("entity_id", c.ID).
		Str("source", c.Source.String()).
		Msg("Preview relinked")
	e.emit(Event{Kind: EventChanged, EntityID: c.ID, Source: c.Source.String()})
	return Result{EntityID: c.ID}, nil
}

// SaveLayout writes the layout now.
type SaveLayout struct{}

func (SaveLayout) apply(e *Engine) (Result, error) {
	wrote, err := e.save()
	return Result{Saved: wrote}, err
}
