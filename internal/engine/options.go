package engine

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/config"
	"github.com/bryanchriswhite/pluriview/internal/preview"
)

// Options tunes an Engine.
type Options struct {
	Limits  preview.Limits
	ZoomMin float64
	ZoomMax float64

	// DefaultSize is the world size of a newly added preview.
	DefaultSize canvas.Point
	DefaultFPS  capture.FPS
	Grid        canvas.Grid

	// Viewport is the screen size used to place new previews when there is
	// no render surface to ask.
	ViewportWidth  int
	ViewportHeight int

	RenderInterval   time.Duration
	AutosaveInterval time.Duration

	Session capture.SessionConfig
	Clock   clockwork.Clock
}

// DefaultOptions matches the shipped config defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Defaults())
}

// OptionsFromConfig derives engine options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	renderFPS := cfg.Canvas.RenderFPS
	if renderFPS <= 0 {
		renderFPS = 30
	}
	return Options{
		Limits: preview.Limits{
			MinSize:     cfg.Canvas.MinPreviewSize,
			CropEpsilon: cfg.Canvas.CropEpsilon,
		},
		ZoomMin:          cfg.Canvas.ZoomMin,
		ZoomMax:          cfg.Canvas.ZoomMax,
		DefaultSize:      canvas.Point{X: cfg.Canvas.DefaultPreviewWidth, Y: cfg.Canvas.DefaultPreviewHeight},
		DefaultFPS:       capture.NormalizeFPS(cfg.Capture.DefaultFPS),
		Grid:             canvas.DefaultGrid,
		ViewportWidth:    cfg.Canvas.ViewportWidth,
		ViewportHeight:   cfg.Canvas.ViewportHeight,
		RenderInterval:   time.Second / time.Duration(renderFPS),
		AutosaveInterval: cfg.Autosave.Interval,
		Session: capture.SessionConfig{
			StallTimeout: cfg.Capture.StallTimeout,
			MaxRetries:   cfg.Capture.MaxRetries,
			BackoffBase:  cfg.Capture.BackoffBase,
			BackoffMax:   cfg.Capture.BackoffMax,
		},
	}
}

func (o Options) normalized() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Session.Clock == nil {
		o.Session.Clock = o.Clock
	}
	if !(o.DefaultSize.X > 0) || !(o.DefaultSize.Y > 0) {
		o.DefaultSize = canvas.Point{X: 480, Y: 270}
	}
	if !o.DefaultFPS.Valid() {
		o.DefaultFPS = capture.NormalizeFPS(int(o.DefaultFPS))
	}
	if o.ViewportWidth <= 0 || o.ViewportHeight <= 0 {
		o.ViewportWidth, o.ViewportHeight = 1920, 1080
	}
	if o.RenderInterval <= 0 {
		o.RenderInterval = time.Second / 30
	}
	return o
}
