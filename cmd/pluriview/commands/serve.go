package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/pluriview/internal/api"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/config"
	"github.com/bryanchriswhite/pluriview/internal/engine"
	"github.com/bryanchriswhite/pluriview/internal/layout"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/bryanchriswhite/pluriview/internal/notify"
	"github.com/bryanchriswhite/pluriview/internal/output"
	"github.com/bryanchriswhite/pluriview/internal/render"
	"github.com/bryanchriswhite/pluriview/internal/window"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pluriview server",
	Long: `Start the capture engine and the HTTP server.

The saved layout is restored first: previews whose window is still open
resume capturing, the rest stay on the canvas as offline placeholders.
The composed canvas is streamed as MJPEG at /stream.`,
	Example: `  # Start server on default port (8090)
  pluriview serve

  # Start server on custom port
  pluriview serve --port 9090

  # Use a different layout file
  pluriview serve --layout ~/layouts/monitoring.json

  # Also show the canvas in a local window
  pluriview serve --window

  # Start with debug logging
  pluriview serve --log-level debug`,
	RunE: runServe,
}

var serveWindow bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveWindow, "window", false, "also show the canvas in a local X11 window")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, pretty())
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("layout", cfg.LayoutPath).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	log.Info().Msg("Connecting to X11 server")
	capability, err := capture.NewX11Capability(cfg.Capture.PollInterval)
	if err != nil {
		return fmt.Errorf("failed to initialize capture: %w", err)
	}
	defer capability.Close()

	x11Windows, err := window.NewX11Backend()
	if err != nil {
		return fmt.Errorf("failed to initialize window backend: %w", err)
	}
	defer x11Windows.Close()

	windows := selectProvider(cfg.Window.Backend, os.Getenv("XDG_SESSION_TYPE"), x11Windows, func() (kwinProvider, error) {
		return window.NewKWinBackend()
	})
	if kwin, ok := windows.(*window.KWinBackend); ok {
		defer kwin.Close()
	}

	mjpegOut := output.NewMJPEGOutput(output.Config{
		Width:  cfg.Canvas.ViewportWidth,
		Height: cfg.Canvas.ViewportHeight,
		FPS:    cfg.Canvas.RenderFPS,
	})
	if err := mjpegOut.Start(); err != nil {
		return fmt.Errorf("failed to start MJPEG output: %w", err)
	}
	sinks := output.Multi{mjpegOut}
	if serveWindow {
		win, err := output.NewX11WindowOutput(output.Config{
			Width:  cfg.Canvas.ViewportWidth,
			Height: cfg.Canvas.ViewportHeight,
			FPS:    cfg.Canvas.RenderFPS,
		})
		if err != nil {
			return fmt.Errorf("failed to open canvas window: %w", err)
		}
		if err := win.Start(); err != nil {
			win.Stop()
			return fmt.Errorf("failed to show canvas window: %w", err)
		}
		sinks = append(sinks, win)
	}
	defer sinks.Stop()

	async := output.NewAsync(sinks)
	if err := async.Start(); err != nil {
		return fmt.Errorf("failed to start frame writer: %w", err)
	}
	defer async.Stop()

	notifier := notify.New()
	if closer, ok := notifier.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	eng := engine.New(engine.OptionsFromConfig(cfg), engine.Deps{
		Capability: capability,
		Windows:    windows,
		Activator:  x11Windows,
		Thumbnails: capability,
		Surface:    render.NewImageSurface(cfg.Canvas.ViewportWidth, cfg.Canvas.ViewportHeight, async),
		Store:      layout.NewStore(cfg.LayoutPath, engine.OptionsFromConfig(cfg).Limits),
		Notifier:   notifier,
	})

	report := eng.Restore()
	log.Info().
		Int("previews", len(eng.State().Previews)).
		Int("offline", len(report.Offline)).
		Int("skipped", len(report.Skipped)).
		Msg("Layout restored")

	server := api.NewServer(eng, configMgr, mjpegOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg conc.WaitGroup
	wg.Go(func() {
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Engine error")
		}
	})
	wg.Go(func() {
		err := configMgr.Watch(ctx, func(c *config.Config) {
			logger.SetLevel(c.LogLevel)
			log.Info().Str("log_level", c.LogLevel).Msg("Log level updated")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watching disabled")
		}
	})
	wg.Go(func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	})

	log.Info().
		Str("ui", fmt.Sprintf("http://localhost:%d", cfg.ServerPort)).
		Str("stream", fmt.Sprintf("http://localhost:%d/stream", cfg.ServerPort)).
		Msg("pluriview is running, press Ctrl+C to stop")

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown")
	}
	<-eng.Done()
	wg.Wait()
	return nil
}

// kwinProvider is a window provider holding a D-Bus connection.
type kwinProvider interface {
	window.Provider
	Close() error
}

// selectProvider picks the window provider for the configured backend. Auto
// uses KWin on Wayland sessions when it is reachable and X11 otherwise.
func selectProvider(backend, sessionType string, x11 window.Provider, kwin func() (kwinProvider, error)) window.Provider {
	log := logger.WithComponent("serve")

	switch backend {
	case config.BackendX11:
		return x11
	case config.BackendAuto:
		if sessionType != "wayland" {
			return x11
		}
	}

	p, err := kwin()
	if err != nil {
		log.Warn().Err(err).Msg("KWin window backend unavailable, using X11")
		return x11
	}
	log.Info().Msg("Using KWin window backend")
	return p
}
