package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/jonboulle/clockwork"

	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// X11Capability captures windows on X11/XWayland by polling their Composite
// backing pixmap.
type X11Capability struct {
	conn             *xgb.Conn
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	pollInterval     time.Duration
	clock            clockwork.Clock

	// xgb serialises requests itself, but redirect/name/get/free must not
	// interleave between two streams of the same window.
	mu sync.Mutex
}

// NewX11Capability connects to the X server named by $DISPLAY.
func NewX11Capability(pollInterval time.Duration) (*X11Capability, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	c := &X11Capability{
		conn:         conn,
		screen:       xproto.Setup(conn).DefaultScreen(conn),
		pollInterval: pollInterval,
		clock:        clockwork.NewRealClock(),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 16 * time.Millisecond
	}

	log := logger.WithComponent("x11-capture")
	if err := composite.Init(conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - obscured windows will capture incorrectly")
	} else {
		c.compositeEnabled = true
		log.Info().Msg("Composite extension initialized")
	}

	return c, nil
}

// Close drops the X connection.
func (c *X11Capability) Close() error {
	c.conn.Close()
	return nil
}

// Begin validates the window and starts a polling stream for it.
func (c *X11Capability) Begin(ctx context.Context, id SourceID) (Stream, error) {
	win := xproto.Window(id)
	if _, err := xproto.GetWindowAttributes(c.conn, win).Reply(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, id, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &x11Stream{
		frames: make(chan *Frame, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.poll(ctx, c, win)
	return s, nil
}

// Snapshot grabs a single frame outside any session. The window list serves
// thumbnails from it.
func (c *X11Capability) Snapshot(id SourceID) (*image.RGBA, error) {
	return c.grab(xproto.Window(id))
}

type x11Stream struct {
	frames chan *Frame
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *x11Stream) Frames() <-chan *Frame { return s.frames }

func (s *x11Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *x11Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *x11Stream) poll(ctx context.Context, c *X11Capability, win xproto.Window) {
	defer close(s.done)
	defer close(s.frames)

	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		img, err := c.grab(win)
		if err != nil {
			if _, attrErr := xproto.GetWindowAttributes(c.conn, win).Reply(); attrErr != nil {
				s.mu.Lock()
				s.err = fmt.Errorf("%w: window 0x%x destroyed", ErrSourceUnavailable, uint32(win))
				s.mu.Unlock()
				return
			}
			// Unmapped or minimized windows produce nothing until restored.
			logger.WithComponent("x11-capture").Debug().
				Err(err).
				Uint32("window_id", uint32(win)).
				Msg("Window not capturable right now")
			continue
		}

		f := &Frame{Image: img, CapturedAt: c.clock.Now()}
		select {
		case s.frames <- f:
		default:
			// Reader is behind; replace the pending frame with the newer one.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- f:
			default:
			}
		}
	}
}

// grab reads the current contents of a window, descending to a viewable
// child when the top-level is a frame or input-only window.
func (c *X11Capability) grab(win xproto.Window) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	attrs, err := xproto.GetWindowAttributes(c.conn, win).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window attributes: %w", err)
	}
	if attrs.Class != xproto.WindowClassInputOutput || attrs.MapState != xproto.MapStateViewable {
		child, err := c.findCapturableChild(win)
		if err != nil {
			return nil, fmt.Errorf("no capturable window found: %w", err)
		}
		win = child
	}

	geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}
	if geom.Width == 0 || geom.Height == 0 {
		return nil, fmt.Errorf("window 0x%x has no area", uint32(win))
	}

	return c.captureDrawable(win, geom)
}

func (c *X11Capability) findCapturableChild(parent xproto.Window) (xproto.Window, error) {
	tree, err := xproto.QueryTree(c.conn, parent).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to query tree: %w", err)
	}

	for _, child := range tree.Children {
		attrs, err := xproto.GetWindowAttributes(c.conn, child).Reply()
		if err != nil {
			continue
		}
		geom, err := xproto.GetGeometry(c.conn, xproto.Drawable(child)).Reply()
		if err != nil {
			continue
		}
		if attrs.Class == xproto.WindowClassInputOutput && attrs.MapState == xproto.MapStateViewable &&
			geom.Width > 10 && geom.Height > 10 {
			return child, nil
		}
		if grandchild, err := c.findCapturableChild(child); err == nil {
			return grandchild, nil
		}
	}

	return 0, fmt.Errorf("no capturable child of 0x%x", uint32(parent))
}

// captureDrawable prefers the Composite backing pixmap, which stays valid
// while the window is covered by others.
func (c *X11Capability) captureDrawable(win xproto.Window, geom *xproto.GetGeometryReply) (*image.RGBA, error) {
	drawable := xproto.Drawable(win)

	if c.compositeEnabled {
		if err := composite.RedirectWindowChecked(c.conn, win, composite.RedirectAutomatic).Check(); err == nil {
			defer composite.UnredirectWindow(c.conn, win, composite.RedirectAutomatic)

			if pixmap, err := xproto.NewPixmapId(c.conn); err == nil {
				if err := composite.NameWindowPixmapChecked(c.conn, win, pixmap).Check(); err == nil {
					drawable = xproto.Drawable(pixmap)
					defer xproto.FreePixmap(c.conn, pixmap)
				}
			}
		}
	}

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		geom.Width, geom.Height,
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return bgraToRGBA(reply.Data, int(geom.Width), int(geom.Height), int(c.screen.RootDepth)), nil
}

// bgraToRGBA converts a 24/32-bit ZPixmap into an opaque RGBA image.
func bgraToRGBA(data []byte, width, height, depth int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if depth != 24 && depth != 32 {
		return img
	}

	n := width * height * 4
	if len(data) < n {
		n = len(data) - len(data)%4
	}
	pix := img.Pix
	for i := 0; i < n; i += 4 {
		pix[i] = data[i+2]
		pix[i+1] = data[i+1]
		pix[i+2] = data[i]
		pix[i+3] = 0xff
	}
	return img
}
