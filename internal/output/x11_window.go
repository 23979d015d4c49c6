package output

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// X11WindowOutput shows the composed canvas in a top-level X11 window.
type X11WindowOutput struct {
	config Config

	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	format ximageFormat
	maxReq int

	mu      sync.Mutex
	win     xproto.Window
	gc      xproto.Gcontext
	running bool
	closed  bool
	frames  uint64
}

// ximageFormat describes how the server expects ZPixmap rows.
type ximageFormat struct {
	depth         byte
	bytesPerPixel int
	scanlinePad   int
}

// NewX11WindowOutput connects to the X server. The window is created by Start.
func NewX11WindowOutput(config Config) (*X11WindowOutput, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("invalid window size %dx%d", config.Width, config.Height)
	}
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	format := ximageFormat{depth: screen.RootDepth}
	for _, f := range setup.PixmapFormats {
		if f.Depth == screen.RootDepth {
			format.bytesPerPixel = int(f.BitsPerPixel) / 8
			format.scanlinePad = int(f.ScanlinePad) / 8
			break
		}
	}
	if format.bytesPerPixel != 3 && format.bytesPerPixel != 4 {
		conn.Close()
		return nil, fmt.Errorf("unsupported pixmap format for depth %d", screen.RootDepth)
	}

	return &X11WindowOutput{
		config: config,
		conn:   conn,
		screen: screen,
		format: format,
		// MaximumRequestLength counts 4-byte units; leave room for the header
		maxReq: int(setup.MaximumRequestLength)*4 - 64,
	}, nil
}

// Start creates and maps the window.
func (o *X11WindowOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("X11 window output already running")
	}

	win, err := xproto.NewWindowId(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	err = xproto.CreateWindowChecked(
		o.conn,
		o.screen.RootDepth,
		win,
		o.screen.Root,
		0, 0,
		uint16(o.config.Width), uint16(o.config.Height),
		0,
		xproto.WindowClassInputOutput,
		o.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{0x000000, xproto.EventMaskExposure | xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	o.win = win

	log := logger.WithComponent("x11-window")
	if err := o.setProperty("_NET_WM_NAME", "UTF8_STRING", "pluriview"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := o.setProperty("WM_CLASS", "STRING", "pluriview\x00Pluriview\x00"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(o.conn, win).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(o.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(o.conn, gc, xproto.Drawable(win), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	o.gc = gc
	o.running = true

	log.Info().
		Int("width", o.config.Width).
		Int("height", o.config.Height).
		Uint32("window_id", uint32(win)).
		Msg("Canvas window created")
	return nil
}

// Stop destroys the window and closes the connection.
func (o *X11WindowOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		xproto.FreeGC(o.conn, o.gc)
		xproto.DestroyWindow(o.conn, o.win)
		o.conn.Sync()
		o.running = false
		logger.WithComponent("x11-window").Info().Uint64("frames", o.frames).Msg("Canvas window closed")
	}
	if !o.closed {
		o.closed = true
		o.conn.Close()
	}
	return nil
}

// WriteFrame uploads the frame, in row bands small enough for one request
// each. Frames of another size are drawn from the top-left corner.
func (o *X11WindowOutput) WriteFrame(frame *image.RGBA) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}

	b := frame.Bounds()
	width := min(b.Dx(), o.config.Width)
	height := min(b.Dy(), o.config.Height)
	if width <= 0 || height <= 0 {
		return nil
	}

	stride := o.format.stride(width)
	rows := max(1, o.maxReq/stride)
	for y := 0; y < height; y += rows {
		band := min(rows, height-y)
		data := packZPixmap(frame, image.Rect(b.Min.X, b.Min.Y+y, b.Min.X+width, b.Min.Y+y+band), o.format)
		err := xproto.PutImageChecked(
			o.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(o.win),
			o.gc,
			uint16(width), uint16(band),
			0, int16(y),
			0,
			o.format.depth,
			data,
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	o.frames++
	return nil
}

// Name returns the output name
func (o *X11WindowOutput) Name() string {
	return "x11-window"
}

// IsRunning returns whether the window is shown
func (o *X11WindowOutput) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// WindowID identifies the canvas window, so it can be left out of capture.
func (o *X11WindowOutput) WindowID() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return uint32(o.win)
}

func (o *X11WindowOutput) setProperty(name, typ, value string) error {
	prop, err := o.atom(name)
	if err != nil {
		return err
	}
	kind, err := o.atom(typ)
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(
		o.conn,
		xproto.PropModeReplace,
		o.win,
		prop,
		kind,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

func (o *X11WindowOutput) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(o.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

func (f ximageFormat) stride(width int) int {
	unpadded := width * f.bytesPerPixel
	pad := f.scanlinePad
	if pad <= 0 {
		return unpadded
	}
	return (unpadded + pad - 1) / pad * pad
}

// packZPixmap converts a region of img to the server's BGR(x) layout with
// padded scanlines. The alpha byte is only kept for depth 32.
func packZPixmap(img *image.RGBA, r image.Rectangle, f ximageFormat) []byte {
	width, height := r.Dx(), r.Dy()
	stride := f.stride(width)
	data := make([]byte, stride*height)

	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(r.Min.X, r.Min.Y+y):]
		dst := data[y*stride:]
		for x := 0; x < width; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*f.bytesPerPixel:]
			d[0], d[1], d[2] = s[2], s[1], s[0]
			if f.bytesPerPixel == 4 && f.depth == 32 {
				d[3] = s[3]
			}
		}
	}
	return data
}
