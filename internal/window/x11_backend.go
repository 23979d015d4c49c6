package window

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"

	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// X11Backend lists and activates windows through EWMH and ICCCM hints.
type X11Backend struct {
	xu *xgbutil.XUtil
}

// NewX11Backend connects to the X server named by $DISPLAY.
func NewX11Backend() (*X11Backend, error) {
	xu, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}
	return &X11Backend{xu: xu}, nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.xu.Conn().Close()
	return nil
}

// ListWindows returns managed windows from _NET_CLIENT_LIST, falling back to
// the children of the root window when no EWMH window manager is running.
// Docks, desktops and other non-application windows are skipped.
func (b *X11Backend) ListWindows() ([]Info, error) {
	log := logger.WithComponent("x11-backend")

	ids, err := ewmh.ClientListGet(b.xu)
	if err != nil || len(ids) == 0 {
		log.Debug().Err(err).Msg("EWMH client list unavailable, falling back to QueryTree")
		tree, err := xproto.QueryTree(b.xu.Conn(), b.xu.RootWin()).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to query window tree: %w", err)
		}
		ids = tree.Children
	}

	windows := make([]Info, 0, len(ids))
	for _, win := range ids {
		if types, err := ewmh.WmWindowTypeGet(b.xu, win); err == nil && !applicationWindow(types) {
			continue
		}
		info := b.windowInfo(win)
		if info.Title == "" && info.Class == "" {
			continue
		}
		windows = append(windows, info)
	}

	log.Debug().Int("count", len(windows)).Msg("Listed windows")
	return windows, nil
}

// BringToFront asks the window manager to activate the window, mapping it
// first in case it is minimized.
func (b *X11Backend) BringToFront(id capture.SourceID) error {
	win := xproto.Window(id)

	_ = xproto.MapWindowChecked(b.xu.Conn(), win).Check()

	if err := ewmh.ActiveWindowReq(b.xu, win); err != nil {
		return fmt.Errorf("failed to activate window %s: %w", id, err)
	}

	logger.WithComponent("x11-backend").Debug().
		Str("window", id.String()).
		Msg("Requested window activation")
	return nil
}

func (b *X11Backend) windowInfo(win xproto.Window) Info {
	info := Info{ID: capture.SourceID(win)}

	if title, err := ewmh.WmNameGet(b.xu, win); err == nil && title != "" {
		info.Title = title
	} else if title, err := icccm.WmNameGet(b.xu, win); err == nil {
		info.Title = title
	}
	if class, err := icccm.WmClassGet(b.xu, win); err == nil {
		info.Class = classOf(class)
	}
	if pid, err := ewmh.WmPidGet(b.xu, win); err == nil {
		info.PID = int(pid)
	}
	return info
}

// classOf prefers the WM_CLASS class over the instance name.
func classOf(c *icccm.WmClass) string {
	if c == nil {
		return ""
	}
	if c.Class != "" {
		return c.Class
	}
	return c.Instance
}

// applicationWindow rejects the EWMH types that never hold application
// content. A window without a type counts as normal.
func applicationWindow(types []string) bool {
	for _, t := range types {
		switch t {
		case "_NET_WM_WINDOW_TYPE_NORMAL", "_NET_WM_WINDOW_TYPE_DIALOG":
			return true
		case "_NET_WM_WINDOW_TYPE_DESKTOP", "_NET_WM_WINDOW_TYPE_DOCK",
			"_NET_WM_WINDOW_TYPE_SPLASH", "_NET_WM_WINDOW_TYPE_NOTIFICATION":
			return false
		}
	}
	return true
}
