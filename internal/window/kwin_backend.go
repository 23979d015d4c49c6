package window

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// KWin D-Bus constants
const (
	kwinService       = "org.kde.KWin"
	windowsRunnerPath = "/WindowsRunner"
	krunnerInterface  = "org.kde.krunner1"
	kwinWindowPath    = "/org/kde/KWin/Window"

	// noXID is what KWin reports for a native Wayland window.
	noXID = 0x200000
)

var kwinInterfaces = []string{
	"org.kde.KWin.Window", // KWin6
	"org.kde.KWin.Client", // KWin5
}

// ErrNoKWinWindows is returned when no enumeration strategy worked.
var ErrNoKWinWindows = errors.New("no KWin window enumeration available")

// kwinWindow is one window as KWin names it, before the X11 id is known.
type kwinWindow struct {
	uuid  string
	title string
	class string
	pid   int
}

// KWinBackend lists windows on a KDE Plasma Wayland session through kdotool
// and KWin's D-Bus interfaces. Only XWayland windows are listed, because
// capture needs an X11 window id.
type KWinBackend struct {
	conn       *dbus.Conn
	useKdotool bool

	run       func(name string, args ...string) ([]byte, error)
	lookupXID func(uuid string) (uint32, bool)
}

// NewKWinBackend connects to the session bus and fails when KWin is not on
// it.
func NewKWinBackend() (*KWinBackend, error) {
	log := logger.WithComponent("kwin-backend")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}
	found := false
	for _, name := range names {
		if name == kwinService {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("KWin service not found on D-Bus")
	}

	b := &KWinBackend{conn: conn, run: runCommand}
	b.lookupXID = b.windowXID
	if _, err := exec.LookPath("kdotool"); err == nil {
		b.useKdotool = true
		log.Info().Msg("Using kdotool for window enumeration")
	} else {
		log.Info().Msg("kdotool not found, using KWin D-Bus enumeration")
	}
	log.Info().Msg("Connected to KWin D-Bus service")
	return b, nil
}

// Close closes the D-Bus connection
func (b *KWinBackend) Close() error {
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// ListWindows tries kdotool, the KRunner windows plugin, then D-Bus
// introspection, and keeps the windows that have an X11 id.
func (b *KWinBackend) ListWindows() ([]Info, error) {
	log := logger.WithComponent("kwin-backend")

	type strategy struct {
		name string
		list func() ([]kwinWindow, error)
	}
	var strategies []strategy
	if b.useKdotool {
		strategies = append(strategies, strategy{"kdotool", b.listKdotool})
	}
	if b.conn != nil {
		strategies = append(strategies,
			strategy{"runner", b.listRunner},
			strategy{"introspect", b.listIntrospect},
		)
	}

	lastErr := ErrNoKWinWindows
	for _, s := range strategies {
		found, err := s.list()
		if err != nil {
			log.Debug().Str("strategy", s.name).Err(err).Msg("Window enumeration failed")
			lastErr = err
			continue
		}
		windows, native := b.capturable(found)
		log.Debug().
			Str("strategy", s.name).
			Int("count", len(windows)).
			Int("native_wayland", native).
			Msg("Listed windows")
		return windows, nil
	}
	return nil, lastErr
}

// capturable keeps the windows with an X11 id and counts the rest.
func (b *KWinBackend) capturable(found []kwinWindow) ([]Info, int) {
	windows := make([]Info, 0, len(found))
	native := 0
	for _, w := range found {
		if w.title == "" && w.class == "" {
			continue
		}
		xid, ok := b.lookupXID(w.uuid)
		if !ok {
			native++
			continue
		}
		windows = append(windows, Info{ID: capture.SourceID(xid), Title: w.title, Class: w.class, PID: w.pid})
	}
	return windows, native
}

func (b *KWinBackend) listKdotool() ([]kwinWindow, error) {
	out, err := b.run("kdotool", "search", "--name", ".")
	if err != nil {
		return nil, fmt.Errorf("kdotool search failed: %w", err)
	}

	var windows []kwinWindow
	for _, id := range parseKdotoolIDs(out) {
		w := kwinWindow{uuid: uuidFromID(id)}
		if name, err := b.run("kdotool", "getwindowname", id); err == nil {
			w.title = strings.TrimSpace(string(name))
		}
		if class, err := b.run("kdotool", "getwindowclassname", id); err == nil {
			w.class = strings.TrimSpace(string(class))
		}
		if pid, err := b.run("kdotool", "getwindowpid", id); err == nil {
			w.pid, _ = strconv.Atoi(strings.TrimSpace(string(pid)))
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// listRunner asks the KRunner windows plugin for every window. Match returns
// a(sssida{sv}): id, text, icon name, type, relevance, properties.
func (b *KWinBackend) listRunner() ([]kwinWindow, error) {
	var raw [][]interface{}
	obj := b.conn.Object(kwinService, windowsRunnerPath)
	if err := obj.Call(krunnerInterface+".Match", 0, "").Store(&raw); err != nil {
		return nil, fmt.Errorf("failed to call Match: %w", err)
	}
	return runnerWindows(raw), nil
}

func (b *KWinBackend) listIntrospect() ([]kwinWindow, error) {
	node, err := introspect.Call(b.conn.Object(kwinService, kwinWindowPath))
	if err != nil {
		return nil, fmt.Errorf("introspection failed: %w", err)
	}

	windows := make([]kwinWindow, 0, len(node.Children))
	for _, child := range node.Children {
		obj := b.conn.Object(kwinService, dbus.ObjectPath(kwinWindowPath+"/"+child.Name))
		w := kwinWindow{
			uuid:  child.Name,
			title: stringProperty(obj, "caption"),
			class: stringProperty(obj, "resourceClass"),
		}
		if w.class == "" {
			w.class = stringProperty(obj, "resourceName")
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// windowXID reads the X11 id KWin keeps for XWayland windows.
func (b *KWinBackend) windowXID(uuid string) (uint32, bool) {
	path, ok := windowObjectPath(uuid)
	if !ok {
		return 0, false
	}
	obj := b.conn.Object(kwinService, path)
	for _, iface := range kwinInterfaces {
		for _, prop := range []string{"internalId", "windowId"} {
			v, err := obj.GetProperty(iface + "." + prop)
			if err != nil {
				continue
			}
			if xid, ok := xidFromValue(v.Value()); ok {
				return xid, true
			}
		}
	}
	return 0, false
}

func stringProperty(obj dbus.BusObject, name string) string {
	for _, iface := range kwinInterfaces {
		v, err := obj.GetProperty(iface + "." + name)
		if err != nil {
			continue
		}
		if s, ok := v.Value().(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// parseKdotoolIDs returns one window id per non-empty output line.
func parseKdotoolIDs(out []byte) []string {
	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	return ids
}

// runnerWindows decodes KRunner matches. Rows that are too short or have no
// usable text are dropped.
func runnerWindows(raw [][]interface{}) []kwinWindow {
	windows := make([]kwinWindow, 0, len(raw))
	for _, row := range raw {
		if len(row) < 3 {
			continue
		}
		id, ok := row[0].(string)
		if !ok {
			continue
		}
		w := kwinWindow{uuid: uuidFromID(id)}
		w.title, _ = row[1].(string)
		w.class, _ = row[2].(string)
		if w.class == "" {
			w.class = classFromTitle(w.title)
		}
		if w.title == "" && w.class == "" {
			continue
		}
		windows = append(windows, w)
	}
	return windows
}

// uuidFromID extracts the window uuid from ids such as
// "0_{dc80ff04-3245-4d9b-b9a8-1582640d39e1}" or "{dc80...}".
func uuidFromID(id string) string {
	start := strings.IndexByte(id, '{')
	end := strings.IndexByte(id, '}')
	if start >= 0 && end > start {
		return id[start+1 : end]
	}
	return id
}

// windowObjectPath builds the D-Bus path of a KWin window. Object paths do
// not allow dashes, so uuids are tried with underscores too.
func windowObjectPath(uuid string) (dbus.ObjectPath, bool) {
	if uuid == "" {
		return "", false
	}
	for _, name := range []string{uuid, strings.ReplaceAll(uuid, "-", "_")} {
		if p := dbus.ObjectPath(kwinWindowPath + "/" + name); p.IsValid() {
			return p, true
		}
	}
	return "", false
}

// classFromTitle guesses an application name from a "Page - App" title.
func classFromTitle(title string) string {
	for _, sep := range []string{" \u2014 ", " - "} {
		idx := strings.LastIndex(title, sep)
		if idx <= 0 {
			continue
		}
		if app := strings.TrimSpace(title[idx+len(sep):]); app != "" && len(app) <= 30 {
			return strings.ToLower(app)
		}
	}
	return ""
}

// xidFromValue accepts the integer types KWin uses for window ids and
// rejects the native Wayland marker.
func xidFromValue(v interface{}) (uint32, bool) {
	var xid uint32
	switch n := v.(type) {
	case uint32:
		xid = n
	case int32:
		xid = uint32(n)
	case uint64:
		xid = uint32(n)
	case int64:
		xid = uint32(n)
	default:
		return 0, false
	}
	if xid == 0 || xid == noXID {
		return 0, false
	}
	return xid, true
}
