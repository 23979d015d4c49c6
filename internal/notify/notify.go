// Package notify shows user-facing warnings, such as a failed layout save.
package notify

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/godbus/dbus/v5"
)

// Notifier delivers a short warning to the user.
type Notifier interface {
	Warn(summary, body string)
}

// D-Bus notification constants
const (
	notificationsService   = "org.freedesktop.Notifications"
	notificationsPath      = "/org/freedesktop/Notifications"
	notificationsInterface = "org.freedesktop.Notifications"
	appName                = "pluriview"
	expireMillis           = 8000
)

// DBusNotifier posts desktop notifications over the session bus. Repeats of
// the same summary replace the previous bubble instead of stacking.
type DBusNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu       sync.Mutex
	replaces map[string]uint32
}

// NewDBusNotifier connects to the session bus and checks that a
// notification daemon is running.
func NewDBusNotifier() (*DBusNotifier, error) {
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
		if name == notificationsService {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("notification service not found on D-Bus")
	}

	return &DBusNotifier{
		conn:     conn,
		obj:      conn.Object(notificationsService, notificationsPath),
		replaces: make(map[string]uint32),
	}, nil
}

// Warn posts a notification. Failures are logged, never returned.
func (n *DBusNotifier) Warn(summary, body string) {
	n.mu.Lock()
	replaces := n.replaces[summary]
	n.mu.Unlock()

	var id uint32
	err := n.obj.Call(notificationsInterface+".Notify", 0,
		appName,
		replaces,
		"dialog-warning",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))},
		int32(expireMillis),
	).Store(&id)
	if err != nil {
		logger.WithComponent("notify").Debug().Err(err).Str("summary", summary).Msg("Desktop notification failed")
		return
	}

	n.mu.Lock()
	n.replaces[summary] = id
	n.mu.Unlock()
}

// Close releases the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// LogNotifier writes warnings to the log only.
type LogNotifier struct{}

func (LogNotifier) Warn(summary, body string) {
	logger.WithComponent("notify").Warn().Str("summary", summary).Msg(body)
}

// Fanout sends each warning to every notifier.
type Fanout []Notifier

func (f Fanout) Warn(summary, body string) {
	for _, n := range f {
		if n != nil {
			n.Warn(summary, body)
		}
	}
}

// New returns a notifier that always logs and also posts desktop
// notifications when a notification daemon is reachable.
func New() Notifier {
	d, err := NewDBusNotifier()
	if err != nil {
		logger.WithComponent("notify").Debug().Err(err).Msg("Desktop notifications unavailable, logging only")
		return LogNotifier{}
	}
	return Fanout{LogNotifier{}, d}
}
