package window

import (
	"github.com/bryanchriswhite/pluriview/internal/capture"
)

// Info describes a capturable top-level window.
type Info struct {
	ID    capture.SourceID `json:"id"`
	Title string           `json:"title"`
	Class string           `json:"class"`
	PID   int              `json:"pid,omitempty"`
}

// Provider enumerates the windows available for capture.
type Provider interface {
	ListWindows() ([]Info, error)
}

// Activator raises a window and gives it input focus.
type Activator interface {
	BringToFront(id capture.SourceID) error
}
