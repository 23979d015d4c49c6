package window

import (
	"testing"

	"github.com/BurntSushi/xgbutil/icccm"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		in   *icccm.WmClass
		want string
	}{
		{"class wins", &icccm.WmClass{Instance: "navigator", Class: "firefox"}, "firefox"},
		{"instance fallback", &icccm.WmClass{Instance: "xterm"}, "xterm"},
		{"empty", &icccm.WmClass{}, ""},
		{"missing", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classOf(tt.in); got != tt.want {
				t.Errorf("classOf(%+v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplicationWindow(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  bool
	}{
		{"untyped", nil, true},
		{"normal", []string{"_NET_WM_WINDOW_TYPE_NORMAL"}, true},
		{"dialog", []string{"_NET_WM_WINDOW_TYPE_DIALOG"}, true},
		{"dock", []string{"_NET_WM_WINDOW_TYPE_DOCK"}, false},
		{"desktop", []string{"_NET_WM_WINDOW_TYPE_DESKTOP"}, false},
		{"first known type decides", []string{"_KDE_NET_WM_WINDOW_TYPE_OVERRIDE", "_NET_WM_WINDOW_TYPE_NORMAL"}, true},
		{"unknown only", []string{"_KDE_NET_WM_WINDOW_TYPE_OVERRIDE"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applicationWindow(tt.types); got != tt.want {
				t.Errorf("applicationWindow(%v) = %v, want %v", tt.types, got, tt.want)
			}
		})
	}
}
