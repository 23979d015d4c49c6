package commands

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/pluriview/internal/config"
	"github.com/bryanchriswhite/pluriview/internal/window"
)

type namedProvider string

func (namedProvider) ListWindows() ([]window.Info, error) { return nil, nil }
func (namedProvider) Close() error { return nil }

func TestSelectProvider(t *testing.T) {
	x11 := namedProvider("x11")
	kwin := namedProvider("kwin")
	available := func() (kwinProvider, error) { return kwin, nil }
	missing := func() (kwinProvider, error) { return nil, errors.New("KWin service not found on D-Bus") }

	tests := []struct {
		name        string
		backend     string
		sessionType string
		kwin        func() (kwinProvider, error)
		want        window.Provider
	}{
		{"auto on x11", config.BackendAuto, "x11", available, x11},
		{"auto on wayland", config.BackendAuto, "wayland", available, kwin},
		{"auto on wayland without kwin", config.BackendAuto, "wayland", missing, x11},
		{"forced x11 on wayland", config.BackendX11, "wayland", available, x11},
		{"forced kwin on x11", config.BackendKWin, "x11", available, kwin},
		{"forced kwin unavailable", config.BackendKWin, "x11", missing, x11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectProvider(tt.backend, tt.sessionType, x11, tt.kwin); got != tt.want {
				t.Errorf("selectProvider() = %v, want %v", got, tt.want)
			}
		})
	}
}
