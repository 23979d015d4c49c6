package window

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/pluriview/internal/capture"
)

func TestClassesMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"firefox", "firefox", true},
		{"Firefox", "firefox", true},
		{"org.gnome.Terminal", "terminal", true},
		{"terminal", "org.gnome.Terminal", true},
		{"com.mitchellh.ghostty", "com.mitchellh.ghostty", true},
		{"alacritty", "kitty", false},
		{"", "", true},
		{"kitty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			if got := ClassesMatch(tt.a, tt.b); got != tt.want {
				t.Errorf("ClassesMatch(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	windows := []Info{
		{ID: 0x100, Title: "Inbox - Mail", Class: "thunderbird"},
		{ID: 0x200, Title: "notes.md - Editor", Class: "code"},
		{ID: 0x300, Title: "Build Logs", Class: "org.gnome.Terminal"},
		{ID: 0x400, Title: "htop", Class: "xterm"},
		{ID: 0x500, Title: "vim notes.txt", Class: "xterm"},
	}
	r := NewResolverFromList(windows)

	tests := []struct {
		name   string
		title  string
		class  string
		last   capture.SourceID
		want   capture.SourceID
		wantOK bool
	}{
		{"last id wins when class agrees", "renamed", "code", 0x200, 0x200, true},
		{"last id ignored on class change", "Inbox - Mail", "thunderbird", 0x200, 0x100, true},
		{"exact title and class", "Build Logs", "terminal", 0, 0x300, true},
		{"case-insensitive containment", "inbox", "thunderbird", 0, 0x100, true},
		{"live title contained in remembered one", "Build Logs (2)", "Terminal", 0, 0x300, true},
		{"class mismatch", "Inbox - Mail", "firefox", 0, 0, false},
		{"gone", "Spreadsheet", "calc", 0x999, 0, false},
		{"recycled id loses to exact title", "vim notes.txt", "xterm", 0x400, 0x500, true},
		{"last id with matching title", "htop", "xterm", 0x400, 0x400, true},
		{"recycled id over containment", "vim", "xterm", 0x400, 0x400, true},
		{"gone id falls back to exact title", "vim notes.txt", "xterm", 0x999, 0x500, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.title, tt.class, tt.last)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve(%q, %q, %v) = (%v, %v), want (%v, %v)",
					tt.title, tt.class, tt.last, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

type failingProvider struct{}

func (failingProvider) ListWindows() ([]Info, error) { return nil, errors.New("no display") }

func TestResolverWithFailedEnumerationMatchesNothing(t *testing.T) {
	r := NewResolver(failingProvider{})
	if _, ok := r.Resolve("anything", "", 0); ok {
		t.Error("Resolve succeeded without any windows")
	}
}
