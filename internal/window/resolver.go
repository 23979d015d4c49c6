package window

import (
	"strings"

	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// Resolver maps a remembered window description back onto a live window.
// It works from a single enumeration taken at construction time.
type Resolver struct {
	windows []Info
}

// NewResolver enumerates the provider once. An enumeration failure yields a
// resolver that matches nothing, so every preview comes back offline.
func NewResolver(p Provider) *Resolver {
	windows, err := p.ListWindows()
	if err != nil {
		logger.WithComponent("resolver").Warn().Err(err).Msg("Window enumeration failed, all sources unresolved")
	}
	return &Resolver{windows: windows}
}

// NewResolverFromList builds a resolver over a known window list.
func NewResolverFromList(windows []Info) *Resolver {
	return &Resolver{windows: windows}
}

// Resolve tries, in order: the last known id if that window still shows the
// remembered title and class, any window with that exact title and class,
// the last known id with a compatible class but a new title, then a window
// of the same class whose title contains (or is contained in) the
// remembered one, ignoring case. X11 reuses ids, so a recycled id only wins
// when no window carries the exact title.
func (r *Resolver) Resolve(title, class string, last capture.SourceID) (capture.SourceID, bool) {
	lastWin, haveLast := r.byID(last)
	if haveLast && class != "" && !ClassesMatch(lastWin.Class, class) {
		haveLast = false
	}

	if haveLast && lastWin.Title == title {
		return lastWin.ID, true
	}
	for _, w := range r.windows {
		if w.Title == title && ClassesMatch(w.Class, class) {
			return w.ID, true
		}
	}
	if haveLast {
		return lastWin.ID, true
	}

	if title == "" {
		return 0, false
	}
	lt := strings.ToLower(title)
	for _, w := range r.windows {
		if !ClassesMatch(w.Class, class) {
			continue
		}
		wt := strings.ToLower(w.Title)
		if wt == "" {
			continue
		}
		if strings.Contains(wt, lt) || strings.Contains(lt, wt) {
			return w.ID, true
		}
	}
	return 0, false
}

func (r *Resolver) byID(id capture.SourceID) (Info, bool) {
	if id == 0 {
		return Info{}, false
	}
	for _, w := range r.windows {
		if w.ID == id {
			return w, true
		}
	}
	return Info{}, false
}

// ClassesMatch compares WM_CLASS values case-insensitively, treating a
// reverse-domain class ("org.gnome.Terminal") as equal to its last segment.
func ClassesMatch(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return lastSegment(a) == lastSegment(b)
}

func lastSegment(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 && i+1 < len(s) {
		return s[i+1:]
	}
	return s
}
