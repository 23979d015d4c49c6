package preview

import (
	"fmt"
	"strings"
)

// Handle names one of the eight grab points on a preview's border.
type Handle int

const (
	TopLeft Handle = iota
	Top
	TopRight
	Left
	Right
	BottomLeft
	Bottom
	BottomRight
)

var handleNames = [...]string{"top_left", "top", "top_right", "left", "right", "bottom_left", "bottom", "bottom_right"}

func (h Handle) String() string {
	if h < 0 || int(h) >= len(handleNames) {
		return "unknown"
	}
	return handleNames[h]
}

// ParseHandle accepts the names produced by String, case-insensitively,
// with either underscores or dashes.
func ParseHandle(s string) (Handle, error) {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range handleNames {
		if s == name {
			return Handle(i), nil
		}
	}
	return 0, fmt.Errorf("unknown handle %q", s)
}

func (h Handle) movesLeft() bool   { return h == TopLeft || h == Left || h == BottomLeft }
func (h Handle) movesRight() bool  { return h == TopRight || h == Right || h == BottomRight }
func (h Handle) movesTop() bool    { return h == TopLeft || h == Top || h == TopRight }
func (h Handle) movesBottom() bool { return h == BottomLeft || h == Bottom || h == BottomRight }
func (h Handle) isCorner() bool {
	return h == TopLeft || h == TopRight || h == BottomLeft || h == BottomRight
}
