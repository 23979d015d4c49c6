package preview

import (
	"errors"
	"math"
	"testing"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
)

func newEntity(source capture.SourceID) Entity {
	return Entity{
		Source: source,
		Rect:   canvas.Rect{X: 0, Y: 0, W: 320, H: 180},
		Crop:   FullCrop(),
		FPS:    30,
	}
}

func TestAddAssignsIDAndStacksOnTop(t *testing.T) {
	b := NewBoard(DefaultLimits())

	first, err := b.Add(newEntity(1), true)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Add(newEntity(2), true)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Fatalf("ids not assigned uniquely: %q %q", first.ID, second.ID)
	}
	if second.ZOrder <= first.ZOrder {
		t.Errorf("new preview z=%d not above existing z=%d", second.ZOrder, first.ZOrder)
	}

	if _, err := b.Add(Entity{ID: first.ID}, true); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate Add error = %v, want ErrDuplicateID", err)
	}
}

func TestAddNormalizesInvalidFields(t *testing.T) {
	b := NewBoard(DefaultLimits())
	e, err := b.Add(Entity{
		Rect: canvas.Rect{X: math.NaN(), Y: 5, W: 3, H: -1},
		Crop: Crop{0.5, 0.5, 0.5, 0.5},
		FPS:  17,
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if e.Rect.X != 0 || e.Rect.W != DefaultMinSize || e.Rect.H != DefaultMinSize {
		t.Errorf("Rect = %+v, want clamped to min size at x=0", e.Rect)
	}
	if !e.Crop.Valid(DefaultCropEpsilon) {
		t.Errorf("Crop = %+v, want valid", e.Crop)
	}
	if e.FPS != 15 {
		t.Errorf("FPS = %d, want snapped to 15", e.FPS)
	}
}

func TestZOrderOperations(t *testing.T) {
	b := NewBoard(DefaultLimits())
	var ids []string
	for i := 0; i < 3; i++ {
		e, _ := b.Add(newEntity(capture.SourceID(i+1)), true)
		ids = append(ids, e.ID)
	}

	if err := b.BringToFront(ids[0]); err != nil {
		t.Fatal(err)
	}
	ordered := b.Ordered()
	if ordered[len(ordered)-1].ID != ids[0] {
		t.Errorf("BringToFront: top is %s, want %s", ordered[len(ordered)-1].ID, ids[0])
	}

	if err := b.SendToBack(ids[2]); err != nil {
		t.Fatal(err)
	}
	ordered = b.Ordered()
	if ordered[0].ID != ids[2] || ordered[0].ZOrder != 0 {
		t.Errorf("SendToBack: bottom is %s z=%d, want %s z=0", ordered[0].ID, ordered[0].ZOrder, ids[2])
	}
	for i, e := range ordered {
		if e.ZOrder != i {
			t.Errorf("after SendToBack z-orders not renumbered: %s has %d at position %d", e.ID, e.ZOrder, i)
		}
	}

	if err := b.BringToFront("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("BringToFront(missing) = %v, want ErrNotFound", err)
	}
}

func TestResizeLeavesCropAlone(t *testing.T) {
	b := NewBoard(DefaultLimits())
	e, _ := b.Add(newEntity(1), true)
	_ = b.SetCrop(e.ID, Crop{0.1, 0.2, 0.6, 0.7})
	before := e.Crop

	if err := b.Resize(e.ID, BottomRight, canvas.Point{X: 500, Y: 500}, 0); err != nil {
		t.Fatal(err)
	}
	if e.Crop != before {
		t.Errorf("crop changed by resize: %+v -> %+v", before, e.Crop)
	}
	if e.Rect.W != 820 || e.Rect.H != 680 {
		t.Errorf("Rect = %+v, want 820x680", e.Rect)
	}
}

func TestResize(t *testing.T) {
	start := canvas.Rect{X: 100, Y: 100, W: 400, H: 200}

	tests := []struct {
		name   string
		h      Handle
		delta  canvas.Point
		aspect float64
		want   canvas.Rect
	}{
		{"free bottom-right", BottomRight, canvas.Point{X: 100, Y: 50}, 0, canvas.Rect{X: 100, Y: 100, W: 500, H: 250}},
		{"free top-left", TopLeft, canvas.Point{X: 50, Y: 20}, 0, canvas.Rect{X: 150, Y: 120, W: 350, H: 180}},
		{"left past opposite pins at min", Left, canvas.Point{X: 1000}, 0, canvas.Rect{X: 400, Y: 100, W: 100, H: 200}},
		{"bottom collapse pins at min", Bottom, canvas.Point{Y: -500}, 0, canvas.Rect{X: 100, Y: 100, W: 400, H: 100}},
		{"corner keeps aspect", BottomRight, canvas.Point{X: 200, Y: 0}, 2, canvas.Rect{X: 100, Y: 100, W: 400, H: 200}},
		{"corner grows with aspect", BottomRight, canvas.Point{X: 200, Y: 100}, 2, canvas.Rect{X: 100, Y: 100, W: 600, H: 300}},
		{"top edge with aspect grows about center", Top, canvas.Point{Y: -100}, 2, canvas.Rect{X: 0, Y: 0, W: 600, H: 300}},
		{"aspect respects min size", TopLeft, canvas.Point{X: 390, Y: 190}, 4, canvas.Rect{X: 100, Y: 200, W: 400, H: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resize(start, tt.h, tt.delta, tt.aspect, DefaultMinSize)
			if !rectNear(got, tt.want) {
				t.Errorf("Resize(%v, %+v, %v) = %+v, want %+v", tt.h, tt.delta, tt.aspect, got, tt.want)
			}
			if got.W < DefaultMinSize || got.H < DefaultMinSize {
				t.Errorf("Resize produced %+v below min size", got)
			}
		})
	}
}

func rectNear(a, b canvas.Rect) bool {
	const e = 1e-9
	return math.Abs(a.X-b.X) < e && math.Abs(a.Y-b.Y) < e && math.Abs(a.W-b.W) < e && math.Abs(a.H-b.H) < e
}

func TestParseHandle(t *testing.T) {
	for h := TopLeft; h <= BottomRight; h++ {
		got, err := ParseHandle(h.String())
		if err != nil || got != h {
			t.Errorf("ParseHandle(%q) = %v, %v", h.String(), got, err)
		}
	}
	if got, err := ParseHandle("Bottom-Right"); err != nil || got != BottomRight {
		t.Errorf("ParseHandle(Bottom-Right) = %v, %v", got, err)
	}
	if _, err := ParseHandle("middle"); err == nil {
		t.Error("ParseHandle(middle) succeeded")
	}
}
