package preview

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateID is returned when adding an entity whose id is taken.
	ErrDuplicateID = errors.New("duplicate entity id")

	// ErrNotFound is returned for operations on an unknown entity.
	ErrNotFound = errors.New("preview not found")
)

// Board owns the previews on a canvas. It is not safe for concurrent use.
type Board struct {
	limits   Limits
	entities map[string]*Entity
}

// NewBoard creates an empty board.
func NewBoard(limits Limits) *Board {
	return &Board{
		limits:   limits.normalized(),
		entities: make(map[string]*Entity),
	}
}

// Limits returns the geometry bounds in effect.
func (b *Board) Limits() Limits { return b.limits }

// NewID returns a fresh entity id.
func NewID() string { return uuid.NewString() }

// Add inserts a copy of e, assigning an id if it has none, and returns the
// stored entity. With top set the entity goes above everything else;
// otherwise its ZOrder is kept.
func (b *Board) Add(e Entity, top bool) (*Entity, error) {
	if e.ID == "" {
		e.ID = NewID()
	}
	if _, ok := b.entities[e.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	e.Normalize(b.limits)
	if top {
		e.ZOrder = b.maxZ() + 1
	}
	stored := e
	b.entities[e.ID] = &stored
	return &stored, nil
}

// Get returns the entity with the given id.
func (b *Board) Get(id string) (*Entity, bool) {
	e, ok := b.entities[id]
	return e, ok
}

// Remove deletes an entity and returns it.
func (b *Board) Remove(id string) (Entity, bool) {
	e, ok := b.entities[id]
	if !ok {
		return Entity{}, false
	}
	delete(b.entities, id)
	return *e, true
}

// Len returns the number of entities.
func (b *Board) Len() int { return len(b.entities) }

// Ordered returns the entities bottom to top. Ties in ZOrder sort by id.
func (b *Board) Ordered() []*Entity {
	out := make([]*Entity, 0, len(b.entities))
	for _, e := range b.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZOrder != out[j].ZOrder {
			return out[i].ZOrder < out[j].ZOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Targets returns hit-test targets bottom to top.
func (b *Board) Targets() []canvas.Target {
	ordered := b.Ordered()
	out := make([]canvas.Target, len(ordered))
	for i, e := range ordered {
		out[i] = e.Target()
	}
	return out
}

// BringToFront puts an entity above all others.
func (b *Board) BringToFront(id string) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	top := b.maxZ()
	if e.ZOrder == top && b.uniqueZ(top) {
		return nil
	}
	e.ZOrder = top + 1
	return nil
}

// SendToBack puts an entity below all others and renumbers the stack from 0.
func (b *Board) SendToBack(id string) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	ordered := b.Ordered()
	e.ZOrder = 0
	z := 1
	for _, other := range ordered {
		if other.ID == id {
			continue
		}
		other.ZOrder = z
		z++
	}
	return nil
}

// Move translates an entity by a world-space delta.
func (b *Board) Move(id string, delta canvas.Point) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	if !delta.Finite() {
		return nil
	}
	e.Rect = e.Rect.Translate(delta)
	return nil
}

// SetRect places an entity, clamping its size.
func (b *Board) SetRect(id string, r canvas.Rect) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.Rect = clampRect(r, b.limits.MinSize)
	return nil
}

// Resize drags a handle by a world-space delta. Aspect is the ratio to keep,
// or 0 for a free resize.
func (b *Board) Resize(id string, h Handle, delta canvas.Point, aspect float64) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.Rect = Resize(e.Rect, h, delta, aspect, b.limits.MinSize)
	return nil
}

// DragCrop moves crop edges by a UV delta.
func (b *Board) DragCrop(id string, h Handle, du, dv float64) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.Crop = e.Crop.Drag(h, du, dv, b.limits.CropEpsilon)
	return nil
}

// SetCrop replaces an entity's crop, clamped.
func (b *Board) SetCrop(id string, c Crop) error {
	e, ok := b.entities[id]
	if !ok {
		return ErrNotFound
	}
	e.Crop = c.Clamp(b.limits.CropEpsilon)
	return nil
}

// SetFPS changes an entity's frame-rate cap, snapping to a preset.
func (b *Board) SetFPS(id string, fps int) (capture.FPS, error) {
	e, ok := b.entities[id]
	if !ok {
		return 0, ErrNotFound
	}
	e.FPS = capture.NormalizeFPS(fps)
	return e.FPS, nil
}

func (b *Board) maxZ() int {
	if len(b.entities) == 0 {
		return -1
	}
	top := 0
	first := true
	for _, e := range b.entities {
		if first || e.ZOrder > top {
			top = e.ZOrder
			first = false
		}
	}
	return top
}

func (b *Board) uniqueZ(z int) bool {
	n := 0
	for _, e := range b.entities {
		if e.ZOrder == z {
			n++
		}
	}
	return n == 1
}
