package layout

import (
	"sort"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/preview"
)

// CurrentVersion is written into every saved layout.
const CurrentVersion = 1

// Snapshot is the persistable state of a canvas: its previews and view.
type Snapshot struct {
	Entities  []preview.Entity `json:"entities"`
	Offset    canvas.Point     `json:"offset"`
	Zoom      float64          `json:"zoom"`
	Selection []string         `json:"selection,omitempty"`
	ShowGrid  bool             `json:"show_grid,omitempty"`
}

// document is the on-disk JSON shape. Pointer fields distinguish "missing"
// from a zero value so defaults can be applied.
type document struct {
	Version  int              `json:"version"`
	Entities []entityDocument `json:"entities"`
	View     viewDocument     `json:"view"`
}

type entityDocument struct {
	ID       string              `json:"entity_id"`
	Hint     preview.DisplayHint `json:"source_hint"`
	SourceID uint64              `json:"source_id,omitempty"`
	Rect     *canvas.Rect        `json:"world_rect"`
	Crop     *preview.Crop       `json:"crop_rect,omitempty"`
	FPS      *int                `json:"fps,omitempty"`
	ZOrder   int                 `json:"z_order"`
}

type viewDocument struct {
	Offset    canvas.Point `json:"offset"`
	Zoom      *float64     `json:"zoom,omitempty"`
	Selection []string     `json:"selection,omitempty"`
	ShowGrid  bool         `json:"show_grid,omitempty"`
}

func toDocument(s Snapshot) document {
	entities := append([]preview.Entity(nil), s.Entities...)
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].ZOrder != entities[j].ZOrder {
			return entities[i].ZOrder < entities[j].ZOrder
		}
		return entities[i].ID < entities[j].ID
	})

	doc := document{
		Version:  CurrentVersion,
		Entities: make([]entityDocument, 0, len(entities)),
	}
	for _, e := range entities {
		rect := e.Rect
		crop := e.Crop
		fps := int(e.FPS)
		doc.Entities = append(doc.Entities, entityDocument{
			ID:       e.ID,
			Hint:     e.Hint,
			SourceID: uint64(e.Source),
			Rect:     &rect,
			Crop:     &crop,
			FPS:      &fps,
			ZOrder:   e.ZOrder,
		})
	}

	zoom := s.Zoom
	doc.View = viewDocument{Offset: s.Offset, Zoom: &zoom, ShowGrid: s.ShowGrid}
	if len(s.Selection) > 0 {
		doc.View.Selection = append([]string(nil), s.Selection...)
		sort.Strings(doc.View.Selection)
	}
	return doc
}

// toEntity applies defaults for missing fields. Source resolution happens
// in the store.
func (d entityDocument) toEntity(limits preview.Limits) preview.Entity {
	e := preview.Entity{
		ID:     d.ID,
		Source: capture.SourceID(d.SourceID),
		Hint:   d.Hint,
		Crop:   preview.FullCrop(),
		FPS:    capture.DefaultFPS,
		ZOrder: d.ZOrder,
	}
	if d.Rect != nil {
		e.Rect = *d.Rect
	}
	if d.Crop != nil {
		e.Crop = *d.Crop
	}
	if d.FPS != nil {
		e.FPS = capture.FPS(*d.FPS)
	}
	e.Normalize(limits)
	return e
}
