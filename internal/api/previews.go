package api

import (
	"fmt"
	"image"
	"net/http"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/engine"
	"github.com/bryanchriswhite/pluriview/internal/preview"
	"github.com/gorilla/mux"
)

type addPreviewRequest struct {
	Source capture.SourceID `json:"source_id"`
	Title  string           `json:"title"`
	Class  string           `json:"class"`
	At     *canvas.Point    `json:"at"`
	Size   *canvas.Point    `json:"size"`
	FPS    int              `json:"fps"`
}

type moveRequest struct {
	Delta canvas.Point `json:"delta"`
	Snap  bool         `json:"snap"`
}

type resizeRequest struct {
	Handle     string       `json:"handle"`
	Delta      canvas.Point `json:"delta"`
	KeepAspect bool         `json:"keep_aspect"`
}

type pixelRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// cropRequest either drags a handle or, with Pixels, sets the crop directly.
type cropRequest struct {
	Handle string       `json:"handle"`
	Delta  canvas.Point `json:"delta"`
	Pixels *pixelRect   `json:"pixels"`
}

type fpsRequest struct {
	FPS int `json:"fps"`
}

type relinkRequest struct {
	Source capture.SourceID `json:"source_id"`
	Title  string           `json:"title"`
	Class  string           `json:"class"`
}

func (s *Server) handleGetPreviews(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State().Previews)
}

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := s.engine.State().Preview(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", engine.ErrUnknownPreview, id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPreviewStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := s.engine.State().Preview(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", engine.ErrUnknownPreview, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entity_id":  p.ID,
		"source_id":  p.Source,
		"status":     p.Status,
		"is_offline": p.Offline,
	})
}

func (s *Server) handleAddPreview(w http.ResponseWriter, r *http.Request) {
	var req addPreviewRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	hint := preview.DisplayHint{Title: req.Title, Class: req.Class}
	if hint == (preview.DisplayHint{}) {
		hint = s.lookupHint(req.Source)
	}
	s.submit(w, r, engine.AddPreview{
		Source: req.Source,
		Hint:   hint,
		At:     req.At,
		Size:   req.Size,
		FPS:    req.FPS,
	})
}

// lookupHint fills in a window's title and class for persistence. The
// enumeration happens here so the engine goroutine never waits on it.
func (s *Server) lookupHint(id capture.SourceID) preview.DisplayHint {
	windows, err := s.engine.Windows()
	if err != nil {
		return preview.DisplayHint{}
	}
	for _, win := range windows {
		if win.ID == id {
			return preview.DisplayHint{Title: win.Title, Class: win.Class}
		}
	}
	return preview.DisplayHint{}
}

func (s *Server) handleDeletePreview(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, engine.DeletePreview{ID: mux.Vars(r)["id"]})
}

func (s *Server) handleMovePreview(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.MovePreview{ID: mux.Vars(r)["id"], Delta: req.Delta, Snap: req.Snap})
}

func (s *Server) handleResizePreview(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h, err := preview.ParseHandle(req.Handle)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.submit(w, r, engine.ResizePreview{
		ID:         mux.Vars(r)["id"],
		Handle:     h,
		Delta:      req.Delta,
		KeepAspect: req.KeepAspect,
	})
}

func (s *Server) handleCropPreview(w http.ResponseWriter, r *http.Request) {
	var req cropRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]

	if px := req.Pixels; px != nil {
		s.submit(w, r, engine.SetCropPixels{ID: id, Rect: image.Rect(px.X, px.Y, px.X+px.W, px.Y+px.H)})
		return
	}
	h, err := preview.ParseHandle(req.Handle)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.submit(w, r, engine.CropPreview{ID: id, Handle: h, Delta: req.Delta})
}

func (s *Server) handleResetCrop(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, engine.ResetCrop{ID: mux.Vars(r)["id"]})
}

func (s *Server) handleSetFPS(w http.ResponseWriter, r *http.Request) {
	var req fpsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.SetFPS{ID: mux.Vars(r)["id"], FPS: req.FPS})
}

func (s *Server) handleBringToFront(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, engine.BringToFront{ID: mux.Vars(r)["id"]})
}

func (s *Server) handleSendToBack(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, engine.SendToBack{ID: mux.Vars(r)["id"]})
}

func (s *Server) handleRelink(w http.ResponseWriter, r *http.Request) {
	var req relinkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	hint := preview.DisplayHint{Title: req.Title, Class: req.Class}
	if hint == (preview.DisplayHint{}) {
		hint = s.lookupHint(req.Source)
	}
	s.submit(w, r, engine.Relink{ID: mux.Vars(r)["id"], Source: req.Source, Hint: hint})
}
