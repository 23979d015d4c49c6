package api

import (
	"net/http"

	"github.com/bryanchriswhite/pluriview/internal/canvas"
	"github.com/bryanchriswhite/pluriview/internal/engine"
)

type panRequest struct {
	Delta canvas.Point `json:"delta"`
}

type zoomRequest struct {
	Anchor canvas.Point `json:"anchor"`
	Factor float64      `json:"factor"`
}

type pointRequest struct {
	At       canvas.Point `json:"at"`
	Additive bool         `json:"additive"`
}

type gridRequest struct {
	Show bool `json:"show"`
}

type marqueeRequest struct {
	Rect     canvas.Rect `json:"rect"`
	Additive bool        `json:"additive"`
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.Pan{Delta: req.Delta})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.ZoomAt{Anchor: req.Anchor, Factor: req.Factor})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.Click{At: req.At, Additive: req.Additive})
}

func (s *Server) handleMarquee(w http.ResponseWriter, r *http.Request) {
	var req marqueeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.Marquee{Rect: req.Rect, Additive: req.Additive})
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	var req gridRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.SetGrid{Show: req.Show})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req pointRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, engine.Activate{At: req.At})
}

func (s *Server) handleSaveLayout(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, engine.SaveLayout{})
}
