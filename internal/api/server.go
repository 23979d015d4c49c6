package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/config"
	"github.com/bryanchriswhite/pluriview/internal/engine"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/bryanchriswhite/pluriview/internal/output"
	"github.com/bryanchriswhite/pluriview/internal/preview"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint.
const Version = "0.2.0"

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	engine    *engine.Engine
	configMgr *config.Manager
	mjpeg     *output.MJPEGOutput
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	http   *http.Server
	closed bool
}

// NewServer creates a new API server. configMgr and mjpeg may be nil.
func NewServer(eng *engine.Engine, configMgr *config.Manager, mjpeg *output.MJPEGOutput) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		engine:    eng,
		configMgr: configMgr,
		mjpeg:     mjpeg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, any origin
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/windows", s.handleGetWindows).Methods("GET")
	api.HandleFunc("/windows/{id}/thumbnail", s.handleWindowThumbnail).Methods("GET")
	api.HandleFunc("/events", s.handleEvents)

	// Previews
	api.HandleFunc("/previews", s.handleGetPreviews).Methods("GET")
	api.HandleFunc("/previews", s.handleAddPreview).Methods("POST")
	api.HandleFunc("/previews/{id}", s.handleGetPreview).Methods("GET")
	api.HandleFunc("/previews/{id}", s.handleDeletePreview).Methods("DELETE")
	api.HandleFunc("/previews/{id}/status", s.handleGetPreviewStatus).Methods("GET")
	api.HandleFunc("/previews/{id}/move", s.handleMovePreview).Methods("POST")
	api.HandleFunc("/previews/{id}/resize", s.handleResizePreview).Methods("POST")
	api.HandleFunc("/previews/{id}/crop", s.handleCropPreview).Methods("POST")
	api.HandleFunc("/previews/{id}/crop/reset", s.handleResetCrop).Methods("POST")
	api.HandleFunc("/previews/{id}/fps", s.handleSetFPS).Methods("POST")
	api.HandleFunc("/previews/{id}/front", s.handleBringToFront).Methods("POST")
	api.HandleFunc("/previews/{id}/back", s.handleSendToBack).Methods("POST")
	api.HandleFunc("/previews/{id}/relink", s.handleRelink).Methods("POST")

	// Canvas
	api.HandleFunc("/canvas/pan", s.handlePan).Methods("POST")
	api.HandleFunc("/canvas/zoom", s.handleZoom).Methods("POST")
	api.HandleFunc("/canvas/click", s.handleClick).Methods("POST")
	api.HandleFunc("/canvas/marquee", s.handleMarquee).Methods("POST")
	api.HandleFunc("/canvas/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/canvas/grid", s.handleGrid).Methods("POST")

	// Layout and configuration
	api.HandleFunc("/layout/save", s.handleSaveLayout).Methods("POST")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Composed canvas as MJPEG
	if s.mjpeg != nil {
		api.HandleFunc("/stream/stats", s.mjpeg.StatsHandler()).Methods("GET")
		s.router.HandleFunc("/stream", s.mjpeg.StreamHandler()).Methods("GET")
		s.router.HandleFunc("/stream/snapshot", s.mjpeg.SnapshotHandler()).Methods("GET")
	}

	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.http = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", "http://localhost"+addr).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.closed = true
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownPreview), errors.Is(err, preview.ErrNotFound),
		errors.Is(err, capture.ErrSourceUnavailable):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEngineStopped), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrOffline), errors.Is(err, engine.ErrNoFrame),
		errors.Is(err, preview.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoActivator), errors.Is(err, engine.ErrNoWindows),
		errors.Is(err, engine.ErrNoThumbnails):
		return http.StatusNotImplemented
	case errors.Is(err, engine.ErrNoSource), errors.Is(err, capture.ErrUnboundEntity),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// submit runs a command on the engine and writes its result.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd engine.Command) {
	res, err := s.engine.Submit(r.Context(), cmd)
	if err != nil {
		logger.WithComponent("api").Debug().
			Err(err).
			Str("path", r.URL.Path).
			Msg("Command failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) handleGetWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := s.engine.Windows()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

// thumbnailWidth is the default width of window picker thumbnails.
const thumbnailWidth = 320

func (s *Server) handleWindowThumbnail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 0, 32)
	if err != nil || id == 0 {
		writeError(w, fmt.Errorf("%w: window id %q", errBadRequest, mux.Vars(r)["id"]))
		return
	}
	width := thumbnailWidth
	if v := r.URL.Query().Get("width"); v != "" {
		if width, err = strconv.Atoi(v); err != nil || width <= 0 {
			writeError(w, fmt.Errorf("%w: width %q", errBadRequest, v))
			return
		}
	}

	img, err := s.engine.Thumbnail(capture.SourceID(id), width)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 80}); err != nil {
		logger.WithComponent("api").Debug().Err(err).Msg("Thumbnail write failed")
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	events := s.engine.Subscribe()
	defer s.engine.Unsubscribe(events)

	// Send the current state first so clients can render immediately
	if err := conn.WriteJSON(map[string]interface{}{"kind": "state", "state": s.engine.State()}); err != nil {
		log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	// The read side only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>pluriview</title>
    <style>
        body { font-family: sans-serif; margin: 0; background: #111; color: #ddd; }
        img { display: block; max-width: 100%; margin: 0 auto; }
        ul { max-width: 800px; margin: 20px auto; line-height: 1.6; }
        a { color: #8ab4f8; }
    </style>
</head>
<body>
    <img src="/stream" alt="canvas">
    <ul>
        <li><a href="/api/state">/api/state</a> - previews and view</li>
        <li><a href="/api/windows">/api/windows</a> - capturable windows, thumbnails at /api/windows/{id}/thumbnail</li>
        <li><a href="/api/stream/stats">/api/stream/stats</a> - stream statistics</li>
        <li><a href="/stream/snapshot">/stream/snapshot</a> - latest composed frame</li>
    </ul>
</body>
</html>`
