package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/pluriview/internal/logger"
)

// MJPEGOutput streams the canvas as Motion JPEG over HTTP so it can be
// watched from a browser.
type MJPEGOutput struct {
	config Config

	mu         sync.RWMutex
	running    bool
	frameCount uint64
	startTime  time.Time
	lastUpdate time.Time
	lastJPEG   []byte

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}
}

// Stats is the JSON body served by StatsHandler.
type Stats struct {
	Running    bool      `json:"running"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	TargetFPS  int       `json:"target_fps"`
	ActualFPS  float64   `json:"actual_fps"`
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	LastUpdate time.Time `json:"last_update,omitempty"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 85
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start marks the output live. Handlers are mounted separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}
	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("MJPEG output started")
	return nil
}

// Stop disconnects all clients.
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	frames := m.frameCount
	m.mu.Unlock()

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", frames).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes the frame and broadcasts it. Slow clients miss frames
// rather than holding up the render loop.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	data := buf.Bytes()

	m.mu.Lock()
	m.lastJPEG = data
	m.lastUpdate = time.Now()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- data:
		default:
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Clients returns the number of connected stream viewers.
func (m *MJPEGOutput) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// StreamHandler serves the multipart MJPEG stream.
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		frames := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frames] = struct{}{}
		count := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("mjpeg")
		log.Info().Int("clients", count).Msg("Stream client connected")

		defer func() {
			m.clientsMu.Lock()
			// Stop may already have closed and dropped the channel.
			delete(m.clients, frames)
			count := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", count).Msg("Stream client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case data, ok := <-frames:
				if !ok {
					return
				}
				if err := writePart(w, data); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SnapshotHandler serves the latest frame as a single JPEG.
func (m *MJPEGOutput) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		data := m.lastJPEG
		m.mu.RUnlock()

		if data == nil {
			http.Error(w, "no frame rendered yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// Stats returns current stream statistics.
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Running:    m.running,
		Width:      m.config.Width,
		Height:     m.config.Height,
		TargetFPS:  m.config.FPS,
		Frames:     m.frameCount,
		LastUpdate: m.lastUpdate,
	}
	start := m.startTime
	m.mu.RUnlock()

	if s.Running && !start.IsZero() {
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			s.ActualFPS = float64(s.Frames) / elapsed
		}
	}
	s.Clients = m.Clients()
	return s
}

// StatsHandler serves Stats as JSON.
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}
