package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/pluriview/internal/logger"
	"gopkg.in/yaml.v3"
)

// AppName names the config directory under ~/.config
const AppName = "pluriview"

// Config represents the application configuration
type Config struct {
	ServerPort int            `json:"server_port" yaml:"server_port"`
	LogLevel   string         `json:"log_level" yaml:"log_level"`
	LayoutPath string         `json:"layout_path,omitempty" yaml:"layout_path,omitempty"`
	Canvas     CanvasConfig   `json:"canvas" yaml:"canvas"`
	Capture    CaptureConfig  `json:"capture" yaml:"capture"`
	Autosave   AutosaveConfig `json:"autosave" yaml:"autosave"`
	Window     WindowConfig   `json:"window" yaml:"window"`
}

// CanvasConfig holds the bounds of the zoomable canvas and its previews
type CanvasConfig struct {
	ZoomMin              float64 `json:"zoom_min" yaml:"zoom_min"`
	ZoomMax              float64 `json:"zoom_max" yaml:"zoom_max"`
	MinPreviewSize       float64 `json:"min_preview_size" yaml:"min_preview_size"`
	CropEpsilon          float64 `json:"crop_epsilon" yaml:"crop_epsilon"`
	DefaultPreviewWidth  float64 `json:"default_preview_width" yaml:"default_preview_width"`
	DefaultPreviewHeight float64 `json:"default_preview_height" yaml:"default_preview_height"`
	ViewportWidth        int     `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight       int     `json:"viewport_height" yaml:"viewport_height"`
	RenderFPS            int     `json:"render_fps" yaml:"render_fps"`
}

// CaptureConfig tunes capture sessions
type CaptureConfig struct {
	DefaultFPS   int           `json:"default_fps" yaml:"default_fps"`
	StallTimeout time.Duration `json:"stall_timeout" yaml:"stall_timeout"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	BackoffBase  time.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffMax   time.Duration `json:"backoff_max" yaml:"backoff_max"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
}

// AutosaveConfig controls periodic layout persistence
type AutosaveConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Window backends
const (
	BackendAuto = "auto"
	BackendX11  = "x11"
	BackendKWin = "kwin"
)

// WindowConfig selects how windows are enumerated
type WindowConfig struct {
	Backend string `json:"backend" yaml:"backend"`
}

// Manager manages application configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultDir returns ~/.config/pluriview
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		actualConfigPath = filepath.Join(dir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("layout", m.LayoutPath()).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServerPort: 8090,
		LogLevel:   "info",
		Canvas: CanvasConfig{
			ZoomMin:              0.1,
			ZoomMax:              5.0,
			MinPreviewSize:       100,
			CropEpsilon:          0.1,
			DefaultPreviewWidth:  480,
			DefaultPreviewHeight: 270,
			ViewportWidth:        1920,
			ViewportHeight:       1080,
			RenderFPS:            30,
		},
		Capture: CaptureConfig{
			DefaultFPS:   30,
			StallTimeout: 3 * time.Second,
			MaxRetries:   5,
			BackoffBase:  250 * time.Millisecond,
			BackoffMax:   8 * time.Second,
			PollInterval: 16 * time.Millisecond,
		},
		Autosave: AutosaveConfig{
			Interval: 30 * time.Second,
		},
		Window: WindowConfig{
			Backend: BackendAuto,
		},
	}
}

func (m *Manager) getDefaults() *Config {
	return Defaults()
}

// load reads the configuration from disk, filling zero values from defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := m.getDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.normalize()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// normalize repairs values that would break the canvas or capture invariants
func (c *Config) normalize() {
	d := Defaults()
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		c.ServerPort = d.ServerPort
	}
	if c.Canvas.ZoomMin <= 0 {
		c.Canvas.ZoomMin = d.Canvas.ZoomMin
	}
	if c.Canvas.ZoomMax < c.Canvas.ZoomMin {
		c.Canvas.ZoomMax = c.Canvas.ZoomMin
	}
	if c.Canvas.CropEpsilon <= 0 || c.Canvas.CropEpsilon >= 1 {
		c.Canvas.CropEpsilon = d.Canvas.CropEpsilon
	}
	if c.Canvas.MinPreviewSize <= 0 {
		c.Canvas.MinPreviewSize = d.Canvas.MinPreviewSize
	}
	if c.Canvas.DefaultPreviewWidth < c.Canvas.MinPreviewSize {
		c.Canvas.DefaultPreviewWidth = c.Canvas.MinPreviewSize
	}
	if c.Canvas.DefaultPreviewHeight < c.Canvas.MinPreviewSize {
		c.Canvas.DefaultPreviewHeight = c.Canvas.MinPreviewSize
	}
	if c.Canvas.ViewportWidth <= 0 || c.Canvas.ViewportHeight <= 0 {
		c.Canvas.ViewportWidth, c.Canvas.ViewportHeight = d.Canvas.ViewportWidth, d.Canvas.ViewportHeight
	}
	if c.Canvas.RenderFPS <= 0 {
		c.Canvas.RenderFPS = d.Canvas.RenderFPS
	}
	if c.Capture.StallTimeout <= 0 {
		c.Capture.StallTimeout = d.Capture.StallTimeout
	}
	if c.Capture.MaxRetries < 0 {
		c.Capture.MaxRetries = 0
	}
	if c.Capture.BackoffBase <= 0 {
		c.Capture.BackoffBase = d.Capture.BackoffBase
	}
	if c.Capture.BackoffMax < c.Capture.BackoffBase {
		c.Capture.BackoffMax = c.Capture.BackoffBase
	}
	if c.Capture.PollInterval <= 0 {
		c.Capture.PollInterval = d.Capture.PollInterval
	}
	if c.Autosave.Interval <= 0 {
		c.Autosave.Interval = d.Autosave.Interval
	}
	switch backend := strings.ToLower(strings.TrimSpace(c.Window.Backend)); backend {
	case BackendX11, BackendKWin:
		c.Window.Backend = backend
	default:
		c.Window.Backend = d.Window.Backend
	}
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Reload re-reads the file, keeping the previous config when it no longer parses
func (m *Manager) Reload() error {
	return m.load()
}

// Save writes the current configuration to disk via a temp file and rename
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := m.configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpPath, m.configPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	cfg.normalize()
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// LayoutPath returns the layout file, defaulting to layout.json beside the config
func (m *Manager) LayoutPath() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config != nil && m.config.LayoutPath != "" {
		return m.config.LayoutPath
	}
	return filepath.Join(filepath.Dir(m.configPath), "layout.json")
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
