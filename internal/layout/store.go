// Package layout persists canvas layouts as versioned JSON documents.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bryanchriswhite/pluriview/internal/capture"
	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/bryanchriswhite/pluriview/internal/preview"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

var (
	// ErrWriteFailed wraps any failure to persist a layout. The previous
	// file on disk is left intact.
	ErrWriteFailed = errors.New("layout write failed")

	// ErrCorruptLayout describes a layout file that could not be parsed.
	ErrCorruptLayout = errors.New("corrupt layout")

	// ErrLayoutProtected refuses a save that would overwrite a layout file
	// Load could not read or move aside.
	ErrLayoutProtected = errors.New("layout file kept for recovery")
)

// Resolver maps a remembered source onto a live one.
type Resolver interface {
	Resolve(title, class string, last capture.SourceID) (capture.SourceID, bool)
}

// Report describes what Load had to repair.
type Report struct {
	// Offline lists entities whose source could not be found.
	Offline []string

	// Skipped lists entity ids dropped as duplicates.
	Skipped []string

	// Corrupt is set when the file could not be read or parsed; the
	// returned snapshot is then empty.
	Corrupt error

	// BackupPath is where an unparseable file was moved.
	BackupPath string

	// Protected is set when the file is still in place and saving is
	// disabled until Reset.
	Protected bool
}

// Store reads and writes one layout file.
type Store struct {
	path   string
	limits preview.Limits
	now    func() time.Time
	rename func(oldpath, newpath string) error

	mu         sync.Mutex
	lastDigest [32]byte
	haveDigest bool
	protected  error
}

// NewStore creates a store for the file at path.
func NewStore(path string, limits preview.Limits) *Store {
	return &Store{path: path, limits: limits, now: time.Now, rename: os.Rename}
}

// Path returns the layout file location.
func (s *Store) Path() string { return s.path }

// Encode renders a snapshot as it would be written.
func Encode(snap Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(toDocument(snap), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes the snapshot atomically: a temp file in the same directory is
// synced and renamed over the target. It reports whether anything was
// written; an unchanged layout is skipped. Saving is refused while a file
// Load could not use is still at the path.
func (s *Store) Save(snap Snapshot) (bool, error) {
	data, err := Encode(snap)
	if err != nil {
		return false, fmt.Errorf("%w: encode: %v", ErrWriteFailed, err)
	}
	digest := blake3.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.protected != nil {
		return false, fmt.Errorf("%w: %w: %v", ErrWriteFailed, ErrLayoutProtected, s.protected)
	}
	if s.haveDigest && digest == s.lastDigest {
		if _, err := os.Stat(s.path); err == nil {
			return false, nil
		}
	}

	if err := writeAtomic(s.path, data); err != nil {
		return false, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.lastDigest = digest
	s.haveDigest = true

	logger.WithComponent("layout").Debug().
		Str("path", s.path).
		Int("entities", len(snap.Entities)).
		Msg("Layout saved")
	return true, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Load reads the layout and reconciles it with the live windows. A missing
// file yields an empty snapshot. An unreadable or unparseable file is moved
// aside and also yields an empty snapshot, with the cause in the report. If
// it cannot be moved, the store refuses to save over it until Reset.
// Entities whose source cannot be resolved come back offline; duplicate
// entity ids are dropped without affecting the rest.
func (s *Store) Load(resolver Resolver) (Snapshot, Report) {
	log := logger.WithComponent("layout")
	var report Report

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.protect(nil)
			return emptySnapshot(), report
		}
		report.Corrupt = fmt.Errorf("%w: read %s: %v", ErrCorruptLayout, s.path, err)
		report.Protected = true
		s.protect(report.Corrupt)
		log.Error().Err(err).Str("path", s.path).Msg("Layout unreadable, starting empty with saving disabled")
		return emptySnapshot(), report
	}

	var doc document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		report.Corrupt = fmt.Errorf("%w: %v", ErrCorruptLayout, err)
		report.BackupPath = s.backup()
		if report.BackupPath == "" {
			report.Protected = true
			s.protect(report.Corrupt)
		}
		log.Error().
			Err(err).
			Str("path", s.path).
			Str("backup", report.BackupPath).
			Msg("Layout corrupt, starting empty")
		return emptySnapshot(), report
	}

	if doc.Version > CurrentVersion {
		log.Warn().
			Int("version", doc.Version).
			Int("supported", CurrentVersion).
			Msg("Layout written by a newer version, loading known fields")
	}

	s.protect(nil)

	snap := emptySnapshot()
	snap.Offset = doc.View.Offset
	snap.ShowGrid = doc.View.ShowGrid
	if doc.View.Zoom != nil {
		snap.Zoom = *doc.View.Zoom
	}

	seen := make(map[string]bool, len(doc.Entities))
	for _, ed := range doc.Entities {
		if ed.ID == "" {
			ed.ID = preview.NewID()
		}
		if seen[ed.ID] {
			report.Skipped = append(report.Skipped, ed.ID)
			log.Error().Str("entity_id", ed.ID).Msg("Duplicate entity id in layout, skipping")
			continue
		}
		seen[ed.ID] = true

		e := ed.toEntity(s.limits)
		if resolver != nil {
			if id, ok := resolver.Resolve(e.Hint.Title, e.Hint.Class, e.Source); ok {
				e.Source = id
			} else {
				e.Offline = true
			}
		} else {
			e.Offline = true
		}
		if e.Offline {
			report.Offline = append(report.Offline, e.ID)
		}
		snap.Entities = append(snap.Entities, e)
	}

	for _, id := range doc.View.Selection {
		if seen[id] {
			snap.Selection = append(snap.Selection, id)
		}
	}

	log.Info().
		Str("path", s.path).
		Int("entities", len(snap.Entities)).
		Int("offline", len(report.Offline)).
		Int("skipped", len(report.Skipped)).
		Msg("Layout loaded")
	return snap, report
}

// Peek parses the layout without resolving sources or touching the file.
// A missing file yields an empty snapshot.
func (s *Store) Peek() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptySnapshot(), nil
		}
		return Snapshot{}, err
	}
	var doc document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptLayout, err)
	}

	snap := emptySnapshot()
	snap.Offset = doc.View.Offset
	snap.ShowGrid = doc.View.ShowGrid
	if doc.View.Zoom != nil {
		snap.Zoom = *doc.View.Zoom
	}
	seen := make(map[string]bool, len(doc.Entities))
	for _, ed := range doc.Entities {
		if ed.ID != "" && seen[ed.ID] {
			continue
		}
		seen[ed.ID] = true
		snap.Entities = append(snap.Entities, ed.toEntity(s.limits))
	}
	snap.Selection = doc.View.Selection
	return snap, nil
}

// Reset moves the current layout aside so the next start is empty. It
// re-enables saving after Load protected an unusable file.
func (s *Store) Reset() (string, error) {
	if _, err := os.Lstat(s.path); err != nil {
		if os.IsNotExist(err) {
			s.protect(nil)
			return "", nil
		}
		return "", err
	}
	backup := s.backupName("bak")
	if err := s.rename(s.path, backup); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.haveDigest = false
	s.protected = nil
	s.mu.Unlock()
	return backup, nil
}

func (s *Store) protect(cause error) {
	s.mu.Lock()
	s.protected = cause
	s.mu.Unlock()
}

// backup renames the current file aside, returning the new name, or "" if
// the rename failed.
func (s *Store) backup() string {
	name := s.backupName("corrupt")
	if err := s.rename(s.path, name); err != nil {
		logger.WithComponent("layout").Error().Err(err).Str("path", s.path).Msg("Failed to back up corrupt layout")
		return ""
	}
	return name
}

func (s *Store) backupName(kind string) string {
	stamp := s.now().UTC().Format("20060102T150405.000000000")
	return fmt.Sprintf("%s.%s-%s", s.path, kind, stamp)
}

func emptySnapshot() Snapshot {
	return Snapshot{Zoom: 1}
}
