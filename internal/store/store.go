// Package store manages the scratch directory holding generated audio
// artifacts: collision-resistant filename generation, untrusted-name
// resolution, and immediate or deferred best-effort deletion.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kokorotts/kokoro-server/internal/observability"
)

const (
	filenamePrefix = "kokoro_"
	filenameExt    = ".wav"

	dirPermissions = 0o750
)

// ErrNotFound is returned when a requested artifact does not exist or the
// name does not resolve inside the scratch directory.
var ErrNotFound = errors.New("artifact not found")

// Store owns the scratch directory. Artifacts it names are exclusively its
// to delete; callers only ever hold filenames, never paths.
type Store struct {
	dir    string
	seq    atomic.Uint64
	logger zerolog.Logger
}

// New creates the scratch directory if needed and returns a Store rooted at
// its absolute path.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory %q: %w", dir, err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve scratch directory %q: %w", dir, err)
	}

	return &Store{
		dir:    abs,
		logger: logger,
	}, nil
}

// Dir returns the absolute scratch directory path.
func (s *Store) Dir() string {
	return s.dir
}

// NewFilename generates an artifact name from the current millisecond
// timestamp plus a monotonic per-process sequence number. The sequence digits
// keep concurrent requests within the same millisecond from colliding; the
// name stays in the kokoro_<digits>.wav shape.
func (s *Store) NewFilename() string {
	ts := time.Now().UnixMilli()
	n := s.seq.Add(1) % 1000

	return fmt.Sprintf("%s%d%03d%s", filenamePrefix, ts, n, filenameExt)
}

// Path returns the absolute path for a store-generated filename. Only names
// produced by NewFilename should be passed here; caller-supplied names go
// through Resolve.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Resolve validates an untrusted filename and returns its absolute path.
// Names that are not bare filenames, escape the scratch directory after
// canonicalization, or do not exist all come back as ErrNotFound; the caller
// learns nothing about why.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", ErrNotFound
	}

	path := filepath.Join(s.dir, name)
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return "", ErrNotFound
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}

	return path, nil
}

// Exists reports whether an artifact with the given name is on disk.
func (s *Store) Exists(name string) bool {
	_, err := s.Resolve(name)
	return err == nil
}

// Remove deletes an artifact immediately. Deletion is best-effort and
// idempotent: a missing file is a no-op and failures are logged, never
// returned.
func (s *Store) Remove(name string) {
	s.remove(name, "immediate")
}

// RemoveAfter schedules deletion of an artifact after the given delay,
// giving the client time to finish a download first. Fire-and-forget; the
// caller is never blocked or notified.
func (s *Store) RemoveAfter(name string, delay time.Duration) {
	s.logger.Info().
		Str("filename", name).
		Dur("delay", delay).
		Msg("Scheduled deferred artifact deletion")

	time.AfterFunc(delay, func() {
		s.remove(name, "deferred")
	})
}

func (s *Store) remove(name, mode string) {
	path := filepath.Join(s.dir, filepath.Base(name))

	err := os.Remove(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().
				Err(err).
				Str("filename", name).
				Msg("Failed to delete artifact")
		}
		return
	}

	observability.RecordArtifactDeleted(mode)
	s.logger.Info().
		Str("filename", name).
		Str("mode", mode).
		Msg("Deleted artifact")
}
