// Package attach stores downloaded attachment payloads on disk and hands out
// stable path handles used by delivery and post-send cleanup.
package attach

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "telepost/pkg/logx"
)

type Config struct {
	Dir string
}

type Store struct {
	dir string
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Store {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		dir = "./downloads"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) Dir() string { return s.dir }

// Save writes one attachment payload and returns its path handle.
// The handle is usable later for both outbound attachment and deletion.
func (s *Store) Save(eventID string, r io.Reader, suggestedName string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("attach: mkdir %s: %w", s.dir, err)
	}

	name := sanitizeName(suggestedName)
	if name == "" {
		name = "file"
	}
	path := filepath.Join(s.dir, sanitizeName(eventID)+"_"+name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("attach: create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("attach: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("attach: close %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes a stored attachment. Removing an already-deleted handle is
// not an error, so cleanup stays idempotent.
func (s *Store) Remove(handle string) error {
	if strings.TrimSpace(handle) == "" {
		return nil
	}
	err := os.Remove(handle)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SweepOlderThan removes stored files whose mtime is older than maxAge.
// Used by the maintenance janitor to reclaim attachments orphaned by
// delivery failures. Returns the number of files removed.
func (s *Store) SweepOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.log.Debug("sweep remove failed", logx.String("path", path), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// sanitizeName strips path separators and oddities so handles always land
// inside the store directory.
func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '\x00':
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
