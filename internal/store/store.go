// Package store persists scheduler state as a single JSON document.
//
// The file is the sole source of truth shared by the daemon loop and the
// one-shot CLI commands. Writers serialize through a sibling flock file and
// replace the document atomically, so a reader never observes a partial
// write and a crash leaves at worst a stale-but-valid file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoChange aborts a Mutate without writing the document back.
var ErrNoChange = errors.New("store: no change")

// Store reads and writes the scheduler document at a fixed path.
type Store struct {
	path string
	mu   sync.Mutex
}

// New creates a store bound to the given file path. The file need not exist
// yet; Load treats absence as an empty document.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the document file path.
func (s *Store) Path() string { return s.path }

func (s *Store) lockPath() string { return s.path + ".lock" }

// Load reads the document from disk. A missing file yields an empty
// document; malformed JSON is an error, never silently reset.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("read scheduler store: %w", err)
	}
	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse scheduler store %s: %w", s.path, err)
	}
	return doc, nil
}

// Save writes the document atomically: a temp sibling is written, fsynced,
// then renamed over the target.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scheduler store: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace scheduler store: %w", err)
	}
	return nil
}

// Mutate runs a read-modify-write cycle under the cross-process file lock.
// fn may return ErrNoChange to skip the write; any other error aborts the
// cycle. The document passed to fn is returned on success.
func (s *Store) Mutate(fn func(*Document) error) (*Document, error) {
	lock, err := AcquireLock(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, ErrNoChange) {
			return doc, nil
		}
		return nil, err
	}
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// RecordRun appends a run record to the command's bounded history.
func (s *Store) RecordRun(run CommandRun) error {
	_, err := s.Mutate(func(d *Document) error {
		d.AppendRun(run)
		return nil
	})
	return err
}

// SetLastAudit persists an audit hand-off time for a work item.
func (s *Store) SetLastAudit(itemID string, t time.Time) error {
	_, err := s.Mutate(func(d *Document) error {
		d.SetLastAudit(itemID, t)
		return nil
	})
	return err
}

// GetLastAudit reads the last audit hand-off time for a work item.
func (s *Store) GetLastAudit(itemID string) (time.Time, bool, error) {
	doc, err := s.Load()
	if err != nil {
		return time.Time{}, false, err
	}
	t, ok := doc.LastAudit(itemID)
	return t, ok, nil
}

// ClaimInFlight atomically claims a command for execution. It reports false
// without writing when another claim is already held.
func (s *Store) ClaimInFlight(commandID string, pid int, now time.Time) (bool, error) {
	claimed := false
	_, err := s.Mutate(func(d *Document) error {
		claimed = d.Claim(commandID, pid, now)
		if !claimed {
			return ErrNoChange
		}
		return nil
	})
	return claimed, err
}

// ReleaseInFlight drops the in-flight claim for a command.
func (s *Store) ReleaseInFlight(commandID string) error {
	_, err := s.Mutate(func(d *Document) error {
		d.Release(commandID)
		return nil
	})
	return err
}
