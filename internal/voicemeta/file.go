package voicemeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var _ Store = (*FileStore)(nil)

// document is the on-disk layout of a FileStore.
type document struct {
	Version string            `json:"version"`
	Voices  map[string]Record `json:"voices"`
}

// FileStore keeps all records in one JSON document. Writes replace the file
// atomically (temp file, fsync, rename) under an exclusive lock; reads share
// a read lock. It is safe for concurrent use within one process.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileStore opens the document at path, creating the parent directory and
// an empty document when the file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("voicemeta: file store path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("voicemeta: create data dir: %w", err)
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(map[string]Record{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the location of the document.
func (s *FileStore) Path() string { return s.path }

// Load returns every record. A missing file reads as empty; a corrupt file
// is reported as an error.
func (s *FileStore) Load(_ context.Context) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

// Get returns the record for id.
func (s *FileStore) Get(ctx context.Context, id string) (Record, error) {
	voices, err := s.Load(ctx)
	if err != nil {
		return Record{}, err
	}
	rec, ok := voices[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return rec, nil
}

// Put inserts or replaces rec. The whole document is rewritten, so a
// concurrent Put for another voice is never lost.
func (s *FileStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voices, err := s.read()
	if err != nil {
		return err
	}
	voices[rec.ID] = rec
	return s.write(voices)
}

// Delete removes the record for id.
func (s *FileStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	voices, err := s.read()
	if err != nil {
		return false, err
	}
	if _, ok := voices[id]; !ok {
		return false, nil
	}
	delete(voices, id)
	return true, s.write(voices)
}

// Ping checks that the document's directory is accessible.
func (s *FileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("voicemeta: %w", err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// read decodes the document. Callers hold s.mu.
func (s *FileStore) read() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voicemeta: read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("voicemeta: decode %s: %w", s.path, err)
	}
	if doc.Voices == nil {
		doc.Voices = map[string]Record{}
	}
	return doc.Voices, nil
}

// write replaces the document atomically. Callers hold s.mu exclusively.
func (s *FileStore) write(voices map[string]Record) error {
	data, err := json.MarshalIndent(document{Version: SchemaVersion, Voices: voices}, "", "  ")
	if err != nil {
		return fmt.Errorf("voicemeta: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("voicemeta: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("voicemeta: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("voicemeta: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("voicemeta: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("voicemeta: replace %s: %w", s.path, err)
	}
	return nil
}
