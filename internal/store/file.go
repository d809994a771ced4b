package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileBackend keeps each document in its own JSON file. Writes go to a
// temporary file that is renamed over the target.
type FileBackend struct {
	paths map[string]string
	mu    sync.Mutex
}

func NewFileBackend(paths map[string]string) (*FileBackend, error) {
	for name, path := range paths {
		if path == "" {
			return nil, fmt.Errorf("empty path for document %s", name)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure dir: %w", err)
		}
	}
	return &FileBackend{paths: paths}, nil
}

func (b *FileBackend) Load(name string) ([]byte, error) {
	path, ok := b.paths[name]
	if !ok {
		return nil, fmt.Errorf("unknown document %s", name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Save stages every document in a temp file before replacing any target. If
// a replace fails, targets already replaced in this call get their previous
// contents back, so the documents change together or not at all.
func (b *FileBackend) Save(docs map[string][]byte) error {
	names := make([]string, 0, len(docs))
	for name := range docs {
		if _, ok := b.paths[name]; !ok {
			return fmt.Errorf("unknown document %s", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make([]string, 0, len(names))
	defer func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}()
	previous := make(map[string][]byte, len(names))
	for _, name := range names {
		path := b.paths[name]
		tmp, err := stageFile(path, docs[name])
		if err != nil {
			return err
		}
		staged = append(staged, tmp)
		old, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			previous[name] = nil
		case err != nil:
			return fmt.Errorf("read %s: %w", path, err)
		default:
			previous[name] = old
		}
	}

	for i, name := range names {
		path := b.paths[name]
		if err := os.Rename(staged[i], path); err != nil {
			b.rollback(names[:i], previous)
			return fmt.Errorf("replace %s: %w", path, err)
		}
	}
	return nil
}

func (b *FileBackend) rollback(names []string, previous map[string][]byte) {
	for _, name := range names {
		path := b.paths[name]
		old := previous[name]
		var err error
		if old == nil {
			err = os.Remove(path)
		} else {
			err = writeFileAtomic(path, old)
		}
		if err != nil {
			log.Printf("⚠️ Failed to roll back %s: %v", path, err)
		}
	}
}

func (b *FileBackend) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	tmp, err := stageFile(path, data)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp)
	}()
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// stageFile writes data to a temp file next to path and returns its name.
func stageFile(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("chmod temp: %w", err)
	}
	return tmp.Name(), nil
}
