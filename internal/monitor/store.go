package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/conneroisu/verdrift/internal/errors"
	"gopkg.in/yaml.v3"
)

// Store persists baselines. Implementations serialise access per key; the
// monitor reads and then writes a key without holding a lock across both.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// FileStore keeps baselines in a YAML document on disk so a headless
// monitor survives restarts the way browser storage survives reloads.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// stateFile is the on-disk layout.
type stateFile struct {
	Baselines map[string]string `yaml:"baselines"`
}

// NewFileStore creates a FileStore backed by path. The file is created on
// the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// Get returns the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := state.Baselines[key]
	return v, ok, nil
}

// Set stores value under key, replacing the file atomically.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	state.Baselines[key] = value

	data, err := yaml.Marshal(state)
	if err != nil {
		return errors.NewInternalError("STATE_ENCODE", "failed to encode state", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("STATE_WRITE", "failed to create state directory", err).WithFile(dir)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".verdrift-state-*")
	if err != nil {
		return errors.NewIOError("STATE_WRITE", "failed to create temp file", err).WithFile(s.path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewIOError("STATE_WRITE", "failed to write state", err).WithFile(tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewIOError("STATE_WRITE", "failed to close state", err).WithFile(tmpName)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.NewIOError("STATE_WRITE", "failed to replace state", err).WithFile(s.path)
	}
	return nil
}

func (s *FileStore) load() (*stateFile, error) {
	state := &stateFile{Baselines: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, errors.NewIOError("STATE_READ", "failed to read state", err).WithFile(s.path)
	}

	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, errors.NewIOError("STATE_READ",
			fmt.Sprintf("state file is not valid YAML (%d bytes)", len(data)), err).WithFile(s.path)
	}
	if state.Baselines == nil {
		state.Baselines = make(map[string]string)
	}
	return state, nil
}
