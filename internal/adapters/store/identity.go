// Package store persists the local client identity so a reload can rejoin.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/LiveSession/internal/domain"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// File keeps the identity as a JSON document. A sibling lock file guards
// against two coordinators on the same machine racing on it.
type File struct {
	path string
	lock *flock.Flock
}

func NewFile(path string) *File {
	return &File{path: path, lock: flock.New(path + ".lock")}
}

func (f *File) Load() (domain.Identity, bool, error) {
	var id domain.Identity
	var found bool
	err := f.withLock(func() error {
		data, err := os.ReadFile(f.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("decode identity %s: %w", f.path, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return domain.Identity{}, false, err
	}
	return id, found, nil
}

func (f *File) Save(id domain.Identity) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return f.withLock(func() error {
		tmp := f.path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return err
		}
		if err := os.Rename(tmp, f.path); err != nil {
			return err
		}
		log.Debug().Str("module", "adapters.store").Str("path", f.path).Msg("identity saved")
		return nil
	})
}

func (f *File) Clear() error {
	return f.withLock(func() error {
		err := os.Remove(f.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Info().Str("module", "adapters.store").Str("path", f.path).Msg("identity cleared")
		return nil
	})
}

func (f *File) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", f.path, err)
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.store").Msg("unlock identity")
		}
	}()
	return fn()
}

// Memory is a process-local store.
type Memory struct {
	mu sync.Mutex
	id *domain.Identity
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load() (domain.Identity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.id == nil {
		return domain.Identity{}, false, nil
	}
	return *m.id, true, nil
}

func (m *Memory) Save(id domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = &id
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = nil
	return nil
}
