// Package file persists the station configuration on the local filesystem.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/railhub/internal/config"
	"github.com/aretw0/railhub/pkg/domain"
)

// DefaultPath is the station file used when none is given.
const DefaultPath = "railhub.yaml"

// Store keeps one YAML station file.
// Writes go through a temp file and a rename so a crash never leaves a partial file.
type Store struct {
	Path string

	mu sync.Mutex
}

// New creates a Store for path. An empty path means DefaultPath.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{Path: path}
}

// Exists reports whether a station file has been written.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Load reads and parses the station file.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save writes cfg atomically.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(cfg)
}

// Update applies fn to the file on disk and writes the result back.
// Environment overrides are never persisted since the file is re-read first.
func (s *Store) Update(ctx context.Context, fn func(*config.Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return s.save(cfg)
}

// SaveSwitches records the latest switch states. It has the shape of a station persist hook.
func (s *Store) SaveSwitches(ctx context.Context, switches []domain.SwitchDevice) error {
	return s.Update(ctx, func(cfg *config.Config) error {
		byIndex := make(map[int]bool, len(switches))
		for _, sw := range switches {
			byIndex[sw.Index] = sw.State
		}
		for i, sw := range cfg.Station.Switches {
			if state, ok := byIndex[sw.Index]; ok {
				cfg.Station.Switches[i].State = state
			}
		}
		return nil
	})
}

// SaveRole records a new role for the next start of the coordination subsystem.
func (s *Store) SaveRole(ctx context.Context, role domain.Role) error {
	return s.Update(ctx, func(cfg *config.Config) error {
		cfg.Station.Role = role
		return nil
	})
}

func (s *Store) load() (*config.Config, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", s.Path, domain.ErrConfigNotFound)
		}
		return nil, fmt.Errorf("failed to read station file: %w", err)
	}
	return config.Parse(data)
}

func (s *Store) save(cfg *config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure config directory: %w", err)
	}

	// Same directory as the target so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(s.Path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("failed to replace station file: %w", err)
	}
	return nil
}
