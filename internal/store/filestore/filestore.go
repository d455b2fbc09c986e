package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/thermopid/internal/thermostat"
)

// Store keeps the restart snapshot of one device in a YAML file.
type Store struct {
	path string
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("filestore: path is required")
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Load returns found=false when the file does not exist yet.
func (s *Store) Load(context.Context) (thermostat.PersistedState, bool, error) {
	var st thermostat.PersistedState
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("read state: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return thermostat.PersistedState{}, false, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return st, true, nil
}

// Save replaces the file atomically.
func (s *Store) Save(_ context.Context, st thermostat.PersistedState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
