// Package settings is a small key-value store for per-user values that do not
// belong in a project config file, such as API tokens.
//
// The store is a JSON object on disk. Every update re-reads the file under an
// exclusive lock and replaces it atomically, so concurrent processes never
// lose each other's writes.
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// Known keys.
const (
	KeyTrackerToken = "tracker_token"
	KeyFlagsToken   = "flags_token"
)

const (
	dirPerms  = 0o700
	filePerms = 0o600
)

// ErrInvalidFile is returned when the settings file is not a JSON object of
// strings.
var ErrInvalidFile = errors.New("invalid settings file")

// DefaultPath returns $XDG_CONFIG_HOME/shipit/settings.json, falling back to
// ~/.config. It returns "" when neither variable is set.
func DefaultPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "shipit", "settings.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "shipit", "settings.json")
	}

	return ""
}

// Store reads and writes one settings file.
type Store struct {
	path string
}

// Open returns a store backed by path. The file is created on first write.
func Open(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// All returns every stored value. A missing file is an empty store.
func (s *Store) All() (map[string]string, error) {
	return s.read()
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	values, err := s.read()
	if err != nil {
		return "", false, err
	}

	v, ok := values[key]

	return v, ok, nil
}

// Set stores values, keeping keys not mentioned. Empty values are skipped.
func (s *Store) Set(values map[string]string) error {
	return s.update(func(current map[string]string) {
		for k, v := range values {
			if v != "" {
				current[k] = v
			}
		}
	})
}

// Delete removes keys. Missing keys are ignored.
func (s *Store) Delete(keys ...string) error {
	return s.update(func(current map[string]string) {
		for _, k := range keys {
			delete(current, k)
		}
	})
}

func (s *Store) update(mutate func(map[string]string)) error {
	return withLock(s.path, func() error {
		current, err := s.read()
		if err != nil {
			return err
		}

		before := maps.Clone(current)

		mutate(current)

		if maps.Equal(before, current) {
			return nil
		}

		data, err := json.MarshalIndent(current, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding settings: %w", err)
		}

		err = atomic.WriteFile(s.path, bytes.NewReader(append(data, '\n')))
		if err != nil {
			return fmt.Errorf("writing settings: %w", err)
		}

		return nil
	})
}

func (s *Store) read() (map[string]string, error) {
	values := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}

		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}

	err = json.Unmarshal(data, &values)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidFile, s.path, err)
	}

	return values, nil
}
