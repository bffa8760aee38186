package forest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Format identifies watchdog forest artifacts on disk.
const (
	Format        = "fraudwatchdog/forest"
	FormatVersion = 1
)

var ErrFormat = errors.New("not a forest artifact")

type envelope struct {
	Format        string  `json:"format"`
	FormatVersion int     `json:"format_version"`
	Forest        *Forest `json:"forest"`
}

// Save writes the forest to path. The file is written next to its
// destination and renamed into place, so readers see either the old or
// the new artifact, never a partial one.
func (f *Forest) Save(path string) error {
	if f == nil || len(f.Trees) == 0 {
		return ErrNotFitted
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(envelope{Format: Format, FormatVersion: FormatVersion, Forest: f}); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return fmt.Errorf("install artifact: %w", err)
	}
	return nil
}

// Load reads a forest previously written by Save.
func Load(path string) (*Forest, error) {
	file, err := os.Open(path) // #nosec G304 -- artifact path comes from configuration
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var env envelope
	if err := json.NewDecoder(file).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if env.Format != Format || env.Forest == nil {
		return nil, ErrFormat
	}
	if env.FormatVersion > FormatVersion {
		return nil, fmt.Errorf("%w: format version %d is newer than %d", ErrFormat, env.FormatVersion, FormatVersion)
	}
	if len(env.Forest.Trees) == 0 {
		return nil, ErrNotFitted
	}
	if err := env.Forest.Validate(); err != nil {
		return nil, err
	}
	return env.Forest, nil
}
