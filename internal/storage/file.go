package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

const (
	// DefaultDataDir is used when no storage path is configured
	DefaultDataDir = "~/.local/share/events-monitor"

	fileBackend = "file"
)

// FileStore persists state as a JSON file on local disk
type FileStore struct {
	dataDir string
	source  string
}

// NewFileStore creates a FileStore for source rooted at dataDir
func NewFileStore(dataDir, source string) (*FileStore, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}

	// Expand ~ to home directory
	if strings.HasPrefix(dataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, dataDir[2:])
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &FileStore{
		dataDir: dataDir,
		source:  source,
	}, nil
}

// Path returns the canonical state file path
func (s *FileStore) Path() string {
	return filepath.Join(s.dataDir, StateName(s.source)+".json")
}

// Load reads the state file. A missing or empty file is an absent state.
func (s *FileStore) Load(ctx context.Context) (*event.PersistedState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return event.NewState(s.source), nil
		}
		return readCorrupt(fileBackend, s.source, fmt.Errorf("reading state: %w", err))
	}
	return decodeState(fileBackend, s.source, data)
}

// Save writes state to a temporary file in the same directory, syncs it, and
// renames it over the canonical path. Readers see either the old or the new file.
func (s *FileStore) Save(ctx context.Context, state *event.PersistedState) error {
	data, err := encodeState(fileBackend, state)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return writeFailed(fileBackend, err)
	}

	tmp, err := os.CreateTemp(s.dataDir, "."+StateName(s.source)+"-*.tmp")
	if err != nil {
		return writeFailed(fileBackend, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()

	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return writeFailed(fileBackend, cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("writing state: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("syncing state: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return writeFailed(fileBackend, fmt.Errorf("closing state: %w", err))
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return writeFailed(fileBackend, fmt.Errorf("setting permissions: %w", err))
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return writeFailed(fileBackend, fmt.Errorf("replacing state: %w", err))
	}

	return nil
}

// Close is a no-op for files
func (s *FileStore) Close() error {
	return nil
}
