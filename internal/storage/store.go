package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

// StateStore loads and saves the persisted state of one source
type StateStore interface {
	Load(ctx context.Context) (*event.PersistedState, error)
	Save(ctx context.Context, state *event.PersistedState) error
	Close() error
}

// StoreErrorKind classifies storage failures
type StoreErrorKind int

const (
	ReadCorrupt StoreErrorKind = iota
	WriteFailed
)

func (k StoreErrorKind) String() string {
	switch k {
	case ReadCorrupt:
		return "read_corrupt"
	case WriteFailed:
		return "write_failed"
	}
	return "unknown"
}

// StoreError is returned by StateStore implementations
type StoreError struct {
	Kind    StoreErrorKind
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s state store: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// StateName returns the storage name for a source, e.g. "state_north_york"
func StateName(source string) string {
	name := unsafeNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(source)), "_")
	name = strings.Trim(name, "_")
	if name == "" || name == "default" {
		return "state"
	}
	return "state_" + name
}

// decodeState parses stored bytes. Empty input is an absent state; invalid
// input is an empty state plus a ReadCorrupt error.
func decodeState(backend, source string, data []byte) (*event.PersistedState, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return event.NewState(source), nil
	}

	var state event.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return event.NewState(source), &StoreError{
			Kind:    ReadCorrupt,
			Backend: backend,
			Err:     fmt.Errorf("parsing state: %w", err),
		}
	}

	records := make(event.Snapshot, 0, len(state.Records))
	for _, rec := range state.Records {
		if rec != nil && rec.Key != "" {
			records = append(records, rec)
		}
	}
	state.Records = records

	if state.Source == "" {
		state.Source = source
	}
	return &state, nil
}

func encodeState(backend string, state *event.PersistedState) ([]byte, error) {
	if state == nil {
		return nil, &StoreError{Kind: WriteFailed, Backend: backend, Err: fmt.Errorf("nil state")}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, &StoreError{Kind: WriteFailed, Backend: backend, Err: fmt.Errorf("encoding state: %w", err)}
	}
	return data, nil
}

func readCorrupt(backend, source string, err error) (*event.PersistedState, error) {
	return event.NewState(source), &StoreError{Kind: ReadCorrupt, Backend: backend, Err: err}
}

func writeFailed(backend string, err error) error {
	return &StoreError{Kind: WriteFailed, Backend: backend, Err: err}
}
