package event

import (
	"testing"
	"time"
)

func makeRecords(titles ...string) Snapshot {
	now := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	snap := make(Snapshot, 0, len(titles))
	for _, title := range titles {
		snap = append(snap, NewRecord("", title, "Oct 18", "", "", now))
	}
	return snap
}

func TestDiff(t *testing.T) {
	previous := NextState(nil, "store", makeRecords("A", "B"), time.Now())

	t.Run("finds new records", func(t *testing.T) {
		result := Diff(previous, makeRecords("A", "B", "C"))

		if result.IsFirstRun {
			t.Error("expected IsFirstRun to be false")
		}
		if len(result.NewRecords) != 1 {
			t.Fatalf("expected 1 new record, got %d", len(result.NewRecords))
		}
		if result.NewRecords[0].Title != "C" {
			t.Errorf("expected C to be new, got %q", result.NewRecords[0].Title)
		}
		if len(result.RemovedRecords) != 0 {
			t.Errorf("expected no removed records, got %d", len(result.RemovedRecords))
		}
	})

	t.Run("reports removed records", func(t *testing.T) {
		result := Diff(previous, makeRecords("B"))

		if len(result.NewRecords) != 0 {
			t.Errorf("expected no new records, got %d", len(result.NewRecords))
		}
		if len(result.RemovedRecords) != 1 || result.RemovedRecords[0].Title != "A" {
			t.Errorf("expected A to be removed, got %+v", result.RemovedRecords)
		}
	})

	t.Run("no change", func(t *testing.T) {
		result := Diff(previous, makeRecords("B", "A"))
		if len(result.NewRecords) != 0 || len(result.RemovedRecords) != 0 {
			t.Errorf("reordering should not count as a change, got %+v", result)
		}
	})

	t.Run("nil previous state is a first run", func(t *testing.T) {
		result := Diff(nil, makeRecords("A", "B", "C"))

		if !result.IsFirstRun {
			t.Error("expected IsFirstRun to be true")
		}
		if len(result.NewRecords) != 3 {
			t.Errorf("expected 3 new records, got %d", len(result.NewRecords))
		}
	})

	t.Run("never-saved state is a first run", func(t *testing.T) {
		result := Diff(NewState("store"), makeRecords("A"))
		if !result.IsFirstRun {
			t.Error("expected IsFirstRun to be true")
		}
	})

	t.Run("saved empty baseline is not a first run", func(t *testing.T) {
		baseline := NextState(nil, "store", Snapshot{}, time.Now())
		result := Diff(baseline, makeRecords("A"))

		if result.IsFirstRun {
			t.Error("expected IsFirstRun to be false for a saved empty baseline")
		}
		if len(result.NewRecords) != 1 {
			t.Errorf("expected 1 new record, got %d", len(result.NewRecords))
		}
	})
}

func TestNextState(t *testing.T) {
	first := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	prev := NextState(nil, "store", Snapshot{NewRecord("", "A", "Oct 18", "", "", first)}, first)

	current := Snapshot{
		NewRecord("", "A", "Oct 18", "updated text", "", second),
		NewRecord("", "B", "Oct 19", "", "", second),
	}
	next := NextState(prev, "store", current, second)

	if next.Version != StateVersion {
		t.Errorf("Version = %d, want %d", next.Version, StateVersion)
	}
	if !next.LastCheckedAt.Equal(second) {
		t.Errorf("LastCheckedAt = %v, want %v", next.LastCheckedAt, second)
	}
	if next.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", next.Len())
	}
	if !next.Records[0].ExtractedAt.Equal(first) {
		t.Errorf("known record ExtractedAt = %v, want original %v", next.Records[0].ExtractedAt, first)
	}
	if next.Records[0].Description != "updated text" {
		t.Errorf("known record should take current fields, got %q", next.Records[0].Description)
	}
	if !next.Records[1].ExtractedAt.Equal(second) {
		t.Errorf("new record ExtractedAt = %v, want %v", next.Records[1].ExtractedAt, second)
	}

	// the input snapshot must not be mutated
	if !current[0].ExtractedAt.Equal(second) {
		t.Error("NextState mutated its input")
	}
}

func TestPersistedState_IsEmpty(t *testing.T) {
	var nilState *PersistedState
	if !nilState.IsEmpty() {
		t.Error("nil state should be empty")
	}
	if !NewState("x").IsEmpty() {
		t.Error("new state should be empty")
	}
	if NextState(nil, "x", nil, time.Now()).IsEmpty() {
		t.Error("saved state should not be empty")
	}
}
