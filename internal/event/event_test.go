package event

import (
	"testing"
	"time"
)

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name      string
		a         [3]string // sourceID, title, dateText
		b         [3]string
		wantEqual bool
	}{
		{
			name:      "same input produces same key",
			a:         [3]string{"", "Kids Workshop", "Sat, Oct 18"},
			b:         [3]string{"", "Kids Workshop", "Sat, Oct 18"},
			wantEqual: true,
		},
		{
			name:      "whitespace and case differences collapse",
			a:         [3]string{"", "  Kids   Workshop ", "Sat,  Oct 18"},
			b:         [3]string{"", "kids workshop", "SAT, OCT 18"},
			wantEqual: true,
		},
		{
			name:      "different date produces different key",
			a:         [3]string{"", "Kids Workshop", "Oct 18"},
			b:         [3]string{"", "Kids Workshop", "Oct 25"},
			wantEqual: false,
		},
		{
			name:      "explicit source id wins over title",
			a:         [3]string{"evt-42", "Kids Workshop", "Oct 18"},
			b:         [3]string{"evt-42", "Kids Workshop (updated)", "Oct 19"},
			wantEqual: true,
		},
		{
			name:      "source id and derived key differ",
			a:         [3]string{"evt-42", "Kids Workshop", "Oct 18"},
			b:         [3]string{"", "Kids Workshop", "Oct 18"},
			wantEqual: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k1 := GenerateKey(tt.a[0], tt.a[1], tt.a[2])
			k2 := GenerateKey(tt.b[0], tt.b[1], tt.b[2])

			if len(k1) != 40 { // SHA1 produces 40 hex characters
				t.Errorf("expected key length of 40, got %d", len(k1))
			}
			if (k1 == k2) != tt.wantEqual {
				t.Errorf("GenerateKey equality = %v, want %v (%s vs %s)", k1 == k2, tt.wantEqual, k1, k2)
			}
		})
	}
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	rec := NewRecord("", "  Kids\n\tWorkshop ", " Sat,  Oct 18 ", "Build a   birdhouse", " https://example.com/events/1 ", now)
	if rec == nil {
		t.Fatal("NewRecord() returned nil")
	}

	if rec.Title != "Kids Workshop" {
		t.Errorf("Title = %q, want %q", rec.Title, "Kids Workshop")
	}
	if rec.DateText != "Sat, Oct 18" {
		t.Errorf("DateText = %q, want %q", rec.DateText, "Sat, Oct 18")
	}
	if rec.Description != "Build a birdhouse" {
		t.Errorf("Description = %q", rec.Description)
	}
	if rec.URL != "https://example.com/events/1" {
		t.Errorf("URL = %q", rec.URL)
	}
	if !rec.ExtractedAt.Equal(now) {
		t.Errorf("ExtractedAt = %v, want %v", rec.ExtractedAt, now)
	}

	// description edits never change identity
	other := NewRecord("", "Kids Workshop", "Sat, Oct 18", "Something else entirely", "", now)
	if other.Key != rec.Key {
		t.Errorf("description changed key: %s vs %s", other.Key, rec.Key)
	}
}

func TestNewRecord_EmptyTitle(t *testing.T) {
	if rec := NewRecord("", "   \n ", "Oct 18", "", "", time.Now()); rec != nil {
		t.Errorf("NewRecord() with blank title = %+v, want nil", rec)
	}
}

func TestDedupe(t *testing.T) {
	now := time.Now()
	first := NewRecord("", "Kids Workshop", "Oct 18", "first", "", now)
	dup := NewRecord("", "kids  workshop", "oct 18", "second", "", now)
	other := NewRecord("", "Cooking Class", "Oct 19", "", "", now)

	got := Dedupe([]*Record{first, dup, nil, other})

	if len(got) != 2 {
		t.Fatalf("Dedupe() returned %d records, want 2", len(got))
	}
	if got[0].Description != "first" {
		t.Errorf("Dedupe() kept %q, want first occurrence", got[0].Description)
	}
	if got[1].Key != other.Key {
		t.Error("Dedupe() lost ordering")
	}
}
