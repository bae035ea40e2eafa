package scrape

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mkEvents(t *testing.T, n int, start time.Time) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			Timestamp:   start.Add(time.Duration(i) * time.Minute),
			EventID:     84000000 + i,
			Level:       5,
			Description: "entry",
		})
	}
	return out
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshot.json")
	events := mkEvents(t, 25, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	if err := SaveSnapshot(path, events); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Only the newest 20 survive.
	if len(got) != 20 {
		t.Fatalf("snapshot kept %d events, want 20", len(got))
	}
	if !got[0].Equal(events[5]) || !got[19].Equal(events[24]) {
		t.Fatalf("snapshot window wrong: first=%+v last=%+v", got[0], got[19])
	}
}

func TestLoadSnapshotMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	got, err := LoadSnapshot(filepath.Join(dir, "absent.json"))
	if err != nil || len(got) != 0 {
		t.Fatalf("missing snapshot: got %v, %v", got, err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err = LoadSnapshot(empty)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty snapshot: got %v, %v", got, err)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{nope"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err = LoadSnapshot(corrupt); err == nil {
		t.Fatal("corrupt snapshot must surface an error")
	}
}

func TestNewEventsDelta(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	log := mkEvents(t, 10, start)

	cases := []struct {
		name     string
		events   []Event
		snapshot []Event
		want     int
		first    int // EventID offset of the first returned entry, -1 if none
	}{
		{"no change", log, log, 0, -1},
		{"two new entries", log, log[:8], 2, 8},
		{"rolled over, no overlap", mkEvents(t, 6, start.Add(24*time.Hour)), log, 6, -1},
		{"empty snapshot", log, nil, 10, 0},
		{"fresh list shorter than window", log[:3], log, 3, 0},
		{"small snapshot shrinks window", log, log[:4], 6, 4},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := NewEvents(tc.events, tc.snapshot)
			if len(got) != tc.want {
				t.Fatalf("new events = %d, want %d", len(got), tc.want)
			}
			if tc.first >= 0 && len(got) > 0 {
				if wantID := 84000000 + tc.first; got[0].EventID != wantID {
					t.Fatalf("first new id = %d, want %d", got[0].EventID, wantID)
				}
			}
		})
	}
}
