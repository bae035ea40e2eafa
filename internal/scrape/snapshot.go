package scrape

import (
	"encoding/json"
	"errors"
	"os"
)

// snapshotSize bounds the stored tail of the event log. Five entries
// are enough to re-anchor the next delta; twenty gives slack for noisy
// bursts between runs.
const snapshotSize = 20

// matchWindow is how many trailing snapshot events must reappear in the
// fresh list to count as an anchor.
const matchWindow = 5

// LoadSnapshot reads the events stored by the previous run. A missing
// file is an empty snapshot; a corrupt one is returned as an error so
// the caller can log it and fall back to "everything is new".
func LoadSnapshot(path string) ([]Event, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}

	var events []Event
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// SaveSnapshot stores the newest snapshotSize events for the next run.
func SaveSnapshot(path string, events []Event) error {
	tail := events
	if len(tail) > snapshotSize {
		tail = tail[len(tail)-snapshotSize:]
	}
	b, err := json.Marshal(tail)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// NewEvents returns the entries of events that appeared after the
// snapshot was taken. It slides the snapshot's trailing window over the
// fresh list; everything past the match is new. No overlap at all means
// the whole log rolled over, so everything is new.
func NewEvents(events, snapshot []Event) []Event {
	window := len(snapshot)
	if window > matchWindow {
		window = matchWindow
	}
	// Nothing to anchor on: an empty snapshot, or a fresh list too
	// short to contain the window.
	if window == 0 || len(events) < window {
		return events
	}

	tail := snapshot[len(snapshot)-window:]
	for i := 0; i+window <= len(events); i++ {
		if eventsEqual(events[i:i+window], tail) {
			return events[i+window:]
		}
	}
	return events
}

func eventsEqual(a, b []Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
