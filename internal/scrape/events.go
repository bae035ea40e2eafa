package scrape

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Event is one modem event log entry. The JSON field names are the
// snapshot file format; changing them orphans existing snapshots.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventID     int       `json:"event_id"`
	Level       int       `json:"level"`
	Description string    `json:"description"`
}

// Equal ignores timestamp representation details (zone pointer,
// monotonic reading) that survive a snapshot round trip.
func (e Event) Equal(o Event) bool {
	return e.EventID == o.EventID &&
		e.Level == o.Level &&
		e.Description == o.Description &&
		e.Timestamp.Equal(o.Timestamp)
}

// The modem prints timestamps like "01/15/2024 13:37" in its own local
// zone without marking it.
const eventTimeLayout = "01/02/2006 15:04"

// parseEvents reads the event log out of event_cgi: table 1, oldest
// entry first. Timestamps are converted from loc to UTC; entries the
// modem stamped before it learned the time (epoch rows) are repaired
// against the next trustworthy entry.
func parseEvents(page []byte, loc *time.Location) ([]Event, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}
	tables := doc.Find("table")
	if tables.Length() < 2 {
		return nil, nil
	}

	var (
		events []Event
		rerr   error
	)
	tables.Eq(1).Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := rowCells(row)
		if len(cells) < 4 || cells[0] == "Date Time" {
			return true
		}

		ts, err := time.ParseInLocation(eventTimeLayout, cells[0], loc)
		if err != nil {
			rerr = fmt.Errorf("event timestamp %q: %w", cells[0], err)
			return false
		}
		id, err := strconv.Atoi(cells[1])
		if err != nil {
			rerr = fmt.Errorf("event id %q: %w", cells[1], err)
			return false
		}
		level, err := strconv.Atoi(cells[2])
		if err != nil {
			rerr = fmt.Errorf("event level %q: %w", cells[2], err)
			return false
		}

		events = append(events, Event{
			Timestamp:   ts.UTC(),
			EventID:     id,
			Level:       level,
			Description: cells[3],
		})
		return true
	})
	if rerr != nil {
		return nil, rerr
	}

	return repairTimestamps(events), nil
}

// repairTimestamps fixes entries logged before the modem synced its
// clock (they read as 1970). A run of epoch entries followed by a valid
// one is re-anchored to end one second before that valid entry, keeping
// the run's internal spacing; a trailing run with no anchor is dropped.
func repairTimestamps(events []Event) []Event {
	out := make([]Event, 0, len(events))
	var invalid []Event

	for _, ev := range events {
		if ev.Timestamp.Year() == 1970 {
			invalid = append(invalid, ev)
			continue
		}

		if len(invalid) > 0 {
			deltas := make([]time.Duration, 0, len(invalid)-1)
			var total time.Duration
			for j := 1; j < len(invalid); j++ {
				d := invalid[j].Timestamp.Sub(invalid[j-1].Timestamp)
				deltas = append(deltas, d)
				total += d
			}

			cur := ev.Timestamp.Add(-time.Second - total)
			invalid[0].Timestamp = cur
			for j := 1; j < len(invalid); j++ {
				cur = cur.Add(deltas[j-1])
				invalid[j].Timestamp = cur
			}

			out = append(out, invalid...)
			invalid = nil
		}
		out = append(out, ev)
	}

	// No anchor for a trailing run; drop it.
	return out
}
