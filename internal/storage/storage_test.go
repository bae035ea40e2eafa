package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "arrismon/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", "  "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: unexpected error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []RunRecord{
		{At: base, Task: "status", ExitCode: 0, OK: true, TookMS: 120},
		{At: base.Add(time.Minute), Task: "events", ExitCode: 1, OK: false, Error: "exit status 1", TookMS: 80},
		{At: base.Add(2 * time.Minute), Task: "speedtest", ExitCode: 0, OK: true, TookMS: 15400},
	}
	for _, r := range recs {
		if err := st.RecordRun(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := st.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].Task != "speedtest" || got[2].Task != "status" {
		t.Fatalf("expected newest first, got %q..%q", got[0].Task, got[2].Task)
	}
	if got[1].Error != "exit status 1" || got[1].OK {
		t.Fatalf("failure record mangled: %+v", got[1])
	}
	if !got[2].At.Equal(base) {
		t.Fatalf("timestamp mangled: %v", got[2].At)
	}
}

func TestFileStoreHonorsLimit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		rec := RunRecord{Task: "status", OK: true, TookMS: int64(i)}
		if err := st.RecordRun(ctx, rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := st.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	// 4,5,6 were last in; newest first.
	if got[0].TookMS != 6 || got[2].TookMS != 4 {
		t.Fatalf("wrong tail window: %+v", got)
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	seed := `{"task":"status","ok":true}
this is not json
{"task":"events","ok":false}
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	got, err := st.RecentRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 parseable records, got %d", len(got))
	}
	if got[0].Task != "events" || got[1].Task != "status" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestFileStoreRecentOnMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	// Remove the file behind the store's back; reads must not error.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	got, err := st.RecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}
