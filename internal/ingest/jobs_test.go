package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shanemeister/ChicagoDataPortal/internal/incidents"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/normalize"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/socrata"
)

type fakeFetcher struct {
	rows []socrata.Row
	err  error
	reqs []socrata.Request
}

func (f *fakeFetcher) ForEachRow(ctx context.Context, req socrata.Request, fn func(socrata.Row) error) error {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return f.err
	}
	for _, r := range f.rows {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

type fakeLedger struct {
	nextRunID        int64
	statuses         map[int64]string
	counts           map[int64]incidents.Counts
	notes            map[int64]string
	upsertCalls      int
	failUpsertOnCall int
	upserted         [][]*normalize.Incident
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		statuses: map[int64]string{},
		counts:   map[int64]incidents.Counts{},
		notes:    map[int64]string{},
	}
}

func (l *fakeLedger) EnsureSource(ctx context.Context, city, portalSlug, name, apiBase string, license, cadence *string) (int64, error) {
	return 7, nil
}

func (l *fakeLedger) StartIngestRun(ctx context.Context, sourceID int64, flowName string) (int64, error) {
	l.nextRunID++
	l.statuses[l.nextRunID] = incidents.RunStatusRunning
	return l.nextRunID, nil
}

func (l *fakeLedger) FinalizeIngestRun(ctx context.Context, runID int64, status string, counts incidents.Counts, notes string) error {
	l.statuses[runID] = status
	l.counts[runID] = counts
	l.notes[runID] = notes
	return nil
}

func (l *fakeLedger) UpsertBatch(ctx context.Context, sourceID int64, batch []*normalize.Incident, ingestRunID *int64) (int, int, error) {
	l.upsertCalls++
	if l.failUpsertOnCall == l.upsertCalls {
		return 0, 0, errors.New("write failed")
	}
	snapshot := make([]*normalize.Incident, len(batch))
	copy(snapshot, batch)
	l.upserted = append(l.upserted, snapshot)
	return len(batch), 0, nil
}

func testFeed() Feed {
	return Feed{
		City:           "chicago",
		DatasetID:      "ijzp-q8t2",
		Name:           "Chicago Crimes - 2001 to Present",
		APIBase:        "https://data.example.org",
		Normalizer:     "chicago",
		EventTimeField: "date",
	}
}

func goodRow(id string) socrata.Row {
	return socrata.Row{
		"id":           id,
		"case_number":  "HZ" + id,
		"date":         "2024-03-01T10:00:00.000",
		"primary_type": "THEFT",
	}
}

func TestRecentWindow_Succeeds(t *testing.T) {
	fetcher := &fakeFetcher{rows: []socrata.Row{goodRow("1"), goodRow("2"), goodRow("3")}}
	ledger := newFakeLedger()

	err := RecentWindow(context.Background(), JobDeps{Fetcher: fetcher, Ledger: ledger}, testFeed(), 7, 0)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}

	if got := ledger.statuses[1]; got != incidents.RunStatusSucceeded {
		t.Errorf("run status = %q, want succeeded", got)
	}
	if c := ledger.counts[1]; c.Fetched != 3 || c.Inserted != 3 || c.Updated != 0 {
		t.Errorf("counts = %+v", c)
	}
	if !strings.Contains(ledger.notes[1], "skipped=0") {
		t.Errorf("notes = %q, want skipped=0", ledger.notes[1])
	}
	if ledger.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1", ledger.upsertCalls)
	}
	if len(fetcher.reqs) != 1 {
		t.Fatalf("fetcher saw %d requests, want 1", len(fetcher.reqs))
	}
	req := fetcher.reqs[0]
	if req.DatasetID != "ijzp-q8t2" {
		t.Errorf("dataset = %q", req.DatasetID)
	}
	if !strings.Contains(req.Where, "date >= '") {
		t.Errorf("where = %q, want cutoff predicate on date", req.Where)
	}
}

func TestRecentWindow_SkipsBadRows(t *testing.T) {
	noDate := socrata.Row{"id": "4", "primary_type": "BATTERY"}
	fetcher := &fakeFetcher{rows: []socrata.Row{goodRow("1"), noDate, goodRow("2")}}
	ledger := newFakeLedger()

	err := RecentWindow(context.Background(), JobDeps{Fetcher: fetcher, Ledger: ledger}, testFeed(), 7, 0)
	if err != nil {
		t.Fatalf("RecentWindow: %v", err)
	}

	if got := ledger.statuses[1]; got != incidents.RunStatusPartial {
		t.Errorf("run status = %q, want partial", got)
	}
	if c := ledger.counts[1]; c.Fetched != 2 {
		t.Errorf("fetched = %d, want 2 (bad row skipped)", c.Fetched)
	}
	if !strings.Contains(ledger.notes[1], "skipped=1") {
		t.Errorf("notes = %q, want skipped=1", ledger.notes[1])
	}
	if len(ledger.upserted) != 1 || len(ledger.upserted[0]) != 2 {
		t.Errorf("upserted batches = %v", ledger.upserted)
	}
}

func TestRecentWindow_FetchFailureMarksRunFailed(t *testing.T) {
	boom := errors.New("portal down")
	fetcher := &fakeFetcher{err: boom}
	ledger := newFakeLedger()

	err := RecentWindow(context.Background(), JobDeps{Fetcher: fetcher, Ledger: ledger}, testFeed(), 7, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want fetch failure", err)
	}
	if got := ledger.statuses[1]; got != incidents.RunStatusFailed {
		t.Errorf("run status = %q, want failed", got)
	}
	if ledger.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want 0", ledger.upsertCalls)
	}
}

func TestRecentWindow_WriteFailureMarksRunFailed(t *testing.T) {
	fetcher := &fakeFetcher{rows: []socrata.Row{goodRow("1")}}
	ledger := newFakeLedger()
	ledger.failUpsertOnCall = 1

	err := RecentWindow(context.Background(), JobDeps{Fetcher: fetcher, Ledger: ledger}, testFeed(), 7, 0)
	if err == nil {
		t.Fatal("expected write failure to propagate")
	}
	if got := ledger.statuses[1]; got != incidents.RunStatusFailed {
		t.Errorf("run status = %q, want failed", got)
	}
}

func TestRecentWindow_UnknownNormalizer(t *testing.T) {
	feed := testFeed()
	feed.Normalizer = "atlantis"
	ledger := newFakeLedger()

	err := RecentWindow(context.Background(), JobDeps{Fetcher: &fakeFetcher{}, Ledger: ledger}, feed, 7, 0)
	if !errors.Is(err, normalize.ErrUnknownNormalizer) {
		t.Fatalf("err = %v, want ErrUnknownNormalizer", err)
	}
	if ledger.nextRunID != 0 {
		t.Errorf("started %d runs, want 0", ledger.nextRunID)
	}
}

// TestBackfill_WindowIsolation exercises a three-month range where the middle
// window's write fails: that run is recorded failed, the surrounding windows
// still execute and succeed, and the failure is surfaced in the joined error.
func TestBackfill_WindowIsolation(t *testing.T) {
	fetcher := &fakeFetcher{rows: []socrata.Row{goodRow("1"), goodRow("2")}}
	ledger := newFakeLedger()
	ledger.failUpsertOnCall = 2

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	err := Backfill(context.Background(), JobDeps{Fetcher: fetcher, Ledger: ledger}, testFeed(), start, end, 0, 1000)
	if err == nil {
		t.Fatal("expected joined window error")
	}
	if !strings.Contains(err.Error(), "window 2024-02") {
		t.Errorf("err = %v, want mention of the failed window", err)
	}

	if len(fetcher.reqs) != 3 {
		t.Fatalf("fetcher saw %d requests, want 3 (one per month)", len(fetcher.reqs))
	}
	if ledger.nextRunID != 3 {
		t.Fatalf("started %d runs, want 3", ledger.nextRunID)
	}
	wantStatuses := map[int64]string{
		1: incidents.RunStatusSucceeded,
		2: incidents.RunStatusFailed,
		3: incidents.RunStatusSucceeded,
	}
	for runID, want := range wantStatuses {
		if got := ledger.statuses[runID]; got != want {
			t.Errorf("run %d status = %q, want %q", runID, got, want)
		}
	}
}

func TestBackfill_WindowPredicates(t *testing.T) {
	fetcher := &fakeFetcher{}
	ledger := newFakeLedger()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	if err := Backfill(context.Background(), JobDeps{Fetcher: fetcher, Ledger: ledger}, testFeed(), start, end, 0, 0); err != nil {
		t.Fatalf("Backfill: %v", err)
	}

	if len(fetcher.reqs) != 2 {
		t.Fatalf("fetcher saw %d requests, want 2", len(fetcher.reqs))
	}
	first := fetcher.reqs[0].Where
	if !strings.Contains(first, "date >= '2024-01-01T00:00:00'") || !strings.Contains(first, "date < '2024-02-01T00:00:00'") {
		t.Errorf("first window where = %q", first)
	}
	// last window clamped to the end bound
	second := fetcher.reqs[1].Where
	if !strings.Contains(second, "date < '2024-02-15T00:00:00'") {
		t.Errorf("second window where = %q", second)
	}
}

func TestBackfill_RejectsEmptyRange(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	err := Backfill(context.Background(), JobDeps{Fetcher: &fakeFetcher{}, Ledger: newFakeLedger()}, testFeed(), start, start, 0, 0)
	if err == nil {
		t.Fatal("expected error for empty range")
	}
}

func TestMonthWindows(t *testing.T) {
	start := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	windows := MonthWindows(start, end)
	if len(windows) != 4 {
		t.Fatalf("got %d windows, want 4", len(windows))
	}
	if !windows[0].Start.Equal(start) {
		t.Errorf("first start = %v", windows[0].Start)
	}
	// year rollover
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !windows[1].End.Equal(want) {
		t.Errorf("second end = %v, want %v", windows[1].End, want)
	}
	// last window clamps to the bound
	if !windows[3].End.Equal(end) {
		t.Errorf("last end = %v, want %v", windows[3].End, end)
	}
	for i := 1; i < len(windows); i++ {
		if !windows[i].Start.Equal(windows[i-1].End) {
			t.Errorf("gap between window %d and %d", i-1, i)
		}
	}
}

func TestParseMonth(t *testing.T) {
	for _, in := range []string{"2024-03", "2024-03-17"} {
		got, err := ParseMonth(in)
		if err != nil {
			t.Fatalf("ParseMonth(%q): %v", in, err)
		}
		want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("ParseMonth(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseMonth("March 2024"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
