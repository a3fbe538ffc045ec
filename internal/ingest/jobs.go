package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shanemeister/ChicagoDataPortal/internal/incidents"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/normalize"
	"github.com/shanemeister/ChicagoDataPortal/internal/ingest/socrata"
)

// socrataTimeLayout is the floating-timestamp format SoQL predicates expect.
const socrataTimeLayout = "2006-01-02T15:04:05"

// Fetcher streams raw dataset rows; *socrata.Client satisfies it.
type Fetcher interface {
	ForEachRow(ctx context.Context, req socrata.Request, fn func(socrata.Row) error) error
}

// Ledger is the slice of the incident store the jobs depend on;
// *incidents.Store satisfies it. Narrow on purpose so tests substitute fakes.
type Ledger interface {
	EnsureSource(ctx context.Context, city, portalSlug, name, apiBase string, license, cadence *string) (int64, error)
	StartIngestRun(ctx context.Context, sourceID int64, flowName string) (int64, error)
	FinalizeIngestRun(ctx context.Context, runID int64, status string, counts incidents.Counts, notes string) error
	UpsertBatch(ctx context.Context, sourceID int64, batch []*normalize.Incident, ingestRunID *int64) (int, int, error)
}

// JobDeps bundles the collaborators a job composes.
type JobDeps struct {
	Fetcher Fetcher
	Ledger  Ledger
}

// RecentWindow ingests rows with event time in the last N days as one batch
// under one ingest run. Per-row normalization failures are logged and skipped;
// fetch or write failures mark the run failed and propagate.
func RecentWindow(ctx context.Context, deps JobDeps, feed Feed, days, limit int) error {
	flow := feed.City + "_recent"

	norm, err := normalize.Get(feed.Normalizer)
	if err != nil {
		return err
	}

	sourceID, err := deps.Ledger.EnsureSource(ctx,
		feed.City, feed.DatasetID, feed.Name,
		fmt.Sprintf("%s/resource/%s.json", feed.APIBase, feed.DatasetID),
		nullable(feed.License), nullable(feed.RefreshCadence))
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	cutoffStr := cutoff.Format(socrataTimeLayout)

	req := socrata.Request{
		DatasetID: feed.DatasetID,
		Select:    "*",
		Order:     feed.EventTimeField + " DESC",
		Where:     fmt.Sprintf("%s >= '%s'", feed.EventTimeField, cutoffStr),
		Limit:     limit,
	}

	runID, err := deps.Ledger.StartIngestRun(ctx, sourceID, flow)
	if err != nil {
		return err
	}

	var batch []*normalize.Incident
	skipped := 0

	err = deps.Fetcher.ForEachRow(ctx, req, func(row socrata.Row) error {
		inc, nerr := norm.Normalize(row)
		if nerr != nil {
			normalize.LogSkippedRow(flow, nerr)
			skipped++
			return nil
		}
		batch = append(batch, inc)
		return nil
	})
	if err != nil {
		finalizeFailed(ctx, deps.Ledger, runID, incidents.Counts{Fetched: len(batch)}, err)
		return err
	}

	inserted, updated, err := deps.Ledger.UpsertBatch(ctx, sourceID, batch, &runID)
	if err != nil {
		finalizeFailed(ctx, deps.Ledger, runID, incidents.Counts{Fetched: len(batch)}, err)
		return err
	}

	status := incidents.RunStatusSucceeded
	if skipped > 0 {
		status = incidents.RunStatusPartial
	}
	counts := incidents.Counts{Fetched: len(batch), Inserted: inserted, Updated: updated}
	notes := fmt.Sprintf("cutoff=%s skipped=%d", cutoffStr, skipped)
	return deps.Ledger.FinalizeIngestRun(ctx, runID, status, counts, notes)
}

// Backfill ingests a historical range in half-open calendar-month windows
// [start, next). Each window owns its own ingest run; a window failure is
// recorded on that run and later windows still execute, with the failures
// joined into the returned error.
func Backfill(ctx context.Context, deps JobDeps, feed Feed, startMonth, endBound time.Time, limit, batchSize int) error {
	if !endBound.After(startMonth) {
		return errors.New("end month must be on or after start month")
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	norm, err := normalize.Get(feed.Normalizer)
	if err != nil {
		return err
	}

	sourceID, err := deps.Ledger.EnsureSource(ctx,
		feed.City, feed.DatasetID, feed.Name,
		fmt.Sprintf("%s/resource/%s.json", feed.APIBase, feed.DatasetID),
		nullable(feed.License), nullable(feed.RefreshCadence))
	if err != nil {
		return err
	}

	var windowErrs []error
	for _, w := range MonthWindows(startMonth, endBound) {
		if err := backfillWindow(ctx, deps, feed, norm, sourceID, w, limit, batchSize); err != nil {
			normalize.LogError(feed.City+"_backfill", "window "+w.Start.Format(socrataTimeLayout), err)
			windowErrs = append(windowErrs, fmt.Errorf("window %s: %w", w.Start.Format("2006-01"), err))
		}
	}
	return errors.Join(windowErrs...)
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthWindows splits [start, endBound) into calendar-month windows, in
// chronological order. The last window is clamped to endBound.
func MonthWindows(start, endBound time.Time) []Window {
	var out []Window
	cur := start
	for cur.Before(endBound) {
		next := addMonth(cur)
		if next.After(endBound) {
			next = endBound
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}

func backfillWindow(ctx context.Context, deps JobDeps, feed Feed, norm normalize.Normalizer, sourceID int64, w Window, limit, batchSize int) error {
	flow := feed.City + "_backfill"
	startStr := w.Start.Format(socrataTimeLayout)
	endStr := w.End.Format(socrataTimeLayout)

	req := socrata.Request{
		DatasetID: feed.DatasetID,
		Select:    "*",
		Order:     feed.EventTimeField + " ASC",
		Where:     fmt.Sprintf("%s >= '%s' AND %s < '%s'", feed.EventTimeField, startStr, feed.EventTimeField, endStr),
		Limit:     limit,
	}

	runID, err := deps.Ledger.StartIngestRun(ctx, sourceID, flow)
	if err != nil {
		return err
	}

	counts := incidents.Counts{}
	skipped := 0
	var batch []*normalize.Incident

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ins, upd, err := deps.Ledger.UpsertBatch(ctx, sourceID, batch, &runID)
		if err != nil {
			return err
		}
		counts.Inserted += ins
		counts.Updated += upd
		batch = batch[:0]
		return nil
	}

	err = deps.Fetcher.ForEachRow(ctx, req, func(row socrata.Row) error {
		inc, nerr := norm.Normalize(row)
		if nerr != nil {
			normalize.LogSkippedRow(flow, nerr)
			skipped++
			return nil
		}
		batch = append(batch, inc)
		counts.Fetched++
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		finalizeFailed(ctx, deps.Ledger, runID, counts, err)
		return err
	}

	status := incidents.RunStatusSucceeded
	if skipped > 0 {
		status = incidents.RunStatusPartial
	}
	notes := fmt.Sprintf("window=%s->%s skipped=%d", startStr, endStr, skipped)
	return deps.Ledger.FinalizeIngestRun(ctx, runID, status, counts, notes)
}

// finalizeFailed records a terminal failed status; the finalize error itself
// is only logged so the original failure propagates.
func finalizeFailed(ctx context.Context, ledger Ledger, runID int64, counts incidents.Counts, cause error) {
	if err := ledger.FinalizeIngestRun(ctx, runID, incidents.RunStatusFailed, counts, cause.Error()); err != nil {
		normalize.LogError("ledger", "finalize failed run", err)
	}
}

// ParseMonth accepts YYYY-MM or YYYY-MM-DD and returns the containing month's
// start in UTC.
func ParseMonth(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month format: %s", value)
}

// CurrentMonthStart returns the start of the current month in UTC.
func CurrentMonthStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func addMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
