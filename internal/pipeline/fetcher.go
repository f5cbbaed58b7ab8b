package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/metrics"
	"github.com/alitho/shipview/internal/shipment"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// Outcome is the per-record result of a detail read.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeFiltered   Outcome = "filtered"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeParseError Outcome = "parse_error"
	OutcomeCorrupted  Outcome = "corrupted"
)

// FetchResult is one detail read. Record is set only for OutcomeOK.
type FetchResult struct {
	ID      string
	Record  *shipment.Record
	Outcome Outcome
	Err     error
}

// Fetcher reads shipment details in bounded parallel batches and normalizes
// each body as it arrives.
type Fetcher struct {
	up        Upstream
	batchSize int
	loc       *time.Location
	metrics   *metrics.Registry
}

// NewFetcher clamps batchSize to [1, MaxBatchSize]; zero selects the default.
func NewFetcher(up Upstream, batchSize int, loc *time.Location, m *metrics.Registry) *Fetcher {
	switch {
	case batchSize == 0:
		batchSize = DefaultBatchSize
	case batchSize < 1:
		batchSize = 1
	case batchSize > MaxBatchSize:
		batchSize = MaxBatchSize
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Fetcher{up: up, batchSize: batchSize, loc: loc, metrics: m}
}

// FetchAll reads every id. Batches run one after another; reads inside a
// batch run concurrently. Results keep the order of the deduplicated ids.
func (f *Fetcher) FetchAll(ctx context.Context, ids []string, w DateWindow) []FetchResult {
	ids = dedupe(ids)
	results := make([]FetchResult, len(ids))
	for start := 0; start < len(ids); start += f.batchSize {
		end := min(start+f.batchSize, len(ids))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = f.fetchOne(ctx, ids[i], w)
				return nil
			})
		}
		_ = g.Wait()
		slog.Debug("pipeline: fetch batch done", "from", start, "to", end, "total", len(ids))
	}
	return results
}

// RetryCorrupted re-reads every corrupted result exactly once, all in
// parallel, replacing each entry in place. It returns the ids that
// recovered and those still corrupted. A retry that fails for any other
// reason still counts as corrupted.
func (f *Fetcher) RetryCorrupted(ctx context.Context, results []FetchResult, w DateWindow) (recovered, still []string) {
	var idx []int
	for i, r := range results {
		if r.Outcome == OutcomeCorrupted {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, nil
	}

	var g errgroup.Group
	for _, i := range idx {
		g.Go(func() error {
			results[i] = f.retryOne(ctx, results[i], w)
			return nil
		})
	}
	_ = g.Wait()

	for _, i := range idx {
		if results[i].Outcome == OutcomeCorrupted {
			still = append(still, results[i].ID)
		} else {
			recovered = append(recovered, results[i].ID)
		}
	}
	f.metrics.Retry(len(recovered), len(still))
	slog.Info("pipeline: corruption retry", "attempted", len(idx), "recovered", len(recovered), "still_corrupted", len(still))
	return recovered, still
}

// retryOne re-reads a corrupted result once. Only ok and filtered outcomes
// count as recovered; any other failure keeps the first corrupted body.
func (f *Fetcher) retryOne(ctx context.Context, first FetchResult, w DateWindow) FetchResult {
	res := f.fetchOne(ctx, first.ID, w)
	switch res.Outcome {
	case OutcomeOK, OutcomeFiltered, OutcomeCorrupted:
		return res
	}
	e := &shipment.Error{Kind: shipment.KindRecordCorrupted, Message: "malformed description, retry failed", Err: res.Err}
	var prev *shipment.Error
	if errors.As(first.Err, &prev) {
		e.Status, e.Body = prev.Status, prev.Body
	}
	return FetchResult{ID: first.ID, Outcome: OutcomeCorrupted, Err: e}
}

// CorruptedBodies maps the id of every corrupted result to the upstream body
// that tripped the signature.
func CorruptedBodies(results []FetchResult) map[string]string {
	out := map[string]string{}
	for _, r := range results {
		if r.Outcome != OutcomeCorrupted {
			continue
		}
		var e *shipment.Error
		if errors.As(r.Err, &e) {
			out[r.ID] = e.Body
		} else {
			out[r.ID] = ""
		}
	}
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, id string, w DateWindow) FetchResult {
	res := f.read(ctx, id, w)
	f.metrics.Fetch(string(res.Outcome))
	return res
}

func (f *Fetcher) read(ctx context.Context, id string, w DateWindow) FetchResult {
	body, err := f.up.Read(ctx, erp.TypeShipment, id)
	if err != nil {
		return readFailure(id, err)
	}
	rec, err := normalizeShipment(id, body, f.loc)
	if err != nil {
		if IsCorruption(string(body)) {
			return FetchResult{ID: id, Outcome: OutcomeCorrupted, Err: &shipment.Error{
				Kind: shipment.KindRecordCorrupted, Message: "malformed description", Body: string(body), Err: err,
			}}
		}
		return FetchResult{ID: id, Outcome: OutcomeParseError, Err: &shipment.Error{
			Kind: shipment.KindJSONParseError, Message: err.Error(), Body: string(body), Err: err,
		}}
	}
	if !w.Admits(rec.DateTime) {
		return FetchResult{ID: id, Outcome: OutcomeFiltered}
	}
	return FetchResult{ID: id, Record: &rec, Outcome: OutcomeOK}
}

func readFailure(id string, err error) FetchResult {
	var se *erp.StatusError
	if errors.As(err, &se) {
		if IsCorruption(se.Body) {
			return FetchResult{ID: id, Outcome: OutcomeCorrupted, Err: &shipment.Error{
				Kind: shipment.KindRecordCorrupted, Message: "malformed description", Status: se.Status, Body: se.Body, Err: err,
			}}
		}
		return FetchResult{ID: id, Outcome: OutcomeFetchError, Err: &shipment.Error{
			Kind: shipment.KindRecordFetchError, Message: "read " + id, Status: se.Status, Body: se.Body, Err: err,
		}}
	}
	return FetchResult{ID: id, Outcome: OutcomeFetchError, Err: &shipment.Error{
		Kind: shipment.KindRecordFetchError, Message: "read " + id + ": " + err.Error(), Err: err,
	}}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
