// Package pipeline implements the shipment read path: identifier discovery,
// batched detail reads, corruption retry, date filtering, reference
// enrichment, ordering and pagination.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alitho/shipview/internal/cache"
	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/metrics"
	"github.com/alitho/shipview/internal/query"
	"github.com/alitho/shipview/internal/shipment"
)

const (
	DefaultFindLimit = 5000
	DefaultSession   = "default"
)

// CorruptionReporter is told about records that stayed corrupted after the
// retry pass, keyed by id with the offending upstream body, and about
// records that recovered. Optional.
type CorruptionReporter interface {
	Corrupted(ctx context.Context, objType string, bodies map[string]string)
	Recovered(ctx context.Context, objType string, ids []string)
}

// Options tunes a Service. Zero values select defaults.
type Options struct {
	FindLimit        int
	BatchSize        int
	Location         *time.Location
	ShippedPrefilter bool
}

// Service answers shipment searches. It is safe for concurrent use.
type Service struct {
	up       Upstream
	finder   *Finder
	fetcher  *Fetcher
	resolver *Resolver
	cache    *cache.Cache[Page]
	reporter CorruptionReporter
	metrics  *metrics.Registry
	opts     Options
}

// NewService wires a Service. results and reporter may be nil.
func NewService(up Upstream, results *cache.Cache[Page], reporter CorruptionReporter, m *metrics.Registry, opts Options) *Service {
	if opts.FindLimit <= 0 {
		opts.FindLimit = DefaultFindLimit
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		up:       up,
		finder:   NewFinder(up, opts.FindLimit, m),
		fetcher:  NewFetcher(up, opts.BatchSize, opts.Location, m),
		resolver: NewResolver(up, m),
		cache:    results,
		reporter: reporter,
		metrics:  m,
		opts:     opts,
	}
}

// Search returns one page of shipments matching f. Identical searches from
// the same session are served from cache until the entry expires.
func (s *Service) Search(ctx context.Context, session string, f shipment.Filter) (Page, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSearch(time.Since(start).Seconds()) }()

	f = f.WithDefaults()
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	if session == "" {
		session = DefaultSession
	}

	fp := Fingerprint(f)
	if s.cache != nil {
		if e, ok := s.cache.Get(session, fp); ok {
			s.metrics.Cache(true)
			p := e.Value
			p.Cached = true
			slog.Debug("pipeline: search served from cache", "session", session, "fingerprint", fp[:12])
			return p, nil
		}
		s.metrics.Cache(false)
	}

	recs, diag, err := s.Collect(ctx, f)
	if err != nil {
		return Page{}, err
	}
	page := BuildPage(Paginate(recs, f.Page, f.PageSize), f.Page, f.PageSize, diag)
	if s.cache != nil {
		s.cache.Put(session, fp, page)
	}

	slog.Info("pipeline: search complete",
		"session", session,
		"candidates", diag.Candidates,
		"matched", len(recs),
		"returned", len(page.Items),
		"still_corrupted", len(diag.StillCorrupted),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return page, nil
}

// Collect runs the full read path for f and returns every matching record,
// enriched and sorted newest first, before pagination.
func (s *Service) Collect(ctx context.Context, f shipment.Filter) ([]shipment.Record, Diagnostics, error) {
	tr := query.Translate(f, query.Options{ShippedPrefilter: s.opts.ShippedPrefilter})
	var window DateWindow
	if tr.DeferDates {
		w, err := NewDateWindow(f.StartDate, f.EndDate, s.opts.Location)
		if err != nil {
			return nil, Diagnostics{}, err
		}
		window = w
	}

	ids, err := s.finder.Find(ctx, erp.TypeShipment, tr.Query, 0, 0)
	if err != nil {
		return nil, Diagnostics{}, err
	}

	diag := Diagnostics{
		Candidates:  len(ids),
		Prefiltered: tr.Prefiltered,
		Truncated:   len(ids) >= s.finder.Limit(),
	}

	results := s.fetcher.FetchAll(ctx, ids, window)
	diag.Recovered, diag.StillCorrupted = s.fetcher.RetryCorrupted(ctx, results, window)
	if err := ctx.Err(); err != nil {
		return nil, Diagnostics{}, err
	}
	s.report(ctx, diag.Recovered, CorruptedBodies(results))
	for _, id := range diag.StillCorrupted {
		slog.Error("pipeline: record still corrupted after retry", "type", erp.TypeShipment, "id", id, "data_quality", true)
	}

	recs := make([]shipment.Record, 0, len(results))
	for _, r := range results {
		switch r.Outcome {
		case OutcomeOK:
			recs = append(recs, *r.Record)
		case OutcomeFiltered:
			diag.DateFiltered++
		case OutcomeFetchError:
			diag.FetchErrors = append(diag.FetchErrors, r.ID)
			slog.Warn("pipeline: shipment read failed", "id", r.ID, "error", r.Err)
		case OutcomeParseError:
			diag.ParseErrors = append(diag.ParseErrors, r.ID)
			slog.Warn("pipeline: shipment body unparseable", "id", r.ID, "error", r.Err)
		}
	}
	s.metrics.Filtered(diag.DateFiltered)
	diag.Loaded = len(recs)

	// The ERP does not always honour the job clause.
	if f.Job != "" {
		before := len(recs)
		recs = FilterJob(recs, f.Job)
		if diag.JobFiltered = before - len(recs); diag.JobFiltered > 0 {
			slog.Warn("pipeline: upstream returned records for other jobs", "job", f.Job, "dropped", diag.JobFiltered)
		}
	}

	diag.EnrichmentMisses = s.resolver.Enrich(ctx, recs)

	if tr.DeferCustomer {
		before := len(recs)
		recs = FilterCustomer(recs, f.Customer)
		diag.CustomerFiltered = before - len(recs)
	}
	SortByDate(recs)
	return recs, diag, nil
}

// GetOne reads and enriches a single shipment. A corrupted read is retried
// once.
func (s *Service) GetOne(ctx context.Context, id string) (shipment.Record, []Miss, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return shipment.Record{}, nil, shipment.Errorf(shipment.KindValidationError, "shipment id is required")
	}

	res := s.fetcher.fetchOne(ctx, id, DateWindow{})
	if res.Outcome == OutcomeCorrupted {
		res = s.fetcher.retryOne(ctx, res, DateWindow{})
		if res.Outcome == OutcomeCorrupted {
			s.report(ctx, nil, CorruptedBodies([]FetchResult{res}))
		} else {
			s.report(ctx, []string{id}, nil)
		}
	}
	if res.Outcome != OutcomeOK {
		return shipment.Record{}, nil, detailError(id, res.Err)
	}

	recs := []shipment.Record{*res.Record}
	misses := s.resolver.Enrich(ctx, recs)
	return recs[0], misses, nil
}

// Invalidate drops the cached pages of one session. An empty session drops
// everything.
func (s *Service) Invalidate(session string) int {
	if s.cache == nil {
		return 0
	}
	if session == "" {
		n := s.cache.Len()
		s.cache.Purge()
		return n
	}
	return s.cache.Invalidate(session)
}

func (s *Service) report(ctx context.Context, recovered []string, still map[string]string) {
	if s.reporter == nil {
		return
	}
	if len(recovered) > 0 {
		s.reporter.Recovered(ctx, erp.TypeShipment, recovered)
	}
	if len(still) > 0 {
		s.reporter.Corrupted(ctx, erp.TypeShipment, still)
	}
}

// detailError maps a failed single read to the error kinds callers see.
func detailError(id string, err error) error {
	switch {
	case err == nil:
		return shipment.Errorf(shipment.KindRecordFetchError, "shipment %s could not be read", id)
	case errors.Is(err, erp.ErrCredentialsMissing):
		return queryError("shipment read", err)
	case erp.IsNotFound(err):
		return &shipment.Error{Kind: shipment.KindNotFound, Message: "shipment " + id + " not found", Status: 404, Err: err}
	}
	return err
}
