package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the pipeline's Prometheus collectors. A nil *Registry is
// valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	RecordFetches     *prometheus.CounterVec
	RetryRecovered    prometheus.Counter
	RetryStillBroken  prometheus.Counter
	DateFiltered      prometheus.Counter
	EnrichmentMisses  *prometheus.CounterVec
	EnrichmentLookups *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	QueryFailures     prometheus.Counter
	SearchSeconds     prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shipview_record_fetches_total"}, []string{"outcome"})
	recovered := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipview_retry_recovered_total"})
	still := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipview_retry_still_corrupted_total"})
	dateFiltered := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipview_date_filtered_total"})
	misses := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shipview_enrichment_misses_total"}, []string{"object_type"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shipview_enrichment_lookups_total"}, []string{"object_type"})
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipview_cache_hits_total"})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipview_cache_misses_total"})
	queryFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipview_upstream_query_failures_total"})
	searchSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipview_search_seconds",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(fetches, recovered, still, dateFiltered, misses, lookups, hits, cacheMisses, queryFailures, searchSeconds)
	return &Registry{
		reg:               r,
		RecordFetches:     fetches,
		RetryRecovered:    recovered,
		RetryStillBroken:  still,
		DateFiltered:      dateFiltered,
		EnrichmentMisses:  misses,
		EnrichmentLookups: lookups,
		CacheHits:         hits,
		CacheMisses:       cacheMisses,
		QueryFailures:     queryFailures,
		SearchSeconds:     searchSeconds,
	}
}

// LedgerStats reports the size of the corruption ledger and job queue.
type LedgerStats interface {
	CountOpenCorruptions(ctx context.Context) (int, error)
	CountJobs(ctx context.Context) (map[string]int, error)
}

// WatchLedger exposes open corruptions and queued jobs per status as gauges
// read on every scrape.
func (r *Registry) WatchLedger(stats LedgerStats, jobStatuses ...string) {
	if r == nil || stats == nil {
		return
	}
	r.reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "shipview_open_corruptions"},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := stats.CountOpenCorruptions(ctx)
			if err != nil {
				slog.Warn("metrics: counting open corruptions", "error", err)
				return 0
			}
			return float64(n)
		},
	))
	for _, status := range jobStatuses {
		r.reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "shipview_recheck_jobs", ConstLabels: prometheus.Labels{"status": status}},
			func() float64 {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				counts, err := stats.CountJobs(ctx)
				if err != nil {
					slog.Warn("metrics: counting jobs", "error", err)
					return 0
				}
				return float64(counts[status])
			},
		))
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) Fetch(outcome string) {
	if r != nil {
		r.RecordFetches.WithLabelValues(outcome).Inc()
	}
}

func (r *Registry) Retry(recovered, still int) {
	if r != nil {
		r.RetryRecovered.Add(float64(recovered))
		r.RetryStillBroken.Add(float64(still))
	}
}

func (r *Registry) Filtered(n int) {
	if r != nil {
		r.DateFiltered.Add(float64(n))
	}
}

func (r *Registry) Lookup(objType string, ok bool) {
	if r == nil {
		return
	}
	r.EnrichmentLookups.WithLabelValues(objType).Inc()
	if !ok {
		r.EnrichmentMisses.WithLabelValues(objType).Inc()
	}
}

func (r *Registry) Cache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.CacheHits.Inc()
	} else {
		r.CacheMisses.Inc()
	}
}

func (r *Registry) QueryFailed() {
	if r != nil {
		r.QueryFailures.Inc()
	}
}

func (r *Registry) ObserveSearch(seconds float64) {
	if r != nil {
		r.SearchSeconds.Observe(seconds)
	}
}
