package pipeline

import (
	"context"
	"log/slog"

	"github.com/alitho/shipview/internal/metrics"
)

// SortNewestFirst is the identifier ordering requested from the ERP. Id
// order is the only sort the ERP handles reliably and tracks recency.
var SortNewestFirst = []string{"id desc"}

// Finder discovers identifiers. Failures are fatal for the calling request.
type Finder struct {
	up      Upstream
	limit   int
	metrics *metrics.Registry
}

// NewFinder creates a Finder. limit <= 0 selects DefaultFindLimit.
func NewFinder(up Upstream, limit int, m *metrics.Registry) *Finder {
	if limit <= 0 {
		limit = DefaultFindLimit
	}
	return &Finder{up: up, limit: limit, metrics: m}
}

// Find returns ids of objType matching query, newest first. offset and
// limit page through the id list; limit <= 0 uses the configured limit.
func (f *Finder) Find(ctx context.Context, objType, query string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		limit = f.limit
	}
	ids, err := f.up.Find(ctx, objType, query, offset, limit, SortNewestFirst)
	if err != nil {
		f.metrics.QueryFailed()
		return nil, queryError(objType+" search", err)
	}
	slog.Debug("pipeline: ids found", "type", objType, "query", query, "count", len(ids))
	return ids, nil
}

// Limit is the effective default limit.
func (f *Finder) Limit() int { return f.limit }
