// Package recheck keeps the corruption ledger current. Records that stay
// corrupted after the in-request retry are recorded and re-read in the
// background until they recover or the job gives up.
package recheck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alitho/shipview/internal/storage"
)

// JobType is the job queue type for background re-reads.
const JobType = "corruption_recheck"

const maxAttempts = 5

// Store is the slice of storage.Store used by the ledger and worker.
type Store interface {
	RecordCorruption(ctx context.Context, objType, id, body string) error
	ResolveCorruption(ctx context.Context, objType, id string) error
	GetCorruption(ctx context.Context, objType, id string) (storage.Corruption, error)
	EnqueueJob(ctx context.Context, job storage.Job) (bool, error)
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

type payload struct {
	ObjectType string `json:"object_type"`
	RecordID   string `json:"record_id"`
}

// Ledger receives corruption reports from the read pipeline.
type Ledger struct {
	store  Store
	delay  time.Duration
	logger *slog.Logger
}

// NewLedger creates a Ledger. Recheck jobs become runnable after delay.
func NewLedger(store Store, delay time.Duration) *Ledger {
	return &Ledger{store: store, delay: delay, logger: slog.Default()}
}

// Corrupted records each id with the upstream body that tripped the
// signature and schedules one recheck job per record. Failures are logged;
// reporting never fails a search.
func (l *Ledger) Corrupted(ctx context.Context, objType string, bodies map[string]string) {
	ids := make([]string, 0, len(bodies))
	for id := range bodies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := l.store.RecordCorruption(ctx, objType, id, bodies[id]); err != nil {
			l.logger.Error("recording corruption", "type", objType, "id", id, "error", err)
			continue
		}
		body, _ := json.Marshal(payload{ObjectType: objType, RecordID: id})
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        JobType,
			DedupeKey:   objType + "/" + id,
			PayloadJSON: string(body),
			MaxAttempts: maxAttempts,
		}
		if l.delay > 0 {
			job.RunAfter = time.Now().UTC().Add(l.delay)
		}
		queued, err := l.store.EnqueueJob(ctx, job)
		if err != nil {
			l.logger.Error("scheduling recheck", "type", objType, "id", id, "error", err)
			continue
		}
		l.logger.Debug("corruption recorded", "type", objType, "id", id, "recheck_queued", queued)
	}
}

// Recovered closes any open ledger entries for ids.
func (l *Ledger) Recovered(ctx context.Context, objType string, ids []string) {
	for _, id := range ids {
		err := l.store.ResolveCorruption(ctx, objType, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			l.logger.Error("resolving corruption", "type", objType, "id", id, "error", err)
		}
	}
}
