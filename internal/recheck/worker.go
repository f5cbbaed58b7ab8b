package recheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/pipeline"
	"github.com/alitho/shipview/internal/storage"
)

// Reader reads one raw ERP object.
type Reader interface {
	Read(ctx context.Context, objType, id string) ([]byte, error)
}

var errStillCorrupted = errors.New("record still corrupted")

// Worker processes corruption_recheck jobs from the SQLite job queue.
type Worker struct {
	store  Store
	reader Reader
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 1m.
func NewWorker(store Store, reader Reader, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &Worker{
		store:  store,
		reader: reader,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("recheck iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single recheck job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("recheck failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.ObjectType == "" || p.RecordID == "" {
		return fmt.Errorf("payload missing object type or record id")
	}

	c, err := w.store.GetCorruption(ctx, p.ObjectType, p.RecordID)
	switch {
	case errors.Is(err, storage.ErrNotFound) || (err == nil && c.Resolved()):
		w.logger.Debug("recheck skipped, entry already closed", "type", p.ObjectType, "id", p.RecordID)
		return nil
	case err != nil:
		return fmt.Errorf("loading ledger entry: %w", err)
	}

	body, err := w.reader.Read(ctx, p.ObjectType, p.RecordID)
	if err != nil {
		var se *erp.StatusError
		switch {
		case erp.IsNotFound(err):
			// Deleted upstream; nothing left to recheck.
			w.logger.Info("corrupted record no longer exists", "type", p.ObjectType, "id", p.RecordID)
			return w.resolve(ctx, p)
		case errors.As(err, &se) && pipeline.IsCorruption(se.Body):
			return w.stillCorrupted(ctx, p, se.Body)
		}
		return fmt.Errorf("reading %s %s: %w", p.ObjectType, p.RecordID, err)
	}
	if !json.Valid(body) {
		if pipeline.IsCorruption(string(body)) {
			return w.stillCorrupted(ctx, p, string(body))
		}
		return fmt.Errorf("reading %s %s: invalid JSON body", p.ObjectType, p.RecordID)
	}

	w.logger.Info("corrupted record recovered", "type", p.ObjectType, "id", p.RecordID)
	return w.resolve(ctx, p)
}

func (w *Worker) resolve(ctx context.Context, p payload) error {
	err := w.store.ResolveCorruption(ctx, p.ObjectType, p.RecordID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("resolving %s %s: %w", p.ObjectType, p.RecordID, err)
	}
	return nil
}

func (w *Worker) stillCorrupted(ctx context.Context, p payload, body string) error {
	if err := w.store.RecordCorruption(ctx, p.ObjectType, p.RecordID, body); err != nil {
		return fmt.Errorf("recording corruption: %w", err)
	}
	return errStillCorrupted
}
