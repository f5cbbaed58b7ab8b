package recheck

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alitho/shipview/internal/erp"
	"github.com/alitho/shipview/internal/storage"
)

type mockReader struct {
	mu     sync.Mutex
	calls  int
	readFn func(ctx context.Context, objType, id string) ([]byte, error)
}

func (m *mockReader) Read(ctx context.Context, objType, id string) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.readFn(ctx, objType, id)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const corruptBody = `{"error":"ClassCastException: description cannot be cast to java.lang.String"}`

func TestLedger_CorruptedRecordsAndQueuesOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	l := NewLedger(store, 0)

	l.Corrupted(ctx, erp.TypeShipment, map[string]string{"1": corruptBody, "2": corruptBody})
	l.Corrupted(ctx, erp.TypeShipment, map[string]string{"1": corruptBody})

	c, err := store.GetCorruption(ctx, erp.TypeShipment, "1")
	if err != nil {
		t.Fatalf("GetCorruption: %v", err)
	}
	if c.Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", c.Occurrences)
	}
	if c.LastBody != corruptBody {
		t.Errorf("LastBody = %q, want the upstream body", c.LastBody)
	}
	counts, err := store.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[storage.JobPending] != 2 {
		t.Errorf("pending jobs = %d, want 2 (one per record)", counts[storage.JobPending])
	}
}

func TestLedger_Recovered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	l := NewLedger(store, 0)

	l.Corrupted(ctx, erp.TypeShipment, map[string]string{"1": corruptBody})
	l.Recovered(ctx, erp.TypeShipment, []string{"1", "never-seen"})

	c, err := store.GetCorruption(ctx, erp.TypeShipment, "1")
	if err != nil {
		t.Fatalf("GetCorruption: %v", err)
	}
	if !c.Resolved() {
		t.Error("entry should be resolved")
	}
}

func TestLedger_DelayedJobNotClaimable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	NewLedger(store, time.Hour).Corrupted(ctx, erp.TypeShipment, map[string]string{"1": corruptBody})

	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) { return []byte(`{}`), nil }}
	done, err := NewWorker(store, reader, time.Millisecond).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done || reader.calls != 0 {
		t.Errorf("done=%v calls=%d, delayed job should not run", done, reader.calls)
	}
}

func TestWorker_RecoveredResolvesAndCompletes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	NewLedger(store, 0).Corrupted(ctx, erp.TypeShipment, map[string]string{"42": corruptBody})

	reader := &mockReader{readFn: func(_ context.Context, objType, id string) ([]byte, error) {
		if objType != erp.TypeShipment || id != "42" {
			t.Errorf("read %s %s", objType, id)
		}
		return []byte(`{"id":42,"description":"ok"}`), nil
	}}
	w := NewWorker(store, reader, time.Millisecond)

	done, err := w.RunOnce(ctx)
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}

	c, _ := store.GetCorruption(ctx, erp.TypeShipment, "42")
	if !c.Resolved() {
		t.Error("corruption should be resolved")
	}
	counts, _ := store.CountJobs(ctx)
	if counts[storage.JobCompleted] != 1 {
		t.Errorf("job counts = %v, want 1 completed", counts)
	}
}

func TestWorker_StillCorruptedReschedules(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	NewLedger(store, 0).Corrupted(ctx, erp.TypeShipment, map[string]string{"7": corruptBody})

	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) {
		return nil, &erp.StatusError{Op: "read Shipment", Status: 500, Body: corruptBody}
	}}
	w := NewWorker(store, reader, time.Millisecond)

	done, err := w.RunOnce(ctx)
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}

	c, _ := store.GetCorruption(ctx, erp.TypeShipment, "7")
	if c.Resolved() || c.Occurrences != 2 || c.LastBody != corruptBody {
		t.Errorf("corruption = %+v", c)
	}
	counts, _ := store.CountJobs(ctx)
	if counts[storage.JobPending] != 1 {
		t.Errorf("job counts = %v, want rescheduled as pending", counts)
	}

	// Backoff keeps it out of reach for now.
	if done, _ := w.RunOnce(ctx); done {
		t.Error("job should be backing off")
	}
}

func TestWorker_DeletedUpstreamResolves(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	NewLedger(store, 0).Corrupted(ctx, erp.TypeShipment, map[string]string{"9": corruptBody})

	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) {
		return nil, &erp.StatusError{Op: "read Shipment", Status: 404}
	}}

	if done, err := NewWorker(store, reader, time.Millisecond).RunOnce(ctx); err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}
	c, _ := store.GetCorruption(ctx, erp.TypeShipment, "9")
	if !c.Resolved() {
		t.Error("deleted record should be resolved")
	}
}

func TestWorker_BadPayloadFailsJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.EnqueueJob(ctx, storage.Job{ID: "bad", Type: JobType, PayloadJSON: `{"object_type":""}`, MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) { return nil, nil }}

	if done, err := NewWorker(store, reader, time.Millisecond).RunOnce(ctx); err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}
	counts, _ := store.CountJobs(ctx)
	if counts[storage.JobFailed] != 1 || reader.calls != 0 {
		t.Errorf("counts=%v reads=%d", counts, reader.calls)
	}
}

func TestWorker_SkipsEntryAlreadyResolved(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	l := NewLedger(store, 0)
	l.Corrupted(ctx, erp.TypeShipment, map[string]string{"5": corruptBody})
	l.Recovered(ctx, erp.TypeShipment, []string{"5"})

	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) {
		return nil, &erp.StatusError{Op: "read Shipment", Status: 500, Body: corruptBody}
	}}
	if done, err := NewWorker(store, reader, time.Millisecond).RunOnce(ctx); err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}
	if reader.calls != 0 {
		t.Errorf("reads = %d, want 0 for a resolved entry", reader.calls)
	}
	counts, _ := store.CountJobs(ctx)
	if counts[storage.JobCompleted] != 1 {
		t.Errorf("job counts = %v, want 1 completed", counts)
	}
	c, _ := store.GetCorruption(ctx, erp.TypeShipment, "5")
	if !c.Resolved() {
		t.Error("entry should stay resolved")
	}
}

func TestWorker_RunOnceEmptyQueue(t *testing.T) {
	store := openTestStore(t)
	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) { return nil, nil }}
	done, err := NewWorker(store, reader, time.Millisecond).RunOnce(context.Background())
	if err != nil || done {
		t.Errorf("RunOnce = %v, %v; want false, nil", done, err)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	reader := &mockReader{readFn: func(context.Context, string, string) ([]byte, error) { return nil, nil }}
	w := NewWorker(store, reader, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
