package storage

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) || len(v1) != 2 {
		t.Errorf("migrations: first=%v second=%v, want 2 both times", v1, v2)
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_run_after", "idx_jobs_type_key", "idx_corruptions_last_seen"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("002_corruptions.sql"); err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

// --- corruption ledger ---

func TestRecordCorruption_Upserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	if err := s.RecordCorruption(ctx, "Shipment", "42", "first body"); err != nil {
		t.Fatalf("RecordCorruption: %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := s.RecordCorruption(ctx, "Shipment", "42", "second body"); err != nil {
		t.Fatalf("RecordCorruption: %v", err)
	}

	c, err := s.GetCorruption(ctx, "Shipment", "42")
	if err != nil {
		t.Fatalf("GetCorruption: %v", err)
	}
	if c.Occurrences != 2 {
		t.Errorf("Occurrences = %d, want 2", c.Occurrences)
	}
	if c.LastBody != "second body" {
		t.Errorf("LastBody = %q", c.LastBody)
	}
	if !c.FirstSeen.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) || !c.LastSeen.Equal(clock) {
		t.Errorf("FirstSeen=%v LastSeen=%v", c.FirstSeen, c.LastSeen)
	}
	if c.Resolved() {
		t.Error("new entry should be open")
	}
}

func TestResolveCorruption(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.ResolveCorruption(ctx, "Shipment", "1"); err != ErrNotFound {
		t.Errorf("resolve missing = %v, want ErrNotFound", err)
	}
	if err := s.RecordCorruption(ctx, "Shipment", "1", "x"); err != nil {
		t.Fatalf("RecordCorruption: %v", err)
	}
	if err := s.ResolveCorruption(ctx, "Shipment", "1"); err != nil {
		t.Fatalf("ResolveCorruption: %v", err)
	}
	if err := s.ResolveCorruption(ctx, "Shipment", "1"); err != ErrNotFound {
		t.Errorf("second resolve = %v, want ErrNotFound", err)
	}

	c, err := s.GetCorruption(ctx, "Shipment", "1")
	if err != nil {
		t.Fatalf("GetCorruption: %v", err)
	}
	if !c.Resolved() {
		t.Error("entry should be resolved")
	}

	// Seen again: reopened.
	if err := s.RecordCorruption(ctx, "Shipment", "1", "y"); err != nil {
		t.Fatalf("RecordCorruption: %v", err)
	}
	c, _ = s.GetCorruption(ctx, "Shipment", "1")
	if c.Resolved() || c.Occurrences != 2 {
		t.Errorf("reopened entry = %+v", c)
	}
}

func TestListCorruptions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	for _, id := range []string{"1", "2", "3"} {
		clock = clock.Add(time.Minute)
		if err := s.RecordCorruption(ctx, "Shipment", id, ""); err != nil {
			t.Fatalf("RecordCorruption: %v", err)
		}
	}
	if err := s.ResolveCorruption(ctx, "Shipment", "2"); err != nil {
		t.Fatalf("ResolveCorruption: %v", err)
	}

	open, err := s.ListCorruptions(ctx, false, 0)
	if err != nil {
		t.Fatalf("ListCorruptions: %v", err)
	}
	if len(open) != 2 || open[0].RecordID != "3" || open[1].RecordID != "1" {
		t.Errorf("open = %+v", open)
	}

	all, err := s.ListCorruptions(ctx, true, 2)
	if err != nil {
		t.Fatalf("ListCorruptions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("limit not applied: %d", len(all))
	}

	n, err := s.CountOpenCorruptions(ctx)
	if err != nil || n != 2 {
		t.Errorf("CountOpenCorruptions = %d, %v", n, err)
	}
}

func TestGetCorruption_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetCorruption(context.Background(), "Shipment", "nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordCorruption_TruncatesBody(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	big := make([]byte, maxStoredBody*2)
	for i := range big {
		big[i] = 'x'
	}
	if err := s.RecordCorruption(ctx, "Shipment", "1", string(big)); err != nil {
		t.Fatalf("RecordCorruption: %v", err)
	}
	c, _ := s.GetCorruption(ctx, "Shipment", "1")
	if len(c.LastBody) != maxStoredBody {
		t.Errorf("LastBody len = %d, want %d", len(c.LastBody), maxStoredBody)
	}
}

// --- jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.EnqueueJob(ctx, Job{ID: "j-claim-1", Type: "corruption_recheck", PayloadJSON: `{"id":"1"}`})
	if err != nil || !ok {
		t.Fatalf("EnqueueJob = %v, %v", ok, err)
	}

	got, err := s.ClaimNextJob(ctx, []string{"corruption_recheck"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "j-claim-1" || got.PayloadJSON != `{"id":"1"}` {
		t.Errorf("job = %+v", got)
	}
	if got.Status != JobRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
}

func TestEnqueueJob_Dedupe(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.EnqueueJob(ctx, Job{ID: "a", Type: "x", DedupeKey: "Shipment/1"})
	if err != nil || !first {
		t.Fatalf("first EnqueueJob = %v, %v", first, err)
	}
	second, err := s.EnqueueJob(ctx, Job{ID: "b", Type: "x", DedupeKey: "Shipment/1"})
	if err != nil {
		t.Fatalf("second EnqueueJob: %v", err)
	}
	if second {
		t.Error("duplicate pending job should not be enqueued")
	}
	other, err := s.EnqueueJob(ctx, Job{ID: "c", Type: "x", DedupeKey: "Shipment/2"})
	if err != nil || !other {
		t.Errorf("other key EnqueueJob = %v, %v", other, err)
	}

	// Once completed, the key is free again.
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "a"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	again, err := s.EnqueueJob(ctx, Job{ID: "d", Type: "x", DedupeKey: "Shipment/1"})
	if err != nil || !again {
		t.Errorf("EnqueueJob after completion = %v, %v", again, err)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.ClaimNextJob(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnqueueJob(ctx, Job{ID: "j-future", Type: "x", RunAfter: time.Now().UTC().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	got, err := s.ClaimNextJob(ctx, []string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for future run_after, got %+v", got)
	}
}

func TestClaimNextJob_TypeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.EnqueueJob(ctx, Job{ID: "j-a", Type: "a"})
	s.EnqueueJob(ctx, Job{ID: "j-b", Type: "b"})

	got, err := s.ClaimNextJob(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.Type != "b" {
		t.Errorf("got %+v, want type b", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.EnqueueJob(ctx, Job{ID: "j-complete", Type: "x"})
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if err := s.CompleteJob(ctx, "missing"); err != ErrNotFound {
		t.Errorf("CompleteJob(missing) = %v, want ErrNotFound", err)
	}

	counts, err := s.CountJobs(ctx)
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[JobCompleted] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestFailJob_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.EnqueueJob(ctx, Job{ID: "j", Type: "x", MaxAttempts: 2})
	if _, err := s.ClaimNextJob(ctx, []string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.FailJob(ctx, "j", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	var status, runAfter, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, run_after, last_error FROM jobs WHERE id = 'j'`).Scan(&status, &attempts, &runAfter, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != JobPending || attempts != 1 || lastError != "boom" {
		t.Errorf("after first failure: status=%s attempts=%d last_error=%q", status, attempts, lastError)
	}
	if want := clock.Add(2 * time.Second).Format(time.RFC3339); runAfter != want {
		t.Errorf("run_after = %s, want %s", runAfter, want)
	}

	// Not runnable until the backoff elapses.
	if got, _ := s.ClaimNextJob(ctx, []string{"x"}); got != nil {
		t.Fatalf("claimed during backoff: %+v", got)
	}
	clock = clock.Add(2 * time.Second)
	if got, _ := s.ClaimNextJob(ctx, []string{"x"}); got == nil {
		t.Fatal("job should be runnable after backoff")
	}
	if err := s.FailJob(ctx, "j", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.db.QueryRow(`SELECT status FROM jobs WHERE id = 'j'`).Scan(&status); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != JobFailed {
		t.Errorf("status = %s, want failed", status)
	}
	if err := s.FailJob(ctx, "missing", "x"); err != ErrNotFound {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}
