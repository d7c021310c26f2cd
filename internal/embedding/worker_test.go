package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/jobmatch/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCandidate(t *testing.T, s *storage.Store, c storage.Candidate) {
	t.Helper()
	if err := s.SaveCandidate(context.Background(), c); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
}

func seedJob(t *testing.T, s *storage.Store, j storage.Job) {
	t.Helper()
	ctx := context.Background()
	if err := s.SaveCompany(ctx, storage.Company{ID: "co1", OwnerID: "owner", Name: "Acme"}); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}
	j.CompanyID = "co1"
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
}

func enqueue(t *testing.T, s *storage.Store, taskType, id string) storage.Task {
	t.Helper()
	task := NewTask(taskType, id)
	if err := s.EnqueueTask(context.Background(), task); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	return task
}

func taskStatus(t *testing.T, s *storage.Store, status string) int {
	t.Helper()
	counts, err := s.TaskCounts(context.Background())
	if err != nil {
		t.Fatalf("TaskCounts: %v", err)
	}
	return counts[status]
}

func TestWorker_EmbedsCandidate(t *testing.T) {
	store := openTestStore(t)
	seedCandidate(t, store, storage.Candidate{ID: "c1", Name: "Ann", Skills: "Go", OpenToWork: true})
	enqueue(t, store, TaskEmbedCandidate, "c1")

	var seen string
	p := &fakeProvider{embedFn: func(_ context.Context, text string) ([]float32, error) {
		seen = text
		return []float32{0.1, 0.2, 0.3}, nil
	}}
	w := NewWorker(store, NewEmbedder(p, 0), 0)

	ctx := context.Background()
	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if seen != "Skills: Go" {
		t.Errorf("embedded text = %q, want %q", seen, "Skills: Go")
	}

	c, err := store.GetCandidate(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if len(c.Embedding) != 3 {
		t.Errorf("embedding = %v, want 3 values", c.Embedding)
	}
	if n := taskStatus(t, store, "completed"); n != 1 {
		t.Errorf("completed tasks = %d, want 1", n)
	}
}

func TestWorker_EmbedsJob(t *testing.T) {
	store := openTestStore(t)
	seedJob(t, store, storage.Job{ID: "j1", Title: "Intern", Requirements: "Go"})
	enqueue(t, store, TaskEmbedJob, "j1")

	w := NewWorker(store, NewEmbedder(fixedProvider([]float32{1, 0}), 0), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	j, err := store.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if len(j.Embedding) != 2 {
		t.Errorf("embedding = %v, want [1 0]", j.Embedding)
	}
}

func TestWorker_NoTasks(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, NewEmbedder(fixedProvider([]float32{1}), 0), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with empty queue")
	}
}

func TestWorker_ProviderFailureLeavesVectorUnset(t *testing.T) {
	store := openTestStore(t)
	seedCandidate(t, store, storage.Candidate{ID: "c1", Skills: "Go", OpenToWork: true})
	enqueue(t, store, TaskEmbedCandidate, "c1")

	p := &fakeProvider{embedFn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("provider down")
	}}
	w := NewWorker(store, NewEmbedder(p, 0), 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("expected the task to be processed")
	}

	c, _ := store.GetCandidate(context.Background(), "c1")
	if c.Embedding != nil {
		t.Errorf("embedding = %v, want nil after failure", c.Embedding)
	}
	// First failure reschedules with backoff.
	if n := taskStatus(t, store, "pending"); n != 1 {
		t.Errorf("pending tasks = %d, want 1", n)
	}
}

func TestWorker_EmptyTextClearsVector(t *testing.T) {
	store := openTestStore(t)
	seedCandidate(t, store, storage.Candidate{ID: "c1", Name: "No skills", OpenToWork: true, Embedding: []float32{1, 1}})
	enqueue(t, store, TaskEmbedCandidate, "c1")

	p := fixedProvider([]float32{9})
	w := NewWorker(store, NewEmbedder(p, 0), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times for empty text", p.calls)
	}
	c, _ := store.GetCandidate(context.Background(), "c1")
	if c.Embedding != nil {
		t.Errorf("embedding = %v, want nil", c.Embedding)
	}
}

func TestWorker_DeletedEntityCompletes(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, TaskEmbedCandidate, "ghost")

	w := NewWorker(store, NewEmbedder(fixedProvider([]float32{1}), 0), 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n := taskStatus(t, store, "completed"); n != 1 {
		t.Errorf("completed tasks = %d, want 1", n)
	}
}

func TestWorker_ProfileChangedDuringEmbed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedCandidate(t, store, storage.Candidate{ID: "c1", Skills: "Cobol", OpenToWork: true})
	enqueue(t, store, TaskEmbedCandidate, "c1")

	p := &fakeProvider{embedFn: func(context.Context, string) ([]float32, error) {
		seedCandidate(t, store, storage.Candidate{ID: "c1", Skills: "Go", OpenToWork: true})
		return []float32{1, 0}, nil
	}}
	w := NewWorker(store, NewEmbedder(p, 0), 0)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	c, _ := store.GetCandidate(ctx, "c1")
	if c.Embedding != nil {
		t.Errorf("embedding = %v, want nil: it was computed from the old text", c.Embedding)
	}
	if n := taskStatus(t, store, "completed"); n != 1 {
		t.Errorf("completed tasks = %d, want 1", n)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, NewEmbedder(fixedProvider([]float32{1}), 0), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
