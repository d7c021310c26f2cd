package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.SaveCompany(context.Background(), storage.Company{ID: "co1", OwnerID: "owner", Name: "Acme"}); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}
	return NewService(store), store
}

func mustSaveJob(t *testing.T, s *storage.Store, j storage.Job) {
	t.Helper()
	if j.CompanyID == "" {
		j.CompanyID = "co1"
	}
	if err := s.SaveJob(context.Background(), j); err != nil {
		t.Fatalf("SaveJob %s: %v", j.ID, err)
	}
}

func mustSaveCandidate(t *testing.T, s *storage.Store, c storage.Candidate) {
	t.Helper()
	if err := s.SaveCandidate(context.Background(), c); err != nil {
		t.Fatalf("SaveCandidate %s: %v", c.ID, err)
	}
}

// Job J has [1,0]; X=[1,0], Y=[0,1], Z has no embedding.
func TestSuggestCandidates_RanksByCosineSkippingUnembedded(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	mustSaveJob(t, store, storage.Job{ID: "J", Title: "Backend intern", Embedding: []float32{1, 0}})
	mustSaveCandidate(t, store, storage.Candidate{ID: "X", Name: "X", OpenToWork: true, Embedding: []float32{1, 0}})
	mustSaveCandidate(t, store, storage.Candidate{ID: "Y", Name: "Y", OpenToWork: true, Embedding: []float32{0, 1}})
	mustSaveCandidate(t, store, storage.Candidate{ID: "Z", Name: "Z", OpenToWork: true})

	got, err := svc.SuggestCandidates(ctx, "J", DefaultLimit)
	if err != nil {
		t.Fatalf("SuggestCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d suggestions, want 2: %+v", len(got), got)
	}
	if got[0].Candidate.ID != "X" || got[0].Score != 1 {
		t.Errorf("first = %+v, want X/1.0", got[0])
	}
	if got[1].Candidate.ID != "Y" || got[1].Score != 0 {
		t.Errorf("second = %+v, want Y/0.0", got[1])
	}
}

func TestSuggestCandidates_ExcludesNotOpenToWork(t *testing.T) {
	svc, store := newTestService(t)

	mustSaveJob(t, store, storage.Job{ID: "J", Embedding: []float32{1, 0}})
	mustSaveCandidate(t, store, storage.Candidate{ID: "busy", OpenToWork: false, Embedding: []float32{1, 0}})
	mustSaveCandidate(t, store, storage.Candidate{ID: "free", OpenToWork: true, Embedding: []float32{0.5, 0.5}})

	got, err := svc.SuggestCandidates(context.Background(), "J", 10)
	if err != nil {
		t.Fatalf("SuggestCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Candidate.ID != "free" {
		t.Errorf("got %+v, want only free", got)
	}
}

func TestSuggestCandidates_JobWithoutEmbedding(t *testing.T) {
	svc, store := newTestService(t)
	mustSaveJob(t, store, storage.Job{ID: "J"})

	_, err := svc.SuggestCandidates(context.Background(), "J", 10)
	if !errors.Is(err, recruit.ErrNotRankable) {
		t.Fatalf("err = %v, want ErrNotRankable", err)
	}
	if !errors.Is(err, recruit.ErrBadRequest) {
		t.Errorf("ErrNotRankable should classify as bad request")
	}
}

func TestSuggestCandidates_UnknownJob(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SuggestCandidates(context.Background(), "nope", 10)
	if !errors.Is(err, recruit.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSuggestCandidates_ZeroLimit(t *testing.T) {
	svc, store := newTestService(t)
	mustSaveJob(t, store, storage.Job{ID: "J", Embedding: []float32{1, 0}})
	mustSaveCandidate(t, store, storage.Candidate{ID: "X", OpenToWork: true, Embedding: []float32{1, 0}})

	got, err := svc.SuggestCandidates(context.Background(), "J", 0)
	if err != nil {
		t.Fatalf("SuggestCandidates: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestSuggestJobs_OnlyActive(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	mustSaveCandidate(t, store, storage.Candidate{ID: "c1", OpenToWork: true, Embedding: []float32{0, 1}})
	mustSaveJob(t, store, storage.Job{ID: "a", Title: "A", Embedding: []float32{0, 1}})
	mustSaveJob(t, store, storage.Job{ID: "b", Title: "B", Embedding: []float32{1, 1}})
	mustSaveJob(t, store, storage.Job{ID: "closed", Status: storage.JobClosed, Embedding: []float32{0, 1}})
	mustSaveJob(t, store, storage.Job{ID: "none"})

	got, err := svc.SuggestJobs(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("SuggestJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d, want 2: %+v", len(got), got)
	}
	if got[0].Job.ID != "a" || got[1].Job.ID != "b" {
		t.Errorf("order = [%s %s], want [a b]", got[0].Job.ID, got[1].Job.ID)
	}
	if got[0].Job.CompanyName != "Acme" {
		t.Errorf("CompanyName = %q, want Acme", got[0].Job.CompanyName)
	}
}

func TestSuggestJobs_CandidateNotRankable(t *testing.T) {
	svc, store := newTestService(t)
	mustSaveCandidate(t, store, storage.Candidate{ID: "c1", OpenToWork: true})

	_, err := svc.SuggestJobs(context.Background(), "c1", 10)
	if !errors.Is(err, recruit.ErrNotRankable) {
		t.Fatalf("err = %v, want ErrNotRankable", err)
	}
}
