package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/jobmatch/internal/recruit"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedJob creates a company owned by ownerID and an active job under it.
func seedJob(t *testing.T, s *Store, jobID, ownerID string) {
	t.Helper()
	companyID := "co-" + ownerID
	if err := s.SaveCompany(ctx, Company{ID: companyID, OwnerID: ownerID, Name: "Acme"}); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}
	if err := s.SaveJob(ctx, Job{ID: jobID, CompanyID: companyID, Title: "Intern " + jobID}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
}

func newRelationship(id, candidateID, jobID string) Relationship {
	now := time.Now().UTC()
	return Relationship{
		ID:          id,
		CandidateID: candidateID,
		JobID:       jobID,
		Initiator:   recruit.CandidateInitiated,
		Status:      recruit.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		UpdatedBy:   candidateID,
	}
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
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_relationships_active_pair",
		"idx_relationships_job",
		"idx_jobs_company",
		"idx_companies_owner",
		"idx_tasks_status_run_after",
	}
	for _, idx := range indexes {
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

func TestCandidateRoundTrip_WithEmbedding(t *testing.T) {
	s := openTestStore(t)

	in := Candidate{
		ID:         "c1",
		Name:       "Lan",
		Skills:     "Go, SQL",
		Major:      "CS",
		OpenToWork: true,
		Embedding:  []float32{0.5, -1, 2},
		UpdatedBy:  "c1",
	}
	if err := s.SaveCandidate(ctx, in); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}

	got, err := s.GetCandidate(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.Skills != "Go, SQL" || got.Major != "CS" || !got.OpenToWork {
		t.Errorf("unexpected candidate: %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[0] != 0.5 || got.Embedding[1] != -1 || got.Embedding[2] != 2 {
		t.Errorf("Embedding = %v, want [0.5 -1 2]", got.Embedding)
	}

	var raw string
	if err := s.db.QueryRow(`SELECT embedding FROM candidates WHERE id = 'c1'`).Scan(&raw); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if !strings.HasPrefix(raw, "[0.5,") || !strings.HasSuffix(raw, "]") {
		t.Errorf("stored embedding = %q, want pgvector text form", raw)
	}
}

func TestCandidate_AbsentEmbeddingIsNull(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveCandidate(ctx, Candidate{ID: "c1", OpenToWork: true, Embedding: []float32{}}); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	var isNull int
	if err := s.db.QueryRow(`SELECT embedding IS NULL FROM candidates WHERE id = 'c1'`).Scan(&isNull); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if isNull != 1 {
		t.Error("empty embedding should be stored as NULL")
	}

	got, err := s.GetCandidate(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.Embedding != nil {
		t.Errorf("Embedding = %v, want nil", got.Embedding)
	}
}

func TestGetCandidate_NotFoundAndTombstoned(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetCandidate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := s.SaveCandidate(ctx, Candidate{ID: "c1", OpenToWork: true}); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	if err := s.DeleteCandidate(ctx, "c1", "admin"); err != nil {
		t.Fatalf("DeleteCandidate: %v", err)
	}
	if _, err := s.GetCandidate(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tombstoned candidate err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteCandidate(ctx, "c1", "admin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestListRankableCandidates_Filters(t *testing.T) {
	s := openTestStore(t)

	vec := []float32{1, 0}
	cands := []Candidate{
		{ID: "a", OpenToWork: true, Embedding: vec},
		{ID: "b", OpenToWork: false, Embedding: vec},
		{ID: "c", OpenToWork: true},
		{ID: "d", OpenToWork: true, Embedding: vec},
	}
	for _, c := range cands {
		if err := s.SaveCandidate(ctx, c); err != nil {
			t.Fatalf("SaveCandidate %s: %v", c.ID, err)
		}
	}
	if err := s.DeleteCandidate(ctx, "d", "admin"); err != nil {
		t.Fatalf("DeleteCandidate: %v", err)
	}

	got, err := s.ListRankableCandidates(ctx)
	if err != nil {
		t.Fatalf("ListRankableCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %d candidates, want only a: %+v", len(got), got)
	}

	missing, err := s.ListCandidatesForEmbedding(ctx, false)
	if err != nil {
		t.Fatalf("ListCandidatesForEmbedding: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != "c" {
		t.Errorf("missing = %+v, want only c", missing)
	}

	all, err := s.ListCandidatesForEmbedding(ctx, true)
	if err != nil {
		t.Fatalf("ListCandidatesForEmbedding(force): %v", err)
	}
	if len(all) != 3 {
		t.Errorf("force listed %d, want 3", len(all))
	}
}

func TestSetCandidateEmbedding(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetCandidateEmbedding(ctx, "nobody", 1, []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.SaveCandidate(ctx, Candidate{ID: "c1", OpenToWork: true}); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	c, _ := s.GetCandidate(ctx, "c1")
	if c.Revision != 1 {
		t.Fatalf("Revision = %d, want 1", c.Revision)
	}
	if err := s.SetCandidateEmbedding(ctx, "c1", c.Revision, []float32{0.25, 0.75}); err != nil {
		t.Fatalf("SetCandidateEmbedding: %v", err)
	}
	got, _ := s.GetCandidate(ctx, "c1")
	if len(got.Embedding) != 2 {
		t.Fatalf("Embedding = %v", got.Embedding)
	}
	if got.Revision != 1 {
		t.Errorf("Revision = %d after storing a vector, want 1", got.Revision)
	}
	if err := s.SetCandidateEmbedding(ctx, "c1", c.Revision, nil); err != nil {
		t.Fatalf("clearing embedding: %v", err)
	}
	got, _ = s.GetCandidate(ctx, "c1")
	if got.Embedding != nil {
		t.Errorf("Embedding = %v, want nil after clear", got.Embedding)
	}
}

func TestSetEmbedding_SupersededRevision(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveCandidate(ctx, Candidate{ID: "c1", Skills: "Cobol", OpenToWork: true}); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	old, _ := s.GetCandidate(ctx, "c1")

	if err := s.SaveCandidate(ctx, Candidate{ID: "c1", Skills: "Go", OpenToWork: true}); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	fresh, _ := s.GetCandidate(ctx, "c1")
	if fresh.Revision != old.Revision+1 {
		t.Fatalf("Revision = %d, want %d", fresh.Revision, old.Revision+1)
	}
	if err := s.SetCandidateEmbedding(ctx, "c1", fresh.Revision, []float32{0, 1}); err != nil {
		t.Fatalf("SetCandidateEmbedding: %v", err)
	}

	if err := s.SetCandidateEmbedding(ctx, "c1", old.Revision, []float32{1, 0}); !errors.Is(err, ErrStale) {
		t.Fatalf("old revision err = %v, want ErrStale", err)
	}
	got, _ := s.GetCandidate(ctx, "c1")
	if len(got.Embedding) != 2 || got.Embedding[1] != 1 {
		t.Errorf("Embedding = %v, want the vector of the current text", got.Embedding)
	}

	seedJob(t, s, "j1", "owner-1")
	j, _ := s.GetJob(ctx, "j1")
	if err := s.SaveJob(ctx, Job{ID: "j1", CompanyID: "co-owner-1", Title: "Renamed"}); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if err := s.SetJobEmbedding(ctx, "j1", j.Revision, []float32{1}); !errors.Is(err, ErrStale) {
		t.Errorf("job old revision err = %v, want ErrStale", err)
	}
	if err := s.SetJobEmbedding(ctx, "missing", 1, []float32{1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing job err = %v, want ErrNotFound", err)
	}
}

func TestHasPendingTask(t *testing.T) {
	s := openTestStore(t)

	payload := `{"id":"c1"}`
	if ok, err := s.HasPendingTask(ctx, "embed_candidate", payload); err != nil || ok {
		t.Fatalf("empty queue: ok=%v err=%v", ok, err)
	}
	if err := s.EnqueueTask(ctx, Task{ID: "t1", Type: "embed_candidate", PayloadJSON: payload}); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	if ok, _ := s.HasPendingTask(ctx, "embed_candidate", payload); !ok {
		t.Error("queued task not reported")
	}
	if ok, _ := s.HasPendingTask(ctx, "embed_job", payload); ok {
		t.Error("task type ignored")
	}

	if _, err := s.ClaimNextTask(ctx, []string{"embed_candidate"}); err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if ok, _ := s.HasPendingTask(ctx, "embed_candidate", payload); ok {
		t.Error("running task reported as pending")
	}
}

func TestGetJob_ResolvesOwner(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "j1", "owner-1")

	j, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.OwnerID != "owner-1" {
		t.Errorf("OwnerID = %q, want %q", j.OwnerID, "owner-1")
	}
	if j.CompanyName != "Acme" {
		t.Errorf("CompanyName = %q, want Acme", j.CompanyName)
	}
	if j.Status != JobActive {
		t.Errorf("Status = %q, want %q", j.Status, JobActive)
	}
}

func TestListRankableJobs_OnlyActiveWithEmbedding(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveCompany(ctx, Company{ID: "co", OwnerID: "o"}); err != nil {
		t.Fatalf("SaveCompany: %v", err)
	}
	jobs := []Job{
		{ID: "active", CompanyID: "co", Embedding: []float32{1}},
		{ID: "closed", CompanyID: "co", Status: JobClosed, Embedding: []float32{1}},
		{ID: "noembed", CompanyID: "co"},
		{ID: "deleted", CompanyID: "co", Embedding: []float32{1}},
	}
	for _, j := range jobs {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob %s: %v", j.ID, err)
		}
	}
	if err := s.DeleteJob(ctx, "deleted", "o"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	got, err := s.ListRankableJobs(ctx)
	if err != nil {
		t.Fatalf("ListRankableJobs: %v", err)
	}
	if len(got) != 1 || got[0].ID != "active" {
		t.Errorf("got %+v, want only active", got)
	}
}

func TestInsertRelationship_DuplicateActivePairConflicts(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "j1", "o1")

	if err := s.InsertRelationship(ctx, newRelationship("r1", "c1", "j1")); err != nil {
		t.Fatalf("InsertRelationship: %v", err)
	}
	err := s.InsertRelationship(ctx, newRelationship("r2", "c1", "j1"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate insert err = %v, want ErrConflict", err)
	}

	// A different job for the same candidate is fine.
	seedJob(t, s, "j2", "o1")
	if err := s.InsertRelationship(ctx, newRelationship("r3", "c1", "j2")); err != nil {
		t.Fatalf("InsertRelationship other job: %v", err)
	}
}

func TestInsertRelationship_TombstoneFreesPair(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "j1", "o1")

	if err := s.InsertRelationship(ctx, newRelationship("r1", "c1", "j1")); err != nil {
		t.Fatalf("InsertRelationship: %v", err)
	}
	err := s.TransitionRelationship(ctx, Transition{
		ID: "r1", From: recruit.StatusPending, To: recruit.StatusWithdrawn,
		By: "c1", At: time.Now(), Tombstone: true,
	})
	if err != nil {
		t.Fatalf("TransitionRelationship: %v", err)
	}

	if _, err := s.GetRelationship(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("tombstoned GetRelationship err = %v, want ErrNotFound", err)
	}
	old, err := s.relationshipByID(ctx, "r1", true)
	if err != nil {
		t.Fatalf("relationshipByID: %v", err)
	}
	if !old.Deleted || old.DeletedAt.IsZero() || old.Status != recruit.StatusWithdrawn {
		t.Errorf("tombstone not recorded: %+v", old)
	}

	if err := s.InsertRelationship(ctx, newRelationship("r2", "c1", "j1")); err != nil {
		t.Fatalf("re-insert after tombstone: %v", err)
	}
}

func TestTransitionRelationship_StalePrecondition(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "j1", "o1")
	if err := s.InsertRelationship(ctx, newRelationship("r1", "c1", "j1")); err != nil {
		t.Fatalf("InsertRelationship: %v", err)
	}

	accept := Transition{ID: "r1", From: recruit.StatusPending, To: recruit.StatusAccepted, By: "o1", At: time.Now()}
	if err := s.TransitionRelationship(ctx, accept); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	reject := Transition{ID: "r1", From: recruit.StatusPending, To: recruit.StatusRejected, By: "o1", At: time.Now()}
	if err := s.TransitionRelationship(ctx, reject); !errors.Is(err, ErrStale) {
		t.Fatalf("second transition err = %v, want ErrStale", err)
	}

	r, err := s.GetRelationship(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRelationship: %v", err)
	}
	if r.Status != recruit.StatusAccepted {
		t.Errorf("Status = %q, want accepted", r.Status)
	}
	if r.UpdatedBy != "o1" {
		t.Errorf("UpdatedBy = %q, want o1", r.UpdatedBy)
	}
	if r.JobOwnerID != "o1" || r.JobTitle != "Intern j1" {
		t.Errorf("joined fields = %q/%q", r.JobOwnerID, r.JobTitle)
	}
}

func TestListRelationships_Filters(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "j1", "o1")
	seedJob(t, s, "j2", "o2")

	r1 := newRelationship("r1", "c1", "j1")
	r2 := newRelationship("r2", "c2", "j1")
	r2.Initiator = recruit.CompanyInitiated
	r3 := newRelationship("r3", "c1", "j2")
	r4 := newRelationship("r4", "c3", "j1")
	for _, r := range []Relationship{r1, r2, r3, r4} {
		if err := s.InsertRelationship(ctx, r); err != nil {
			t.Fatalf("InsertRelationship %s: %v", r.ID, err)
		}
	}
	if err := s.TombstoneRelationship(ctx, "r4", "admin", time.Now()); err != nil {
		t.Fatalf("TombstoneRelationship: %v", err)
	}

	tests := []struct {
		name   string
		filter RelationshipFilter
		want   int
	}{
		{"by candidate", RelationshipFilter{CandidateID: "c1"}, 2},
		{"by job excludes tombstoned", RelationshipFilter{JobID: "j1"}, 2},
		{"by owner", RelationshipFilter{OwnerID: "o1"}, 2},
		{"by owner and initiator", RelationshipFilter{OwnerID: "o1", Initiator: recruit.CompanyInitiated}, 1},
		{"by job and candidate initiator", RelationshipFilter{JobID: "j1", Initiator: recruit.CandidateInitiated}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListRelationships(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRelationships: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestInTx_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	seedJob(t, s, "j1", "o1")

	wantErr := errors.New("boom")
	err := s.InTx(ctx, func(tx *Tx) error {
		if err := tx.InsertRelationship(ctx, newRelationship("r1", "c1", "j1")); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("InTx err = %v, want %v", err, wantErr)
	}
	if _, err := s.GetRelationship(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rolled back record visible: err = %v", err)
	}
}

// --- Tasks ---

func TestEnqueueAndClaimTask(t *testing.T) {
	s := openTestStore(t)

	task := Task{ID: "t1", Type: "embed_job", PayloadJSON: `{"id":"j1"}`}
	if err := s.EnqueueTask(ctx, task); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	got, err := s.ClaimNextTask(ctx, []string{"embed_job"})
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextTask returned nil")
	}
	if got.ID != "t1" || got.PayloadJSON != `{"id":"j1"}` {
		t.Errorf("unexpected task: %+v", got)
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}

	again, err := s.ClaimNextTask(ctx, []string{"embed_job"})
	if err != nil {
		t.Fatalf("ClaimNextTask again: %v", err)
	}
	if again != nil {
		t.Errorf("running task claimed twice: %+v", again)
	}
}

func TestClaimNextTask_RespectsRunAfterAndType(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueTask(ctx, Task{ID: "future", Type: "a", RunAfter: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	if err := s.EnqueueTask(ctx, Task{ID: "other", Type: "b"}); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}

	got, err := s.ClaimNextTask(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestFailTask_BackoffThenFailed(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueTask(ctx, Task{ID: "t1", Type: "x", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	before := time.Now().UTC()
	if err := s.FailTask(ctx, "t1", "provider down"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}

	var status, runAfterStr, lastError string
	var attempts int
	if err := s.db.QueryRow(`SELECT status, attempts, run_after, last_error FROM tasks WHERE id = 't1'`).
		Scan(&status, &attempts, &runAfterStr, &lastError); err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if status != "pending" || attempts != 1 || lastError != "provider down" {
		t.Errorf("after first failure: status=%q attempts=%d last_error=%q", status, attempts, lastError)
	}
	runAfter, err := time.Parse(time.RFC3339, runAfterStr)
	if err != nil {
		t.Fatalf("parsing run_after: %v", err)
	}
	if !runAfter.After(before) {
		t.Errorf("run_after %v should be after %v", runAfter, before)
	}

	if err := s.FailTask(ctx, "t1", "still down"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	counts, err := s.TaskCounts(ctx)
	if err != nil {
		t.Fatalf("TaskCounts: %v", err)
	}
	if counts["failed"] != 1 {
		t.Errorf("counts = %v, want one failed", counts)
	}

	if err := s.FailTask(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailTask(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCompleteTask(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueTask(ctx, Task{ID: "t1", Type: "x"}); err != nil {
		t.Fatalf("EnqueueTask: %v", err)
	}
	if err := s.CompleteTask(ctx, "t1"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	counts, _ := s.TaskCounts(ctx)
	if counts["completed"] != 1 {
		t.Errorf("counts = %v, want one completed", counts)
	}
	if err := s.CompleteTask(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteTask(missing) err = %v, want ErrNotFound", err)
	}
}
