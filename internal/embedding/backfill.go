package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/jobmatch/internal/storage"
)

// BackfillStore lists entities needing vectors and stores the results.
type BackfillStore interface {
	ListCandidatesForEmbedding(ctx context.Context, force bool) ([]storage.Candidate, error)
	ListJobsForEmbedding(ctx context.Context, force bool) ([]storage.Job, error)
	SetCandidateEmbedding(ctx context.Context, id string, revision int64, vec []float32) error
	SetJobEmbedding(ctx context.Context, id string, revision int64, vec []float32) error
}

// Report summarises one backfill run.
type Report struct {
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type backfillItem struct {
	kind     string
	id       string
	revision int64
	text     string
	store    func(context.Context, string, int64, []float32) error
}

// Backfill embeds every candidate and job that lacks a vector, or all of them
// when force is set. At most concurrency provider calls run at once. A
// failure on one entity is logged and counted; the run continues. A result
// whose entity changed while it was computed is discarded and counted as
// skipped.
func Backfill(ctx context.Context, store BackfillStore, embedder *Embedder, force bool, concurrency int) (Report, error) {
	if concurrency < 1 {
		concurrency = 4
	}
	logger := slog.Default()

	candidates, err := store.ListCandidatesForEmbedding(ctx, force)
	if err != nil {
		return Report{}, fmt.Errorf("listing candidates: %w", err)
	}
	jobs, err := store.ListJobsForEmbedding(ctx, force)
	if err != nil {
		return Report{}, fmt.Errorf("listing jobs: %w", err)
	}

	items := make([]backfillItem, 0, len(candidates)+len(jobs))
	for _, c := range candidates {
		items = append(items, backfillItem{"candidate", c.ID, c.Revision, CandidateText(c), store.SetCandidateEmbedding})
	}
	for _, j := range jobs {
		items = append(items, backfillItem{"job", j.ID, j.Revision, JobText(j), store.SetJobEmbedding})
	}

	var (
		mu  sync.Mutex
		rep Report
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, it := range items {
		if it.text == "" {
			count(&rep.Skipped)
			continue
		}
		g.Go(func() error {
			res := embedder.Compute(gCtx, it.text)
			if res.Err != nil {
				logger.Warn("backfill embed failed", "kind", it.kind, "id", it.id, "error", res.Err)
				count(&rep.Failed)
				return nil
			}
			err := it.store(gCtx, it.id, it.revision, res.Vector)
			if errors.Is(err, storage.ErrStale) || errors.Is(err, storage.ErrNotFound) {
				// Saved again or removed mid-run; the newer save queued its own task.
				logger.Debug("backfill result superseded", "kind", it.kind, "id", it.id)
				count(&rep.Skipped)
				return nil
			}
			if err != nil {
				logger.Warn("backfill store failed", "kind", it.kind, "id", it.id, "error", err)
				count(&rep.Failed)
				return nil
			}
			count(&rep.Embedded)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	logger.Info("backfill finished", "embedded", rep.Embedded, "skipped", rep.Skipped, "failed", rep.Failed, "force", force)
	return rep, nil
}
