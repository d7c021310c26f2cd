package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/jobmatch/internal/storage"
)

// Task types understood by the Worker.
const (
	TaskEmbedCandidate = "embed_candidate"
	TaskEmbedJob       = "embed_job"
)

type taskPayload struct {
	ID string `json:"id"`
}

// NewTask builds a queue entry asking the worker to (re)embed the entity.
func NewTask(taskType, entityID string) storage.Task {
	payload, _ := json.Marshal(taskPayload{ID: entityID})
	return storage.Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		PayloadJSON: string(payload),
	}
}

// TaskStore abstracts the queue and entity operations the Worker needs.
type TaskStore interface {
	ClaimNextTask(ctx context.Context, types []string) (*storage.Task, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id string, errMsg string) error
	GetCandidate(ctx context.Context, id string) (storage.Candidate, error)
	GetJob(ctx context.Context, id string) (storage.Job, error)
	SetCandidateEmbedding(ctx context.Context, id string, revision int64, vec []float32) error
	SetJobEmbedding(ctx context.Context, id string, revision int64, vec []float32) error
}

// Worker processes embed tasks from the SQLite queue.
type Worker struct {
	store    TaskStore
	embedder *Embedder
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store TaskStore, embedder *Embedder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
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

// RunOnce claims and processes a single task. It returns true if a task was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.store.ClaimNextTask(ctx, []string{TaskEmbedCandidate, TaskEmbedJob})
	if err != nil {
		return false, fmt.Errorf("claiming task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	if err := w.process(ctx, task); err != nil {
		w.logger.Warn("embed task failed", "task_id", task.ID, "type", task.Type, "error", err)
		if failErr := w.store.FailTask(ctx, task.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark task as failed", "task_id", task.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteTask(ctx, task.ID); err != nil {
		return true, fmt.Errorf("completing task %s: %w", task.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, task *storage.Task) error {
	var payload taskPayload
	if err := json.Unmarshal([]byte(task.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	var (
		kind  string
		text  string
		rev   int64
		store func(context.Context, string, int64, []float32) error
	)
	switch task.Type {
	case TaskEmbedCandidate:
		c, err := w.store.GetCandidate(ctx, payload.ID)
		if err != nil {
			return w.gone("candidate", payload.ID, err)
		}
		kind, text, rev, store = "candidate", CandidateText(c), c.Revision, w.store.SetCandidateEmbedding
	case TaskEmbedJob:
		j, err := w.store.GetJob(ctx, payload.ID)
		if err != nil {
			return w.gone("job", payload.ID, err)
		}
		kind, text, rev, store = "job", JobText(j), j.Revision, w.store.SetJobEmbedding
	default:
		return fmt.Errorf("unknown task type %q", task.Type)
	}

	var vec []float32
	if text != "" {
		res := w.embedder.Compute(ctx, text)
		if res.Err != nil {
			return res.Err
		}
		vec = res.Vector
	}
	return w.gone(kind, payload.ID, store(ctx, payload.ID, rev, vec))
}

// gone treats a deleted entity, or one saved again while its vector was
// being computed, as nothing left to do. A newer save queues its own task.
func (w *Worker) gone(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		w.logger.Debug("skipping embed for removed entity", "kind", kind, "id", id)
		return nil
	case errors.Is(err, storage.ErrStale):
		w.logger.Debug("discarding superseded embedding", "kind", kind, "id", id)
		return nil
	}
	return fmt.Errorf("embedding %s %s: %w", kind, id, err)
}
