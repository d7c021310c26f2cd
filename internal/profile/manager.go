// Package profile manages the directory of candidates, companies and jobs
// that relationships and suggestions refer to. Saving a profile whose
// embedding text changed clears the stored vector and queues a re-embed.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/jobmatch/internal/embedding"
	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/storage"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	InTx(ctx context.Context, fn func(tx *storage.Tx) error) error
	GetCandidate(ctx context.Context, id string) (storage.Candidate, error)
	GetCompany(ctx context.Context, id string) (storage.Company, error)
	GetJob(ctx context.Context, id string) (storage.Job, error)
}

// Manager applies permission checks and embedding bookkeeping around
// directory writes.
type Manager struct {
	store  Store
	clock  recruit.Clock
	logger *slog.Logger
}

// NewManager creates a Manager using the system clock.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, recruit.SystemClock{})
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock recruit.Clock) *Manager {
	return &Manager{store: store, clock: clock, logger: slog.Default()}
}

// SaveCandidate creates or updates a candidate profile. Candidates may only
// save themselves; admins may save anyone. A nil openToWork keeps the stored
// flag, and a new profile is open to work unless told otherwise.
func (m *Manager) SaveCandidate(ctx context.Context, actor recruit.Actor, c storage.Candidate, openToWork *bool) (storage.Candidate, error) {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return storage.Candidate{}, fmt.Errorf("%w: candidate id is required", recruit.ErrBadRequest)
	}
	if !actor.IsAdmin() && !actor.Is(recruit.RoleCandidate, c.ID) {
		return storage.Candidate{}, fmt.Errorf("%w: cannot edit candidate %s", recruit.ErrForbidden, c.ID)
	}

	now := m.clock.Now()
	c.UpdatedAt, c.UpdatedBy = now, actor.ID
	text := embedding.CandidateText(c)

	err := m.store.InTx(ctx, func(tx *storage.Tx) error {
		prev, err := tx.GetCandidate(ctx, c.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.CreatedAt, c.Embedding, c.OpenToWork = now, nil, true
		case err != nil:
			return err
		default:
			c.CreatedAt, c.Embedding, c.OpenToWork = prev.CreatedAt, prev.Embedding, prev.OpenToWork
			if embedding.CandidateText(prev) != text {
				c.Embedding = nil
			}
		}
		if openToWork != nil {
			c.OpenToWork = *openToWork
		}
		if err := tx.SaveCandidate(ctx, c); err != nil {
			return err
		}
		if c.Embedding != nil {
			return nil
		}
		return m.queueEmbed(ctx, tx, embedding.TaskEmbedCandidate, c.ID, text)
	})
	if err != nil {
		return storage.Candidate{}, err
	}
	return m.GetCandidate(ctx, c.ID)
}

// SaveCompany creates or updates a company. A company user may create a
// company it owns or edit one it already owns.
func (m *Manager) SaveCompany(ctx context.Context, actor recruit.Actor, co storage.Company) (storage.Company, error) {
	co.ID = strings.TrimSpace(co.ID)
	if co.ID == "" {
		return storage.Company{}, fmt.Errorf("%w: company id is required", recruit.ErrBadRequest)
	}
	if co.OwnerID == "" && actor.Role == recruit.RoleCompany {
		co.OwnerID = actor.ID
	}
	if co.OwnerID == "" {
		return storage.Company{}, fmt.Errorf("%w: company owner is required", recruit.ErrBadRequest)
	}

	now := m.clock.Now()
	err := m.store.InTx(ctx, func(tx *storage.Tx) error {
		prev, err := tx.GetCompany(ctx, co.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			co.CreatedAt = now
		case err != nil:
			return err
		default:
			if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, prev.OwnerID) {
				return fmt.Errorf("%w: cannot edit company %s", recruit.ErrForbidden, co.ID)
			}
			co.CreatedAt = prev.CreatedAt
		}
		if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, co.OwnerID) {
			return fmt.Errorf("%w: company must be owned by the caller", recruit.ErrForbidden)
		}
		co.UpdatedAt = now
		return tx.SaveCompany(ctx, co)
	})
	if err != nil {
		return storage.Company{}, err
	}
	return co, nil
}

// SaveJob creates or updates a job posting under an existing company.
func (m *Manager) SaveJob(ctx context.Context, actor recruit.Actor, j storage.Job) (storage.Job, error) {
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" || j.CompanyID == "" {
		return storage.Job{}, fmt.Errorf("%w: job id and company id are required", recruit.ErrBadRequest)
	}
	switch j.Status {
	case "":
		j.Status = storage.JobActive
	case storage.JobActive, storage.JobClosed:
	default:
		return storage.Job{}, fmt.Errorf("%w: unknown job status %q", recruit.ErrBadRequest, j.Status)
	}

	now := m.clock.Now()
	j.UpdatedAt, j.UpdatedBy = now, actor.ID
	text := embedding.JobText(j)

	err := m.store.InTx(ctx, func(tx *storage.Tx) error {
		co, err := tx.GetCompany(ctx, j.CompanyID)
		if err != nil {
			return lookupErr("company", j.CompanyID, err)
		}
		if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, co.OwnerID) {
			return fmt.Errorf("%w: cannot post jobs for company %s", recruit.ErrForbidden, co.ID)
		}

		prev, err := tx.GetJob(ctx, j.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			j.CreatedAt, j.Embedding = now, nil
		case err != nil:
			return err
		default:
			if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, prev.OwnerID) {
				return fmt.Errorf("%w: cannot edit job %s", recruit.ErrForbidden, j.ID)
			}
			j.CreatedAt, j.Embedding = prev.CreatedAt, prev.Embedding
			if embedding.JobText(prev) != text {
				j.Embedding = nil
			}
		}
		if err := tx.SaveJob(ctx, j); err != nil {
			return err
		}
		if j.Embedding != nil {
			return nil
		}
		return m.queueEmbed(ctx, tx, embedding.TaskEmbedJob, j.ID, text)
	})
	if err != nil {
		return storage.Job{}, err
	}
	return m.GetJob(ctx, j.ID)
}

// DeleteCandidate tombstones a candidate profile.
func (m *Manager) DeleteCandidate(ctx context.Context, actor recruit.Actor, id string) error {
	if !actor.IsAdmin() && !actor.Is(recruit.RoleCandidate, id) {
		return fmt.Errorf("%w: cannot delete candidate %s", recruit.ErrForbidden, id)
	}
	return lookupErr("candidate", id, m.store.InTx(ctx, func(tx *storage.Tx) error {
		return tx.DeleteCandidate(ctx, id, actor.ID)
	}))
}

// DeleteJob tombstones a job. Only its owning company or an admin may.
func (m *Manager) DeleteJob(ctx context.Context, actor recruit.Actor, id string) error {
	return m.store.InTx(ctx, func(tx *storage.Tx) error {
		j, err := tx.GetJob(ctx, id)
		if err != nil {
			return lookupErr("job", id, err)
		}
		if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, j.OwnerID) {
			return fmt.Errorf("%w: cannot delete job %s", recruit.ErrForbidden, id)
		}
		return lookupErr("job", id, tx.DeleteJob(ctx, id, actor.ID))
	})
}

func (m *Manager) GetCandidate(ctx context.Context, id string) (storage.Candidate, error) {
	c, err := m.store.GetCandidate(ctx, id)
	if err != nil {
		return storage.Candidate{}, lookupErr("candidate", id, err)
	}
	return c, nil
}

func (m *Manager) GetJob(ctx context.Context, id string) (storage.Job, error) {
	j, err := m.store.GetJob(ctx, id)
	if err != nil {
		return storage.Job{}, lookupErr("job", id, err)
	}
	return j, nil
}

// queueEmbed schedules an embed for an entity without a vector. Text that
// composes to nothing has no vector, so nothing is queued. A task still
// waiting in the queue will read the latest text when it runs, so it is not
// duplicated.
func (m *Manager) queueEmbed(ctx context.Context, tx *storage.Tx, taskType, id, text string) error {
	if text == "" {
		return nil
	}
	task := embedding.NewTask(taskType, id)
	queued, err := tx.HasPendingTask(ctx, taskType, task.PayloadJSON)
	if err != nil {
		return err
	}
	if queued {
		return nil
	}
	if err := tx.EnqueueTask(ctx, task); err != nil {
		return err
	}
	m.logger.Debug("queued embedding", "type", taskType, "id", id)
	return nil
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", recruit.ErrNotFound, kind, id)
	}
	return err
}
