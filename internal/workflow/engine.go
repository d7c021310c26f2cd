// Package workflow owns the lifecycle of candidate-job relationships:
// applications, invitations and the transitions between their states.
//
// Every operation resolves the record, then checks the actor, then checks the
// state, so callers see NotFound before Forbidden before BadRequest. All
// status writes go through storage's guarded UPDATE; a write that loses a race
// surfaces as BadRequest.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/jobmatch/internal/recruit"
	"github.com/kalambet/jobmatch/internal/storage"
)

// Store defines the storage operations the Engine needs.
// Implemented by storage.Store.
type Store interface {
	InTx(ctx context.Context, fn func(tx *storage.Tx) error) error
	GetRelationship(ctx context.Context, id string) (storage.Relationship, error)
	ListRelationships(ctx context.Context, f storage.RelationshipFilter) ([]storage.Relationship, error)
	GetJob(ctx context.Context, id string) (storage.Job, error)
}

type Engine struct {
	store  Store
	clock  recruit.Clock
	newID  func() string
	logger *slog.Logger
}

func NewEngine(store Store) *Engine {
	return NewEngineWithClock(store, recruit.SystemClock{})
}

// NewEngineWithClock creates an Engine with a custom clock (for testing).
func NewEngineWithClock(store Store, clock recruit.Clock) *Engine {
	return &Engine{
		store:  store,
		clock:  clock,
		newID:  func() string { return uuid.New().String() },
		logger: slog.Default(),
	}
}

// Apply records a candidate's application to a job.
func (e *Engine) Apply(ctx context.Context, actor recruit.Actor, candidateID, jobID string) (storage.Relationship, error) {
	return e.create(ctx, actor, candidateID, jobID, recruit.CandidateInitiated)
}

// Invite records a company's invitation of a candidate to one of its jobs.
func (e *Engine) Invite(ctx context.Context, actor recruit.Actor, jobID, candidateID string) (storage.Relationship, error) {
	return e.create(ctx, actor, candidateID, jobID, recruit.CompanyInitiated)
}

func (e *Engine) create(ctx context.Context, actor recruit.Actor, candidateID, jobID string, initiator recruit.Initiator) (storage.Relationship, error) {
	if candidateID == "" || jobID == "" {
		return storage.Relationship{}, fmt.Errorf("%w: candidate id and job id are required", recruit.ErrBadRequest)
	}

	var out storage.Relationship
	err := e.store.InTx(ctx, func(tx *storage.Tx) error {
		job, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return lookupErr("job", jobID, err)
		}
		if _, err := tx.GetCandidate(ctx, candidateID); err != nil {
			return lookupErr("candidate", candidateID, err)
		}

		switch initiator {
		case recruit.CandidateInitiated:
			if !actor.Is(recruit.RoleCandidate, candidateID) {
				return fmt.Errorf("%w: only the candidate can apply", recruit.ErrForbidden)
			}
		case recruit.CompanyInitiated:
			if !actor.Is(recruit.RoleCompany, job.OwnerID) {
				return fmt.Errorf("%w: only the company owning job %s can invite", recruit.ErrForbidden, jobID)
			}
		}
		if job.Status != storage.JobActive {
			return fmt.Errorf("%w: job %s is %s", recruit.ErrBadRequest, jobID, job.Status)
		}

		if existing, err := tx.FindActiveRelationship(ctx, candidateID, jobID); err == nil {
			return fmt.Errorf("%w: relationship %s already exists for this candidate and job", recruit.ErrConflict, existing.ID)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := e.clock.Now()
		r := storage.Relationship{
			ID:          e.newID(),
			CandidateID: candidateID,
			JobID:       jobID,
			Initiator:   initiator,
			Status:      recruit.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			UpdatedBy:   actor.ID,
			JobTitle:    job.Title,
			JobOwnerID:  job.OwnerID,
		}
		if err := tx.InsertRelationship(ctx, r); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return fmt.Errorf("%w: relationship already exists for this candidate and job", recruit.ErrConflict)
			}
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return storage.Relationship{}, err
	}
	e.logger.Info("relationship created", "id", out.ID, "initiator", out.Initiator, "candidate", candidateID, "job", jobID)
	return out, nil
}

// Respond lets the counterparty accept or reject an open record.
func (e *Engine) Respond(ctx context.Context, actor recruit.Actor, id string, decision recruit.Status) (storage.Relationship, error) {
	if !decision.Decision() {
		return storage.Relationship{}, fmt.Errorf("%w: decision must be accepted or rejected, got %q", recruit.ErrBadRequest, decision)
	}
	return e.transition(ctx, actor, id, change{
		verb:    "respond to",
		allowed: isCounterparty,
		to:      decision,
	})
}

// Review moves a pending record to reviewing. Either party may do so.
func (e *Engine) Review(ctx context.Context, actor recruit.Actor, id string) (storage.Relationship, error) {
	return e.transition(ctx, actor, id, change{
		verb:    "review",
		allowed: isParty,
		from:    recruit.StatusPending,
		to:      recruit.StatusReviewing,
	})
}

// Withdraw lets the initiator retract an open record. The record is
// tombstoned, which frees the pair for a new application or invitation.
func (e *Engine) Withdraw(ctx context.Context, actor recruit.Actor, id string) (storage.Relationship, error) {
	return e.transition(ctx, actor, id, change{
		verb:      "withdraw",
		allowed:   isInitiator,
		to:        recruit.StatusWithdrawn,
		tombstone: true,
	})
}

// Remove tombstones a record. Admins may remove any record without touching
// its status. The initiator may remove a pending record, which withdraws it.
func (e *Engine) Remove(ctx context.Context, actor recruit.Actor, id string) error {
	if !actor.IsAdmin() {
		_, err := e.transition(ctx, actor, id, change{
			verb:      "remove",
			allowed:   isInitiator,
			from:      recruit.StatusPending,
			to:        recruit.StatusWithdrawn,
			tombstone: true,
		})
		return err
	}

	err := e.store.InTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.GetRelationship(ctx, id); err != nil {
			return lookupErr("relationship", id, err)
		}
		err := tx.TombstoneRelationship(ctx, id, actor.ID, e.clock.Now())
		if errors.Is(err, storage.ErrStale) {
			return fmt.Errorf("%w: relationship %s", recruit.ErrNotFound, id)
		}
		return err
	})
	if err == nil {
		e.logger.Info("relationship removed", "id", id, "by", actor.ID)
	}
	return err
}

// Get returns a record visible to the actor: an admin, the candidate, or the
// company owning the job.
func (e *Engine) Get(ctx context.Context, actor recruit.Actor, id string) (storage.Relationship, error) {
	r, err := e.store.GetRelationship(ctx, id)
	if err != nil {
		return storage.Relationship{}, lookupErr("relationship", id, err)
	}
	if !actor.IsAdmin() && !isParty(actor, r) {
		return storage.Relationship{}, fmt.Errorf("%w: relationship %s", recruit.ErrForbidden, id)
	}
	return r, nil
}

// ListForCandidate returns a candidate's records, newest first.
func (e *Engine) ListForCandidate(ctx context.Context, actor recruit.Actor, candidateID string, initiator recruit.Initiator) ([]storage.Relationship, error) {
	if !actor.IsAdmin() && !actor.Is(recruit.RoleCandidate, candidateID) {
		return nil, fmt.Errorf("%w: relationships of candidate %s", recruit.ErrForbidden, candidateID)
	}
	return e.list(ctx, storage.RelationshipFilter{CandidateID: candidateID, Initiator: initiator})
}

// ListForJob returns the records attached to a job, newest first.
func (e *Engine) ListForJob(ctx context.Context, actor recruit.Actor, jobID string, initiator recruit.Initiator) ([]storage.Relationship, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, lookupErr("job", jobID, err)
	}
	if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, job.OwnerID) {
		return nil, fmt.Errorf("%w: relationships of job %s", recruit.ErrForbidden, jobID)
	}
	return e.list(ctx, storage.RelationshipFilter{JobID: jobID, Initiator: initiator})
}

// ListForCompany returns the records across every job owned by ownerID.
// An empty ownerID means the actor's own company.
func (e *Engine) ListForCompany(ctx context.Context, actor recruit.Actor, ownerID string, initiator recruit.Initiator) ([]storage.Relationship, error) {
	if ownerID == "" {
		ownerID = actor.ID
	}
	if !actor.IsAdmin() && !actor.Is(recruit.RoleCompany, ownerID) {
		return nil, fmt.Errorf("%w: relationships of company %s", recruit.ErrForbidden, ownerID)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: company owner is required", recruit.ErrBadRequest)
	}
	return e.list(ctx, storage.RelationshipFilter{OwnerID: ownerID, Initiator: initiator})
}

func (e *Engine) list(ctx context.Context, f storage.RelationshipFilter) ([]storage.Relationship, error) {
	out, err := e.store.ListRelationships(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	if out == nil {
		out = []storage.Relationship{}
	}
	return out, nil
}

// change describes one guarded transition. A zero from means any open status.
type change struct {
	verb      string
	allowed   func(recruit.Actor, storage.Relationship) bool
	from      recruit.Status
	to        recruit.Status
	tombstone bool
}

func (e *Engine) transition(ctx context.Context, actor recruit.Actor, id string, c change) (storage.Relationship, error) {
	var out storage.Relationship
	err := e.store.InTx(ctx, func(tx *storage.Tx) error {
		r, err := tx.GetRelationship(ctx, id)
		if err != nil {
			return lookupErr("relationship", id, err)
		}
		if !c.allowed(actor, r) {
			return fmt.Errorf("%w: cannot %s relationship %s", recruit.ErrForbidden, c.verb, id)
		}
		if !r.Status.Open() || (c.from != "" && r.Status != c.from) {
			return fmt.Errorf("%w: cannot %s relationship in status %s", recruit.ErrBadRequest, c.verb, r.Status)
		}

		now := e.clock.Now()
		err = tx.TransitionRelationship(ctx, storage.Transition{
			ID:        id,
			From:      r.Status,
			To:        c.to,
			By:        actor.ID,
			At:        now,
			Tombstone: c.tombstone,
		})
		if errors.Is(err, storage.ErrStale) {
			return fmt.Errorf("%w: relationship %s changed concurrently", recruit.ErrBadRequest, id)
		}
		if err != nil {
			return err
		}

		r.Status, r.UpdatedAt, r.UpdatedBy = c.to, now, actor.ID
		if c.tombstone {
			r.Deleted, r.DeletedAt = true, now
		}
		out = r
		return nil
	})
	if err != nil {
		return storage.Relationship{}, err
	}
	e.logger.Info("relationship updated", "id", id, "status", out.Status, "by", actor.ID)
	return out, nil
}

func isCandidate(a recruit.Actor, r storage.Relationship) bool {
	return a.Is(recruit.RoleCandidate, r.CandidateID)
}

func isCompany(a recruit.Actor, r storage.Relationship) bool {
	return a.Is(recruit.RoleCompany, r.JobOwnerID)
}

func isInitiator(a recruit.Actor, r storage.Relationship) bool {
	if r.Initiator == recruit.CandidateInitiated {
		return isCandidate(a, r)
	}
	return isCompany(a, r)
}

func isCounterparty(a recruit.Actor, r storage.Relationship) bool {
	if r.Initiator == recruit.CandidateInitiated {
		return isCompany(a, r)
	}
	return isCandidate(a, r)
}

func isParty(a recruit.Actor, r storage.Relationship) bool {
	return isCandidate(a, r) || isCompany(a, r)
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", recruit.ErrNotFound, kind, id)
	}
	return err
}
