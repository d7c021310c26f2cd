package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/jobmatch/internal/recruit"
)

const relationshipSelect = `SELECT r.id, r.candidate_id, r.job_id, r.initiator, r.status,
	r.created_at, r.updated_at, r.updated_by, r.deleted, r.deleted_at,
	COALESCE(j.title, ''), COALESCE(c.owner_id, '')
	FROM relationships r
	LEFT JOIN jobs j ON j.id = r.job_id
	LEFT JOIN companies c ON c.id = j.company_id`

// InsertRelationship stores a new record. A second active record for the
// same (candidate, job) pair fails with ErrConflict.
func (q queries) InsertRelationship(ctx context.Context, r Relationship) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO relationships (id, candidate_id, job_id, initiator, status, created_at, updated_at, updated_by, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		r.ID, r.CandidateID, r.JobID, string(r.Initiator), string(r.Status),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), r.UpdatedBy,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return nil
}

// GetRelationship returns a non-tombstoned record.
func (q queries) GetRelationship(ctx context.Context, id string) (Relationship, error) {
	return q.relationshipByID(ctx, id, false)
}

func (q queries) relationshipByID(ctx context.Context, id string, includeDeleted bool) (Relationship, error) {
	query := relationshipSelect + ` WHERE r.id = ?`
	if !includeDeleted {
		query += ` AND r.deleted = 0`
	}
	r, err := scanRelationship(q.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Relationship{}, ErrNotFound
	}
	return r, err
}

// FindActiveRelationship returns the non-tombstoned record for a pair.
func (q queries) FindActiveRelationship(ctx context.Context, candidateID, jobID string) (Relationship, error) {
	r, err := scanRelationship(q.q.QueryRowContext(ctx,
		relationshipSelect+` WHERE r.candidate_id = ? AND r.job_id = ? AND r.deleted = 0`, candidateID, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return Relationship{}, ErrNotFound
	}
	return r, err
}

// RelationshipFilter narrows ListRelationships. Empty fields do not filter.
type RelationshipFilter struct {
	CandidateID string
	JobID       string
	OwnerID     string // company owner of the job
	Initiator   recruit.Initiator
}

// ListRelationships returns non-tombstoned records, newest first.
func (q queries) ListRelationships(ctx context.Context, f RelationshipFilter) ([]Relationship, error) {
	where := []string{"r.deleted = 0"}
	var args []any
	if f.CandidateID != "" {
		where = append(where, "r.candidate_id = ?")
		args = append(args, f.CandidateID)
	}
	if f.JobID != "" {
		where = append(where, "r.job_id = ?")
		args = append(args, f.JobID)
	}
	if f.OwnerID != "" {
		where = append(where, "c.owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Initiator != "" {
		where = append(where, "r.initiator = ?")
		args = append(args, string(f.Initiator))
	}

	rows, err := q.q.QueryContext(ctx, relationshipSelect+` WHERE `+strings.Join(where, " AND ")+
		` ORDER BY r.created_at DESC, r.rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transition describes a guarded status change.
type Transition struct {
	ID        string
	From      recruit.Status
	To        recruit.Status
	By        string
	At        time.Time
	Tombstone bool
}

// TransitionRelationship applies t only if the record is still active and
// in t.From. Otherwise it returns ErrStale.
func (q queries) TransitionRelationship(ctx context.Context, t Transition) error {
	at := formatTime(t.At)
	var deletedAt any
	if t.Tombstone {
		deletedAt = at
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE relationships
		SET status = ?, updated_at = ?, updated_by = ?,
			deleted = CASE WHEN ? = 1 THEN 1 ELSE deleted END,
			deleted_at = COALESCE(?, deleted_at)
		WHERE id = ? AND status = ? AND deleted = 0`,
		string(t.To), at, t.By, boolInt(t.Tombstone), deletedAt, t.ID, string(t.From),
	)
	if err != nil {
		return fmt.Errorf("updating relationship %s: %w", t.ID, err)
	}
	return affectedOne(res, ErrStale)
}

// TombstoneRelationship soft-deletes an active record without changing its status.
func (q queries) TombstoneRelationship(ctx context.Context, id, by string, at time.Time) error {
	ts := formatTime(at)
	res, err := q.q.ExecContext(ctx, `
		UPDATE relationships SET deleted = 1, deleted_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ? AND deleted = 0`, ts, ts, by, id)
	if err != nil {
		return fmt.Errorf("tombstoning relationship %s: %w", id, err)
	}
	return affectedOne(res, ErrStale)
}

func scanRelationship(s scanner) (Relationship, error) {
	var r Relationship
	var initiator, status, createdAt, updatedAt string
	var deleted int
	var deletedAt sql.NullString
	if err := s.Scan(&r.ID, &r.CandidateID, &r.JobID, &initiator, &status,
		&createdAt, &updatedAt, &r.UpdatedBy, &deleted, &deletedAt,
		&r.JobTitle, &r.JobOwnerID); err != nil {
		return Relationship{}, err
	}
	r.Initiator = recruit.Initiator(initiator)
	r.Status = recruit.Status(status)
	r.Deleted = deleted != 0

	var err error
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Relationship{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Relationship{}, err
	}
	if r.DeletedAt, err = nullTime(deletedAt); err != nil {
		return Relationship{}, err
	}
	return r, nil
}
