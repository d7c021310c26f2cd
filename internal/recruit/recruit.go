// Package recruit holds the vocabulary shared by every layer of the
// recruiting core: roles, actors, relationship states and error kinds.
package recruit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of caller roles.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleCompany   Role = "company"
	RoleAdmin     Role = "admin"
)

// ParseRole maps a case-insensitive role name to a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleCandidate:
		return RoleCandidate, nil
	case RoleCompany:
		return RoleCompany, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrBadRequest, s)
}

// Actor is the identity driving an operation. It is resolved once per
// request and passed down explicitly.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Is reports whether the actor has the given role and user id.
func (a Actor) Is(role Role, id string) bool {
	return a.Role == role && a.ID != "" && a.ID == id
}

// Initiator records which side created a relationship.
type Initiator string

const (
	CandidateInitiated Initiator = "candidate"
	CompanyInitiated   Initiator = "company"
)

// ParseInitiator accepts "candidate", "company" and the original
// "application"/"invitation" aliases. An empty string is allowed and
// returned as-is so callers can treat it as "no filter".
func ParseInitiator(s string) (Initiator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "candidate", "application":
		return CandidateInitiated, nil
	case "company", "invitation":
		return CompanyInitiated, nil
	}
	return "", fmt.Errorf("%w: unknown initiator %q", ErrBadRequest, s)
}

// Status is the lifecycle state of a relationship record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReviewing Status = "reviewing"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Open reports whether the status still accepts transitions.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusReviewing
}

// Decision is the counterparty's answer.
func (s Status) Decision() bool {
	return s == StatusAccepted || s == StatusRejected
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
