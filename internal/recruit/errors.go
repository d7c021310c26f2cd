package recruit

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
	ErrExternal   = errors.New("external service failure")
)

// ErrNotRankable is returned when a suggestion is requested for an entity
// whose embedding has not been generated yet.
var ErrNotRankable = &notRankableError{}

type notRankableError struct{}

func (*notRankableError) Error() string { return "not yet rankable: no embedding" }

func (*notRankableError) Is(target error) bool { return target == ErrBadRequest }
