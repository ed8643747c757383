package safety

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

// Domain errors. Callers branch on them with errors.Is.
var (
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrForbidden              = errors.New("forbidden")
	ErrConflictingActiveEvent = errors.New("an sos event is already active")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrMaxEscalationReached   = errors.New("maximum escalation level reached")
	ErrZoneDataInvalid        = geo.ErrZoneDataInvalid
	ErrEvidenceUploadFailed   = errors.New("evidence upload failed")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
)

// ErrStale is returned by a Store when a compare-and-set precondition no
// longer holds.
var ErrStale = errors.New("stale write")

// StorageError wraps a persistence or transport failure so it is never
// mistaken for a domain error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage returns nil for nil err, passes domain errors through and
// wraps everything else in a StorageError.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomain reports whether err is one of the domain sentinels.
func IsDomain(err error) bool {
	for _, d := range []error{
		ErrRateLimitExceeded, ErrNotAuthenticated, ErrForbidden, ErrConflictingActiveEvent,
		ErrInvalidTransition, ErrMaxEscalationReached, ErrZoneDataInvalid,
		ErrEvidenceUploadFailed, ErrNotFound, ErrInvalidInput, ErrStale,
	} {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
