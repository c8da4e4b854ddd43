package syncer

import "errors"

var (
	// ErrStartupUnreachable wraps probe failures; the process exits non-zero.
	ErrStartupUnreachable = errors.New("startup connectivity check failed")
	// ErrStatePersist wraps a failed save. The loop keeps running and retries
	// the save on the next cycle.
	ErrStatePersist = errors.New("state persist failed")
)
