package domain

import "errors"

// Error taxonomy (sentinels). Callers wrap these with fmt.Errorf("%w: …")
// and the edge translates them into responses.
var (
	// ErrValidation marks a malformed message or missing required field.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced job, worker, or workflow that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleUpdate marks a progress or completion report from a non-owner
	// or against a terminal job. The worker should stop processing.
	ErrStaleUpdate = errors.New("stale update")
	// ErrCapabilityMismatch marks a claim for a service the worker does not
	// advertise. The claim script filters these; seeing one is a logged anomaly.
	ErrCapabilityMismatch = errors.New("capability mismatch")
	// ErrTransient marks a store RPC timeout or connection blip. Callers
	// retry at most once before surfacing it.
	ErrTransient = errors.New("transient store error")
	// ErrQuotaExceeded marks a retry limit hit; the job goes terminal failed.
	ErrQuotaExceeded = errors.New("retry quota exceeded")
	// ErrTimeout marks a job that exceeded its timeout budget.
	ErrTimeout = errors.New("job timeout")
	// ErrCancelled marks a cancelled job.
	ErrCancelled = errors.New("job cancelled")
	// ErrInternal marks an invariant violation the recovery supervisor
	// could not repair.
	ErrInternal = errors.New("internal error")
)
