package workflow

import "fmt"

// Every error names the entity and the invariant that was violated, so a
// caller can decide whether to retry, correct its input, or escalate. The
// engine never retries internally; only ConflictError is safe to retry as-is.

// ValidationError reports malformed or schema-violating input. It is always
// client-correctable.
type ValidationError struct {
	Entity string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Entity, e.Detail)
}

// IllegalTransitionError reports an image state machine violation. It
// indicates a logic bug or stale client state; the entity is left unchanged.
type IllegalTransitionError struct {
	Entity string
	ID     uint
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s %d: illegal transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// InvalidStateError reports an operation attempted against an entity whose
// current state does not permit it (e.g. assigning a batch that is not ready).
type InvalidStateError struct {
	Entity string
	ID     uint
	State  string
	Detail string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d is %s: %s", e.Entity, e.ID, e.State, e.Detail)
}

// CapacityExceededError reports that an annotator already holds their maximum
// number of concurrent assignments. Retryable once capacity frees up.
type CapacityExceededError struct {
	AnnotatorID uint
	Limit       int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("annotator %d already holds %d active assignment(s)", e.AnnotatorID, e.Limit)
}

// ConflictError reports a lost concurrency race. The operation had no effect
// and is safe to retry.
type ConflictError struct {
	Entity string
	ID     uint
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d: conflict: %s", e.Entity, e.ID, e.Detail)
}

// NotFoundError reports that a referenced entity is absent, deactivated, or
// not visible to the caller.
type NotFoundError struct {
	Entity string
	ID     uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// AlreadyDecidedError reports a double-decision attempt on an annotation that
// already carries a terminal verification.
type AlreadyDecidedError struct {
	AnnotationID   uint
	VerificationID uint
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("annotation %d already decided by verification %d", e.AnnotationID, e.VerificationID)
}

// ForbiddenError reports that the caller's role does not permit the
// operation, or that the caller is not the party the operation belongs to.
type ForbiddenError struct {
	UserID uint
	Detail string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %d: forbidden: %s", e.UserID, e.Detail)
}

// ProcessingError reports a pose-estimation failure for an image. The engine
// records it and moves on; retry/backoff is external tooling's concern.
type ProcessingError struct {
	ImageID uint
	Detail  string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("image %d: preprocessing failed: %s", e.ImageID, e.Detail)
}
