package attempt

import "errors"

// Business-rule errors surfaced synchronously to the caller. None of these
// are retryable; only transient storage failures are.
var (
	ErrQuizNotFound           = errors.New("quiz not found")
	ErrAttemptNotFound        = errors.New("attempt not found")
	ErrAttemptLimitExceeded   = errors.New("attempt limit exceeded")
	ErrAttemptAlreadyActive   = errors.New("an active attempt already exists for this quiz")
	ErrEmptyAttempt           = errors.New("attempt has no answers")
	ErrInvalidStateTransition = errors.New("invalid attempt state transition")
	ErrStaleQuizDefinition    = errors.New("quiz definition changed since attempt start")
	ErrValidation             = errors.New("invalid answer payload")
)
