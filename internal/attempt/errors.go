package attempt

import "errors"

// Sentinel errors returned by the controller and its parts.
var (
	ErrNotActive          = errors.New("attempt is not active")
	ErrAttemptFinished    = errors.New("attempt is already finished")
	ErrAttemptDismissed   = errors.New("attempt was dismissed")
	ErrNotCompleted       = errors.New("attempt has no result to dismiss")
	ErrNoTimingSource     = errors.New("exam has no timing source")
	ErrNoQuestions        = errors.New("exam has no questions")
	ErrUnknownQuestion    = errors.New("question is not part of this attempt")
	ErrSubmitFailed       = errors.New("submission failed, answers kept")
	ErrMalformedResult    = errors.New("malformed submission result")
	ErrRecorderBusy       = errors.New("another recorder is already open")
	ErrRecorderState      = errors.New("recorder action not allowed in current state")
	ErrPermissionDenied   = errors.New("device permission denied")
	ErrRecorderClosed     = errors.New("recorder is closed")
	ErrNoUploader         = errors.New("recorded answers are not enabled")
	ErrInvalidTransition  = errors.New("invalid attempt transition")
	ErrControllerShutdown = errors.New("attempt controller is closed")
	ErrStoreUnavailable   = errors.New("attempt store unavailable")
)
