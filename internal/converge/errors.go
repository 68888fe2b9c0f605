package converge

import "errors"

var (
	// ErrReentryViolation is returned when a record awaiting its re-review is
	// queried instead of re-dispatched. The only legal call is Review.
	ErrReentryViolation = errors.New("reentry violation: a fix is pending and the next round has not run")

	// ErrEscalationRequired is returned by Review for a STALLED record.
	ErrEscalationRequired = errors.New("escalation required")

	// ErrNotStalled is returned when a resolution targets a record that is not STALLED.
	ErrNotStalled = errors.New("record is not stalled")

	// ErrInvalidLimit is returned when a raised limit does not exceed the current one.
	ErrInvalidLimit = errors.New("new max rounds must exceed the current limit")

	// ErrWorkflowHalted is returned by Review for a key whose review was aborted.
	ErrWorkflowHalted = errors.New("workflow halted: review was aborted")

	// ErrNotAborted is returned by Reset for a review that was not aborted.
	ErrNotAborted = errors.New("review was not aborted")
)
