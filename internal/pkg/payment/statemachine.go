package payment

import "github.com/vutran/payrec/app/models"

// TransitionOutcome classifies what a requested status change is allowed
// to do to a payment row.
type TransitionOutcome int

const (
	// TransitionApply performs the pending -> terminal transition.
	TransitionApply TransitionOutcome = iota
	// TransitionNoop leaves the row untouched; the requested status is
	// already the current one.
	TransitionNoop
	// TransitionConflict means a terminal row disagrees with the request.
	// The row is never overwritten; the event is flagged for reconciliation.
	TransitionConflict
)

// EvaluateTransition applies the state machine rules for gateway-driven
// transitions: pending may move to any terminal state, terminal states are
// immutable. The reconciliation correction path is the only exception and
// is handled separately (see Service.ApplyCorrection).
func EvaluateTransition(current, target string) TransitionOutcome {
	if current == target {
		return TransitionNoop
	}
	if models.IsTerminalStatus(current) {
		return TransitionConflict
	}
	return TransitionApply
}
