package models

// transitionTable is the single source of truth for legal order status
// transitions. Every caller that wants to change an order's status must go
// through ValidateTransition before writing; no call site carries its own
// rules.
//
// The payment_failed <-> pending_fulfillment pair is the one intentional
// cycle in the machine: a failed charge parks the order in payment_failed,
// and a customer supplying a new payment method inside the grace window
// moves it back to pending_fulfillment.
var transitionTable = map[OrderStatus][]OrderStatus{
	StatusDraft: {
		StatusPendingFulfillment, // saga finalize
		StatusCancelled,          // saga compensation
	},
	StatusPendingFulfillment: {
		StatusInProgress,
		StatusAwaitingConfirmation,
		StatusPaymentFailed,
		StatusCompleted,
		StatusCancelled,
	},
	StatusInProgress: {
		StatusAwaitingConfirmation,
		StatusPaymentFailed,
		StatusCompleted,
		StatusCancelled,
	},
	StatusAwaitingConfirmation: {
		StatusPaymentFailed,
		StatusCompleted,
		StatusCancelled,
	},
	StatusPaymentFailed: {
		StatusPendingFulfillment, // new payment method within grace window
		StatusCancelled,          // grace deadline elapsed
	},
	// Terminal states have no outgoing transitions.
	StatusCompleted: {},
	StatusCancelled: {},
}

// IsTerminal reports whether status admits no further transitions.
func IsTerminal(status OrderStatus) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// CanTransition reports whether current -> next is a legal status change.
func CanTransition(current, next OrderStatus) bool {
	allowed, ok := transitionTable[current]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransitionError if current -> next is
// not in the transition table. It is pure: callers read the order, compute
// the next status, validate, and only then perform the version-checked write.
func ValidateTransition(current, next OrderStatus) error {
	if !CanTransition(current, next) {
		return &InvalidTransitionError{From: current, To: next}
	}
	return nil
}
