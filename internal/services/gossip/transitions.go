package gossip

import (
	"fmt"

	"cipherlink/internal/domain"
)

// Input is what happened to a request.
type Input string

const (
	// InputDispatched means the request was delivered to every recipient.
	InputDispatched Input = "dispatched"
	// InputNoLongerNeeded means the key or secret arrived by other means.
	InputNoLongerNeeded Input = "no_longer_needed"
	// InputCancel revokes a request already sent.
	InputCancel Input = "cancel"
	// InputResend asks again while a cancellation is still in flight.
	InputResend Input = "resend"
)

var transitions = map[domain.OutgoingRequestState]map[Input]domain.OutgoingRequestState{
	domain.RequestUnsent: {
		InputDispatched: domain.RequestSent,
	},
	domain.RequestSent: {
		InputNoLongerNeeded: domain.RequestSentThenCanceled,
		InputCancel:         domain.RequestCancellationPending,
	},
	domain.RequestCancellationPending: {
		InputResend: domain.RequestCancellationPendingAndWillResend,
	},
	domain.RequestCancellationPendingAndWillResend: {
		InputDispatched: domain.RequestSent,
	},
}

// Transition returns the state reached from `from` on in.
func Transition(from domain.OutgoingRequestState, in Input) (domain.OutgoingRequestState, error) {
	if to, ok := transitions[from][in]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, in)
}

// Allowed reports whether from -> to is an edge of the state machine.
func Allowed(from, to domain.OutgoingRequestState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
