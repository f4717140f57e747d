package gossip

import "errors"

var (
	// ErrInvalidTransition is returned for a state change outside the table.
	ErrInvalidTransition = errors.New("gossip: invalid request state transition")
	// ErrUnknownRequest is returned for operations on a request id we do not hold.
	ErrUnknownRequest = errors.New("gossip: unknown request")
	// ErrNoRecipients is returned when none of our other devices is known.
	ErrNoRecipients = errors.New("gossip: no own devices to ask")
	// ErrUntrustedSender is returned for keys or secrets from a device we do
	// not accept them from.
	ErrUntrustedSender = errors.New("gossip: sender is not a verified own device")
)
