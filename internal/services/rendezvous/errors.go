package rendezvous

import (
	"errors"
	"fmt"
)

// Reason classifies why a ceremony ended without success.
type Reason string

const (
	ReasonUserDeclined               Reason = "UserDeclined"
	ReasonOtherDeviceNotSignedIn     Reason = "OtherDeviceNotSignedIn"
	ReasonOtherDeviceAlreadySignedIn Reason = "OtherDeviceAlreadySignedIn"
	ReasonUnknown                    Reason = "Unknown"
	ReasonExpired                    Reason = "Expired"
	ReasonUserCancelled              Reason = "UserCancelled"
	ReasonInvalidCode                Reason = "InvalidCode"
	ReasonUnsupportedAlgorithm       Reason = "UnsupportedAlgorithm"
	ReasonUnsupportedTransport       Reason = "UnsupportedTransport"
	ReasonUnsupportedHomeserver      Reason = "UnsupportedHomeserver"
	ReasonUnsupportedProtocol        Reason = "UnsupportedProtocol"
	ReasonE2EESecurityIssue          Reason = "E2EESecurityIssue"
)

// ErrExpired is returned by transports when the relay no longer knows the
// channel.
var ErrExpired = errors.New("rendezvous: channel expired")

// Error is a terminal ceremony failure.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rendezvous: %s: %v", e.Reason, e.Err)
	}
	return "rendezvous: " + string(e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason && t.Err == nil
}

func fail(reason Reason, err error) *Error { return &Error{Reason: reason, Err: err} }

// ReasonOf returns the Reason of err, or ReasonUnknown when err is not an
// *Error.
func ReasonOf(err error) Reason {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Reason
	}
	return ReasonUnknown
}
