package types

import "time"

// OutgoingRequestState is a state of OutgoingKeyRequest.
type OutgoingRequestState string

const (
	RequestUnsent                           OutgoingRequestState = "UNSENT"
	RequestSent                             OutgoingRequestState = "SENT"
	RequestSentThenCanceled                 OutgoingRequestState = "SENT_THEN_CANCELED"
	RequestCancellationPending              OutgoingRequestState = "CANCELLATION_PENDING"
	RequestCancellationPendingAndWillResend OutgoingRequestState = "CANCELLATION_PENDING_AND_WILL_RESEND"
)

// PendingStates are the only states eligible for request coalescing.
func PendingStates() []OutgoingRequestState {
	return []OutgoingRequestState{
		RequestUnsent,
		RequestCancellationPending,
		RequestCancellationPendingAndWillResend,
	}
}

// IsPending reports whether s is one of PendingStates.
func (s OutgoingRequestState) IsPending() bool {
	for _, p := range PendingStates() {
		if s == p {
			return true
		}
	}
	return false
}

// WithheldCode explains an explicit refusal to share a key.
type WithheldCode string

const (
	WithheldBlacklisted  WithheldCode = "m.blacklisted"
	WithheldUnverified   WithheldCode = "m.unverified"
	WithheldUnauthorised WithheldCode = "m.unauthorised"
	WithheldUnavailable  WithheldCode = "m.unavailable"
	WithheldNoOlm        WithheldCode = "m.no_olm"
)

// RequestKind separates room-key requests from secret requests, which share
// the same state machine.
type RequestKind string

const (
	KindRoomKey RequestKind = "room_key"
	KindSecret  RequestKind = "secret"
)

// RequestResult is either a success carrying the chain index the key was
// shared from, or a withheld failure.
type RequestResult struct {
	Success    bool         `json:"success"`
	ChainIndex uint32       `json:"chain_index,omitempty"`
	Code       WithheldCode `json:"code,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// RequestReply records one answer from one device. Replies are appended,
// never overwritten.
type RequestReply struct {
	UserID     UserID        `json:"user_id"`
	FromDevice DeviceID      `json:"from_device"`
	Result     RequestResult `json:"result"`
	ReceivedAt time.Time     `json:"received_at"`
}

// OutgoingKeyRequest tracks one request for a missing room key or secret.
type OutgoingKeyRequest struct {
	RequestID  string                `json:"request_id"`
	Kind       RequestKind           `json:"kind"`
	RoomID     RoomID                `json:"room_id,omitempty"`
	SessionID  SessionID             `json:"session_id,omitempty"`
	SenderKey  Curve25519            `json:"sender_key,omitempty"`
	Algorithm  Algorithm             `json:"algorithm,omitempty"`
	SecretName string                `json:"secret_name,omitempty"`
	Recipients map[UserID][]DeviceID `json:"recipients"`
	FromIndex  uint32                `json:"from_index"`
	State      OutgoingRequestState  `json:"state"`
	Results    []RequestReply        `json:"results,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

// IsRecipient reports whether (user, device) was asked.
func (r *OutgoingKeyRequest) IsRecipient(user UserID, device DeviceID) bool {
	for _, d := range r.Recipients[user] {
		if d == device {
			return true
		}
	}
	return false
}
