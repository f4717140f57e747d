package types

import "encoding/json"

// To-device event types exchanged by the gossip engine.
const (
	EventRoomKey          = "m.room_key"
	EventForwardedRoomKey = "m.forwarded_room_key"
	EventRoomKeyRequest   = "m.room_key_request"
	EventRoomKeyWithheld  = "m.room_key.withheld"
	EventSecretRequest    = "m.secret.request"
	EventSecretSend       = "m.secret.send"
)

// Request actions.
const (
	ActionRequest             = "request"
	ActionRequestCancellation = "request_cancellation"
)

// RoomKeyContent is the body of m.room_key.
type RoomKeyContent struct {
	Algorithm  Algorithm `json:"algorithm"`
	RoomID     RoomID    `json:"room_id"`
	SessionID  SessionID `json:"session_id"`
	SessionKey string    `json:"session_key"`
}

// RequestedKeyInfo names the session a request is for.
type RequestedKeyInfo struct {
	Algorithm Algorithm  `json:"algorithm"`
	RoomID    RoomID     `json:"room_id"`
	SenderKey Curve25519 `json:"sender_key"`
	SessionID SessionID  `json:"session_id"`
}

// RoomKeyRequestContent is the body of m.room_key_request.
type RoomKeyRequestContent struct {
	Action             string            `json:"action"`
	Body               *RequestedKeyInfo `json:"body,omitempty"`
	RequestingDeviceID DeviceID          `json:"requesting_device_id"`
	RequestID          string            `json:"request_id"`
}

// ForwardedRoomKeyContent is the body of m.forwarded_room_key.
type ForwardedRoomKeyContent struct {
	Algorithm          Algorithm    `json:"algorithm"`
	RoomID             RoomID       `json:"room_id"`
	SenderKey          Curve25519   `json:"sender_key"`
	SessionID          SessionID    `json:"session_id"`
	SessionKey         string       `json:"session_key"`
	SenderClaimedKey   Ed25519      `json:"sender_claimed_ed25519_key"`
	ForwardingKeyChain []Curve25519 `json:"forwarding_curve25519_key_chain"`
}

// WithheldContent is the body of m.room_key.withheld.
type WithheldContent struct {
	Algorithm Algorithm    `json:"algorithm"`
	RoomID    RoomID       `json:"room_id,omitempty"`
	SessionID SessionID    `json:"session_id,omitempty"`
	SenderKey Curve25519   `json:"sender_key"`
	Code      WithheldCode `json:"code"`
	Reason    string       `json:"reason,omitempty"`
}

// SecretRequestContent is the body of m.secret.request.
type SecretRequestContent struct {
	Action             string   `json:"action"`
	Name               string   `json:"name,omitempty"`
	RequestingDeviceID DeviceID `json:"requesting_device_id"`
	RequestID          string   `json:"request_id"`
}

// SecretSendContent is the body of m.secret.send.
type SecretSendContent struct {
	RequestID string `json:"request_id"`
	Secret    string `json:"secret"`
}

// Well-known secret names.
const (
	SecretCrossSigningMaster      = "m.cross_signing.master"
	SecretCrossSigningSelfSigning = "m.cross_signing.self_signing"
	SecretCrossSigningUserSigning = "m.cross_signing.user_signing"
	SecretMegolmBackup            = "m.megolm_backup.v1"
)

// ToDeviceEvent is one inbound to-device message after Olm decryption by
// the transport collaborator.
type ToDeviceEvent struct {
	Sender    UserID          `json:"sender"`
	SenderKey Curve25519      `json:"sender_key"`
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
}
