package interfaces

import domaintypes "cipherlink/internal/domain/types"

// AccountStore persists this device's long-term identity keys.
type AccountStore interface {
	SaveAccount(passphrase string, account domaintypes.Account) error
	LoadAccount(passphrase string) (domaintypes.Account, bool, error)
}

// DeviceStore persists device identities keyed by (user, device).
type DeviceStore interface {
	GetDevice(user domaintypes.UserID, device domaintypes.DeviceID) (*domaintypes.Device, bool, error)
	PutDevice(device *domaintypes.Device) error
	ListDevices(user domaintypes.UserID) ([]*domaintypes.Device, error)
	DeleteDevice(user domaintypes.UserID, device domaintypes.DeviceID) error
}

// CrossSigningStore persists the authoritative cross-signing key per usage.
type CrossSigningStore interface {
	GetCrossSigningKey(
		user domaintypes.UserID,
		usage domaintypes.KeyUsage,
	) (*domaintypes.CrossSigningRecord, bool, error)
	PutCrossSigningKey(record *domaintypes.CrossSigningRecord) error
}

// InboundSessionStore persists inbound Megolm sessions keyed by
// (sender key, session id), plus the consumed message indexes used for
// replay detection.
type InboundSessionStore interface {
	GetInboundSession(
		senderKey domaintypes.Curve25519,
		sessionID domaintypes.SessionID,
	) (*domaintypes.InboundGroupSession, bool, error)
	PutInboundSession(session *domaintypes.InboundGroupSession) error
	ListInboundSessions() ([]*domaintypes.InboundGroupSession, error)
	DeleteInboundSessionsBySender(senderKey domaintypes.Curve25519) (int, error)

	// MarkIndexConsumed records index as consumed and reports whether it
	// had already been consumed before this call.
	MarkIndexConsumed(
		senderKey domaintypes.Curve25519,
		sessionID domaintypes.SessionID,
		index uint32,
		eventID string,
	) (alreadyConsumed bool, err error)
}

// OutboundSessionStore persists our sending sessions, one per room.
type OutboundSessionStore interface {
	GetOutboundSession(room domaintypes.RoomID) (*domaintypes.OutboundGroupSession, bool, error)
	PutOutboundSession(session *domaintypes.OutboundGroupSession) error
	DeleteOutboundSession(room domaintypes.RoomID) error
}

// OutgoingRequestStore persists the gossip engine's request table.
type OutgoingRequestStore interface {
	GetOutgoingRequest(requestID string) (*domaintypes.OutgoingKeyRequest, bool, error)
	PutOutgoingRequest(request *domaintypes.OutgoingKeyRequest) error
	DeleteOutgoingRequest(requestID string) error
	ListOutgoingRequests() ([]*domaintypes.OutgoingKeyRequest, error)
}

// SecretStore keeps secrets received through secret gossip.
type SecretStore interface {
	PutSecret(name string, value string) error
	GetSecret(name string) (string, bool, error)
}
