package interfaces

import (
	"context"

	domaintypes "cipherlink/internal/domain/types"
)

// TrustService is the part of the trust store other components consult.
type TrustService interface {
	GetDevice(user domaintypes.UserID, device domaintypes.DeviceID) (*domaintypes.Device, bool, error)
	IsDeviceVerified(device *domaintypes.Device) (bool, error)
	SetDeviceVerification(level domaintypes.TrustLevel, user domaintypes.UserID, device domaintypes.DeviceID) error
	MarkMasterKeyVerified(user domaintypes.UserID, observed domaintypes.Ed25519) error
	GetCrossSigningKeys(user domaintypes.UserID) (domaintypes.CrossSigningKeys, error)
	ApplyKeysQuery(resp *domaintypes.KeysQueryResponse) error
	ListDevices(user domaintypes.UserID) ([]*domaintypes.Device, error)
	FindDeviceByIdentityKey(
		user domaintypes.UserID,
		key domaintypes.Curve25519,
	) (*domaintypes.Device, bool, error)
}

// GroupSessionService is the part of the group session manager the gossip
// engine uses to supply and import keys.
type GroupSessionService interface {
	GetInboundSession(
		senderKey domaintypes.Curve25519,
		sessionID domaintypes.SessionID,
	) (*domaintypes.InboundGroupSession, bool, error)
	ExportSession(session *domaintypes.InboundGroupSession) (domaintypes.ExportedSession, error)
	ImportSessions(ctx context.Context, sessions []domaintypes.ExportedSession) (int, error)
}

// KeyRequester is notified when a message arrives for a session we lack.
type KeyRequester interface {
	RequestRoomKey(ctx context.Context, info domaintypes.RequestedKeyInfo) (*domaintypes.OutgoingKeyRequest, error)
}

// SecretRequester asks our other devices for missing secrets.
type SecretRequester interface {
	RequestSecrets(ctx context.Context, names []string) ([]*domaintypes.OutgoingKeyRequest, error)
}

// AccountService creates and opens this device's identity.
type AccountService interface {
	CreateAccount(
		passphrase string,
		user domaintypes.UserID,
		device domaintypes.DeviceID,
	) (domaintypes.Account, domaintypes.Fingerprint, error)
	LoadAccount(passphrase string) (domaintypes.Account, error)
	DeviceKeys(account domaintypes.Account) (domaintypes.DeviceKeysJSON, error)
}
