package types

import "time"

// InboundGroupSession is a Megolm session we can decrypt with. It is
// immutable once created except for forwarding-chain entries appended when
// the session is relayed through intermediate devices.
type InboundGroupSession struct {
	SessionID         SessionID               `json:"session_id"`
	RoomID            RoomID                  `json:"room_id"`
	SenderKey         Curve25519              `json:"sender_key"`
	SenderClaimedKeys map[KeyAlgorithm]string `json:"sender_claimed_keys"`
	ForwardingChain   []Curve25519            `json:"forwarding_chain,omitempty"`
	FirstKnownIndex   uint32                  `json:"first_known_index"`
	// SessionKey is the unsigned export form of the ratchet at FirstKnownIndex.
	SessionKey string    `json:"session_key"`
	ReceivedAt time.Time `json:"received_at"`
}

// ClaimedEd25519 returns the Ed25519 key the sender claims to own.
func (s *InboundGroupSession) ClaimedEd25519() Ed25519 {
	return Ed25519(s.SenderClaimedKeys[KeyAlgorithmEd25519])
}

// OutboundGroupSession is the sending half of one of our room sessions.
type OutboundGroupSession struct {
	RoomID       RoomID    `json:"room_id"`
	SessionID    SessionID `json:"session_id"`
	Pickle       string    `json:"pickle"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
	Discarded    bool      `json:"discarded,omitempty"`
	// SharedWith records the devices that already received the room key.
	SharedWith map[UserID]map[DeviceID]uint32 `json:"shared_with,omitempty"`
}

// ExportedSession is one record of an encrypted key export bundle.
type ExportedSession struct {
	Algorithm         Algorithm               `json:"algorithm"`
	RoomID            RoomID                  `json:"room_id"`
	SessionID         SessionID               `json:"session_id"`
	SenderKey         Curve25519              `json:"sender_key"`
	SenderClaimedKeys map[KeyAlgorithm]string `json:"sender_claimed_keys"`
	ForwardingChain   []Curve25519            `json:"forwarding_curve25519_key_chain"`
	SessionKey        string                  `json:"session_key"`
}

// EncryptedEvent is an m.room.encrypted event using Megolm.
type EncryptedEvent struct {
	EventID    string     `json:"event_id,omitempty"`
	RoomID     RoomID     `json:"room_id"`
	Sender     UserID     `json:"sender,omitempty"`
	Algorithm  Algorithm  `json:"algorithm"`
	SenderKey  Curve25519 `json:"sender_key"`
	DeviceID   DeviceID   `json:"device_id,omitempty"`
	SessionID  SessionID  `json:"session_id"`
	Ciphertext string     `json:"ciphertext"`
}

// PlainEvent is the result of decrypting an EncryptedEvent.
type PlainEvent struct {
	Type              string                  `json:"type"`
	RoomID            RoomID                  `json:"room_id"`
	Content           map[string]any          `json:"content"`
	SenderKey         Curve25519              `json:"-"`
	SenderClaimedKeys map[KeyAlgorithm]string `json:"-"`
	ForwardingChain   []Curve25519            `json:"-"`
	MessageIndex      uint32                  `json:"-"`
}
