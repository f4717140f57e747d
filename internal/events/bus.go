// Package events is the publish/subscribe component that services use to
// announce state changes. Subscribers register explicitly and stop receiving
// events once they call the returned unsubscribe function.
package events

import (
	"sync"

	"cipherlink/internal/domain"
)

// Event is any value published on a Bus.
type Event interface {
	EventName() string
}

// DeviceChanged is published after a device record is created or updated.
type DeviceChanged struct {
	UserID   domain.UserID
	DeviceID domain.DeviceID
}

// CrossSigningKeyChanged is published after a cross-signing key or its trust changes.
type CrossSigningKeyChanged struct {
	UserID domain.UserID
	Usage  domain.KeyUsage
}

// SessionImported is published when an inbound group session is stored.
type SessionImported struct {
	RoomID          domain.RoomID
	SenderKey       domain.Curve25519
	SessionID       domain.SessionID
	FirstKnownIndex uint32
}

// RequestStateChanged is published on every outgoing request transition.
type RequestStateChanged struct {
	RequestID string
	From      domain.OutgoingRequestState
	To        domain.OutgoingRequestState
}

// RequestReplyReceived is published when a reply is appended to a request.
type RequestReplyReceived struct {
	RequestID string
	Reply     domain.RequestReply
}

func (DeviceChanged) EventName() string          { return "device_changed" }
func (CrossSigningKeyChanged) EventName() string { return "cross_signing_key_changed" }
func (SessionImported) EventName() string        { return "session_imported" }
func (RequestStateChanged) EventName() string    { return "request_state_changed" }
func (RequestReplyReceived) EventName() string   { return "request_reply_received" }

// Bus delivers events synchronously to every current subscriber, in
// subscription order. A nil *Bus drops everything.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewBus returns an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers fn and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish hands e to each subscriber. Subscribers may call Subscribe or an
// unsubscribe function from inside their handler.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}
