package store

import (
	"strconv"

	"cipherlink/internal/domain"
)

const (
	bucketInbound  = "inbound_sessions"
	// Consumed indexes live in one bucket per session so that recording a
	// decrypt copies only that session's indexes on commit.
	bucketConsumed = "consumed_indexes/"
	bucketOutbound = "outbound_sessions"
)

// InboundSessionKVStore persists inbound Megolm sessions and the message
// indexes already decrypted with them.
type InboundSessionKVStore struct {
	kv KV
}

// NewInboundSessionKVStore returns an InboundSessionKVStore over kv.
func NewInboundSessionKVStore(kv KV) *InboundSessionKVStore {
	return &InboundSessionKVStore{kv: kv}
}

func inboundKey(senderKey domain.Curve25519, sessionID domain.SessionID) string {
	return compositeKey(senderKey.String(), sessionID.String())
}

func (s *InboundSessionKVStore) GetInboundSession(
	senderKey domain.Curve25519,
	sessionID domain.SessionID,
) (*domain.InboundGroupSession, bool, error) {
	var sess domain.InboundGroupSession
	var ok bool
	err := s.kv.View(func(t Tx) (err error) {
		ok, err = getJSON(t, bucketInbound, inboundKey(senderKey, sessionID), &sess)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &sess, true, nil
}

func consumedBucket(senderKey domain.Curve25519, sessionID domain.SessionID) string {
	return bucketConsumed + inboundKey(senderKey, sessionID)
}

// PutInboundSession stores session and drops consumed indexes below its
// first known index, which it can no longer decrypt.
func (s *InboundSessionKVStore) PutInboundSession(session *domain.InboundGroupSession) error {
	return s.kv.Update(func(t Tx) error {
		if err := putJSON(t, bucketInbound, inboundKey(session.SenderKey, session.SessionID), session); err != nil {
			return err
		}
		if session.FirstKnownIndex == 0 {
			return nil
		}
		bucket := consumedBucket(session.SenderKey, session.SessionID)
		var stale []string
		err := t.ForEach(bucket, "", func(k string, _ []byte) error {
			idx, err := strconv.ParseUint(k, 10, 32)
			if err == nil && uint32(idx) < session.FirstKnownIndex {
				stale = append(stale, k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := t.Delete(bucket, k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *InboundSessionKVStore) ListInboundSessions() ([]*domain.InboundGroupSession, error) {
	var out []*domain.InboundGroupSession
	err := s.kv.View(func(t Tx) (err error) {
		out, err = listJSON[domain.InboundGroupSession](t, bucketInbound, "")
		return err
	})
	return out, err
}

// DeleteInboundSessionsBySender removes every session from senderKey along
// with its consumed indexes, in one transaction.
func (s *InboundSessionKVStore) DeleteInboundSessionsBySender(senderKey domain.Curve25519) (int, error) {
	prefix := senderKey.String() + keySep
	n := 0
	err := s.kv.Update(func(t Tx) error {
		var keys []string
		collect := func(dst *[]string) func(string, []byte) error {
			return func(k string, _ []byte) error {
				*dst = append(*dst, k)
				return nil
			}
		}
		if err := t.ForEach(bucketInbound, prefix, collect(&keys)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := t.Delete(bucketInbound, k); err != nil {
				return err
			}
			var consumed []string
			if err := t.ForEach(bucketConsumed+k, "", collect(&consumed)); err != nil {
				return err
			}
			for _, c := range consumed {
				if err := t.Delete(bucketConsumed+k, c); err != nil {
					return err
				}
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}

// MarkIndexConsumed records index for the session in the same transaction
// that checks it, so concurrent callers cannot both see it as fresh.
func (s *InboundSessionKVStore) MarkIndexConsumed(
	senderKey domain.Curve25519,
	sessionID domain.SessionID,
	index uint32,
	eventID string,
) (bool, error) {
	bucket := consumedBucket(senderKey, sessionID)
	key := strconv.FormatUint(uint64(index), 10)
	already := false
	err := s.kv.Update(func(t Tx) error {
		if _, ok := t.Get(bucket, key); ok {
			already = true
			return nil
		}
		return t.Put(bucket, key, []byte(eventID))
	})
	return already, err
}

// OutboundSessionKVStore persists our sending sessions, one per room.
type OutboundSessionKVStore struct {
	kv KV
}

// NewOutboundSessionKVStore returns an OutboundSessionKVStore over kv.
func NewOutboundSessionKVStore(kv KV) *OutboundSessionKVStore {
	return &OutboundSessionKVStore{kv: kv}
}

func (s *OutboundSessionKVStore) GetOutboundSession(room domain.RoomID) (*domain.OutboundGroupSession, bool, error) {
	var sess domain.OutboundGroupSession
	var ok bool
	err := s.kv.View(func(t Tx) (err error) {
		ok, err = getJSON(t, bucketOutbound, room.String(), &sess)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &sess, true, nil
}

func (s *OutboundSessionKVStore) PutOutboundSession(session *domain.OutboundGroupSession) error {
	return s.kv.Update(func(t Tx) error {
		return putJSON(t, bucketOutbound, session.RoomID.String(), session)
	})
}

func (s *OutboundSessionKVStore) DeleteOutboundSession(room domain.RoomID) error {
	return s.kv.Update(func(t Tx) error {
		return t.Delete(bucketOutbound, room.String())
	})
}

// Compile-time assertions for the session stores.
var (
	_ domain.InboundSessionStore  = (*InboundSessionKVStore)(nil)
	_ domain.OutboundSessionStore = (*OutboundSessionKVStore)(nil)
)
