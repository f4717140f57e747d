package megolm

import (
	"context"
	"encoding/json"
	"errors"

	"cipherlink/internal/domain"
	group "cipherlink/internal/protocol/megolm"
)

type roomPayload struct {
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
	RoomID  domain.RoomID  `json:"room_id"`
}

// Decrypt decrypts a Megolm room event. Failures are *DecryptionError. An
// unknown session is reported to the key requester before returning.
func (s *Service) Decrypt(ctx context.Context, ev *domain.EncryptedEvent) (*domain.PlainEvent, error) {
	if ev.Algorithm != domain.AlgorithmMegolmV1 {
		return nil, decryptionError(CodeBadEncryptedMessage, string(ev.Algorithm), ErrUnknownAlgorithm)
	}
	plain, err := s.decryptLocked(ev)
	var derr *DecryptionError
	if errors.As(err, &derr) && derr.Code == CodeUnknownSession {
		s.escalate(ctx, ev)
	}
	return plain, err
}

func (s *Service) decryptLocked(ev *domain.EncryptedEvent) (*domain.PlainEvent, error) {
	unlock := s.sessionLocks.Lock(sessionLockKey(ev.SenderKey, ev.SessionID))
	defer unlock()

	sess, ok, err := s.inbound.GetInboundSession(ev.SenderKey, ev.SessionID)
	if err != nil {
		return nil, decryptionError(CodeUnableToDecrypt, "load session", err)
	}
	if !ok {
		return nil, decryptionError(CodeUnknownSession, ev.SessionID.String(), nil)
	}
	if sess.RoomID != ev.RoomID {
		return nil, decryptionError(CodeRoomMismatch, "session room "+sess.RoomID.String(), nil)
	}

	in, err := group.ImportInbound(sess.SessionKey)
	if err != nil {
		return nil, decryptionError(CodeUnableToDecrypt, "restore session", err)
	}
	pt, index, err := in.Decrypt(ev.Ciphertext)
	switch {
	case errors.Is(err, group.ErrUnknownIndex):
		return nil, decryptionError(CodeUnknownIndex, "", err)
	case errors.Is(err, group.ErrBadMessageFormat):
		return nil, decryptionError(CodeBadEncryptedMessage, "", err)
	case err != nil:
		return nil, decryptionError(CodeUnableToDecrypt, "", err)
	}

	var payload roomPayload
	if err := json.Unmarshal(pt, &payload); err != nil {
		return nil, decryptionError(CodeBadEncryptedMessage, "payload", err)
	}
	if payload.RoomID != "" && payload.RoomID != ev.RoomID {
		return nil, decryptionError(CodeRoomMismatch, "payload room "+payload.RoomID.String(), nil)
	}

	already, err := s.inbound.MarkIndexConsumed(ev.SenderKey, ev.SessionID, index, ev.EventID)
	if err != nil {
		return nil, decryptionError(CodeUnableToDecrypt, "record index", err)
	}
	if already {
		s.log.Warn().
			Str("room_id", ev.RoomID.String()).
			Str("session_id", ev.SessionID.String()).
			Uint32("index", index).
			Str("event_id", ev.EventID).
			Msg("message index reused; possible replay")
		return nil, decryptionError(CodeDuplicatedIndex, "", nil)
	}

	return &domain.PlainEvent{
		Type:              payload.Type,
		RoomID:            ev.RoomID,
		Content:           payload.Content,
		SenderKey:         sess.SenderKey,
		SenderClaimedKeys: sess.SenderClaimedKeys,
		ForwardingChain:   sess.ForwardingChain,
		MessageIndex:      index,
	}, nil
}

func (s *Service) escalate(ctx context.Context, ev *domain.EncryptedEvent) {
	r := s.keyRequester()
	if r == nil {
		return
	}
	info := domain.RequestedKeyInfo{
		Algorithm: ev.Algorithm,
		RoomID:    ev.RoomID,
		SenderKey: ev.SenderKey,
		SessionID: ev.SessionID,
	}
	if _, err := r.RequestRoomKey(ctx, info); err != nil {
		s.log.Warn().Err(err).
			Str("room_id", ev.RoomID.String()).
			Str("session_id", ev.SessionID.String()).
			Msg("room key request failed")
	}
}
