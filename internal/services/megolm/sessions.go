package megolm

import (
	"context"
	"fmt"

	"cipherlink/internal/domain"
	"cipherlink/internal/events"
	group "cipherlink/internal/protocol/megolm"
	"cipherlink/internal/store"
)

// AddRoomKey stores the session carried by an m.room_key received over Olm
// from the device owning senderKey and claimedKey. It reports whether the
// session was stored.
func (s *Service) AddRoomKey(
	senderKey domain.Curve25519,
	claimedKey domain.Ed25519,
	content domain.RoomKeyContent,
) (bool, error) {
	if content.Algorithm != domain.AlgorithmMegolmV1 {
		return false, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, content.Algorithm)
	}
	in, err := group.NewInbound(content.SessionKey)
	if err != nil {
		return false, err
	}
	if in.ID() != content.SessionID {
		return false, ErrSessionIDMismatch
	}
	exported, err := in.Export(in.FirstKnownIndex())
	if err != nil {
		return false, err
	}
	return s.merge(&domain.InboundGroupSession{
		SessionID:         content.SessionID,
		RoomID:            content.RoomID,
		SenderKey:         senderKey,
		SenderClaimedKeys: map[domain.KeyAlgorithm]string{domain.KeyAlgorithmEd25519: claimedKey.String()},
		FirstKnownIndex:   in.FirstKnownIndex(),
		SessionKey:        exported,
		ReceivedAt:        s.now(),
	})
}

// ImportSessions merges exported sessions. A session is stored when it is
// unknown, or when the known copy starts at a lower index than the imported
// one. Importing the same data twice changes nothing. Malformed entries are
// skipped and logged.
func (s *Service) ImportSessions(ctx context.Context, sessions []domain.ExportedSession) (int, error) {
	imported := 0
	for _, exp := range sessions {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		sess, err := sessionFromExport(exp)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", exp.SessionID.String()).Msg("skipping exported session")
			continue
		}
		sess.ReceivedAt = s.now()
		stored, err := s.merge(sess)
		if err != nil {
			return imported, err
		}
		if stored {
			imported++
		}
	}
	s.log.Info().Int("offered", len(sessions)).Int("imported", imported).Msg("sessions imported")
	return imported, nil
}

// ImportEncrypted decrypts an export file and merges its sessions.
func (s *Service) ImportEncrypted(ctx context.Context, data []byte, password string) (int, error) {
	sessions, err := store.DecryptExport(data, password)
	if err != nil {
		return 0, err
	}
	return s.ImportSessions(ctx, sessions)
}

// ExportSession returns the exported form of sess at its first known index.
func (s *Service) ExportSession(sess *domain.InboundGroupSession) (domain.ExportedSession, error) {
	if _, err := group.ImportInbound(sess.SessionKey); err != nil {
		return domain.ExportedSession{}, err
	}
	chain := sess.ForwardingChain
	if chain == nil {
		chain = []domain.Curve25519{}
	}
	return domain.ExportedSession{
		Algorithm:         domain.AlgorithmMegolmV1,
		RoomID:            sess.RoomID,
		SessionID:         sess.SessionID,
		SenderKey:         sess.SenderKey,
		SenderClaimedKeys: sess.SenderClaimedKeys,
		ForwardingChain:   chain,
		SessionKey:        sess.SessionKey,
	}, nil
}

// ExportAll returns every inbound session in exported form.
func (s *Service) ExportAll() ([]domain.ExportedSession, error) {
	list, err := s.inbound.ListInboundSessions()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExportedSession, 0, len(list))
	for _, sess := range list {
		exp, err := s.ExportSession(sess)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", sess.SessionID, err)
		}
		out = append(out, exp)
	}
	return out, nil
}

// ExportEncrypted exports every inbound session protected by password.
// rounds <= 0 selects store.DefaultExportRounds.
func (s *Service) ExportEncrypted(password string, rounds int) ([]byte, error) {
	sessions, err := s.ExportAll()
	if err != nil {
		return nil, err
	}
	return store.EncryptExport(sessions, password, rounds)
}

func sessionFromExport(exp domain.ExportedSession) (*domain.InboundGroupSession, error) {
	if exp.Algorithm != domain.AlgorithmMegolmV1 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, exp.Algorithm)
	}
	in, err := group.ImportInbound(exp.SessionKey)
	if err != nil {
		return nil, err
	}
	if in.ID() != exp.SessionID {
		return nil, ErrSessionIDMismatch
	}
	return &domain.InboundGroupSession{
		SessionID:         exp.SessionID,
		RoomID:            exp.RoomID,
		SenderKey:         exp.SenderKey,
		SenderClaimedKeys: exp.SenderClaimedKeys,
		ForwardingChain:   exp.ForwardingChain,
		FirstKnownIndex:   in.FirstKnownIndex(),
		SessionKey:        exp.SessionKey,
	}, nil
}

// merge applies the import rule under the session lock. SessionImported
// is published after the lock is released so subscribers may call back
// into the service.
func (s *Service) merge(sess *domain.InboundGroupSession) (bool, error) {
	stored, err := s.mergeLocked(sess)
	if err != nil || !stored {
		return false, err
	}
	s.bus.Publish(events.SessionImported{
		RoomID:          sess.RoomID,
		SenderKey:       sess.SenderKey,
		SessionID:       sess.SessionID,
		FirstKnownIndex: sess.FirstKnownIndex,
	})
	return true, nil
}

func (s *Service) mergeLocked(sess *domain.InboundGroupSession) (bool, error) {
	unlock := s.sessionLocks.Lock(sessionLockKey(sess.SenderKey, sess.SessionID))
	defer unlock()

	existing, ok, err := s.inbound.GetInboundSession(sess.SenderKey, sess.SessionID)
	if err != nil {
		return false, err
	}
	if ok {
		if existing.RoomID != sess.RoomID {
			s.log.Warn().
				Str("session_id", sess.SessionID.String()).
				Str("room_id", sess.RoomID.String()).
				Str("known_room_id", existing.RoomID.String()).
				Msg("ignoring session claimed for another room")
			return false, nil
		}
		if existing.FirstKnownIndex >= sess.FirstKnownIndex {
			return false, nil
		}
	}
	if err := s.inbound.PutInboundSession(sess); err != nil {
		return false, err
	}
	return true, nil
}
