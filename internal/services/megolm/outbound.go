package megolm

import (
	"context"
	"encoding/json"
	"fmt"

	"cipherlink/internal/domain"
	"cipherlink/internal/events"
	group "cipherlink/internal/protocol/megolm"
)

// EncryptRoomEvent encrypts one event for roomID with the room's outbound
// session, rotating the session first when the policy requires it.
func (s *Service) EncryptRoomEvent(
	roomID domain.RoomID,
	eventType string,
	content map[string]any,
) (*domain.EncryptedEvent, error) {
	unlock := s.roomLocks.Lock(roomID.String())
	defer unlock()

	rec, out, err := s.currentOutbound(roomID)
	if err != nil {
		return nil, err
	}
	pt, err := json.Marshal(roomPayload{Type: eventType, Content: content, RoomID: roomID})
	if err != nil {
		return nil, err
	}
	ct, err := out.Encrypt(pt)
	if err != nil {
		return nil, err
	}
	rec.Pickle = out.Pickle()
	rec.MessageCount++
	if err := s.outbound.PutOutboundSession(rec); err != nil {
		return nil, err
	}
	return &domain.EncryptedEvent{
		RoomID:     roomID,
		Sender:     s.account.UserID,
		Algorithm:  domain.AlgorithmMegolmV1,
		SenderKey:  s.IdentityKey(),
		DeviceID:   s.account.DeviceID,
		SessionID:  rec.SessionID,
		Ciphertext: ct,
	}, nil
}

// ShareResult lists who received the room key and who was refused it.
type ShareResult struct {
	SessionID domain.SessionID
	Shared    map[domain.UserID][]domain.DeviceID
	Withheld  map[domain.UserID][]domain.DeviceID
}

// ShareRoomKey sends the room's current session key to devices that do not
// have it yet. Blocked devices receive m.room_key.withheld instead.
func (s *Service) ShareRoomKey(ctx context.Context, roomID domain.RoomID, devices []*domain.Device) (*ShareResult, error) {
	unlock := s.roomLocks.Lock(roomID.String())
	defer unlock()

	rec, out, err := s.currentOutbound(roomID)
	if err != nil {
		return nil, err
	}
	res := &ShareResult{
		SessionID: rec.SessionID,
		Shared:    map[domain.UserID][]domain.DeviceID{},
		Withheld:  map[domain.UserID][]domain.DeviceID{},
	}
	if rec.SharedWith == nil {
		rec.SharedWith = map[domain.UserID]map[domain.DeviceID]uint32{}
	}
	for _, dev := range devices {
		if dev.UserID == s.account.UserID && dev.DeviceID == s.account.DeviceID {
			continue
		}
		if _, done := rec.SharedWith[dev.UserID][dev.DeviceID]; done {
			continue
		}
		if dev.Blocked {
			res.Withheld[dev.UserID] = append(res.Withheld[dev.UserID], dev.DeviceID)
			continue
		}
		res.Shared[dev.UserID] = append(res.Shared[dev.UserID], dev.DeviceID)
	}

	if len(res.Shared) > 0 {
		content := domain.RoomKeyContent{
			Algorithm:  domain.AlgorithmMegolmV1,
			RoomID:     roomID,
			SessionID:  rec.SessionID,
			SessionKey: out.SessionKey(),
		}
		if err := s.sender.SendToDevices(ctx, res.Shared, domain.EventRoomKey, content); err != nil {
			return nil, fmt.Errorf("share room key: %w", err)
		}
		index := out.MessageIndex()
		for user, ids := range res.Shared {
			if rec.SharedWith[user] == nil {
				rec.SharedWith[user] = map[domain.DeviceID]uint32{}
			}
			for _, id := range ids {
				rec.SharedWith[user][id] = index
			}
		}
		if err := s.outbound.PutOutboundSession(rec); err != nil {
			return nil, err
		}
	}
	if len(res.Withheld) > 0 {
		content := domain.WithheldContent{
			Algorithm: domain.AlgorithmMegolmV1,
			RoomID:    roomID,
			SessionID: rec.SessionID,
			SenderKey: s.IdentityKey(),
			Code:      domain.WithheldBlacklisted,
			Reason:    "The sender has blocked you.",
		}
		if err := s.sender.SendToDevices(ctx, res.Withheld, domain.EventRoomKeyWithheld, content); err != nil {
			s.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("withheld notice not delivered")
		}
	}
	s.log.Debug().
		Str("room_id", roomID.String()).
		Str("session_id", rec.SessionID.String()).
		Int("shared_users", len(res.Shared)).
		Int("withheld_users", len(res.Withheld)).
		Msg("room key shared")
	return res, nil
}

// DiscardOutboundSession forces the next encryption in roomID to start a new
// session, e.g. after a member left.
func (s *Service) DiscardOutboundSession(roomID domain.RoomID) error {
	unlock := s.roomLocks.Lock(roomID.String())
	defer unlock()
	return s.outbound.DeleteOutboundSession(roomID)
}

// currentOutbound loads the room's session, or creates one when there is none
// or the stored one is due for rotation. Callers hold the room lock.
func (s *Service) currentOutbound(roomID domain.RoomID) (*domain.OutboundGroupSession, *group.Outbound, error) {
	rec, ok, err := s.outbound.GetOutboundSession(roomID)
	if err != nil {
		return nil, nil, err
	}
	if ok && !s.needsRotation(rec) {
		out, err := group.UnpickleOutbound(rec.Pickle)
		if err != nil {
			return nil, nil, err
		}
		return rec, out, nil
	}

	out, err := group.NewOutbound()
	if err != nil {
		return nil, nil, err
	}
	rec = &domain.OutboundGroupSession{
		RoomID:    roomID,
		SessionID: out.ID(),
		Pickle:    out.Pickle(),
		CreatedAt: s.now(),
	}
	if err := s.storeOwnInbound(roomID, out); err != nil {
		return nil, nil, err
	}
	if err := s.outbound.PutOutboundSession(rec); err != nil {
		return nil, nil, err
	}
	s.log.Info().
		Str("room_id", roomID.String()).
		Str("session_id", rec.SessionID.String()).
		Msg("outbound session created")
	return rec, out, nil
}

func (s *Service) needsRotation(rec *domain.OutboundGroupSession) bool {
	if rec.Discarded {
		return true
	}
	if s.rotation.Messages > 0 && rec.MessageCount >= s.rotation.Messages {
		return true
	}
	return s.rotation.Period > 0 && s.now().Sub(rec.CreatedAt) >= s.rotation.Period
}

// storeOwnInbound keeps the receiving half so we can read our own messages.
func (s *Service) storeOwnInbound(roomID domain.RoomID, out *group.Outbound) error {
	in, err := group.NewInbound(out.SessionKey())
	if err != nil {
		return err
	}
	exported, err := in.Export(in.FirstKnownIndex())
	if err != nil {
		return err
	}
	sess := &domain.InboundGroupSession{
		SessionID: in.ID(),
		RoomID:    roomID,
		SenderKey: s.IdentityKey(),
		SenderClaimedKeys: map[domain.KeyAlgorithm]string{
			domain.KeyAlgorithmEd25519: s.SigningKey().String(),
		},
		FirstKnownIndex: in.FirstKnownIndex(),
		SessionKey:      exported,
		ReceivedAt:      s.now(),
	}
	if err := s.inbound.PutInboundSession(sess); err != nil {
		return err
	}
	s.bus.Publish(events.SessionImported{
		RoomID: roomID, SenderKey: sess.SenderKey, SessionID: sess.SessionID, FirstKnownIndex: sess.FirstKnownIndex,
	})
	return nil
}
