package gossip

import (
	"context"
	"fmt"

	"cipherlink/internal/domain"
)

// OnForwardedRoomKey handles an m.forwarded_room_key from one of our
// devices that we asked. The session is handed to the group session
// manager with the forwarder appended to its forwarding chain, the reply is
// recorded and the request is closed.
func (e *Engine) OnForwardedRoomKey(ctx context.Context, from *domain.Device, content domain.ForwardedRoomKeyContent) error {
	if err := e.checkOwnVerified(from); err != nil {
		return err
	}
	info := domain.RequestedKeyInfo{
		Algorithm: content.Algorithm,
		RoomID:    content.RoomID,
		SenderKey: content.SenderKey,
		SessionID: content.SessionID,
	}

	e.mu.Lock()
	req, err := e.findRoomKeyRequest(info)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if req == nil || !req.IsRecipient(from.UserID, from.DeviceID) {
		e.log.Warn().
			Str("user_id", from.UserID.String()).
			Str("device_id", from.DeviceID.String()).
			Str("session_id", content.SessionID.String()).
			Msg("dropping unrequested forwarded room key")
		return fmt.Errorf("%w: no request for session %s", ErrUnknownRequest, content.SessionID)
	}

	chain := append(append([]domain.Curve25519(nil), content.ForwardingKeyChain...), from.IdentityKey())
	exported := domain.ExportedSession{
		Algorithm: content.Algorithm,
		RoomID:    content.RoomID,
		SessionID: content.SessionID,
		SenderKey: content.SenderKey,
		SenderClaimedKeys: map[domain.KeyAlgorithm]string{
			domain.KeyAlgorithmEd25519: content.SenderClaimedKey.String(),
		},
		ForwardingChain: chain,
		SessionKey:      content.SessionKey,
	}
	// Import runs without e.mu: the session manager may call back into
	// RequestRoomKey, and publishes SessionImported. The request is closed
	// below, after the reply is recorded.
	done := e.beginForwarding(content.SenderKey, content.SessionID)
	_, err = e.sessions.ImportSessions(ctx, []domain.ExportedSession{exported})
	done()
	if err != nil {
		return err
	}
	sess, ok, err := e.sessions.GetInboundSession(content.SenderKey, content.SessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("gossip: forwarded session %s was not stored", content.SessionID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	req, err = e.load(req.RequestID)
	if err != nil {
		return err
	}
	if err := e.appendReply(req, from, domain.RequestResult{Success: true, ChainIndex: sess.FirstKnownIndex}); err != nil {
		return err
	}
	e.log.Info().
		Str("request_id", req.RequestID).
		Str("device_id", from.DeviceID.String()).
		Uint32("chain_index", sess.FirstKnownIndex).
		Msg("room key received")
	return e.satisfiedLocked(ctx, req, from.DeviceID)
}

// OnWithheld records an m.room_key.withheld reply. The request is left as
// it is; only Resend asks again.
func (e *Engine) OnWithheld(ctx context.Context, from *domain.Device, content domain.WithheldContent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.requests.ListOutgoingRequests()
	if err != nil {
		return err
	}
	for _, req := range all {
		if req.Kind != domain.KindRoomKey || req.RoomID != content.RoomID ||
			req.SessionID != content.SessionID || req.SenderKey != content.SenderKey {
			continue
		}
		if !req.IsRecipient(from.UserID, from.DeviceID) {
			continue
		}
		e.log.Info().
			Str("request_id", req.RequestID).
			Str("device_id", from.DeviceID.String()).
			Str("code", string(content.Code)).
			Msg("room key withheld")
		return e.appendReply(req, from, domain.RequestResult{Code: content.Code, Reason: content.Reason})
	}
	return nil
}

// checkOwnVerified accepts only our own verified, non-blocked devices.
func (e *Engine) checkOwnVerified(from *domain.Device) error {
	if from == nil || from.UserID != e.self || from.Blocked {
		return ErrUntrustedSender
	}
	ok, err := e.trust.IsDeviceVerified(from)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUntrustedSender
	}
	return nil
}
