package gossip

import (
	"context"
	"fmt"

	"cipherlink/internal/domain"
)

// HandleIncomingRequest answers an m.room_key_request sent by from. Only our
// own verified devices are given keys; everyone else gets a withheld reply
// naming the reason.
func (e *Engine) HandleIncomingRequest(ctx context.Context, from *domain.Device, content domain.RoomKeyRequestContent) error {
	log := e.log.With().
		Str("user_id", from.UserID.String()).
		Str("device_id", from.DeviceID.String()).
		Str("request_id", content.RequestID).
		Logger()

	if content.Action == domain.ActionRequestCancellation {
		log.Debug().Msg("ignoring request cancellation")
		return nil
	}
	if content.Action != domain.ActionRequest || content.Body == nil {
		return fmt.Errorf("gossip: malformed room key request from %s", from.DeviceID)
	}
	if content.RequestingDeviceID != from.DeviceID {
		return fmt.Errorf("gossip: request names device %s but came from %s", content.RequestingDeviceID, from.DeviceID)
	}
	if from.UserID == e.self && from.DeviceID == e.deviceID {
		return nil
	}
	if !e.limiter.Allow(from.UserID, from.DeviceID) {
		log.Warn().Msg("room key request throttled")
		return nil
	}

	body := *content.Body
	code, err := e.refusal(from, body)
	if err != nil {
		return err
	}
	if code != "" {
		log.Info().Str("code", string(code)).Msg("withholding room key")
		return e.sender.SendToDevice(ctx, from.UserID, from.DeviceID, domain.EventRoomKeyWithheld, domain.WithheldContent{
			Algorithm: body.Algorithm,
			RoomID:    body.RoomID,
			SessionID: body.SessionID,
			SenderKey: body.SenderKey,
			Code:      code,
			Reason:    withheldReason(code),
		})
	}

	sess, _, err := e.sessions.GetInboundSession(body.SenderKey, body.SessionID)
	if err != nil {
		return err
	}
	exp, err := e.sessions.ExportSession(sess)
	if err != nil {
		return err
	}
	log.Info().
		Str("session_id", body.SessionID.String()).
		Uint32("first_known_index", sess.FirstKnownIndex).
		Msg("forwarding room key")
	return e.sender.SendToDevice(ctx, from.UserID, from.DeviceID, domain.EventForwardedRoomKey, domain.ForwardedRoomKeyContent{
		Algorithm:          exp.Algorithm,
		RoomID:             exp.RoomID,
		SenderKey:          exp.SenderKey,
		SessionID:          exp.SessionID,
		SessionKey:         exp.SessionKey,
		SenderClaimedKey:   domain.Ed25519(exp.SenderClaimedKeys[domain.KeyAlgorithmEd25519]),
		ForwardingKeyChain: exp.ForwardingChain,
	})
}

// refusal returns the withheld code for a request we will not serve, or ""
// when the key can be forwarded.
func (e *Engine) refusal(from *domain.Device, body domain.RequestedKeyInfo) (domain.WithheldCode, error) {
	if from.UserID != e.self {
		return domain.WithheldUnauthorised, nil
	}
	if from.Blocked {
		return domain.WithheldBlacklisted, nil
	}
	verified, err := e.trust.IsDeviceVerified(from)
	if err != nil {
		return "", err
	}
	if !verified {
		return domain.WithheldUnverified, nil
	}
	sess, ok, err := e.sessions.GetInboundSession(body.SenderKey, body.SessionID)
	if err != nil {
		return "", err
	}
	if !ok || sess.RoomID != body.RoomID {
		return domain.WithheldUnavailable, nil
	}
	return "", nil
}

func withheldReason(code domain.WithheldCode) string {
	switch code {
	case domain.WithheldBlacklisted:
		return "You have been blocked by this device"
	case domain.WithheldUnverified:
		return "You are not verified by this device"
	case domain.WithheldUnauthorised:
		return "You are not authorised to read this session"
	case domain.WithheldUnavailable:
		return "The requested key was not found"
	}
	return ""
}
