package gossip

import (
	"context"

	"cipherlink/internal/domain"
)

// dispatchLocked performs the sends a pending request is waiting for and
// applies the resulting transition. Callers hold e.mu.
func (e *Engine) dispatchLocked(ctx context.Context, req *domain.OutgoingKeyRequest) error {
	switch req.State {
	case domain.RequestUnsent:
		if err := e.sendRequest(ctx, req); err != nil {
			return err
		}
		return e.transition(req, InputDispatched)

	case domain.RequestCancellationPending:
		if err := e.sendCancellation(ctx, req, req.Recipients); err != nil {
			return err
		}
		e.log.Info().Str("request_id", req.RequestID).Msg("request cancelled")
		return e.requests.DeleteOutgoingRequest(req.RequestID)

	case domain.RequestCancellationPendingAndWillResend:
		if err := e.sendCancellation(ctx, req, req.Recipients); err != nil {
			return err
		}
		if e.alreadyHave(req) {
			return e.requests.DeleteOutgoingRequest(req.RequestID)
		}
		if err := e.sendRequest(ctx, req); err != nil {
			return err
		}
		return e.transition(req, InputDispatched)
	}
	return nil
}

func (e *Engine) alreadyHave(req *domain.OutgoingKeyRequest) bool {
	switch req.Kind {
	case domain.KindRoomKey:
		_, ok, err := e.sessions.GetInboundSession(req.SenderKey, req.SessionID)
		return err == nil && ok
	case domain.KindSecret:
		_, ok, err := e.secrets.GetSecret(req.SecretName)
		return err == nil && ok
	}
	return false
}

func (e *Engine) sendRequest(ctx context.Context, req *domain.OutgoingKeyRequest) error {
	if req.Kind == domain.KindSecret {
		return e.sender.SendToDevices(ctx, req.Recipients, domain.EventSecretRequest, domain.SecretRequestContent{
			Action:             domain.ActionRequest,
			Name:               req.SecretName,
			RequestingDeviceID: e.deviceID,
			RequestID:          req.RequestID,
		})
	}
	return e.sender.SendToDevices(ctx, req.Recipients, domain.EventRoomKeyRequest, domain.RoomKeyRequestContent{
		Action: domain.ActionRequest,
		Body: &domain.RequestedKeyInfo{
			Algorithm: req.Algorithm,
			RoomID:    req.RoomID,
			SenderKey: req.SenderKey,
			SessionID: req.SessionID,
		},
		RequestingDeviceID: e.deviceID,
		RequestID:          req.RequestID,
	})
}

func (e *Engine) sendCancellation(
	ctx context.Context,
	req *domain.OutgoingKeyRequest,
	to map[domain.UserID][]domain.DeviceID,
) error {
	if req.Kind == domain.KindSecret {
		return e.sender.SendToDevices(ctx, to, domain.EventSecretRequest, domain.SecretRequestContent{
			Action:             domain.ActionRequestCancellation,
			RequestingDeviceID: e.deviceID,
			RequestID:          req.RequestID,
		})
	}
	return e.sender.SendToDevices(ctx, to, domain.EventRoomKeyRequest, domain.RoomKeyRequestContent{
		Action:             domain.ActionRequestCancellation,
		RequestingDeviceID: e.deviceID,
		RequestID:          req.RequestID,
	})
}
