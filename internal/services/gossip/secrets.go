package gossip

import (
	"context"
	"fmt"

	"cipherlink/internal/domain"
)

// RequestSecrets asks our other devices for each named secret we do not
// hold. Requests reuse the room key state machine; a pending or sent
// request for the same name is returned instead of a new one.
func (e *Engine) RequestSecrets(ctx context.Context, names []string) ([]*domain.OutgoingKeyRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.requests.ListOutgoingRequests()
	if err != nil {
		return nil, err
	}
	var out []*domain.OutgoingKeyRequest
	for _, name := range names {
		if _, ok, err := e.secrets.GetSecret(name); err != nil {
			return out, err
		} else if ok {
			continue
		}
		if existing := findSecretRequest(all, name); existing != nil {
			out = append(out, existing)
			continue
		}
		recipients, err := e.ownRecipients()
		if err != nil {
			return out, err
		}
		req := &domain.OutgoingKeyRequest{
			RequestID:  e.newID(),
			Kind:       domain.KindSecret,
			SecretName: name,
			Recipients: recipients,
			State:      domain.RequestUnsent,
			CreatedAt:  e.now(),
		}
		if err := e.requests.PutOutgoingRequest(req); err != nil {
			return out, err
		}
		e.log.Info().Str("request_id", req.RequestID).Str("secret", name).Msg("secret request created")
		if err := e.dispatchLocked(ctx, req); err != nil {
			e.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("dispatch failed; request stays pending")
		}
		all = append(all, req)
		out = append(out, req)
	}
	return out, nil
}

func findSecretRequest(all []*domain.OutgoingKeyRequest, name string) *domain.OutgoingKeyRequest {
	for _, r := range all {
		if r.Kind == domain.KindSecret && r.SecretName == name &&
			(r.State.IsPending() || r.State == domain.RequestSent) {
			return r
		}
	}
	return nil
}

// HandleSecretSend stores a secret answering one of our requests. The
// sender must be a verified own device we asked.
func (e *Engine) HandleSecretSend(ctx context.Context, from *domain.Device, content domain.SecretSendContent) error {
	if err := e.checkOwnVerified(from); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.load(content.RequestID)
	if err != nil {
		return err
	}
	if req.Kind != domain.KindSecret || req.State != domain.RequestSent || !req.IsRecipient(from.UserID, from.DeviceID) {
		return fmt.Errorf("%w: secret for request %s not expected from %s", ErrUntrustedSender, req.RequestID, from.DeviceID)
	}
	if err := e.secrets.PutSecret(req.SecretName, content.Secret); err != nil {
		return err
	}
	if err := e.appendReply(req, from, domain.RequestResult{Success: true}); err != nil {
		return err
	}
	e.log.Info().Str("request_id", req.RequestID).Str("secret", req.SecretName).Msg("secret received")
	return e.satisfiedLocked(ctx, req, from.DeviceID)
}

// HandleSecretRequest shares a secret we hold with a verified own device.
// Requests from anyone else, and for secrets we lack, go unanswered.
func (e *Engine) HandleSecretRequest(ctx context.Context, from *domain.Device, content domain.SecretRequestContent) error {
	if content.Action != domain.ActionRequest {
		return nil
	}
	if from.UserID == e.self && from.DeviceID == e.deviceID {
		return nil
	}
	if !e.limiter.Allow(from.UserID, from.DeviceID) {
		e.log.Warn().Str("device_id", from.DeviceID.String()).Msg("secret request throttled")
		return nil
	}
	if err := e.checkOwnVerified(from); err != nil {
		e.log.Info().
			Str("user_id", from.UserID.String()).
			Str("device_id", from.DeviceID.String()).
			Str("secret", content.Name).
			Msg("ignoring secret request from untrusted device")
		return nil
	}
	secret, ok, err := e.secrets.GetSecret(content.Name)
	if err != nil || !ok {
		return err
	}
	e.log.Info().Str("device_id", from.DeviceID.String()).Str("secret", content.Name).Msg("sharing secret")
	return e.sender.SendToDevice(ctx, from.UserID, from.DeviceID, domain.EventSecretSend, domain.SecretSendContent{
		RequestID: content.RequestID,
		Secret:    secret,
	})
}
