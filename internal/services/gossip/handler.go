package gossip

import (
	"context"
	"encoding/json"
	"fmt"

	"cipherlink/internal/domain"
)

// HandleToDevice routes a decrypted to-device event to the matching
// handler. The sending device is looked up by the curve25519 key the
// transport decrypted it with; events from unknown devices are rejected.
func (e *Engine) HandleToDevice(ctx context.Context, ev domain.ToDeviceEvent) error {
	switch ev.Type {
	case domain.EventRoomKeyRequest, domain.EventForwardedRoomKey, domain.EventRoomKeyWithheld,
		domain.EventSecretRequest, domain.EventSecretSend:
	default:
		return nil
	}

	from, ok, err := e.trust.FindDeviceByIdentityKey(ev.Sender, ev.SenderKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no device of %s owns key %s", ErrUntrustedSender, ev.Sender, ev.SenderKey)
	}

	switch ev.Type {
	case domain.EventRoomKeyRequest:
		var c domain.RoomKeyRequestContent
		if err := decode(ev, &c); err != nil {
			return err
		}
		return e.HandleIncomingRequest(ctx, from, c)
	case domain.EventForwardedRoomKey:
		var c domain.ForwardedRoomKeyContent
		if err := decode(ev, &c); err != nil {
			return err
		}
		return e.OnForwardedRoomKey(ctx, from, c)
	case domain.EventRoomKeyWithheld:
		var c domain.WithheldContent
		if err := decode(ev, &c); err != nil {
			return err
		}
		return e.OnWithheld(ctx, from, c)
	case domain.EventSecretRequest:
		var c domain.SecretRequestContent
		if err := decode(ev, &c); err != nil {
			return err
		}
		return e.HandleSecretRequest(ctx, from, c)
	default:
		var c domain.SecretSendContent
		if err := decode(ev, &c); err != nil {
			return err
		}
		return e.HandleSecretSend(ctx, from, c)
	}
}

func decode(ev domain.ToDeviceEvent, v any) error {
	if err := json.Unmarshal(ev.Content, v); err != nil {
		return fmt.Errorf("gossip: decode %s: %w", ev.Type, err)
	}
	return nil
}

var (
	_ domain.KeyRequester    = (*Engine)(nil)
	_ domain.SecretRequester = (*Engine)(nil)
)
