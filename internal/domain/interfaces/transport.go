package interfaces

import (
	"context"

	domaintypes "cipherlink/internal/domain/types"
)

// ToDeviceSender is the outbound half of the transport collaborator. Olm
// encryption of the payload is the transport's concern.
type ToDeviceSender interface {
	SendToDevice(
		ctx context.Context,
		user domaintypes.UserID,
		device domaintypes.DeviceID,
		eventType string,
		payload any,
	) error
	SendToDevices(
		ctx context.Context,
		recipients map[domaintypes.UserID][]domaintypes.DeviceID,
		eventType string,
		payload any,
	) error
}

// KeyQuerier fetches published device and cross-signing keys.
type KeyQuerier interface {
	QueryKeys(ctx context.Context, users []domaintypes.UserID) (*domaintypes.KeysQueryResponse, error)
}

// LoginFlow is one entry of GET /login.
type LoginFlow struct {
	Type          string `json:"type"`
	GetLoginToken bool   `json:"get_login_token,omitempty"`
}

// Credentials is what a successful login returns.
type Credentials struct {
	UserID        domaintypes.UserID   `json:"user_id"`
	DeviceID      domaintypes.DeviceID `json:"device_id"`
	AccessToken   string               `json:"access_token"`
	HomeserverURL string               `json:"homeserver_url"`
}

// LoginClient performs the homeserver login calls the rendezvous needs.
type LoginClient interface {
	LoginFlows(ctx context.Context, homeserverURL string) ([]LoginFlow, error)
	LoginWithToken(ctx context.Context, homeserverURL, token, deviceName string) (Credentials, error)
}
