package types

// KeysQueryResponse is the body returned by POST /keys/query.
type KeysQueryResponse struct {
	Failures        map[string]any                         `json:"failures,omitempty"`
	DeviceKeys      map[UserID]map[DeviceID]DeviceKeysJSON `json:"device_keys"`
	MasterKeys      map[UserID]CrossSigningKey             `json:"master_keys,omitempty"`
	SelfSigningKeys map[UserID]CrossSigningKey             `json:"self_signing_keys,omitempty"`
	UserSigningKeys map[UserID]CrossSigningKey             `json:"user_signing_keys,omitempty"`
}
