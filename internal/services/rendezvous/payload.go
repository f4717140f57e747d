package rendezvous

import "cipherlink/internal/domain"

// Payload types.
const (
	TypeProgress = "m.login.progress"
	TypeFinish   = "m.login.finish"
)

// Outcome values carried by progress and finish payloads.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeDeclined          Outcome = "declined"
	OutcomeUnsupported       Outcome = "unsupported"
	OutcomeVerified          Outcome = "verified"
	OutcomeE2EESecurityError Outcome = "e2ee_security_error"
)

// ProtocolLoginToken is the only login protocol supported.
const ProtocolLoginToken = "login_token"

// Payload is one message of the login exchange. Fields are set per step.
type Payload struct {
	Type       string   `json:"type"`
	Intent     Intent   `json:"intent,omitempty"`
	Outcome    Outcome  `json:"outcome,omitempty"`
	Protocols  []string `json:"protocols,omitempty"`
	Protocol   string   `json:"protocol,omitempty"`
	LoginToken string   `json:"login_token,omitempty"`
	Homeserver string   `json:"homeserver,omitempty"`

	DeviceID  domain.DeviceID `json:"device_id,omitempty"`
	DeviceKey domain.Ed25519  `json:"device_key,omitempty"`

	VerifyingDeviceID  domain.DeviceID `json:"verifying_device_id,omitempty"`
	VerifyingDeviceKey domain.Ed25519  `json:"verifying_device_key,omitempty"`
	MasterKey          domain.Ed25519  `json:"master_key,omitempty"`
}
