package rendezvous

import (
	"encoding/json"
	"fmt"

	"cipherlink/internal/protocol/ecdh"
)

// Intent is what the device that shows the code wants to do.
type Intent string

const (
	// IntentLoginOnNewDevice is declared by a device that is not signed in.
	IntentLoginOnNewDevice Intent = "login.start"
	// IntentLoginOnExistingDevice is declared by a signed-in device offering
	// to sign in another one.
	IntentLoginOnExistingDevice Intent = "login.reciprocate"
)

// Transport types understood by ParseCode.
const (
	TransportHTTP = "org.matrix.msc3886.http.v1"
	TransportQUIC = "org.cipherlink.rendezvous.quic.v1"
)

// TransportDetails says where the channel lives.
type TransportDetails struct {
	Type string `json:"type"`
	URI  string `json:"uri"`
}

// Details is the rendezvous part of a code.
type Details struct {
	Algorithm string           `json:"algorithm"`
	Transport TransportDetails `json:"transport"`
	Key       string           `json:"key"`
}

// Code is the content of a scanned QR code.
type Code struct {
	Intent     Intent  `json:"intent"`
	Rendezvous Details `json:"rendezvous"`
}

// ParseCode decodes and validates a code. Unknown algorithms and transports
// are rejected here, before any channel I/O.
func ParseCode(data []byte) (*Code, error) {
	var c Code
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fail(ReasonInvalidCode, err)
	}
	switch c.Intent {
	case IntentLoginOnNewDevice, IntentLoginOnExistingDevice:
	default:
		return nil, fail(ReasonInvalidCode, fmt.Errorf("unknown intent %q", c.Intent))
	}
	if c.Rendezvous.Algorithm != ecdh.Algorithm {
		return nil, fail(ReasonUnsupportedAlgorithm, fmt.Errorf("algorithm %q", c.Rendezvous.Algorithm))
	}
	switch c.Rendezvous.Transport.Type {
	case TransportHTTP, TransportQUIC:
	default:
		return nil, fail(ReasonUnsupportedTransport, fmt.Errorf("transport %q", c.Rendezvous.Transport.Type))
	}
	if c.Rendezvous.Transport.URI == "" {
		return nil, fail(ReasonInvalidCode, fmt.Errorf("missing transport uri"))
	}
	if _, err := ecdh.ParsePublic(c.Rendezvous.Key); err != nil {
		return nil, fail(ReasonInvalidCode, err)
	}
	return &c, nil
}

// Marshal returns the QR payload for c.
func (c *Code) Marshal() ([]byte, error) { return json.Marshal(c) }
