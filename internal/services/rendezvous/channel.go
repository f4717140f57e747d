package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/dh/x25519"

	"cipherlink/internal/protocol/ecdh"
)

// Transport moves opaque frames between the two devices. Implementations
// live in the relay package.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until the peer's next frame arrives or ctx ends.
	Receive(ctx context.Context) ([]byte, error)
	// Cancel tells the relay and the peer the channel is abandoned.
	Cancel(ctx context.Context) error
	Close() error
}

const initiateMarker = "MATRIX_QR_CODE_LOGIN_INITIATE"

var errNotConnected = errors.New("rendezvous: channel not connected")

// hello is the scanner's first frame: its public key and a sealed marker
// proving it derived the same keys. The relay only holds one frame at a
// time, so the handshake is a single message and the two sides then take
// turns.
type hello struct {
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`
	ecdh.Envelope
}

// SecureChannel is an encrypted, authenticated channel over a Transport.
type SecureChannel struct {
	transport Transport
	role      ecdh.Role
	ours      *ecdh.KeyPair
	theirs    x25519.Key
	session   *ecdh.Session
	closeOnce sync.Once
	closeErr  error
}

// NewCreatorChannel prepares the side that shows the code. Its PublicKey
// goes into the code.
func NewCreatorChannel(t Transport) (*SecureChannel, error) {
	kp, err := ecdh.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &SecureChannel{transport: t, role: ecdh.Creator, ours: kp}, nil
}

// NewScannerChannel prepares the side that scanned code.
func NewScannerChannel(t Transport, code *Code) (*SecureChannel, error) {
	theirs, err := ecdh.ParsePublic(code.Rendezvous.Key)
	if err != nil {
		return nil, fail(ReasonInvalidCode, err)
	}
	kp, err := ecdh.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &SecureChannel{transport: t, role: ecdh.Scanner, ours: kp, theirs: theirs}, nil
}

// PublicKey returns our ephemeral public key in wire form.
func (c *SecureChannel) PublicKey() string { return c.ours.PublicB64() }

// Connect runs the key agreement and returns the checksum both sides
// display for comparison.
func (c *SecureChannel) Connect(ctx context.Context) (string, error) {
	if c.role == ecdh.Scanner {
		return c.connectScanner(ctx)
	}
	return c.connectCreator(ctx)
}

func (c *SecureChannel) connectScanner(ctx context.Context) (string, error) {
	if err := c.derive(); err != nil {
		return "", err
	}
	env, err := c.session.Seal([]byte(initiateMarker))
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(hello{Algorithm: ecdh.Algorithm, Key: c.PublicKey(), Envelope: env})
	if err != nil {
		return "", err
	}
	if err := c.transport.Send(ctx, raw); err != nil {
		return "", err
	}
	return c.session.Checksum(), nil
}

func (c *SecureChannel) connectCreator(ctx context.Context) (string, error) {
	raw, err := c.transport.Receive(ctx)
	if err != nil {
		return "", err
	}
	var h hello
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", fail(ReasonUnknown, err)
	}
	if h.Algorithm != ecdh.Algorithm {
		return "", fail(ReasonUnsupportedAlgorithm, fmt.Errorf("algorithm %q", h.Algorithm))
	}
	if c.theirs, err = ecdh.ParsePublic(h.Key); err != nil {
		return "", fail(ReasonE2EESecurityIssue, err)
	}
	if err := c.derive(); err != nil {
		return "", err
	}
	marker, err := c.session.Open(h.Envelope)
	if err != nil || !bytes.Equal(marker, []byte(initiateMarker)) {
		return "", fail(ReasonE2EESecurityIssue, errors.New("handshake marker did not verify"))
	}
	return c.session.Checksum(), nil
}

func (c *SecureChannel) derive() error {
	session, err := ecdh.Derive(c.role, c.ours, c.theirs)
	c.ours.Wipe()
	if err != nil {
		return fail(ReasonE2EESecurityIssue, err)
	}
	c.session = session
	return nil
}

// Send encrypts and sends plaintext.
func (c *SecureChannel) Send(ctx context.Context, plaintext []byte) error {
	if c.session == nil {
		return errNotConnected
	}
	env, err := c.session.Seal(plaintext)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, frame)
}

// Receive waits for the next frame and decrypts it.
func (c *SecureChannel) Receive(ctx context.Context) ([]byte, error) {
	if c.session == nil {
		return nil, errNotConnected
	}
	frame, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	var env ecdh.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fail(ReasonE2EESecurityIssue, err)
	}
	pt, err := c.session.Open(env)
	if err != nil {
		return nil, fail(ReasonE2EESecurityIssue, err)
	}
	return pt, nil
}

// Cancel asks the transport to abandon the channel.
func (c *SecureChannel) Cancel(ctx context.Context) error { return c.transport.Cancel(ctx) }

// Close releases the transport. It is safe to call more than once.
func (c *SecureChannel) Close() error {
	c.closeOnce.Do(func() {
		c.ours.Wipe()
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}
