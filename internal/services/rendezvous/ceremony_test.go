package rendezvous_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherlink/internal/domain"
	"cipherlink/internal/events"
	"cipherlink/internal/protocol/ecdh"
	"cipherlink/internal/services/rendezvous"
	"cipherlink/internal/services/trust"
	"cipherlink/internal/services/trust/trusttest"
	"cipherlink/internal/store"
)

const homeserver = "https://hs.example.org"

// pipeEnd is one side of an in-memory transport.
type pipeEnd struct {
	in        <-chan []byte
	out       chan<- []byte
	done      chan struct{}
	closeOnce sync.Once
	cancelled atomic.Bool
	closed    atomic.Bool
}

func newPipe() (*pipeEnd, *pipeEnd) {
	ab, ba := make(chan []byte, 16), make(chan []byte, 16)
	return &pipeEnd{in: ba, out: ab, done: make(chan struct{})},
		&pipeEnd{in: ab, out: ba, done: make(chan struct{})}
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case p.out <- append([]byte(nil), frame...):
		return nil
	case <-p.done:
		return errors.New("pipe closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.done:
		return nil, errors.New("pipe closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Cancel(context.Context) error {
	p.cancelled.Store(true)
	return nil
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
	})
	return nil
}

type fakeLogin struct {
	flows  []domain.LoginFlow
	calls  atomic.Int32
	device domain.DeviceID
}

func (f *fakeLogin) LoginFlows(context.Context, string) ([]domain.LoginFlow, error) {
	return f.flows, nil
}

func (f *fakeLogin) LoginWithToken(_ context.Context, hs, token, _ string) (domain.Credentials, error) {
	f.calls.Add(1)
	if token != "tok" {
		return domain.Credentials{}, errors.New("bad token")
	}
	return domain.Credentials{UserID: "@alice:example.org", DeviceID: f.device, AccessToken: "secret", HomeserverURL: hs}, nil
}

type fakeQuerier struct{ resp *domain.KeysQueryResponse }

func (f *fakeQuerier) QueryKeys(context.Context, []domain.UserID) (*domain.KeysQueryResponse, error) {
	if f.resp == nil {
		return nil, errors.New("homeserver unavailable")
	}
	return f.resp, nil
}

type fakeSecrets struct{ names []string }

func (f *fakeSecrets) RequestSecrets(_ context.Context, names []string) ([]*domain.OutgoingKeyRequest, error) {
	f.names = append(f.names, names...)
	return nil, nil
}

type env struct {
	alice    *trusttest.User
	existing *trusttest.Device
	trust    *trust.Service
	login    *fakeLogin
	secrets  *fakeSecrets
	ceremony *rendezvous.Ceremony

	newEnd, peerEnd *pipeEnd
	peer            *rendezvous.SecureChannel
	code            *rendezvous.Code
}

func newEnv(t *testing.T, intent rendezvous.Intent) *env {
	t.Helper()
	alice := trusttest.NewUser(t, "@alice:example.org")
	existing := alice.NewDevice("OLDDEV")
	stores := store.NewStores(store.NewMemoryKV())
	tr := trust.New(alice.ID, stores.Devices, stores.CrossSigning, events.NewBus(), zerolog.Nop())

	e := &env{
		alice:    alice,
		existing: existing,
		trust:    tr,
		login:    &fakeLogin{flows: []domain.LoginFlow{{Type: "m.login.password"}, {Type: "m.login.token"}}, device: "NEWDEV"},
		secrets:  &fakeSecrets{},
	}
	querier := &fakeQuerier{resp: alice.KeysQuery(true, existing)}
	e.ceremony = rendezvous.New(e.login, func(context.Context, domain.Credentials) (*rendezvous.LoggedIn, error) {
		return &rendezvous.LoggedIn{Fingerprint: "newdevicekey", Trust: tr, Keys: querier, Secrets: e.secrets}, nil
	}, zerolog.Nop(), rendezvous.Options{ReceiveTimeout: 2 * time.Second, DeviceName: "test"})

	e.newEnd, e.peerEnd = newPipe()
	peer, err := rendezvous.NewCreatorChannel(e.peerEnd)
	require.NoError(t, err)
	e.peer = peer
	e.code = &rendezvous.Code{
		Intent: intent,
		Rendezvous: rendezvous.Details{
			Algorithm: ecdh.Algorithm,
			Transport: rendezvous.TransportDetails{Type: rendezvous.TransportHTTP, URI: "https://rz.example.org/abc"},
			Key:       peer.PublicKey(),
		},
	}
	return e
}

type outcome struct {
	res     *rendezvous.Result
	err     error
	peerErr error
}

// run starts the ceremony against the scripted existing device.
func (e *env) run(t *testing.T, script func(ctx context.Context, peer *rendezvous.SecureChannel) error) outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	peerErr := make(chan error, 1)
	go func() {
		defer e.peer.Close()
		peerErr <- script(ctx, e.peer)
	}()

	ch, err := rendezvous.NewScannerChannel(e.newEnd, e.code)
	require.NoError(t, err)
	res, err := e.ceremony.LoginOnNewDevice(ctx, e.code, ch)
	return outcome{res: res, err: err, peerErr: <-peerErr}
}

func sendPayload(ctx context.Context, ch *rendezvous.SecureChannel, p rendezvous.Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return ch.Send(ctx, raw)
}

func receivePayload(ctx context.Context, ch *rendezvous.SecureChannel) (rendezvous.Payload, error) {
	var p rendezvous.Payload
	raw, err := ch.Receive(ctx)
	if err != nil {
		return p, err
	}
	return p, json.Unmarshal(raw, &p)
}

// expectFinish reads the next payload and checks it is a FINISH with outcome.
func expectFinish(ctx context.Context, peer *rendezvous.SecureChannel, want rendezvous.Outcome) error {
	p, err := receivePayload(ctx, peer)
	if err != nil {
		return err
	}
	if p.Type != rendezvous.TypeFinish || p.Outcome != want {
		return fmt.Errorf("got %s/%s, want finish/%s", p.Type, p.Outcome, want)
	}
	return nil
}

// offerProtocols connects and advertises token login.
func offerProtocols(ctx context.Context, peer *rendezvous.SecureChannel) error {
	if _, err := peer.Connect(ctx); err != nil {
		return err
	}
	if err := sendPayload(ctx, peer, rendezvous.Payload{Type: rendezvous.TypeProgress, Protocols: []string{rendezvous.ProtocolLoginToken}}); err != nil {
		return err
	}
	p, err := receivePayload(ctx, peer)
	if err != nil {
		return err
	}
	if p.Protocol != rendezvous.ProtocolLoginToken {
		return fmt.Errorf("protocol %q chosen", p.Protocol)
	}
	return nil
}

// upToLogin plays the existing device until the new device reports its
// keys.
func upToLogin(ctx context.Context, peer *rendezvous.SecureChannel) (rendezvous.Payload, error) {
	if err := offerProtocols(ctx, peer); err != nil {
		return rendezvous.Payload{}, err
	}
	if err := sendPayload(ctx, peer, rendezvous.Payload{Type: rendezvous.TypeProgress, LoginToken: "tok", Homeserver: homeserver}); err != nil {
		return rendezvous.Payload{}, err
	}
	return receivePayload(ctx, peer)
}

func (e *env) verifiedFinish(deviceKey, masterKey domain.Ed25519) rendezvous.Payload {
	return rendezvous.Payload{
		Type:               rendezvous.TypeFinish,
		Outcome:            rendezvous.OutcomeVerified,
		VerifyingDeviceID:  e.existing.ID,
		VerifyingDeviceKey: deviceKey,
		MasterKey:          masterKey,
	}
}

func (e *env) deviceVerified(t *testing.T) bool {
	t.Helper()
	dev, ok, err := e.trust.GetDevice(e.alice.ID, e.existing.ID)
	require.NoError(t, err)
	return ok && dev.Trust.LocallyVerified
}

func (e *env) masterVerified(t *testing.T) bool {
	t.Helper()
	trusted, err := e.trust.IsUserTrusted(e.alice.ID)
	require.NoError(t, err)
	return trusted
}

func TestLogin_VerifiedByExistingDevice(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	var reported rendezvous.Payload
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		p, err := upToLogin(ctx, peer)
		if err != nil {
			return err
		}
		reported = p
		return sendPayload(ctx, peer, e.verifiedFinish(e.existing.SigningKey(), e.alice.Master.Public()))
	})
	require.NoError(t, out.err)
	require.NoError(t, out.peerErr)

	assert.Equal(t, rendezvous.TypeProgress, reported.Type)
	assert.Equal(t, rendezvous.OutcomeSuccess, reported.Outcome)
	assert.Equal(t, domain.DeviceID("NEWDEV"), reported.DeviceID)
	assert.Equal(t, domain.Ed25519("newdevicekey"), reported.DeviceKey)

	assert.True(t, out.res.Verified)
	assert.Equal(t, e.existing.ID, out.res.VerifyingDeviceID)
	assert.Equal(t, homeserver, out.res.Credentials.HomeserverURL)
	assert.NotEmpty(t, out.res.Checksum)
	assert.True(t, e.deviceVerified(t))
	assert.True(t, e.masterVerified(t))
	assert.Equal(t, rendezvous.SecretsToRequest, e.secrets.names)
	assert.True(t, e.newEnd.closed.Load())
	assert.False(t, e.newEnd.cancelled.Load())
}

func TestLogin_FingerprintMismatch(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	impostor := e.alice.NewDevice("OLDDEV")
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		if _, err := upToLogin(ctx, peer); err != nil {
			return err
		}
		if err := sendPayload(ctx, peer, e.verifiedFinish(impostor.SigningKey(), e.alice.Master.Public())); err != nil {
			return err
		}
		return expectFinish(ctx, peer, rendezvous.OutcomeE2EESecurityError)
	})
	require.Error(t, out.err)
	assert.Equal(t, rendezvous.ReasonE2EESecurityIssue, rendezvous.ReasonOf(out.err))
	require.NoError(t, out.peerErr)
	assert.False(t, e.deviceVerified(t))
	assert.False(t, e.masterVerified(t))
	assert.Empty(t, e.secrets.names)
	assert.True(t, e.newEnd.closed.Load())
}

func TestLogin_MasterKeyMismatch(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	other := trusttest.NewUser(t, e.alice.ID)
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		if _, err := upToLogin(ctx, peer); err != nil {
			return err
		}
		if err := sendPayload(ctx, peer, e.verifiedFinish(e.existing.SigningKey(), other.Master.Public())); err != nil {
			return err
		}
		return expectFinish(ctx, peer, rendezvous.OutcomeE2EESecurityError)
	})
	assert.Equal(t, rendezvous.ReasonE2EESecurityIssue, rendezvous.ReasonOf(out.err))
	require.NoError(t, out.peerErr)
	assert.False(t, e.deviceVerified(t))
	assert.False(t, e.masterVerified(t))
}

func TestLogin_SameIntent(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnNewDevice)
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		if _, err := peer.Connect(ctx); err != nil {
			return err
		}
		p, err := receivePayload(ctx, peer)
		if err != nil {
			return err
		}
		if p.Type != rendezvous.TypeFinish || p.Intent != rendezvous.IntentLoginOnNewDevice {
			return fmt.Errorf("unexpected %+v", p)
		}
		return nil
	})
	assert.Equal(t, rendezvous.ReasonOtherDeviceNotSignedIn, rendezvous.ReasonOf(out.err))
	require.NoError(t, out.peerErr)
	assert.Zero(t, e.login.calls.Load())
}

func TestLogin_FinishInsteadOfToken(t *testing.T) {
	tests := []struct {
		outcome rendezvous.Outcome
		reason  rendezvous.Reason
	}{
		{rendezvous.OutcomeDeclined, rendezvous.ReasonUserDeclined},
		{rendezvous.OutcomeUnsupported, rendezvous.ReasonUnsupportedHomeserver},
		{"something_else", rendezvous.ReasonUnknown},
	}
	for _, tc := range tests {
		t.Run(string(tc.outcome), func(t *testing.T) {
			e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
			out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
				if err := offerProtocols(ctx, peer); err != nil {
					return err
				}
				return sendPayload(ctx, peer, rendezvous.Payload{Type: rendezvous.TypeFinish, Outcome: tc.outcome})
			})
			assert.Equal(t, tc.reason, rendezvous.ReasonOf(out.err))
			require.NoError(t, out.peerErr)
			assert.Zero(t, e.login.calls.Load())
		})
	}
}

func TestLogin_TokenLoginUnsupported(t *testing.T) {
	t.Run("peer offers no token login", func(t *testing.T) {
		e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
		out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
			if _, err := peer.Connect(ctx); err != nil {
				return err
			}
			if err := sendPayload(ctx, peer, rendezvous.Payload{Type: rendezvous.TypeProgress, Protocols: []string{"password"}}); err != nil {
				return err
			}
			return expectFinish(ctx, peer, rendezvous.OutcomeUnsupported)
		})
		assert.Equal(t, rendezvous.ReasonUnsupportedHomeserver, rendezvous.ReasonOf(out.err))
		require.NoError(t, out.peerErr)
	})

	t.Run("homeserver lacks token login", func(t *testing.T) {
		e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
		e.login.flows = []domain.LoginFlow{{Type: "m.login.password"}}
		out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
			if err := offerProtocols(ctx, peer); err != nil {
				return err
			}
			if err := sendPayload(ctx, peer, rendezvous.Payload{Type: rendezvous.TypeProgress, LoginToken: "tok", Homeserver: homeserver}); err != nil {
				return err
			}
			return expectFinish(ctx, peer, rendezvous.OutcomeUnsupported)
		})
		assert.Equal(t, rendezvous.ReasonUnsupportedHomeserver, rendezvous.ReasonOf(out.err))
		require.NoError(t, out.peerErr)
		assert.Zero(t, e.login.calls.Load())
	})
}

func TestLogin_NotVerifiedLeavesTrustAlone(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		if _, err := upToLogin(ctx, peer); err != nil {
			return err
		}
		return sendPayload(ctx, peer, rendezvous.Payload{Type: rendezvous.TypeFinish, Outcome: rendezvous.OutcomeDeclined})
	})
	require.NoError(t, out.err)
	require.NoError(t, out.peerErr)
	assert.False(t, out.res.Verified)
	assert.Equal(t, domain.UserID("@alice:example.org"), out.res.Credentials.UserID)
	assert.False(t, e.deviceVerified(t))
	assert.Empty(t, e.secrets.names)
}

func TestLogin_SilentPeerExpires(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	e.ceremony = rendezvous.New(e.login, nil, zerolog.Nop(), rendezvous.Options{ReceiveTimeout: 50 * time.Millisecond})
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		_, err := peer.Connect(ctx)
		return err
	})
	assert.Equal(t, rendezvous.ReasonExpired, rendezvous.ReasonOf(out.err))
	require.NoError(t, out.peerErr)
	assert.True(t, e.newEnd.cancelled.Load())
	assert.True(t, e.newEnd.closed.Load())
}

func TestLogin_UserCancels(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer e.peer.Close()
		if _, err := e.peer.Connect(context.Background()); err == nil {
			cancel()
		}
	}()
	ch, err := rendezvous.NewScannerChannel(e.newEnd, e.code)
	require.NoError(t, err)
	_, err = e.ceremony.LoginOnNewDevice(ctx, e.code, ch)
	assert.Equal(t, rendezvous.ReasonUserCancelled, rendezvous.ReasonOf(err))
	assert.True(t, e.newEnd.cancelled.Load())
	assert.True(t, e.newEnd.closed.Load())
}

func TestLogin_ChecksumRejected(t *testing.T) {
	e := newEnv(t, rendezvous.IntentLoginOnExistingDevice)
	var seen string
	e.ceremony = rendezvous.New(e.login, nil, zerolog.Nop(), rendezvous.Options{
		ReceiveTimeout: time.Second,
		ConfirmChecksum: func(_ context.Context, checksum string) error {
			seen = checksum
			return errors.New("codes differ")
		},
	})
	var peerChecksum string
	out := e.run(t, func(ctx context.Context, peer *rendezvous.SecureChannel) error {
		sum, err := peer.Connect(ctx)
		peerChecksum = sum
		return err
	})
	assert.Equal(t, rendezvous.ReasonUserCancelled, rendezvous.ReasonOf(out.err))
	require.NoError(t, out.peerErr)
	assert.Equal(t, peerChecksum, seen)
	assert.Regexp(t, `^\d{4}-\d{4}-\d{4}$`, seen)
}

func TestSecureChannel_RejectsReplayedFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	creatorEnd, scannerEnd := newPipe()
	creator, err := rendezvous.NewCreatorChannel(creatorEnd)
	require.NoError(t, err)
	scanner, err := rendezvous.NewScannerChannel(scannerEnd, &rendezvous.Code{
		Rendezvous: rendezvous.Details{Algorithm: ecdh.Algorithm, Key: creator.PublicKey()},
	})
	require.NoError(t, err)

	_, err = scanner.Connect(ctx)
	require.NoError(t, err)
	_, err = creator.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, creator.Send(ctx, []byte(`{"type":"m.login.progress"}`)))
	// A relay that delivers the same frame twice.
	frame := <-scannerEnd.in
	creatorEnd.out <- frame
	creatorEnd.out <- frame

	got, err := scanner.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"m.login.progress"}`, string(got))

	_, err = scanner.Receive(ctx)
	assert.Equal(t, rendezvous.ReasonE2EESecurityIssue, rendezvous.ReasonOf(err))
	assert.ErrorIs(t, err, ecdh.ErrOutOfOrder)
}
