package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"cipherlink/internal/domain"
)

const (
	// DefaultReceiveTimeout bounds each wait for the peer.
	DefaultReceiveTimeout = 45 * time.Second

	cancelTimeout  = 5 * time.Second
	loginTypeToken = "m.login.token"
)

// SecretsToRequest are asked from our other devices once the verifying
// device is trusted.
var SecretsToRequest = []string{
	domain.SecretCrossSigningMaster,
	domain.SecretCrossSigningSelfSigning,
	domain.SecretCrossSigningUserSigning,
	domain.SecretMegolmBackup,
}

// LoggedIn is the freshly signed-in device, built by the caller from the
// credentials the ceremony obtained.
type LoggedIn struct {
	// Fingerprint is the new device's ed25519 key.
	Fingerprint domain.Ed25519
	Trust       domain.TrustService
	Keys        domain.KeyQuerier
	Secrets     domain.SecretRequester
}

// LoginHook turns credentials into a usable device.
type LoginHook func(ctx context.Context, creds domain.Credentials) (*LoggedIn, error)

// Options tune a ceremony.
type Options struct {
	ReceiveTimeout time.Duration
	DeviceName     string
	// ConfirmChecksum is shown the channel checksum. Returning an error
	// abandons the ceremony.
	ConfirmChecksum func(ctx context.Context, checksum string) error
}

// Result describes a completed login.
type Result struct {
	Credentials       domain.Credentials
	Checksum          string
	VerifyingDeviceID domain.DeviceID
	Verified          bool
	SecretRequests    []*domain.OutgoingKeyRequest
}

// Ceremony runs logins on this (new) device.
type Ceremony struct {
	login   domain.LoginClient
	onLogin LoginHook
	log     zerolog.Logger
	opts    Options
}

// New returns a Ceremony. A zero ReceiveTimeout selects
// DefaultReceiveTimeout.
func New(login domain.LoginClient, onLogin LoginHook, log zerolog.Logger, opts Options) *Ceremony {
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = DefaultReceiveTimeout
	}
	return &Ceremony{
		login:   login,
		onLogin: onLogin,
		log:     log.With().Str("component", "rendezvous").Logger(),
		opts:    opts,
	}
}

// run holds the state of one ceremony.
type run struct {
	*Ceremony
	ch       *SecureChannel
	code     *Code
	finished bool
}

// LoginOnNewDevice signs this device in through the device that showed
// code, reached over ch. ch is closed before returning.
func (c *Ceremony) LoginOnNewDevice(ctx context.Context, code *Code, ch *SecureChannel) (res *Result, err error) {
	r := &run{Ceremony: c, ch: ch, code: code}
	defer func() {
		if err != nil {
			err = r.classify(ctx, err)
			if !r.finished {
				r.cancel()
			}
			r.log.Warn().Str("reason", string(ReasonOf(err))).Err(err).Msg("login ceremony failed")
		}
		if cerr := ch.Close(); cerr != nil {
			r.log.Debug().Err(cerr).Msg("closing channel")
		}
	}()
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	checksum, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	r.log.Info().Str("checksum", checksum).Msg("secure channel established")
	if r.opts.ConfirmChecksum != nil {
		if err := r.opts.ConfirmChecksum(ctx, checksum); err != nil {
			return nil, fail(ReasonUserCancelled, err)
		}
	}

	if err := r.checkCompatibility(ctx); err != nil {
		return nil, err
	}
	if err := r.negotiateProtocol(ctx); err != nil {
		return nil, err
	}
	creds, err := r.loginWithToken(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Credentials: creds, Checksum: checksum}

	device, err := r.onLogin(ctx, creds)
	if err != nil {
		return nil, fail(ReasonUnknown, fmt.Errorf("set up device: %w", err))
	}
	if err := r.send(ctx, Payload{
		Type:      TypeProgress,
		Outcome:   OutcomeSuccess,
		DeviceID:  creds.DeviceID,
		DeviceKey: device.Fingerprint,
	}); err != nil {
		return nil, err
	}
	r.fetchOwnKeys(ctx, device, creds.UserID)

	resp, err := r.receive(ctx)
	if err != nil {
		return nil, err
	}
	res.VerifyingDeviceID = resp.VerifyingDeviceID
	if resp.Outcome != OutcomeVerified {
		r.log.Info().Str("outcome", string(resp.Outcome)).Msg("signed in without verification")
		r.finished = true
		return res, nil
	}
	if err := r.trustVerifier(ctx, device, creds.UserID, resp); err != nil {
		return nil, err
	}
	res.Verified = true
	r.finished = true

	reqs, err := device.Secrets.RequestSecrets(ctx, SecretsToRequest)
	if err != nil {
		r.log.Warn().Err(err).Msg("requesting secrets")
	}
	res.SecretRequests = reqs
	return res, nil
}

func (r *run) connect(ctx context.Context) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.ReceiveTimeout)
	defer cancel()
	return r.ch.Connect(cctx)
}

// checkCompatibility rejects a code shown by a device with our own intent.
func (r *run) checkCompatibility(ctx context.Context) error {
	return r.compatible(ctx, IntentLoginOnNewDevice, r.code.Intent)
}

func (r *run) compatible(ctx context.Context, ours, theirs Intent) error {
	if ours != theirs {
		return nil
	}
	if err := r.finish(ctx, Payload{Type: TypeFinish, Intent: ours}); err != nil {
		r.log.Debug().Err(err).Msg("sending finish")
	}
	if ours == IntentLoginOnNewDevice {
		return fail(ReasonOtherDeviceNotSignedIn, nil)
	}
	return fail(ReasonOtherDeviceAlreadySignedIn, nil)
}

func (r *run) negotiateProtocol(ctx context.Context) error {
	p, err := r.receive(ctx)
	if err != nil {
		return err
	}
	if p.Type == TypeFinish {
		return finishFailure(p)
	}
	if p.Type != TypeProgress || !slices.Contains(p.Protocols, ProtocolLoginToken) {
		if err := r.finish(ctx, Payload{Type: TypeFinish, Outcome: OutcomeUnsupported}); err != nil {
			r.log.Debug().Err(err).Msg("sending finish")
		}
		return fail(ReasonUnsupportedHomeserver, fmt.Errorf("peer offers %v", p.Protocols))
	}
	return r.send(ctx, Payload{Type: TypeProgress, Protocol: ProtocolLoginToken})
}

func (r *run) loginWithToken(ctx context.Context) (domain.Credentials, error) {
	p, err := r.receive(ctx)
	if err != nil {
		return domain.Credentials{}, err
	}
	if p.Type == TypeFinish {
		return domain.Credentials{}, finishFailure(p)
	}
	if p.LoginToken == "" || p.Homeserver == "" {
		return domain.Credentials{}, fail(ReasonUnknown, errors.New("login token payload incomplete"))
	}

	flows, err := r.login.LoginFlows(ctx, p.Homeserver)
	if err != nil {
		return domain.Credentials{}, fail(ReasonUnknown, err)
	}
	if !supportsTokenLogin(flows) {
		if err := r.finish(ctx, Payload{Type: TypeFinish, Outcome: OutcomeUnsupported}); err != nil {
			r.log.Debug().Err(err).Msg("sending finish")
		}
		return domain.Credentials{}, fail(ReasonUnsupportedHomeserver, fmt.Errorf("%s lacks %s", p.Homeserver, loginTypeToken))
	}
	creds, err := r.login.LoginWithToken(ctx, p.Homeserver, p.LoginToken, r.opts.DeviceName)
	if err != nil {
		return domain.Credentials{}, fail(ReasonUnknown, fmt.Errorf("token login: %w", err))
	}
	if creds.HomeserverURL == "" {
		creds.HomeserverURL = p.Homeserver
	}
	r.log.Info().
		Str("user_id", creds.UserID.String()).
		Str("device_id", creds.DeviceID.String()).
		Msg("signed in")
	return creds, nil
}

func supportsTokenLogin(flows []domain.LoginFlow) bool {
	for _, f := range flows {
		if f.Type == loginTypeToken {
			return true
		}
	}
	return false
}

// fetchOwnKeys refreshes our own published keys. Failure is not fatal.
func (r *run) fetchOwnKeys(ctx context.Context, device *LoggedIn, user domain.UserID) {
	resp, err := device.Keys.QueryKeys(ctx, []domain.UserID{user})
	if err != nil {
		r.log.Warn().Err(err).Msg("fetching own keys")
		return
	}
	if err := device.Trust.ApplyKeysQuery(resp); err != nil {
		r.log.Warn().Err(err).Msg("applying own keys")
	}
}

// trustVerifier checks the keys the verifying device reported against what
// the homeserver publishes and, when they match, trusts them.
func (r *run) trustVerifier(ctx context.Context, device *LoggedIn, user domain.UserID, p *Payload) error {
	dev, ok, err := device.Trust.GetDevice(user, p.VerifyingDeviceID)
	if err != nil {
		return fail(ReasonUnknown, err)
	}
	if !ok {
		r.fetchOwnKeys(ctx, device, user)
		if dev, ok, err = device.Trust.GetDevice(user, p.VerifyingDeviceID); err != nil {
			return fail(ReasonUnknown, err)
		}
	}
	if !ok || dev.SigningKey() != p.VerifyingDeviceKey {
		return r.securityIssue(ctx, fmt.Errorf("verifying device %s key does not match the homeserver", p.VerifyingDeviceID))
	}
	if p.MasterKey != "" {
		keys, err := device.Trust.GetCrossSigningKeys(user)
		if err != nil {
			return fail(ReasonUnknown, err)
		}
		if keys.Master == nil {
			return r.securityIssue(ctx, errors.New("no master key published"))
		}
		if _, observed := keys.Master.PublicKey(); observed != p.MasterKey {
			return r.securityIssue(ctx, errors.New("reported master key does not match the homeserver"))
		}
	}

	if err := device.Trust.SetDeviceVerification(domain.TrustLevel{LocallyVerified: true}, user, p.VerifyingDeviceID); err != nil {
		return fail(ReasonUnknown, err)
	}
	if p.MasterKey != "" {
		if err := device.Trust.MarkMasterKeyVerified(user, p.MasterKey); err != nil {
			return fail(ReasonUnknown, err)
		}
	}
	r.log.Info().Str("device_id", p.VerifyingDeviceID.String()).Msg("verifying device trusted")
	return nil
}

func (r *run) securityIssue(ctx context.Context, cause error) error {
	if err := r.finish(ctx, Payload{Type: TypeFinish, Outcome: OutcomeE2EESecurityError}); err != nil {
		r.log.Debug().Err(err).Msg("sending finish")
	}
	return fail(ReasonE2EESecurityIssue, cause)
}

// finishFailure maps a FINISH received in place of the expected payload.
func finishFailure(p *Payload) error {
	switch p.Outcome {
	case OutcomeDeclined:
		return fail(ReasonUserDeclined, nil)
	case OutcomeUnsupported:
		return fail(ReasonUnsupportedHomeserver, nil)
	}
	return fail(ReasonUnknown, fmt.Errorf("peer finished with outcome %q", p.Outcome))
}

func (r *run) finish(ctx context.Context, p Payload) error {
	r.finished = true
	return r.send(ctx, p)
}

func (r *run) send(ctx context.Context, p Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.ch.Send(ctx, raw)
}

func (r *run) receive(ctx context.Context) (*Payload, error) {
	rctx, cancel := context.WithTimeout(ctx, r.opts.ReceiveTimeout)
	defer cancel()
	raw, err := r.ch.Receive(rctx)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fail(ReasonUnknown, fmt.Errorf("decode payload: %w", err))
	}
	return &p, nil
}

// cancel tells the peer we are leaving. Failure is only logged.
func (r *run) cancel() {
	ctx, done := context.WithTimeout(context.Background(), cancelTimeout)
	defer done()
	if err := r.ch.Cancel(ctx); err != nil {
		r.log.Debug().Err(err).Msg("cancelling channel")
	}
}

// classify turns any error into an *Error.
func (r *run) classify(ctx context.Context, err error) error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}
	switch {
	case ctx.Err() != nil:
		return fail(ReasonUserCancelled, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrExpired):
		return fail(ReasonExpired, err)
	}
	return fail(ReasonUnknown, err)
}
