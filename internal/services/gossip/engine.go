package gossip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cipherlink/internal/domain"
	"cipherlink/internal/events"
)

// Config tunes the engine.
type Config struct {
	// RatePerSecond and Burst throttle incoming requests per device.
	RatePerSecond float64
	Burst         int
}

// obtainedCancelTimeout bounds the cancellation sent when a session arrives
// outside the reply path.
const obtainedCancelTimeout = 30 * time.Second

// DefaultConfig allows one request per second per device with bursts of five.
var DefaultConfig = Config{RatePerSecond: 1, Burst: 5}

// Engine is the key gossip engine for one of our devices.
type Engine struct {
	self     domain.UserID
	deviceID domain.DeviceID

	requests domain.OutgoingRequestStore
	trust    domain.TrustService
	sessions domain.GroupSessionService
	secrets  domain.SecretStore
	sender   domain.ToDeviceSender
	bus      *events.Bus
	log      zerolog.Logger

	limiter *deviceLimiter
	newID   func() string
	now     func() time.Time

	mu sync.Mutex

	// forwarding holds the sessions OnForwardedRoomKey is importing; it
	// closes those requests itself once the reply is recorded.
	fwdMu       sync.Mutex
	forwarding  map[string]struct{}
	unsubscribe func()
}

// New returns an engine acting for (self, deviceID).
func New(
	self domain.UserID,
	deviceID domain.DeviceID,
	requests domain.OutgoingRequestStore,
	trust domain.TrustService,
	sessions domain.GroupSessionService,
	secrets domain.SecretStore,
	sender domain.ToDeviceSender,
	bus *events.Bus,
	log zerolog.Logger,
	cfg Config,
) *Engine {
	e := &Engine{
		self:        self,
		deviceID:    deviceID,
		requests:    requests,
		trust:       trust,
		sessions:    sessions,
		secrets:     secrets,
		sender:      sender,
		bus:         bus,
		log:         log.With().Str("component", "gossip").Logger(),
		limiter:     newDeviceLimiter(cfg.RatePerSecond, cfg.Burst),
		newID:       uuid.NewString,
		now:         time.Now,
		forwarding:  make(map[string]struct{}),
		unsubscribe: func() {},
	}
	if bus != nil {
		e.unsubscribe = bus.Subscribe(e.onEvent)
	}
	return e
}

// Close stops following session imports.
func (e *Engine) Close() { e.unsubscribe() }

// onEvent closes the request for a session that reached the store by any
// route other than a forwarded key we asked for: an m.room_key, a key
// import or our own outbound session.
func (e *Engine) onEvent(ev events.Event) {
	imported, ok := ev.(events.SessionImported)
	if !ok || e.isForwarding(imported.SenderKey, imported.SessionID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), obtainedCancelTimeout)
	defer cancel()
	info := domain.RequestedKeyInfo{
		RoomID:    imported.RoomID,
		SenderKey: imported.SenderKey,
		SessionID: imported.SessionID,
	}
	if err := e.OnSessionObtained(ctx, info); err != nil {
		e.log.Warn().Err(err).
			Str("session_id", imported.SessionID.String()).
			Msg("closing request for obtained session")
	}
}

func forwardingKey(senderKey domain.Curve25519, sessionID domain.SessionID) string {
	return senderKey.String() + "|" + sessionID.String()
}

// beginForwarding marks a forwarded import in progress and returns the
// function that clears the mark.
func (e *Engine) beginForwarding(senderKey domain.Curve25519, sessionID domain.SessionID) func() {
	key := forwardingKey(senderKey, sessionID)
	e.fwdMu.Lock()
	e.forwarding[key] = struct{}{}
	e.fwdMu.Unlock()
	return func() {
		e.fwdMu.Lock()
		delete(e.forwarding, key)
		e.fwdMu.Unlock()
	}
}

func (e *Engine) isForwarding(senderKey domain.Curve25519, sessionID domain.SessionID) bool {
	e.fwdMu.Lock()
	defer e.fwdMu.Unlock()
	_, ok := e.forwarding[forwardingKey(senderKey, sessionID)]
	return ok
}

// ---------- Outgoing room key requests ----------

// RequestRoomKey asks our other devices for a missing session. A request
// for the same session that is pending or already sent is reused. A new
// request is dispatched at once; if that fails it stays UNSENT for
// ProcessPending.
func (e *Engine) RequestRoomKey(ctx context.Context, info domain.RequestedKeyInfo) (*domain.OutgoingKeyRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.findRoomKeyRequest(info)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.log.Debug().
			Str("request_id", existing.RequestID).
			Str("state", string(existing.State)).
			Msg("reusing room key request")
		return existing, nil
	}

	recipients, err := e.ownRecipients()
	if err != nil {
		return nil, err
	}
	req := &domain.OutgoingKeyRequest{
		RequestID:  e.newID(),
		Kind:       domain.KindRoomKey,
		RoomID:     info.RoomID,
		SessionID:  info.SessionID,
		SenderKey:  info.SenderKey,
		Algorithm:  info.Algorithm,
		Recipients: recipients,
		State:      domain.RequestUnsent,
		CreatedAt:  e.now(),
	}
	if err := e.requests.PutOutgoingRequest(req); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("request_id", req.RequestID).
		Str("room_id", req.RoomID.String()).
		Str("session_id", req.SessionID.String()).
		Msg("room key request created")

	if err := e.dispatchLocked(ctx, req); err != nil {
		e.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("dispatch failed; request stays pending")
	}
	return req, nil
}

// findRoomKeyRequest returns the reusable request for info: pending or SENT.
func (e *Engine) findRoomKeyRequest(info domain.RequestedKeyInfo) (*domain.OutgoingKeyRequest, error) {
	all, err := e.requests.ListOutgoingRequests()
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.Kind != domain.KindRoomKey || r.RoomID != info.RoomID ||
			r.SessionID != info.SessionID || r.SenderKey != info.SenderKey {
			continue
		}
		if r.State.IsPending() || r.State == domain.RequestSent {
			return r, nil
		}
	}
	return nil, nil
}

// ownRecipients lists our other known devices.
func (e *Engine) ownRecipients() (map[domain.UserID][]domain.DeviceID, error) {
	devices, err := e.trust.ListDevices(e.self)
	if err != nil {
		return nil, err
	}
	var ids []domain.DeviceID
	for _, d := range devices {
		if d.DeviceID != e.deviceID && !d.Blocked {
			ids = append(ids, d.DeviceID)
		}
	}
	if len(ids) == 0 {
		return nil, ErrNoRecipients
	}
	return map[domain.UserID][]domain.DeviceID{e.self: ids}, nil
}

// GetRequest returns a stored request.
func (e *Engine) GetRequest(requestID string) (*domain.OutgoingKeyRequest, bool, error) {
	return e.requests.GetOutgoingRequest(requestID)
}

// ListRequests returns every stored request, oldest first.
func (e *Engine) ListRequests() ([]*domain.OutgoingKeyRequest, error) {
	return e.requests.ListOutgoingRequests()
}

// ProcessPending dispatches every request in a pending state. Failures are
// joined; one failing request does not stop the others.
func (e *Engine) ProcessPending(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	all, err := e.requests.ListOutgoingRequests()
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range all {
		if !r.State.IsPending() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.dispatchLocked(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", r.RequestID, err))
		}
	}
	return errors.Join(errs...)
}

// Cancel revokes a request. An UNSENT request is dropped; a SENT request
// moves to CANCELLATION_PENDING and the cancellation is dispatched.
func (e *Engine) Cancel(ctx context.Context, requestID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.load(requestID)
	if err != nil {
		return err
	}
	if req.State == domain.RequestUnsent {
		return e.requests.DeleteOutgoingRequest(requestID)
	}
	if err := e.transition(req, InputCancel); err != nil {
		return err
	}
	return e.dispatchLocked(ctx, req)
}

// Resend asks the recipients again. A SENT request is cancelled first; a
// request whose cancellation is still pending is marked to be resent once
// the cancellation goes out. Resend is the only way a request that met a
// withheld reply is retried.
func (e *Engine) Resend(ctx context.Context, requestID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.load(requestID)
	if err != nil {
		return err
	}
	switch req.State {
	case domain.RequestUnsent, domain.RequestCancellationPendingAndWillResend:
	case domain.RequestSent:
		if err := e.transition(req, InputCancel); err != nil {
			return err
		}
		fallthrough
	case domain.RequestCancellationPending:
		if err := e.transition(req, InputResend); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: resend from %s", ErrInvalidTransition, req.State)
	}
	return e.dispatchLocked(ctx, req)
}

// OnSessionObtained records that the key for info is now available. A SENT
// request moves to SENT_THEN_CANCELED and its recipients are told to stop;
// an UNSENT one is dropped.
func (e *Engine) OnSessionObtained(ctx context.Context, info domain.RequestedKeyInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, err := e.findRoomKeyRequest(info)
	if err != nil || req == nil {
		return err
	}
	return e.satisfiedLocked(ctx, req, "")
}

// satisfiedLocked closes a request whose need went away. except is the
// device that answered and needs no cancellation.
func (e *Engine) satisfiedLocked(ctx context.Context, req *domain.OutgoingKeyRequest, except domain.DeviceID) error {
	switch req.State {
	case domain.RequestUnsent:
		return e.requests.DeleteOutgoingRequest(req.RequestID)
	case domain.RequestSent:
		if err := e.transition(req, InputNoLongerNeeded); err != nil {
			return err
		}
		others := map[domain.UserID][]domain.DeviceID{}
		for user, ids := range req.Recipients {
			for _, id := range ids {
				if user == e.self && id == except {
					continue
				}
				others[user] = append(others[user], id)
			}
		}
		if len(others) == 0 {
			return nil
		}
		if err := e.sendCancellation(ctx, req, others); err != nil {
			e.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("cancellation not delivered")
		}
	}
	return nil
}

func (e *Engine) load(requestID string) (*domain.OutgoingKeyRequest, error) {
	req, ok, err := e.requests.GetOutgoingRequest(requestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return req, nil
}

// transition applies in to req and persists it. Callers hold e.mu.
func (e *Engine) transition(req *domain.OutgoingKeyRequest, in Input) error {
	from := req.State
	to, err := Transition(from, in)
	if err != nil {
		return err
	}
	req.State = to
	if err := e.requests.PutOutgoingRequest(req); err != nil {
		req.State = from
		return err
	}
	e.log.Debug().
		Str("request_id", req.RequestID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("request state changed")
	e.bus.Publish(events.RequestStateChanged{RequestID: req.RequestID, From: from, To: to})
	return nil
}

// appendReply records a reply and persists it. Callers hold e.mu.
func (e *Engine) appendReply(req *domain.OutgoingKeyRequest, from *domain.Device, result domain.RequestResult) error {
	reply := domain.RequestReply{
		UserID:     from.UserID,
		FromDevice: from.DeviceID,
		Result:     result,
		ReceivedAt: e.now(),
	}
	req.Results = append(req.Results, reply)
	if err := e.requests.PutOutgoingRequest(req); err != nil {
		return err
	}
	e.bus.Publish(events.RequestReplyReceived{RequestID: req.RequestID, Reply: reply})
	return nil
}
