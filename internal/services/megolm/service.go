package megolm

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
	"cipherlink/internal/events"
)

// RotationPolicy bounds how long one outbound session is used.
type RotationPolicy struct {
	Period   time.Duration
	Messages int
}

// DefaultRotation rotates weekly or after 100 messages.
var DefaultRotation = RotationPolicy{Period: 7 * 24 * time.Hour, Messages: 100}

// Service is the group session manager.
type Service struct {
	account  domain.Account
	inbound  domain.InboundSessionStore
	outbound domain.OutboundSessionStore
	sender   domain.ToDeviceSender
	bus      *events.Bus
	log      zerolog.Logger
	rotation RotationPolicy
	now      func() time.Time

	sessionLocks keyedMutex
	roomLocks    keyedMutex

	reqMu     sync.RWMutex
	requester domain.KeyRequester
}

// Option configures a Service.
type Option func(*Service)

// WithRotation overrides DefaultRotation.
func WithRotation(p RotationPolicy) Option { return func(s *Service) { s.rotation = p } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a group session manager for the local account.
func New(
	account domain.Account,
	inbound domain.InboundSessionStore,
	outbound domain.OutboundSessionStore,
	sender domain.ToDeviceSender,
	bus *events.Bus,
	log zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		account:  account,
		inbound:  inbound,
		outbound: outbound,
		sender:   sender,
		bus:      bus,
		log:      log.With().Str("component", "megolm").Logger(),
		rotation: DefaultRotation,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetKeyRequester installs the hook that is told about unknown sessions.
func (s *Service) SetKeyRequester(r domain.KeyRequester) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	s.requester = r
}

func (s *Service) keyRequester() domain.KeyRequester {
	s.reqMu.RLock()
	defer s.reqMu.RUnlock()
	return s.requester
}

// IdentityKey is our curve25519 sender key.
func (s *Service) IdentityKey() domain.Curve25519 { return crypto.EncodeCurve25519(s.account.XPub) }

// SigningKey is our ed25519 device key.
func (s *Service) SigningKey() domain.Ed25519 { return crypto.EncodeEd25519(s.account.EdPub) }

// GetInboundSession returns the stored session for (senderKey, sessionID).
func (s *Service) GetInboundSession(
	senderKey domain.Curve25519,
	sessionID domain.SessionID,
) (*domain.InboundGroupSession, bool, error) {
	return s.inbound.GetInboundSession(senderKey, sessionID)
}

// ForgetDevice drops every inbound session received from the device with
// the given identity key.
func (s *Service) ForgetDevice(identityKey domain.Curve25519) (int, error) {
	n, err := s.inbound.DeleteInboundSessionsBySender(identityKey)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("sender_key", identityKey.String()).Int("sessions", n).Msg("forgot device sessions")
	return n, nil
}

func sessionLockKey(senderKey domain.Curve25519, sessionID domain.SessionID) string {
	return senderKey.String() + "|" + sessionID.String()
}

// Compile-time assertion that Service implements domain.GroupSessionService.
var _ domain.GroupSessionService = (*Service)(nil)
