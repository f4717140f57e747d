package trust

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
	"cipherlink/internal/events"
)

// Service is the trust store. Read-modify-write updates are serialized.
type Service struct {
	self    domain.UserID
	devices domain.DeviceStore
	keys    domain.CrossSigningStore
	bus     *events.Bus
	log     zerolog.Logger

	mu sync.Mutex
}

// New returns a trust store for the local user self.
func New(
	self domain.UserID,
	devices domain.DeviceStore,
	keys domain.CrossSigningStore,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		self:    self,
		devices: devices,
		keys:    keys,
		bus:     bus,
		log:     log.With().Str("component", "trust").Logger(),
	}
}

// ---------- Devices ----------

// UpsertDevice validates a device key upload and stores it. A new device
// starts with unset trust; a known device keeps its manual flags. A known
// device that presents different keys is rejected with ErrDeviceKeysChanged.
func (s *Service) UpsertDevice(info domain.DeviceKeysJSON) (*domain.Device, error) {
	dev := info.Device()
	if err := validateDevice(dev); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.devices.GetDevice(dev.UserID, dev.DeviceID)
	if err != nil {
		return nil, err
	}
	if ok {
		if !existing.SameKeys(dev) {
			s.log.Warn().
				Str("user_id", dev.UserID.String()).
				Str("device_id", dev.DeviceID.String()).
				Msg("device presented different keys; keeping stored identity")
			return nil, fmt.Errorf("%w: %s %s", ErrDeviceKeysChanged, dev.UserID, dev.DeviceID)
		}
		dev.Trust.LocallyVerified = existing.Trust.LocallyVerified
		dev.Blocked = existing.Blocked
		if dev.DisplayName == "" {
			dev.DisplayName = existing.DisplayName
		}
	}
	dev.Trust.CrossSigningVerified = s.isCrossSigned(dev)

	if err := s.devices.PutDevice(dev); err != nil {
		return nil, err
	}
	s.bus.Publish(events.DeviceChanged{UserID: dev.UserID, DeviceID: dev.DeviceID})
	return dev, nil
}

// GetDevice returns the stored device with its cross-signing trust recomputed.
func (s *Service) GetDevice(user domain.UserID, device domain.DeviceID) (*domain.Device, bool, error) {
	dev, ok, err := s.devices.GetDevice(user, device)
	if err != nil || !ok {
		return nil, ok, err
	}
	dev.Trust.CrossSigningVerified = s.isCrossSigned(dev)
	return dev, true, nil
}

// ListDevices returns the user's devices with recomputed trust.
func (s *Service) ListDevices(user domain.UserID) ([]*domain.Device, error) {
	list, err := s.devices.ListDevices(user)
	if err != nil {
		return nil, err
	}
	for _, dev := range list {
		dev.Trust.CrossSigningVerified = s.isCrossSigned(dev)
	}
	return list, nil
}

// FindDeviceByIdentityKey returns the device of user owning the curve25519 key.
func (s *Service) FindDeviceByIdentityKey(user domain.UserID, key domain.Curve25519) (*domain.Device, bool, error) {
	list, err := s.ListDevices(user)
	if err != nil {
		return nil, false, err
	}
	for _, dev := range list {
		if dev.IdentityKey() == key {
			return dev, true, nil
		}
	}
	return nil, false, nil
}

// SetDeviceVerification applies the manual flag of level. The cross-signing
// part is always derived and the supplied value is ignored.
func (s *Service) SetDeviceVerification(level domain.TrustLevel, user domain.UserID, device domain.DeviceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok, err := s.devices.GetDevice(user, device)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownDevice, user, device)
	}
	dev.Trust.LocallyVerified = level.LocallyVerified
	dev.Trust.CrossSigningVerified = s.isCrossSigned(dev)
	if err := s.devices.PutDevice(dev); err != nil {
		return err
	}
	s.log.Info().
		Str("user_id", user.String()).
		Str("device_id", device.String()).
		Bool("locally_verified", level.LocallyVerified).
		Msg("device verification changed")
	s.bus.Publish(events.DeviceChanged{UserID: user, DeviceID: device})
	return nil
}

// SetDeviceBlocked marks a device as blocked or unblocks it.
func (s *Service) SetDeviceBlocked(user domain.UserID, device domain.DeviceID, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok, err := s.devices.GetDevice(user, device)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrUnknownDevice, user, device)
	}
	dev.Blocked = blocked
	if err := s.devices.PutDevice(dev); err != nil {
		return err
	}
	s.bus.Publish(events.DeviceChanged{UserID: user, DeviceID: device})
	return nil
}

// RemoveDevice forgets a device and returns the removed record.
func (s *Service) RemoveDevice(user domain.UserID, device domain.DeviceID) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok, err := s.devices.GetDevice(user, device)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnknownDevice, user, device)
	}
	if err := s.devices.DeleteDevice(user, device); err != nil {
		return nil, err
	}
	s.bus.Publish(events.DeviceChanged{UserID: user, DeviceID: device})
	return dev, nil
}

// IsDeviceVerified applies the verification rule: locally verified, or
// signed by a valid self-signing key of a user whose master key is trusted.
func (s *Service) IsDeviceVerified(device *domain.Device) (bool, error) {
	if device.Trust.LocallyVerified {
		return true, nil
	}
	if !s.isCrossSigned(device) {
		return false, nil
	}
	return s.IsUserTrusted(device.UserID)
}

// DeviceTrustState summarizes a device's trust for display.
func (s *Service) DeviceTrustState(device *domain.Device) domain.TrustState {
	switch {
	case device.Blocked:
		return domain.TrustStateBlocked
	case device.Trust.LocallyVerified:
		return domain.TrustStateVerified
	case !s.isCrossSigned(device):
		return domain.TrustStateUnset
	}
	if trusted, _ := s.IsUserTrusted(device.UserID); trusted {
		return domain.TrustStateCrossSignedVerified
	}
	return domain.TrustStateCrossSignedUntrusted
}

func (s *Service) isCrossSigned(device *domain.Device) bool {
	ssk, ok := s.validSubKey(device.UserID, domain.UsageSelfSigning)
	if !ok {
		return false
	}
	return verifySignedBy(device.Signable(), device.Signatures, device.UserID, ssk) == nil
}

// ---------- Cross-signing ----------

// UpsertCrossSigningKey stores key as the authoritative key for its usage.
// Self-signing and user-signing keys must carry a valid signature from the
// user's current master key. Replacing a master key with a different one
// drops its manual verification.
func (s *Service) UpsertCrossSigningKey(key domain.CrossSigningKey) error {
	if err := validateCrossSigningKey(&key); err != nil {
		return err
	}
	usage := key.PrimaryUsage()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &domain.CrossSigningRecord{Key: key}
	if usage != domain.UsageMaster {
		master, ok, err := s.keys.GetCrossSigningKey(key.UserID, domain.UsageMaster)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMasterKey, key.UserID)
		}
		if err := verifySignedBy(&key, key.Signatures, key.UserID, &master.Key); err != nil {
			return fmt.Errorf("%s key of %s: %w", usage, key.UserID, err)
		}
	}

	existing, ok, err := s.keys.GetCrossSigningKey(key.UserID, usage)
	if err != nil {
		return err
	}
	if ok {
		_, oldPub := existing.Key.PublicKey()
		_, newPub := key.PublicKey()
		if oldPub == newPub {
			rec.LocallyVerified = existing.LocallyVerified
			rec.Key.Signatures = mergeSignatures(existing.Key.Signatures, key.Signatures)
		} else {
			s.log.Warn().
				Str("user_id", key.UserID.String()).
				Str("usage", string(usage)).
				Msg("cross-signing key replaced")
		}
	}

	if err := s.keys.PutCrossSigningKey(rec); err != nil {
		return err
	}
	s.bus.Publish(events.CrossSigningKeyChanged{UserID: key.UserID, Usage: usage})
	return nil
}

// GetCrossSigningKeys returns the user's authoritative keys with trust
// recomputed. Sub-keys that no longer chain to the master key are omitted.
func (s *Service) GetCrossSigningKeys(user domain.UserID) (domain.CrossSigningKeys, error) {
	var out domain.CrossSigningKeys
	master, ok, err := s.keys.GetCrossSigningKey(user, domain.UsageMaster)
	if err != nil || !ok {
		return out, err
	}
	out.Master = &master.Key
	trusted, err := s.IsUserTrusted(user)
	if err != nil {
		return out, err
	}
	out.Master.Trust = domain.TrustLevel{LocallyVerified: master.LocallyVerified, CrossSigningVerified: trusted}
	if ssk, ok := s.validSubKey(user, domain.UsageSelfSigning); ok {
		ssk.Trust.CrossSigningVerified = trusted
		out.SelfSigning = ssk
	}
	if usk, ok := s.validSubKey(user, domain.UsageUserSigning); ok {
		usk.Trust.CrossSigningVerified = trusted
		out.UserSigning = usk
	}
	return out, nil
}

// IsUserTrusted reports whether the user's master key is trusted: locally
// verified, or signed by our own valid user-signing key while our own
// master key is trusted.
func (s *Service) IsUserTrusted(user domain.UserID) (bool, error) {
	master, ok, err := s.keys.GetCrossSigningKey(user, domain.UsageMaster)
	if err != nil || !ok {
		return false, err
	}
	if master.LocallyVerified {
		return true, nil
	}
	if user == s.self {
		return false, nil
	}
	own, ok, err := s.keys.GetCrossSigningKey(s.self, domain.UsageMaster)
	if err != nil || !ok || !own.LocallyVerified {
		return false, err
	}
	usk, ok := s.validSubKey(s.self, domain.UsageUserSigning)
	if !ok {
		return false, nil
	}
	return verifySignedBy(&master.Key, master.Key.Signatures, s.self, usk) == nil, nil
}

// MarkMasterKeyVerified sets the manual flag on the user's master key after
// checking that observed is the key we hold. On mismatch nothing changes.
func (s *Service) MarkMasterKeyVerified(user domain.UserID, observed domain.Ed25519) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	master, ok, err := s.keys.GetCrossSigningKey(user, domain.UsageMaster)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMasterKey, user)
	}
	if _, pub := master.Key.PublicKey(); pub != observed {
		s.log.Warn().Str("user_id", user.String()).Msg("master key verification mismatch")
		return fmt.Errorf("%w: master key of %s", ErrSignatureMismatch, user)
	}
	if master.LocallyVerified {
		return nil
	}
	master.LocallyVerified = true
	if err := s.keys.PutCrossSigningKey(master); err != nil {
		return err
	}
	s.log.Info().Str("user_id", user.String()).Msg("master key marked verified")
	s.bus.Publish(events.CrossSigningKeyChanged{UserID: user, Usage: domain.UsageMaster})
	return nil
}

// TrustMasterKey records sig, made by our user-signing key over the user's
// master key. An invalid or missing signature fails with
// ErrSignatureMismatch and leaves the stored key untouched.
func (s *Service) TrustMasterKey(user domain.UserID, sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	master, ok, err := s.keys.GetCrossSigningKey(user, domain.UsageMaster)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMasterKey, user)
	}
	usk, ok := s.validSubKey(s.self, domain.UsageUserSigning)
	if !ok {
		return fmt.Errorf("%w: no valid user-signing key", ErrMissingSignature)
	}
	uskID, uskPub := usk.PublicKey()
	if err := crypto.VerifyJSON(uskPub, sig, &master.Key); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if master.Key.Signatures == nil {
		master.Key.Signatures = domain.Signatures{}
	}
	master.Key.Signatures.Add(s.self, uskID, sig)
	if err := s.keys.PutCrossSigningKey(master); err != nil {
		return err
	}
	s.bus.Publish(events.CrossSigningKeyChanged{UserID: user, Usage: domain.UsageMaster})
	return nil
}

// validSubKey returns the user's key for usage if it is signed by the
// user's current master key.
func (s *Service) validSubKey(user domain.UserID, usage domain.KeyUsage) (*domain.CrossSigningKey, bool) {
	master, ok, err := s.keys.GetCrossSigningKey(user, domain.UsageMaster)
	if err != nil || !ok {
		return nil, false
	}
	sub, ok, err := s.keys.GetCrossSigningKey(user, usage)
	if err != nil || !ok {
		return nil, false
	}
	if verifySignedBy(&sub.Key, sub.Key.Signatures, user, &master.Key) != nil {
		return nil, false
	}
	return &sub.Key, true
}

// ---------- Key query ingestion ----------

// ApplyKeysQuery ingests a keys/query response: master keys first, then
// self-signing and user-signing keys, then devices. A bad entry is reported
// in the joined error and does not stop the others.
func (s *Service) ApplyKeysQuery(resp *domain.KeysQueryResponse) error {
	var errs []error
	for _, group := range []map[domain.UserID]domain.CrossSigningKey{
		resp.MasterKeys, resp.SelfSigningKeys, resp.UserSigningKeys,
	} {
		for _, user := range sortedUsers(group) {
			if err := s.UpsertCrossSigningKey(group[user]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, user := range sortedUsers(resp.DeviceKeys) {
		devices := resp.DeviceKeys[user]
		ids := make([]domain.DeviceID, 0, len(devices))
		for id := range devices {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			info := devices[id]
			if info.UserID != user || info.DeviceID != id {
				errs = append(errs, fmt.Errorf("%w: %s %s listed under %s %s",
					ErrInvalidDeviceKeys, info.UserID, info.DeviceID, user, id))
				continue
			}
			if _, err := s.UpsertDevice(info); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		s.log.Warn().Int("failures", len(errs)).Msg("keys query applied with failures")
	}
	return errors.Join(errs...)
}

func sortedUsers[V any](m map[domain.UserID]V) []domain.UserID {
	users := make([]domain.UserID, 0, len(m))
	for u := range m {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Compile-time assertion that Service implements domain.TrustService.
var _ domain.TrustService = (*Service)(nil)
