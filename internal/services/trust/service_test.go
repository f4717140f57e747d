package trust_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherlink/internal/domain"
	"cipherlink/internal/events"
	"cipherlink/internal/services/trust"
	"cipherlink/internal/services/trust/trusttest"
	"cipherlink/internal/store"
)

const (
	alice domain.UserID = "@alice:example.org"
	bob   domain.UserID = "@bob:example.org"
)

func newService(t *testing.T, self domain.UserID) (*trust.Service, *events.Bus) {
	t.Helper()
	kv := store.NewMemoryKV()
	bus := events.NewBus()
	return trust.New(self, store.NewDeviceKVStore(kv), store.NewCrossSigningKVStore(kv), bus, zerolog.Nop()), bus
}

func isVerified(t *testing.T, svc *trust.Service, user domain.UserID, device domain.DeviceID) bool {
	t.Helper()
	dev, ok, err := svc.GetDevice(user, device)
	require.NoError(t, err)
	require.True(t, ok)
	verified, err := svc.IsDeviceVerified(dev)
	require.NoError(t, err)
	return verified
}

func TestUpsertDevice_NewDeviceIsUnverified(t *testing.T) {
	svc, bus := newService(t, alice)
	var changed []events.Event
	bus.Subscribe(func(e events.Event) { changed = append(changed, e) })

	dev := trusttest.NewUser(t, bob).NewDevice("BOBDEV")
	got, err := svc.UpsertDevice(dev.Keys(false))
	require.NoError(t, err)
	assert.False(t, got.Trust.LocallyVerified)
	assert.False(t, got.Trust.CrossSigningVerified)
	assert.False(t, isVerified(t, svc, bob, "BOBDEV"))
	assert.Equal(t, domain.TrustStateUnset, svc.DeviceTrustState(got))
	require.Len(t, changed, 1)
}

func TestUpsertDevice_RejectsChangedKeys(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)
	_, err := svc.UpsertDevice(u.NewDevice("BOBDEV").Keys(false))
	require.NoError(t, err)

	impostor := u.NewDevice("BOBDEV")
	_, err = svc.UpsertDevice(impostor.Keys(false))
	require.ErrorIs(t, err, trust.ErrDeviceKeysChanged)

	stored, ok, err := svc.GetDevice(bob, "BOBDEV")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, impostor.SigningKey(), stored.SigningKey())
}

func TestUpsertDevice_RejectsBadSelfSignature(t *testing.T) {
	svc, _ := newService(t, alice)
	keys := trusttest.NewUser(t, bob).NewDevice("BOBDEV").Keys(false)
	keys.Algorithms = append(keys.Algorithms, "m.fake")

	_, err := svc.UpsertDevice(keys)
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)
	_, ok, err := svc.GetDevice(bob, "BOBDEV")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertDevice_RejectsMalformedKeys(t *testing.T) {
	svc, _ := newService(t, alice)
	keys := trusttest.NewUser(t, bob).NewDevice("BOBDEV").Keys(false)
	keys.Keys["ed25519:OTHER"] = "AAAA"

	_, err := svc.UpsertDevice(keys)
	require.ErrorIs(t, err, trust.ErrInvalidDeviceKeys)
}

func TestSetDeviceVerification_SurvivesRecomputation(t *testing.T) {
	svc, _ := newService(t, alice)
	dev := trusttest.NewUser(t, bob).NewDevice("BOBDEV")
	_, err := svc.UpsertDevice(dev.Keys(false))
	require.NoError(t, err)

	require.NoError(t, svc.SetDeviceVerification(domain.TrustLevel{LocallyVerified: true, CrossSigningVerified: true}, bob, "BOBDEV"))
	assert.True(t, isVerified(t, svc, bob, "BOBDEV"))

	stored, _, err := svc.GetDevice(bob, "BOBDEV")
	require.NoError(t, err)
	assert.False(t, stored.Trust.CrossSigningVerified)

	_, err = svc.UpsertDevice(dev.Keys(false))
	require.NoError(t, err)
	assert.True(t, isVerified(t, svc, bob, "BOBDEV"))
}

func TestSetDeviceVerification_UnknownDevice(t *testing.T) {
	svc, _ := newService(t, alice)
	err := svc.SetDeviceVerification(domain.TrustLevel{LocallyVerified: true}, bob, "NOPE")
	require.ErrorIs(t, err, trust.ErrUnknownDevice)
}

func TestCrossSignedDevice_NeedsTrustedMaster(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)
	dev := u.NewDevice("BOBDEV")
	require.NoError(t, svc.ApplyKeysQuery(u.KeysQuery(true, dev)))

	stored, _, err := svc.GetDevice(bob, "BOBDEV")
	require.NoError(t, err)
	assert.True(t, stored.Trust.CrossSigningVerified)
	assert.False(t, isVerified(t, svc, bob, "BOBDEV"))
	assert.Equal(t, domain.TrustStateCrossSignedUntrusted, svc.DeviceTrustState(stored))

	require.NoError(t, svc.MarkMasterKeyVerified(bob, u.Master.Public()))
	assert.True(t, isVerified(t, svc, bob, "BOBDEV"))
	assert.Equal(t, domain.TrustStateCrossSignedVerified, svc.DeviceTrustState(stored))
}

func TestMarkMasterKeyVerified_MismatchLeavesTrustUntouched(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)
	require.NoError(t, svc.ApplyKeysQuery(u.KeysQuery(true, u.NewDevice("BOBDEV"))))

	other := trusttest.NewUser(t, bob)
	err := svc.MarkMasterKeyVerified(bob, other.Master.Public())
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)

	trusted, err := svc.IsUserTrusted(bob)
	require.NoError(t, err)
	assert.False(t, trusted)
	assert.False(t, isVerified(t, svc, bob, "BOBDEV"))
}

func TestMarkMasterKeyVerified_UnknownUser(t *testing.T) {
	svc, _ := newService(t, alice)
	err := svc.MarkMasterKeyVerified(bob, "key")
	require.ErrorIs(t, err, trust.ErrUnknownMasterKey)
}

func TestTrustMasterKey_ViaUserSigningKey(t *testing.T) {
	svc, _ := newService(t, alice)
	me := trusttest.NewUser(t, alice)
	them := trusttest.NewUser(t, bob)
	require.NoError(t, svc.ApplyKeysQuery(me.KeysQuery(true)))
	require.NoError(t, svc.MarkMasterKeyVerified(alice, me.Master.Public()))
	require.NoError(t, svc.ApplyKeysQuery(them.KeysQuery(true, them.NewDevice("BOBDEV"))))

	stranger := trusttest.NewUser(t, "@mallory:example.org")
	err := svc.TrustMasterKey(bob, stranger.SignMasterOf(them))
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)
	trusted, err := svc.IsUserTrusted(bob)
	require.NoError(t, err)
	assert.False(t, trusted)

	require.NoError(t, svc.TrustMasterKey(bob, me.SignMasterOf(them)))
	trusted, err = svc.IsUserTrusted(bob)
	require.NoError(t, err)
	assert.True(t, trusted)
	assert.True(t, isVerified(t, svc, bob, "BOBDEV"))

	keys, err := svc.GetCrossSigningKeys(bob)
	require.NoError(t, err)
	require.NotNil(t, keys.Master)
	require.NotNil(t, keys.SelfSigning)
	assert.True(t, keys.Master.Trust.CrossSigningVerified)
	assert.False(t, keys.Master.Trust.LocallyVerified)
}

func TestTrustMasterKey_RequiresOwnTrustedMaster(t *testing.T) {
	svc, _ := newService(t, alice)
	me := trusttest.NewUser(t, alice)
	them := trusttest.NewUser(t, bob)
	require.NoError(t, svc.ApplyKeysQuery(me.KeysQuery(true)))
	require.NoError(t, svc.ApplyKeysQuery(them.KeysQuery(true)))

	require.NoError(t, svc.TrustMasterKey(bob, me.SignMasterOf(them)))
	trusted, err := svc.IsUserTrusted(bob)
	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestUpsertCrossSigningKey_SubKeyMustChainToMaster(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)

	err := svc.UpsertCrossSigningKey(u.SelfSigningKey())
	require.ErrorIs(t, err, trust.ErrUnknownMasterKey)

	require.NoError(t, svc.UpsertCrossSigningKey(u.MasterKey()))

	forged := trusttest.NewUser(t, bob).SelfSigningKey()
	err = svc.UpsertCrossSigningKey(forged)
	require.ErrorIs(t, err, trust.ErrMissingSignature)

	borrowed := trusttest.NewUser(t, bob).SelfSigningKey()
	borrowed.Signatures = u.SelfSigningKey().Signatures
	err = svc.UpsertCrossSigningKey(borrowed)
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)

	require.NoError(t, svc.UpsertCrossSigningKey(u.SelfSigningKey()))
}

func TestMasterKeyReplacement_DropsTrust(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)
	dev := u.NewDevice("BOBDEV")
	require.NoError(t, svc.ApplyKeysQuery(u.KeysQuery(true, dev)))
	require.NoError(t, svc.MarkMasterKeyVerified(bob, u.Master.Public()))
	require.True(t, isVerified(t, svc, bob, "BOBDEV"))

	rotated := trusttest.NewUser(t, bob)
	require.NoError(t, svc.UpsertCrossSigningKey(rotated.MasterKey()))

	trusted, err := svc.IsUserTrusted(bob)
	require.NoError(t, err)
	assert.False(t, trusted)
	assert.False(t, isVerified(t, svc, bob, "BOBDEV"))
}

func TestApplyKeysQuery_ReportsFailuresWithoutAborting(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)
	good := u.NewDevice("GOOD")
	bad := u.NewDevice("BAD")
	resp := u.KeysQuery(false, good, bad)
	badKeys := resp.DeviceKeys[bob]["BAD"]
	badKeys.Algorithms = nil
	resp.DeviceKeys[bob]["BAD"] = badKeys

	err := svc.ApplyKeysQuery(resp)
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)

	list, err := svc.ListDevices(bob)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.DeviceID("GOOD"), list[0].DeviceID)
}

func TestSetDeviceBlocked(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)
	dev := u.NewDevice("BOBDEV")
	_, err := svc.UpsertDevice(dev.Keys(false))
	require.NoError(t, err)

	require.NoError(t, svc.SetDeviceBlocked(bob, "BOBDEV", true))
	stored, _, err := svc.GetDevice(bob, "BOBDEV")
	require.NoError(t, err)
	assert.True(t, stored.Blocked)
	assert.Equal(t, domain.TrustStateBlocked, svc.DeviceTrustState(stored))

	_, err = svc.UpsertDevice(dev.Keys(false))
	require.NoError(t, err)
	stored, _, err = svc.GetDevice(bob, "BOBDEV")
	require.NoError(t, err)
	assert.True(t, stored.Blocked)
}

func TestFindDeviceByIdentityKey(t *testing.T) {
	svc, _ := newService(t, alice)
	dev := trusttest.NewUser(t, bob).NewDevice("BOBDEV")
	_, err := svc.UpsertDevice(dev.Keys(false))
	require.NoError(t, err)

	got, ok, err := svc.FindDeviceByIdentityKey(bob, dev.Identity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.DeviceID("BOBDEV"), got.DeviceID)

	_, ok, err = svc.FindDeviceByIdentityKey(bob, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMissingSignature_IsSignatureMismatch(t *testing.T) {
	svc, _ := newService(t, alice)
	u := trusttest.NewUser(t, bob)

	unsigned := u.NewDevice("BOBDEV").Keys(false)
	unsigned.Signatures = domain.Signatures{}
	_, err := svc.UpsertDevice(unsigned)
	require.ErrorIs(t, err, trust.ErrMissingSignature)
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)

	require.NoError(t, svc.UpsertCrossSigningKey(u.MasterKey()))
	ssk := u.SelfSigningKey()
	ssk.Signatures = nil
	err = svc.UpsertCrossSigningKey(ssk)
	require.ErrorIs(t, err, trust.ErrSignatureMismatch)
}
