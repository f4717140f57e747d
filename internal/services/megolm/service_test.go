package megolm_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
	"cipherlink/internal/events"
	group "cipherlink/internal/protocol/megolm"
	"cipherlink/internal/services/megolm"
	"cipherlink/internal/store"
)

const room domain.RoomID = "!room:example.org"

type sentMessage struct {
	recipients map[domain.UserID][]domain.DeviceID
	eventType  string
	payload    any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) SendToDevice(ctx context.Context, user domain.UserID, device domain.DeviceID, eventType string, payload any) error {
	return f.SendToDevices(ctx, map[domain.UserID][]domain.DeviceID{user: {device}}, eventType, payload)
}

func (f *fakeSender) SendToDevices(_ context.Context, recipients map[domain.UserID][]domain.DeviceID, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{recipients: recipients, eventType: eventType, payload: payload})
	return nil
}

type fakeRequester struct {
	mu    sync.Mutex
	infos []domain.RequestedKeyInfo
}

func (f *fakeRequester) RequestRoomKey(_ context.Context, info domain.RequestedKeyInfo) (*domain.OutgoingKeyRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos = append(f.infos, info)
	return &domain.OutgoingKeyRequest{RequestID: "r"}, nil
}

func newAccount(t *testing.T, user domain.UserID, device domain.DeviceID) domain.Account {
	t.Helper()
	xpriv, xpub, err := crypto.GenerateX25519()
	require.NoError(t, err)
	edpriv, edpub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return domain.Account{UserID: user, DeviceID: device, XPub: xpub, XPriv: xpriv, EdPub: edpub, EdPriv: edpriv}
}

type fixture struct {
	svc    *megolm.Service
	sender *fakeSender
	stores *store.Stores
}

func newFixture(t *testing.T, opts ...megolm.Option) *fixture {
	t.Helper()
	stores := store.NewStores(store.NewMemoryKV())
	sender := &fakeSender{}
	svc := megolm.New(
		newAccount(t, "@alice:example.org", "ALICE"),
		stores.Inbound, stores.Outbound, sender, events.NewBus(), zerolog.Nop(), opts...,
	)
	return &fixture{svc: svc, sender: sender, stores: stores}
}

func encrypt(t *testing.T, svc *megolm.Service, body string) *domain.EncryptedEvent {
	t.Helper()
	ev, err := svc.EncryptRoomEvent(room, "m.room.message", map[string]any{"body": body})
	require.NoError(t, err)
	return ev
}

func decryptCode(t *testing.T, err error) megolm.DecryptionCode {
	t.Helper()
	var derr *megolm.DecryptionError
	require.True(t, errors.As(err, &derr), "want *DecryptionError, got %v", err)
	return derr.Code
}

func TestEncryptDecrypt_OwnMessages(t *testing.T) {
	f := newFixture(t)
	ev := encrypt(t, f.svc, "hello")
	ev.EventID = "$1"

	plain, err := f.svc.Decrypt(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "m.room.message", plain.Type)
	assert.Equal(t, "hello", plain.Content["body"])
	assert.Equal(t, uint32(0), plain.MessageIndex)
	assert.Equal(t, f.svc.IdentityKey(), plain.SenderKey)
	assert.Equal(t, f.svc.SigningKey().String(), plain.SenderClaimedKeys[domain.KeyAlgorithmEd25519])
}

func TestDecrypt_SecondUseOfIndexIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ev := encrypt(t, f.svc, "once")

	_, err := f.svc.Decrypt(context.Background(), ev)
	require.NoError(t, err)

	_, err = f.svc.Decrypt(context.Background(), ev)
	require.ErrorIs(t, err, megolm.ErrDuplicatedMessageIndex)
	assert.Equal(t, megolm.CodeDuplicatedIndex, decryptCode(t, err))

	var derr *megolm.DecryptionError
	require.True(t, errors.As(err, &derr))
	assert.False(t, derr.Retryable())
}

func TestDecrypt_ConcurrentReplayYieldsOneSuccess(t *testing.T) {
	f := newFixture(t)
	ev := encrypt(t, f.svc, "race")

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Decrypt(context.Background(), ev)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, megolm.ErrDuplicatedMessageIndex):
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), dup.Load())
}

func TestDecrypt_UnknownSessionEscalates(t *testing.T) {
	f := newFixture(t)
	req := &fakeRequester{}
	f.svc.SetKeyRequester(req)

	other := newFixture(t)
	ev := encrypt(t, other.svc, "secret")

	_, err := f.svc.Decrypt(context.Background(), ev)
	require.ErrorIs(t, err, megolm.ErrUnknownSession)
	var derr *megolm.DecryptionError
	require.True(t, errors.As(err, &derr))
	assert.True(t, derr.Retryable())

	require.Len(t, req.infos, 1)
	assert.Equal(t, domain.RequestedKeyInfo{
		Algorithm: domain.AlgorithmMegolmV1,
		RoomID:    room,
		SenderKey: other.svc.IdentityKey(),
		SessionID: ev.SessionID,
	}, req.infos[0])
}

func TestDecrypt_RoomMismatch(t *testing.T) {
	f := newFixture(t)
	ev := encrypt(t, f.svc, "hi")
	ev.RoomID = "!elsewhere:example.org"

	_, err := f.svc.Decrypt(context.Background(), ev)
	require.ErrorIs(t, err, megolm.ErrRoomMismatch)
	assert.Equal(t, megolm.CodeRoomMismatch, decryptCode(t, err))
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	f := newFixture(t)
	ev := encrypt(t, f.svc, "hi")
	raw, err := crypto.DecodeB64(ev.Ciphertext)
	require.NoError(t, err)
	raw[len(raw)-70] ^= 0xff
	ev.Ciphertext = crypto.B64(raw)

	_, err = f.svc.Decrypt(context.Background(), ev)
	assert.Equal(t, megolm.CodeUnableToDecrypt, decryptCode(t, err))

	again := encrypt(t, f.svc, "next")
	_, err = f.svc.Decrypt(context.Background(), again)
	require.NoError(t, err)
}

func TestEncrypt_RotatesAfterMessageLimit(t *testing.T) {
	f := newFixture(t, megolm.WithRotation(megolm.RotationPolicy{Messages: 2}))
	a := encrypt(t, f.svc, "1")
	b := encrypt(t, f.svc, "2")
	c := encrypt(t, f.svc, "3")
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.NotEqual(t, b.SessionID, c.SessionID)
}

func TestEncrypt_RotatesAfterPeriod(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, megolm.WithClock(clock), megolm.WithRotation(megolm.RotationPolicy{Period: time.Hour}))

	a := encrypt(t, f.svc, "1")
	now = now.Add(30 * time.Minute)
	b := encrypt(t, f.svc, "2")
	now = now.Add(time.Hour)
	c := encrypt(t, f.svc, "3")
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.NotEqual(t, a.SessionID, c.SessionID)
}

func TestDiscardOutboundSession(t *testing.T) {
	f := newFixture(t)
	a := encrypt(t, f.svc, "1")
	require.NoError(t, f.svc.DiscardOutboundSession(room))
	b := encrypt(t, f.svc, "2")
	assert.NotEqual(t, a.SessionID, b.SessionID)

	_, err := f.svc.Decrypt(context.Background(), a)
	require.NoError(t, err)
}

func TestShareRoomKey_BlockedDevicesAreWithheld(t *testing.T) {
	f := newFixture(t)
	devices := []*domain.Device{
		{UserID: "@alice:example.org", DeviceID: "ALICE"},
		{UserID: "@bob:example.org", DeviceID: "BOB1"},
		{UserID: "@bob:example.org", DeviceID: "BOB2", Blocked: true},
	}

	res, err := f.svc.ShareRoomKey(context.Background(), room, devices)
	require.NoError(t, err)
	assert.Equal(t, map[domain.UserID][]domain.DeviceID{"@bob:example.org": {"BOB1"}}, res.Shared)
	assert.Equal(t, map[domain.UserID][]domain.DeviceID{"@bob:example.org": {"BOB2"}}, res.Withheld)

	require.Len(t, f.sender.sent, 2)
	assert.Equal(t, domain.EventRoomKey, f.sender.sent[0].eventType)
	assert.Equal(t, domain.EventRoomKeyWithheld, f.sender.sent[1].eventType)
	withheld := f.sender.sent[1].payload.(domain.WithheldContent)
	assert.Equal(t, domain.WithheldBlacklisted, withheld.Code)

	res, err = f.svc.ShareRoomKey(context.Background(), room, devices[:2])
	require.NoError(t, err)
	assert.Empty(t, res.Shared)
	assert.Len(t, f.sender.sent, 2)
}

func TestShareRoomKey_RecipientCanDecrypt(t *testing.T) {
	alice := newFixture(t)
	bob := newFixture(t)

	_, err := alice.svc.ShareRoomKey(context.Background(), room, []*domain.Device{{UserID: "@bob:example.org", DeviceID: "BOB"}})
	require.NoError(t, err)
	content := alice.sender.sent[0].payload.(domain.RoomKeyContent)

	stored, err := bob.svc.AddRoomKey(alice.svc.IdentityKey(), alice.svc.SigningKey(), content)
	require.NoError(t, err)
	require.True(t, stored)

	ev := encrypt(t, alice.svc, "for bob")
	plain, err := bob.svc.Decrypt(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "for bob", plain.Content["body"])
}

func TestAddRoomKey_RejectsWrongSessionID(t *testing.T) {
	f := newFixture(t)
	out, err := group.NewOutbound()
	require.NoError(t, err)

	_, err = f.svc.AddRoomKey("sender", "claimed", domain.RoomKeyContent{
		Algorithm:  domain.AlgorithmMegolmV1,
		RoomID:     room,
		SessionID:  "not-the-id",
		SessionKey: out.SessionKey(),
	})
	require.ErrorIs(t, err, megolm.ErrSessionIDMismatch)
}

func TestExportImport_RoundTrip(t *testing.T) {
	alice := newFixture(t)
	ev := encrypt(t, alice.svc, "archived")

	blob, err := alice.svc.ExportEncrypted("pw", 1000)
	require.NoError(t, err)

	restored := newFixture(t)
	n, err := restored.svc.ImportEncrypted(context.Background(), blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	orig, ok, err := alice.svc.GetInboundSession(ev.SenderKey, ev.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	got, ok, err := restored.svc.GetInboundSession(ev.SenderKey, ev.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.GreaterOrEqual(t, got.FirstKnownIndex, orig.FirstKnownIndex)

	plain, err := restored.svc.Decrypt(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "archived", plain.Content["body"])

	n, err = restored.svc.ImportEncrypted(context.Background(), blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = restored.svc.ImportEncrypted(context.Background(), blob, "wrong")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestImportSessions_NarrowerKeyWins(t *testing.T) {
	alice := newFixture(t)
	for i := 0; i < 6; i++ {
		encrypt(t, alice.svc, "m")
	}
	all, err := alice.svc.ExportAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	wide := all[0]

	in, err := group.ImportInbound(wide.SessionKey)
	require.NoError(t, err)
	narrowKey, err := in.Export(5)
	require.NoError(t, err)
	narrow := wide
	narrow.SessionKey = narrowKey

	f := newFixture(t)
	n, err := f.svc.ImportSessions(context.Background(), []domain.ExportedSession{wide})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = f.svc.ImportSessions(context.Background(), []domain.ExportedSession{narrow})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, _, err := f.svc.GetInboundSession(wide.SenderKey, wide.SessionID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.FirstKnownIndex)

	n, err = f.svc.ImportSessions(context.Background(), []domain.ExportedSession{wide})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	got, _, err = f.svc.GetInboundSession(wide.SenderKey, wide.SessionID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.FirstKnownIndex)
}

func TestImportSessions_SkipsMalformed(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.ImportSessions(context.Background(), []domain.ExportedSession{
		{Algorithm: "m.unknown", SessionID: "x"},
		{Algorithm: domain.AlgorithmMegolmV1, SessionID: "y", SessionKey: "garbage"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestForgetDevice(t *testing.T) {
	f := newFixture(t)
	ev := encrypt(t, f.svc, "x")

	n, err := f.svc.ForgetDevice(f.svc.IdentityKey())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.svc.Decrypt(context.Background(), ev)
	require.ErrorIs(t, err, megolm.ErrUnknownSession)
}
