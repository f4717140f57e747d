package store_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherlink/internal/domain"
	"cipherlink/internal/store"
)

func sampleExport() []domain.ExportedSession {
	return []domain.ExportedSession{{
		Algorithm:         "m.megolm.v1.aes-sha2",
		RoomID:            "!room:example.org",
		SessionID:         "sess",
		SenderKey:         "sender",
		SenderClaimedKeys: map[domain.KeyAlgorithm]string{"ed25519": "claimed"},
		ForwardingChain:   []domain.Curve25519{},
		SessionKey:        strings.Repeat("A", 300),
	}}
}

func TestExport_RoundTrip(t *testing.T) {
	data, err := store.EncryptExport(sampleExport(), "pw", 1000)
	require.NoError(t, err)

	text := string(data)
	require.True(t, strings.HasPrefix(text, "-----BEGIN MEGOLM SESSION DATA-----\n"))
	require.True(t, strings.HasSuffix(text, "-----END MEGOLM SESSION DATA-----\n"))
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		require.LessOrEqual(t, len(line), 76)
	}

	got, err := store.DecryptExport(data, "pw")
	require.NoError(t, err)
	require.Equal(t, sampleExport(), got)
}

func TestExport_WrongPassword(t *testing.T) {
	data, err := store.EncryptExport(sampleExport(), "pw", 1000)
	require.NoError(t, err)

	_, err = store.DecryptExport(data, "nope")
	require.ErrorIs(t, err, store.ErrWrongPassphrase)
}

func TestExport_RejectsMalformed(t *testing.T) {
	_, err := store.DecryptExport([]byte("hello"), "pw")
	require.ErrorIs(t, err, store.ErrBadExport)

	short := "-----BEGIN MEGOLM SESSION DATA-----\nAQID\n-----END MEGOLM SESSION DATA-----\n"
	_, err = store.DecryptExport([]byte(short), "pw")
	require.ErrorIs(t, err, store.ErrBadExport)
}

func TestExport_EmptyList(t *testing.T) {
	data, err := store.EncryptExport(nil, "pw", 1000)
	require.NoError(t, err)
	got, err := store.DecryptExport(data, "pw")
	require.NoError(t, err)
	require.Empty(t, got)
}
