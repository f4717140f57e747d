package ecdh_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cipherlink/internal/protocol/ecdh"
)

func handshake(t *testing.T) (creator, scanner *ecdh.Session) {
	t.Helper()
	ck, err := ecdh.GenerateKeyPair()
	require.NoError(t, err)
	sk, err := ecdh.GenerateKeyPair()
	require.NoError(t, err)

	creatorPub, err := ecdh.ParsePublic(ck.PublicB64())
	require.NoError(t, err)
	scannerPub, err := ecdh.ParsePublic(sk.PublicB64())
	require.NoError(t, err)

	creator, err = ecdh.Derive(ecdh.Creator, ck, scannerPub)
	require.NoError(t, err)
	scanner, err = ecdh.Derive(ecdh.Scanner, sk, creatorPub)
	require.NoError(t, err)
	return creator, scanner
}

func TestDerive_ChecksumsMatch(t *testing.T) {
	creator, scanner := handshake(t)
	require.Equal(t, creator.Checksum(), scanner.Checksum())
	require.Regexp(t, `^\d{4}-\d{4}-\d{4}$`, creator.Checksum())
}

func TestSession_SealOpenBothDirections(t *testing.T) {
	creator, scanner := handshake(t)

	env, err := scanner.Seal([]byte("to creator"))
	require.NoError(t, err)
	pt, err := creator.Open(env)
	require.NoError(t, err)
	require.Equal(t, "to creator", string(pt))

	env, err = creator.Seal([]byte("to scanner"))
	require.NoError(t, err)
	pt, err = scanner.Open(env)
	require.NoError(t, err)
	require.Equal(t, "to scanner", string(pt))
}

func TestSession_RejectsReflectedFrame(t *testing.T) {
	creator, _ := handshake(t)
	env, err := creator.Seal([]byte("mine"))
	require.NoError(t, err)
	_, err = creator.Open(env)
	require.ErrorIs(t, err, ecdh.ErrOpen)
}

func TestSession_DifferentPeersDisagree(t *testing.T) {
	creator, _ := handshake(t)
	_, otherScanner := handshake(t)
	require.NotEqual(t, creator.Checksum(), otherScanner.Checksum())

	env, err := otherScanner.Seal([]byte("x"))
	require.NoError(t, err)
	_, err = creator.Open(env)
	require.ErrorIs(t, err, ecdh.ErrOpen)
}

func TestParsePublic_RejectsGarbage(t *testing.T) {
	_, err := ecdh.ParsePublic("AAAA")
	require.ErrorIs(t, err, ecdh.ErrBadKey)
}

func TestSession_RejectsReplayedFrame(t *testing.T) {
	creator, scanner := handshake(t)
	first, err := creator.Seal([]byte("progress: protocols"))
	require.NoError(t, err)
	second, err := creator.Seal([]byte("progress: login token"))
	require.NoError(t, err)

	pt, err := scanner.Open(first)
	require.NoError(t, err)
	require.Equal(t, "progress: protocols", string(pt))

	_, err = scanner.Open(first)
	require.ErrorIs(t, err, ecdh.ErrOutOfOrder)

	pt, err = scanner.Open(second)
	require.NoError(t, err)
	require.Equal(t, "progress: login token", string(pt))
}

func TestSession_RejectsReorderedFrames(t *testing.T) {
	creator, scanner := handshake(t)
	first, err := scanner.Seal([]byte("one"))
	require.NoError(t, err)
	second, err := scanner.Seal([]byte("two"))
	require.NoError(t, err)

	_, err = creator.Open(second)
	require.ErrorIs(t, err, ecdh.ErrOutOfOrder)

	// The skipped frame is still the one expected.
	pt, err := creator.Open(first)
	require.NoError(t, err)
	require.Equal(t, "one", string(pt))
	pt, err = creator.Open(second)
	require.NoError(t, err)
	require.Equal(t, "two", string(pt))
}
