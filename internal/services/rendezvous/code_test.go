package rendezvous_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherlink/internal/protocol/ecdh"
	"cipherlink/internal/services/rendezvous"
)

func validCode(t *testing.T) map[string]any {
	t.Helper()
	kp, err := ecdh.GenerateKeyPair()
	require.NoError(t, err)
	return map[string]any{
		"intent": "login.reciprocate",
		"rendezvous": map[string]any{
			"algorithm": ecdh.Algorithm,
			"key":       kp.PublicB64(),
			"transport": map[string]any{
				"type": rendezvous.TransportHTTP,
				"uri":  "https://rz.example.org/abc",
			},
		},
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestParseCode(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		code, err := rendezvous.ParseCode(marshal(t, validCode(t)))
		require.NoError(t, err)
		assert.Equal(t, rendezvous.IntentLoginOnExistingDevice, code.Intent)
		assert.Equal(t, "https://rz.example.org/abc", code.Rendezvous.Transport.URI)

		again, err := code.Marshal()
		require.NoError(t, err)
		reparsed, err := rendezvous.ParseCode(again)
		require.NoError(t, err)
		assert.Equal(t, code, reparsed)
	})

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		reason rendezvous.Reason
	}{
		{
			name:   "unknown algorithm",
			mutate: func(m map[string]any) { m["rendezvous"].(map[string]any)["algorithm"] = "m.rendezvous.v0" },
			reason: rendezvous.ReasonUnsupportedAlgorithm,
		},
		{
			name: "unknown transport",
			mutate: func(m map[string]any) {
				m["rendezvous"].(map[string]any)["transport"].(map[string]any)["type"] = "carrier.pigeon"
			},
			reason: rendezvous.ReasonUnsupportedTransport,
		},
		{
			name:   "unknown intent",
			mutate: func(m map[string]any) { m["intent"] = "login.sideways" },
			reason: rendezvous.ReasonInvalidCode,
		},
		{
			name:   "bad key",
			mutate: func(m map[string]any) { m["rendezvous"].(map[string]any)["key"] = "!!" },
			reason: rendezvous.ReasonInvalidCode,
		},
		{
			name: "missing uri",
			mutate: func(m map[string]any) {
				m["rendezvous"].(map[string]any)["transport"].(map[string]any)["uri"] = ""
			},
			reason: rendezvous.ReasonInvalidCode,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := validCode(t)
			tc.mutate(m)
			_, err := rendezvous.ParseCode(marshal(t, m))
			require.Error(t, err)
			assert.Equal(t, tc.reason, rendezvous.ReasonOf(err))
			assert.ErrorIs(t, err, &rendezvous.Error{Reason: tc.reason})
		})
	}

	t.Run("not json", func(t *testing.T) {
		_, err := rendezvous.ParseCode([]byte("hello"))
		assert.Equal(t, rendezvous.ReasonInvalidCode, rendezvous.ReasonOf(err))
	})
}

func TestReasonOf_PlainError(t *testing.T) {
	assert.Equal(t, rendezvous.ReasonUnknown, rendezvous.ReasonOf(errors.New("boom")))
}
