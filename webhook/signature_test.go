package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte("The quick brown fox jumps over the lazy dog")
	want := "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"

	header, value, err := Sign(KindGitHub, "key", payload)
	require.NoError(t, err)
	assert.Equal(t, "X-Hub-Signature-256", header)
	assert.Equal(t, want, value)

	header, value, err = Sign(KindBitbucket, "key", payload)
	require.NoError(t, err)
	assert.Equal(t, "X-Hub-Signature", header)
	assert.Equal(t, want, value)

	_, _, err = Sign("GITLAB", "key", payload)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	sig := computeSignature("secret", payload)

	tests := []struct {
		name   string
		header string
		secret string
		body   []byte
		want   bool
	}{
		{"match", sig, "secret", payload, true},
		{"wrong secret", sig, "other", payload, false},
		{"tampered body", sig, "secret", []byte(`{"ref":"refs/heads/evil"}`), false},
		{"missing header", "", "secret", payload, false},
		{"no prefix", sig[len(signaturePrefix):], "secret", payload, false},
		{"sha1 style", "sha1=" + sig[len(signaturePrefix):], "secret", payload, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, verifySignature(tt.header, tt.secret, tt.body))
		})
	}
}
