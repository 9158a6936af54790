package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/provisioner/log"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewGitHub(http.DefaultClient, log.Discard()),
		NewBitbucket(http.DefaultClient, "", log.Discard()),
	)

	p, err := r.For(KindGitHub)
	require.NoError(t, err)
	assert.Equal(t, KindGitHub, p.Kind())

	p, err = r.For(KindBitbucket)
	require.NoError(t, err)
	assert.Equal(t, KindBitbucket, p.Kind())

	_, err = r.For("GITLAB")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

// Both providers must accept exactly what Sign produces for them, and
// reject what is signed for the other one's header.
func TestCrossProviderSignatureConformance(t *testing.T) {
	payload := []byte(`{"push":{"changes":[]},"ref":"refs/heads/main"}`)
	secret := DeriveSecret("ws-1")

	providers := []Provider{
		NewGitHub(http.DefaultClient, log.Discard()),
		NewBitbucket(http.DefaultClient, "", log.Discard()),
	}

	for _, p := range providers {
		for _, signer := range []Kind{KindGitHub, KindBitbucket} {
			t.Run(string(p.Kind())+"/"+string(signer), func(t *testing.T) {
				header, value, err := Sign(signer, secret, payload)
				require.NoError(t, err)

				h := http.Header{}
				h.Set(header, value)
				assert.Equal(t, p.Kind() == signer, p.Verify(payload, h, secret))
			})
		}
	}
}
