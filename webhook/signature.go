package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const signaturePrefix = "sha256="

// computeSignature returns the signature header value for payload, which
// is the same for every supported provider: sha256=<hex hmac-sha256>.
func computeSignature(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(header, secret string, payload []byte) bool {
	if header == "" {
		return false
	}
	expected := computeSignature(secret, payload)
	return hmac.Equal([]byte(header), []byte(expected))
}

// Sign produces the signature header a provider of the given kind would
// attach when delivering payload.
func Sign(kind Kind, secret string, payload []byte) (header, value string, err error) {
	switch kind {
	case KindGitHub:
		header = githubSignatureHeader
	case KindBitbucket:
		header = bitbucketSignatureHeader
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	return header, computeSignature(secret, payload), nil
}
