package guard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVerifier authenticates inbound webhook bodies. Providers
// sign the raw request body with HMAC-SHA256 and send the hex digest in
// a header, optionally prefixed with "sha256=".
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier keyed with secret
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Sign computes the hex signature for body. Used by tests and channel
// simulators.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the header signature against body in constant time. An
// empty secret never verifies, so a misconfigured gateway fails closed.
func (v *SignatureVerifier) Verify(body []byte, header string) bool {
	if len(v.secret) == 0 || header == "" {
		return false
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
