package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Deriver maps a channel identity to a stable session ID. The mapping is
// a keyed hash, so it survives restarts and never leaks the external user
// ID to logs or downstream stores.
type Deriver struct {
	secret []byte
}

// NewDeriver creates a session ID deriver keyed with secret.
func NewDeriver(secret string) *Deriver {
	return &Deriver{secret: []byte(secret)}
}

// SessionID derives the session ID for (tenantID, channel, externalUserID).
// Fields are length-prefixed before hashing so no two identities can
// collide by shifting bytes across field boundaries.
func (d *Deriver) SessionID(tenantID, channel, externalUserID string) string {
	mac := hmac.New(sha256.New, d.secret)
	for _, field := range []string{tenantID, channel, externalUserID} {
		fmt.Fprintf(mac, "%d:%s", len(field), field)
	}
	sum := mac.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
