package session

import (
	"testing"
)

func TestSessionIDDeterministic(t *testing.T) {
	d := NewDeriver("test-secret")

	id1 := d.SessionID("tenant-a", "whatsapp", "+15551234567")
	id2 := d.SessionID("tenant-a", "whatsapp", "+15551234567")

	if id1 != id2 {
		t.Errorf("same identity must derive the same session ID: %s vs %s", id1, id2)
	}
	if len(id1) != 32 {
		t.Errorf("expected 32 hex chars, got %d (%s)", len(id1), id1)
	}
}

func TestSessionIDDistinctIdentities(t *testing.T) {
	d := NewDeriver("test-secret")

	base := d.SessionID("tenant-a", "whatsapp", "+15551234567")

	variants := []struct {
		name                    string
		tenant, channel, userID string
	}{
		{"different tenant", "tenant-b", "whatsapp", "+15551234567"},
		{"different channel", "tenant-a", "sms", "+15551234567"},
		{"different user", "tenant-a", "whatsapp", "+15557654321"},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			if got := d.SessionID(v.tenant, v.channel, v.userID); got == base {
				t.Errorf("expected distinct session ID for %s", v.name)
			}
		})
	}
}

func TestSessionIDFieldBoundaries(t *testing.T) {
	d := NewDeriver("test-secret")

	// Shifting bytes across field boundaries must not collide
	a := d.SessionID("ab", "c", "u")
	b := d.SessionID("a", "bc", "u")

	if a == b {
		t.Error("field boundary shift produced a collision")
	}
}

func TestSessionIDSecretMatters(t *testing.T) {
	a := NewDeriver("secret-one").SessionID("tenant-a", "widget", "visitor-9")
	b := NewDeriver("secret-two").SessionID("tenant-a", "widget", "visitor-9")

	if a == b {
		t.Error("different secrets must derive different session IDs")
	}
}
