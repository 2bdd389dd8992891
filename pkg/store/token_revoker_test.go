package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTokenRevokerExpires(t *testing.T) {
	r := NewMemoryTokenRevoker()
	now := time.Now()
	r.now = func() time.Time { return now }

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}

	now = now.Add(2 * time.Minute)
	revoked, err = r.IsRevoked("jti-1")
	if err != nil || revoked {
		t.Fatalf("expected revocation to lapse, got %v err=%v", revoked, err)
	}
}

func TestMemoryTokenRevokerIgnoresNonPositiveTTL(t *testing.T) {
	r := NewMemoryTokenRevoker()
	if err := r.Revoke("jti-2", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-2"); revoked {
		t.Fatalf("zero ttl should not revoke")
	}
}

func TestRedisTokenRevoker(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisTokenRevoker(mr.Addr(), "")
	defer r.Close()

	if err := r.Revoke("jti-3", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked("jti-3")
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	if other, _ := r.IsRevoked("jti-4"); other {
		t.Fatalf("unrelated jti should not be revoked")
	}

	mr.FastForward(2 * time.Minute)
	revoked, err = r.IsRevoked("jti-3")
	if err != nil || revoked {
		t.Fatalf("expected redis ttl to expire revocation, got %v err=%v", revoked, err)
	}
}
