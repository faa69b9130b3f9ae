package proxy

import (
	"testing"
	"time"
)

func TestRegistryIssueAndValidate(t *testing.T) {
	r := NewRegistry(time.Minute)

	token, expiresAt := r.Issue()
	if token == "" {
		t.Fatalf("Issue() returned empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiry %v not in the future", expiresAt)
	}
	if !r.Validate(token) {
		t.Fatalf("freshly issued token rejected")
	}
	// Reconnects reuse the grant until expiry.
	if !r.Validate(token) {
		t.Fatalf("token invalidated by validation")
	}
	if r.Validate("unknown") {
		t.Fatalf("unknown token accepted")
	}
}

func TestRegistryAttachCountsReconnects(t *testing.T) {
	r := NewRegistry(time.Minute)
	token, _ := r.Issue()

	ok, reattach := r.Attach(token)
	if !ok || reattach {
		t.Fatalf("first Attach() = (%v, %v), want (true, false)", ok, reattach)
	}
	ok, reattach = r.Attach(token)
	if !ok || !reattach {
		t.Fatalf("second Attach() = (%v, %v), want (true, true)", ok, reattach)
	}
	if ok, _ := r.Attach("unknown"); ok {
		t.Fatalf("unknown token attached")
	}
}

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	token, _ := r.Issue()

	time.Sleep(20 * time.Millisecond)
	if r.Validate(token) {
		t.Fatalf("expired token accepted")
	}
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}
}

func TestRegistrySweep(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	r.Issue()
	r.Issue()

	time.Sleep(20 * time.Millisecond)
	r.sweep()

	r.mu.Lock()
	left := len(r.grants)
	r.mu.Unlock()
	if left != 0 {
		t.Fatalf("%d grants left after sweep, want 0", left)
	}
}
