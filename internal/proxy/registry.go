package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry issues short-lived session tokens and validates them on websocket
// attach. Tokens stay valid until expiry so a reconnecting device can reuse
// its grant; expiry is the only revocation.
type grant struct {
	expiresAt time.Time
	attaches  int
}

type Registry struct {
	mu     sync.Mutex
	ttl    time.Duration
	grants map[string]*grant
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{
		ttl:    ttl,
		grants: make(map[string]*grant),
	}
}

// Issue mints a new token.
func (r *Registry) Issue() (string, time.Time) {
	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.grants[token] = &grant{expiresAt: expiresAt}
	return token, expiresAt
}

// Validate reports whether the token exists and has not expired.
func (r *Registry) Validate(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(token) != nil
}

// Attach validates the token and records a live attach. reattach reports
// that the grant was attached before, which means the device is reconnecting.
func (r *Registry) Attach(token string) (ok, reattach bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.lookupLocked(token)
	if g == nil {
		return false, false
	}
	g.attaches++
	return true, g.attaches > 1
}

func (r *Registry) lookupLocked(token string) *grant {
	g, ok := r.grants[token]
	if !ok {
		return nil
	}
	if time.Now().After(g.expiresAt) {
		delete(r.grants, token)
		return nil
	}
	return g
}

// ActiveCount returns the number of unexpired grants.
func (r *Registry) ActiveCount() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, g := range r.grants {
		if now.Before(g.expiresAt) {
			count++
		}
	}
	return count
}

// StartJanitor sweeps expired grants until ctx is done.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, g := range r.grants {
		if now.After(g.expiresAt) {
			delete(r.grants, token)
		}
	}
}
