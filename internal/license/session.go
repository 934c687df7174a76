package license

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session marks that validation succeeded for this process run. The
// token is an opaque marker, not a capability.
type Session struct {
	Token      string     `json:"token"`
	Email      string     `json:"email"`
	Tier       string     `json:"tier"`
	LicenseKey string     `json:"license_key"`
	ExpiresAt  *time.Time `json:"expires_at"`
	StartedAt  time.Time  `json:"started_at"`
}

// sessionCell is the single mutable session slot of a running
// instance, safe to set and read from any goroutine.
type sessionCell struct {
	mu      sync.RWMutex
	current *Session
}

// set installs a fresh session for a successful validation and returns
// it.
func (c *sessionCell) set(email, tier, licenseKey string, expiresAt *time.Time) *Session {
	s := &Session{
		Token:      uuid.NewString(),
		Email:      email,
		Tier:       tier,
		LicenseKey: licenseKey,
		ExpiresAt:  expiresAt,
		StartedAt:  time.Now().UTC(),
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	return s
}

// get returns the current session, or nil when not validated.
func (c *sessionCell) get() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// clear drops the session. Idempotent.
func (c *sessionCell) clear() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
}
