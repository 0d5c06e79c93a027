// Package credentials owns the per-service API key pools and their health
// state. Every outbound call obtains its key here and reports the outcome
// back, so rate-limited or repeatedly failing keys rotate out of service.
package credentials

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoCredentials means a pool was constructed with an empty key list.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrPoolExhausted means every credential in a pool is currently
	// disabled or rate-limited.
	ErrPoolExhausted = errors.New("credential pool exhausted")
)

// FailureKind classifies a failed call for credential bookkeeping.
type FailureKind int

const (
	// FailureTransient is a timeout or server error. Three in a row
	// with no intervening success disable the credential.
	FailureTransient FailureKind = iota
	// FailureRateLimited is a quota rejection. The credential sits out
	// the full cooldown window.
	FailureRateLimited
)

// disableThreshold is the consecutive transient failure count at which a
// credential is taken out of rotation.
const disableThreshold = 3

// Credential is one secret usable against a specific external service.
// All mutable state is guarded by the owning pool's lock; ID and Secret
// are immutable and safe to read from any goroutine.
type Credential struct {
	id     string
	secret string

	usageCount        int
	consecutiveErrors int
	rateLimitedUntil  time.Time
	disabled          bool
	lastFailureAt     time.Time
	lastUsedAt        time.Time
}

// ID returns the credential's identifier (service name + position).
func (c *Credential) ID() string { return c.id }

// Secret returns the opaque key value. Empty for anonymous credentials.
func (c *Credential) Secret() string { return c.secret }

// CredentialStatus is a point-in-time snapshot of one credential's health,
// exposed on the monitoring surface. The secret itself is never included.
type CredentialStatus struct {
	ID                string     `json:"id"`
	Disabled          bool       `json:"disabled"`
	RateLimited       bool       `json:"rate_limited"`
	RateLimitedUntil  *time.Time `json:"rate_limited_until,omitempty"`
	UsageCount        int        `json:"usage_count"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

// Pool manages the credentials for one service. Safe for concurrent use;
// a single mutex guards selection and all state mutation so two callers
// can never both observe the same credential as least-recently-used.
type Pool struct {
	mu       sync.Mutex
	service  string
	creds    []*Credential
	cooldown time.Duration

	now func() time.Time
}

// NewPool builds a pool for a service from its ordered key list.
// The cooldown window applies to both rate-limit sit-outs and the
// re-enable policy for disabled credentials.
func NewPool(service string, secrets []string, cooldown time.Duration) (*Pool, error) {
	var creds []*Credential
	for i, s := range secrets {
		if s == "" {
			continue
		}
		creds = append(creds, &Credential{
			id:     fmt.Sprintf("%s-%d", service, i+1),
			secret: s,
		})
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("%w for service %s", ErrNoCredentials, service)
	}
	return &Pool{
		service:  service,
		creds:    creds,
		cooldown: cooldown,
		now:      time.Now,
	}, nil
}

// NewAnonymousPool builds a pool with a single keyless credential, for
// services that authenticate by source rather than secret (arXiv). Health
// state is still tracked so throttling by the remote side backs calls off
// the same way a rate-limited key would.
func NewAnonymousPool(service string, cooldown time.Duration) *Pool {
	return &Pool{
		service: service,
		creds: []*Credential{{
			id: fmt.Sprintf("%s-anonymous", service),
		}},
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Service returns the service name this pool serves.
func (p *Pool) Service() string { return p.service }

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int { return len(p.creds) }

// Select returns the least-recently-used credential that is neither
// disabled nor inside a rate-limit window, ties broken by insertion order.
// Disabled credentials whose cooldown has elapsed since their last failure
// are re-enabled here with a fresh error count. Returns ErrPoolExhausted
// when nothing qualifies.
func (p *Pool) Select() (*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var chosen *Credential
	for _, c := range p.creds {
		if c.disabled && now.Sub(c.lastFailureAt) >= p.cooldown {
			c.disabled = false
			c.consecutiveErrors = 0
		}
		if c.disabled {
			continue
		}
		if !c.rateLimitedUntil.IsZero() && now.Before(c.rateLimitedUntil) {
			continue
		}
		if chosen == nil || c.lastUsedAt.Before(chosen.lastUsedAt) {
			chosen = c
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolExhausted, p.service)
	}

	chosen.lastUsedAt = now
	return chosen, nil
}

// RecordSuccess bumps the usage counter and clears the consecutive error
// count for a credential that just served a call.
func (p *Pool) RecordSuccess(c *Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.usageCount++
	c.consecutiveErrors = 0
}

// RecordFailure updates credential health after a failed call. A rate
// limit sidelines the credential for the full cooldown window; transient
// failures accumulate and disable it at the threshold.
func (p *Pool) RecordFailure(c *Credential, kind FailureKind) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	c.lastFailureAt = now

	switch kind {
	case FailureRateLimited:
		c.rateLimitedUntil = now.Add(p.cooldown)
	case FailureTransient:
		c.consecutiveErrors++
		if c.consecutiveErrors >= disableThreshold {
			c.disabled = true
		}
	}
}

// Snapshot returns the health state of every credential in insertion order.
func (p *Pool) Snapshot() []CredentialStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	statuses := make([]CredentialStatus, 0, len(p.creds))
	for _, c := range p.creds {
		st := CredentialStatus{
			ID:                c.id,
			Disabled:          c.disabled,
			RateLimited:       !c.rateLimitedUntil.IsZero() && now.Before(c.rateLimitedUntil),
			UsageCount:        c.usageCount,
			ConsecutiveErrors: c.consecutiveErrors,
		}
		if st.RateLimited {
			t := c.rateLimitedUntil
			st.RateLimitedUntil = &t
		}
		if !c.lastUsedAt.IsZero() {
			t := c.lastUsedAt
			st.LastUsedAt = &t
		}
		statuses = append(statuses, st)
	}
	return statuses
}
