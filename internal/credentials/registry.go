package credentials

import (
	"errors"
	"fmt"

	"github.com/sciforge/discoveryd/internal/config"
)

// ErrUnknownService means no pool is registered under the requested name.
// Seeing it at runtime is a wiring bug, not an operational condition.
var ErrUnknownService = errors.New("unknown service")

// Registry holds one pool per external service.
type Registry struct {
	pools map[string]*Pool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Add registers a pool under its service name.
func (r *Registry) Add(p *Pool) {
	if _, ok := r.pools[p.Service()]; !ok {
		r.order = append(r.order, p.Service())
	}
	r.pools[p.Service()] = p
}

// Pool looks up the pool for a service.
func (r *Registry) Pool(service string) (*Pool, error) {
	p, ok := r.pools[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return p, nil
}

// Snapshot returns per-credential health for every registered service,
// keyed by service name.
func (r *Registry) Snapshot() map[string][]CredentialStatus {
	out := make(map[string][]CredentialStatus, len(r.order))
	for _, name := range r.order {
		out[name] = r.pools[name].Snapshot()
	}
	return out
}

// Load builds the registry from startup configuration. Called once in main;
// a credentialed service with keys configured gets a pool, and arXiv always
// gets an anonymous one. Services the active config requires keys for are
// validated earlier by config.Load.
func Load(cfg config.CredentialsConfig) (*Registry, error) {
	reg := NewRegistry()

	for _, service := range []string{config.ServiceGroq, config.ServiceGemini, config.ServiceMaterials} {
		keys := cfg.Keys(service)
		if len(keys) == 0 {
			continue
		}
		pool, err := NewPool(service, keys, cfg.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("load %s credentials: %w", service, err)
		}
		reg.Add(pool)
	}

	reg.Add(NewAnonymousPool(config.ServiceArxiv, cfg.Cooldown))
	return reg, nil
}
