package stations

import (
	"context"
	"sync"
)

// Guarded wraps a Resolver with a read/write lock so a long-running host can
// reload the station list while decoders are reading from it.
type Guarded struct {
	mu       sync.RWMutex
	resolver *Resolver
}

// NewGuarded wraps r.
func NewGuarded(r *Resolver) *Guarded {
	return &Guarded{resolver: r}
}

// Load reloads the wrapped resolver under the write lock.
func (g *Guarded) Load(ctx context.Context, locator string, f Fetcher) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolver.Load(ctx, locator, f)
}

// ToWMO implements Lookup.
func (g *Guarded) ToWMO(dwdID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolver.ToWMO(dwdID)
}

// ToDWD implements Lookup.
func (g *Guarded) ToDWD(wmoID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolver.ToDWD(wmoID)
}

// Len returns the number of loaded mappings.
func (g *Guarded) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolver.Len()
}
