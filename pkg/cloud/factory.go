package cloud

import (
	"context"
	"fmt"
	"sync"
)

// Clients bundles the per-target client surfaces. Not every target needs
// every surface; unused fields stay nil and tasks only touch the surfaces
// their operation requires.
type Clients struct {
	Catalog    Catalog
	Portfolios Portfolios
	Stacks     Stacks
	Parameters Parameters
	Objects    Objects
	Builds     Builds
	Functions  Functions
}

// Factory hands out clients scoped to one (account, region) target.
// Implementations own credential resolution, including assuming the
// cross-account role in spoke accounts.
type Factory interface {
	// ForTarget returns the clients for an account and region.
	ForTarget(ctx context.Context, accountID, region string) (*Clients, error)
}

// StaticFactory is a Factory backed by explicit registrations. It serves
// tests and single-account setups; production wiring registers real SDK
// clients per target at startup.
type StaticFactory struct {
	mu      sync.RWMutex
	clients map[string]*Clients

	// Fallback is returned for unregistered targets when set.
	Fallback *Clients
}

// NewStaticFactory creates an empty StaticFactory.
func NewStaticFactory() *StaticFactory {
	return &StaticFactory{clients: make(map[string]*Clients)}
}

// Register associates clients with an (account, region) target.
func (f *StaticFactory) Register(accountID, region string, clients *Clients) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[targetKey(accountID, region)] = clients
}

// ForTarget implements Factory.
func (f *StaticFactory) ForTarget(ctx context.Context, accountID, region string) (*Clients, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if clients, ok := f.clients[targetKey(accountID, region)]; ok {
		return clients, nil
	}
	if f.Fallback != nil {
		return f.Fallback, nil
	}
	return nil, fmt.Errorf("no clients registered for account %s region %s", accountID, region)
}

func targetKey(accountID, region string) string {
	return accountID + "/" + region
}
