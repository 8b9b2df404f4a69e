package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/faucetdb/keygate/internal/model"
)

// ConnectionConfig selects and configures a backend.
type ConnectionConfig struct {
	Driver string
	DSN    string
	// Path is the database file of the embedded backend. Ignored by
	// networked backends.
	Path string
	Pool model.PoolConfig
}

// Opener connects to a backend and returns a migrated store.
type Opener func(ctx context.Context, cfg ConnectionConfig, logger *slog.Logger) (Store, error)

// Registry maps driver names to backend openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[string]Opener)}
}

// RegisterDriver registers an opener for a driver name.
func (r *Registry) RegisterDriver(driver string, opener Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[driver] = opener
}

// Open connects to the backend named by cfg.Driver.
func (r *Registry) Open(ctx context.Context, cfg ConnectionConfig, logger *slog.Logger) (Store, error) {
	r.mu.RLock()
	opener, ok := r.openers[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store driver: %s (available: %v)", cfg.Driver, r.Drivers())
	}

	s, err := opener(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.openers))
	for d := range r.openers {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}
