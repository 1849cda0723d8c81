package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jroosing/gobolt/internal/address"
)

// RefreshFunc performs a ROUTE request against the cluster for db and
// returns the resulting table. The routing-aware pool supplies this,
// since only it knows which connection to route the request over.
type RefreshFunc func(ctx context.Context, db string) (*Table, error)

// Registry caches one Table per database, refreshing on demand when a
// cached entry is missing or stale. Reads take the shared lock; storing a
// refreshed table, Invalidate and the Deactivate methods take the exclusive
// one (the RefreshFunc itself runs without the lock), the same mostly-read
// RWMutex shape the teacher's Syncer uses for its status snapshot.
type Registry struct {
	mu      sync.RWMutex
	tables  map[string]*Table
	refresh RefreshFunc
	log     *slog.Logger
}

// NewRegistry returns an empty Registry that calls refresh on a cache
// miss or staleness.
func NewRegistry(refresh RefreshFunc, log *slog.Logger) *Registry {
	return &Registry{tables: make(map[string]*Table), refresh: refresh, log: log}
}

// GetOrRefresh returns a fresh Table for db and mode, refreshing it first
// if the cached entry is missing or stale.
func (r *Registry) GetOrRefresh(ctx context.Context, db string, mode Mode) (*Table, error) {
	if t, ok := r.peek(db, mode); ok {
		return t, nil
	}

	fresh, err := r.refresh(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("refreshing routing table for database %q: %w", db, err)
	}
	r.mu.Lock()
	r.tables[fresh.Database] = fresh
	r.mu.Unlock()
	return fresh, nil
}

func (r *Registry) peek(db string, mode Mode) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[db]
	if !ok || !t.IsFresh(mode) {
		return nil, false
	}
	return t, true
}

// Invalidate drops a database's cached table, forcing the next
// GetOrRefresh to fetch a new one. The routing pool calls it just before a
// refreshed table for that database is stored.
func (r *Registry) Invalidate(db string) {
	r.mu.Lock()
	delete(r.tables, db)
	r.mu.Unlock()
}

// Deactivate removes addr from every cached table's routers/readers (and,
// redundantly, writers), logging at debug level which tables were
// touched.
func (r *Registry) Deactivate(addr address.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for db, t := range r.tables {
		t.Deactivate(addr)
		if r.log != nil {
			r.log.Debug("deactivated server in routing table", "database", db, "server", addr.String())
		}
	}
}

// DeactivateWriter removes addr only from the writer role of every cached
// table, used when a write fails with "not a leader" but reads against it
// are still fine.
func (r *Registry) DeactivateWriter(addr address.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for db, t := range r.tables {
		t.DeactivateWriter(addr)
		if r.log != nil {
			r.log.Debug("deactivated writer in routing table", "database", db, "server", addr.String())
		}
	}
}

// ReferencedAddresses returns, keyed by keyFunc, every address that
// appears in any cached table's routers, readers, or writers. The
// routing-aware pool uses this after a refresh to find sub-pools whose
// address is no longer named by any stored table.
func (r *Registry) ReferencedAddresses(keyFunc func(address.Address) string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool)
	for _, t := range r.tables {
		for _, a := range t.Routers {
			out[keyFunc(a)] = true
		}
		for _, a := range t.Readers {
			out[keyFunc(a)] = true
		}
		for _, a := range t.Writers {
			out[keyFunc(a)] = true
		}
	}
	return out
}
