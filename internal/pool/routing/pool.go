// Package routingpool is the routing-aware sibling of pool.Pool: a map of
// single-address sub-pools keyed by unresolved host, a cache of per-database
// routing tables, and the refresh/deactivation logic that keeps the two in
// sync. It is named routingpool rather than routing to avoid colliding on
// import with the internal/routing package it builds on, the same way the
// teacher keeps internal/resolvers and internal/resolvers/cache as distinct
// package names despite the nested directory.
package routingpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/bolt"
	"github.com/jroosing/gobolt/internal/pool"
	"github.com/jroosing/gobolt/internal/routing"
)

// Mode re-exports routing.Mode so callers driving a routing pool don't
// need to import internal/routing directly for this one type.
type Mode = routing.Mode

const (
	ModeRead  = routing.ModeRead
	ModeWrite = routing.ModeWrite
)

// defaultRefreshTimeout bounds a routing-table refresh when the caller's
// context carries no deadline of its own.
const defaultRefreshTimeout = 30 * time.Second

// OpenerFactory builds the pool.Opener a sub-pool uses to open fresh
// connections to addr — normally a *connector.Connector bound to that
// address and the driver's shared Config.
type OpenerFactory func(addr address.Address) pool.Opener

// Config bounds every sub-pool this routing pool creates and the routing
// context it sends with ROUTE.
type Config struct {
	Seed             address.Address
	SubPool          pool.Config
	RoutingContext   map[string]string
	ImpersonatedUser string
}

// routerMemory is a database's router-preference bookkeeping between
// refreshes: routing.Registry's RefreshFunc signature carries no previous
// table, so the pool tracks this itself.
type routerMemory struct {
	knownRouters              []address.Address
	initializedWithoutWriters bool
}

func (m *routerMemory) routersExcluding(addr address.Address) []address.Address {
	if m == nil {
		return nil
	}
	out := make([]address.Address, 0, len(m.knownRouters))
	for _, a := range m.knownRouters {
		if !a.Equal(addr) {
			out = append(out, a)
		}
	}
	return out
}

// Pool is a routing-aware pool of Bolt connections spanning a whole
// cluster: one sub-pool per distinct server, chosen per acquire by
// consulting the routing table for the requested database and mode.
type Pool struct {
	cfg    Config
	opener OpenerFactory
	log    *slog.Logger

	subMu sync.RWMutex
	subs  map[string]*pool.Pool

	routers     *routing.Registry
	routerMemMu sync.Mutex
	routerMem   map[string]*routerMemory

	roomMu   sync.Mutex
	roomCond *sync.Cond
}

// New returns a routing pool seeded with cfg.Seed, using opener to build
// each sub-pool's connection factory.
func New(cfg Config, opener OpenerFactory, log *slog.Logger) *Pool {
	p := &Pool{
		cfg:       cfg,
		opener:    opener,
		log:       log,
		subs:      make(map[string]*pool.Pool),
		routerMem: make(map[string]*routerMemory),
	}
	p.roomCond = sync.NewCond(&p.roomMu)
	p.routers = routing.NewRegistry(p.refreshTable, log)
	return p
}

func addrKey(addr address.Address) string {
	return addr.UnresolvedHost() + ":" + strconv.Itoa(int(addr.Port()))
}

// subPool returns the sub-pool for addr, creating one on first reference.
func (p *Pool) subPool(addr address.Address) *pool.Pool {
	k := addrKey(addr)
	p.subMu.RLock()
	sp, ok := p.subs[k]
	p.subMu.RUnlock()
	if ok {
		return sp
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	if sp, ok := p.subs[k]; ok {
		return sp
	}
	sp = pool.New(p.cfg.SubPool, p.opener(addr), p.log)
	p.subs[k] = sp
	return sp
}

func (p *Pool) removeSubPool(addr address.Address) {
	p.subMu.Lock()
	delete(p.subs, addrKey(addr))
	p.subMu.Unlock()
}

func (p *Pool) inUse(addr address.Address) int {
	p.subMu.RLock()
	sp, ok := p.subs[addrKey(addr)]
	p.subMu.RUnlock()
	if !ok {
		return 0
	}
	return sp.InUse()
}

// Acquire returns a connection usable for mode against db (empty for the
// server's default database), along with the address it came from so the
// caller can Release it to the right sub-pool later.
func (p *Pool) Acquire(ctx context.Context, db string, mode Mode, deadline time.Time, reauth pool.ReauthFunc) (bolt.Protocol, address.Address, error) {
	for {
		table, err := p.routers.GetOrRefresh(withDeadline(ctx, deadline), db, mode)
		if err != nil {
			return nil, address.Address{}, err
		}

		for _, addr := range p.rankedTargets(table, mode) {
			sp := p.subPool(addr)
			conn, ok, err := sp.TryAcquire(ctx, deadline, reauth)
			if err != nil {
				if errors.Is(err, errorkind.ErrDisconnect) {
					p.Deactivate(addr)
					continue
				}
				return nil, address.Address{}, err
			}
			if ok {
				return conn, addr, nil
			}
		}

		if timedOut := p.waitForRoom(deadline); timedOut {
			return nil, address.Address{}, errorkind.NewTimeout("timed out waiting for a free pool slot across all routing targets")
		}
	}
}

// Release returns conn to addr's sub-pool and wakes any acquire blocked
// waiting for room.
func (p *Pool) Release(addr address.Address, conn bolt.Protocol) {
	p.subPool(addr).Release(conn)
	p.noteRoom()
}

// Deactivate removes addr from every cached routing table and drops its
// sub-pool: called after a disconnect against addr, certain server error
// codes (errorkind.Server.DeactivatesServer), or a rejected refresh.
func (p *Pool) Deactivate(addr address.Address) {
	p.routers.Deactivate(addr)
	p.removeSubPool(addr)
	p.noteRoom()
}

// DeactivateWriter removes addr only from the writer role of every cached
// table, used when a write fails with "not a leader" but reads against it
// are still fine (errorkind.Server.InvalidatesWriter).
func (p *Pool) DeactivateWriter(addr address.Address) {
	p.routers.DeactivateWriter(addr)
}

// rankedTargets lists mode's candidate servers from table, ascending by
// current in-use count; a server with no sub-pool yet sorts first.
func (p *Pool) rankedTargets(table *routing.Table, mode Mode) []address.Address {
	var list []address.Address
	if mode == ModeWrite {
		list = append(list, table.Writers...)
	} else {
		list = append(list, table.Readers...)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return p.inUse(list[i]) < p.inUse(list[j])
	})
	return list
}

func (p *Pool) waitForRoom(deadline time.Time) (timedOut bool) {
	p.roomMu.Lock()
	defer p.roomMu.Unlock()
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return true
	}
	timer := time.AfterFunc(remaining, func() {
		p.roomMu.Lock()
		p.roomCond.Broadcast()
		p.roomMu.Unlock()
	})
	p.roomCond.Wait()
	timer.Stop()
	return time.Now().After(deadline)
}

func (p *Pool) noteRoom() {
	p.roomMu.Lock()
	p.roomCond.Broadcast()
	p.roomMu.Unlock()
}

// refreshTable is routing.RefreshFunc: it tries routers in preference
// order, fetching a fresh table over ROUTE from the first that succeeds.
func (p *Pool) refreshTable(ctx context.Context, db string) (*routing.Table, error) {
	deadline := deadlineFrom(ctx)
	candidates := p.routerCandidates(db)

	var lastErr error
	for _, router := range candidates {
		table, err := p.fetchFrom(ctx, router, db, deadline)
		if err != nil {
			var srv *errorkind.Server
			if errors.As(err, &srv) && srv.FatalDuringDiscovery() {
				return nil, err
			}
			if p.log != nil {
				p.log.Debug("routing table refresh failed against router, trying next", "router", router.String(), "err", err)
			}
			lastErr = err
			continue
		}
		p.rememberRouters(db, table)
		p.pruneUnreferenced(table)
		return table, nil
	}
	return nil, fmt.Errorf("%w: no router could supply a routing table for database %q: %v", errorkind.ErrDisconnect, db, lastErr)
}

// routerCandidates orders the routers to try for db: the seed first when
// the last table this pool saw for db had no writers yet (the usual state
// right after a leader election), otherwise the known routers first with
// the seed tried last as a fallback.
func (p *Pool) routerCandidates(db string) []address.Address {
	p.routerMemMu.Lock()
	mem := p.routerMem[db]
	p.routerMemMu.Unlock()

	seed := p.cfg.Seed
	if mem == nil || mem.initializedWithoutWriters {
		return dedupAddrs(append([]address.Address{seed}, mem.routersExcluding(seed)...))
	}
	return dedupAddrs(append(mem.routersExcluding(seed), seed))
}

func (p *Pool) rememberRouters(db string, table *routing.Table) {
	p.routerMemMu.Lock()
	p.routerMem[db] = &routerMemory{
		knownRouters:              append([]address.Address(nil), table.Routers...),
		initializedWithoutWriters: table.InitializedWithoutWriters,
	}
	p.routerMemMu.Unlock()
}

// pruneUnreferenced drops every sub-pool whose address is referenced
// neither by fresh, which replaces its database's cached table, nor by any
// other database's cached routing table, except the seed's, which always
// stays available for the next refresh attempt.
func (p *Pool) pruneUnreferenced(fresh *routing.Table) {
	p.routers.Invalidate(fresh.Database) // the registry stores fresh in its place
	referenced := p.routers.ReferencedAddresses(addrKey)
	referenced[addrKey(p.cfg.Seed)] = true
	for _, list := range [][]address.Address{fresh.Routers, fresh.Readers, fresh.Writers} {
		for _, a := range list {
			referenced[addrKey(a)] = true
		}
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for k := range p.subs {
		if !referenced[k] {
			delete(p.subs, k)
		}
	}
}

// fetchFrom borrows a connection from router's sub-pool (whose opener does
// any address resolution), sends ROUTE, and parses the resulting table. A rejected table
// (no routers or no readers) is reported as a disconnect-class error so
// refreshTable tries the next router.
func (p *Pool) fetchFrom(ctx context.Context, router address.Address, db string, deadline time.Time) (*routing.Table, error) {
	sp := p.subPool(router)
	conn, err := sp.Acquire(ctx, deadline, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		sp.Release(conn)
		p.noteRoom()
	}()

	var raw map[string]any
	if err := conn.Route(p.cfg.RoutingContext, nil, bolt.RouteExtra{Db: db, ImpersonatedUser: p.cfg.ImpersonatedUser}, func(table map[string]any) {
		raw = table
	}); err != nil {
		return nil, err
	}
	if err := conn.WriteAll(deadline); err != nil {
		return nil, err
	}
	if err := conn.ReadAll(deadline); err != nil {
		return nil, err
	}

	table, perr := routing.Parse(map[string]any{"rt": raw}, db, p.log)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", errorkind.ErrDisconnect, perr)
	}
	if len(table.Routers) == 0 || len(table.Readers) == 0 {
		reason := "no readers"
		if len(table.Routers) == 0 {
			reason = "no routers"
		}
		if p.log != nil {
			p.log.Warn("received routing table without readers or routers -> discarded", "reason", reason)
		}
		return nil, fmt.Errorf("%w: routing table missing routers or readers", errorkind.ErrDisconnect)
	}
	return table, nil
}

func dedupAddrs(in []address.Address) []address.Address {
	seen := make(map[string]bool, len(in))
	out := make([]address.Address, 0, len(in))
	for _, a := range in {
		k := addrKey(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

type deadlineKey struct{}

func withDeadline(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, deadlineKey{}, deadline)
}

func deadlineFrom(ctx context.Context) time.Time {
	if d, ok := ctx.Value(deadlineKey{}).(time.Time); ok {
		return d
	}
	return time.Now().Add(defaultRefreshTimeout)
}
