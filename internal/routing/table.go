// Package routing holds and refreshes the server-side routing table a
// driver learns from a ROUTE response, and decides whether it is still
// fresh enough to route a request. The TTL/age bookkeeping mirrors the
// sync-status accounting in the teacher's internal/cluster package
// (LastSyncTime / NextSyncTime / ConfigVersion), adapted from one global
// config snapshot to a per-database, per-role server list.
package routing

import (
	"log/slog"
	"time"

	"github.com/jroosing/gobolt/internal/address"
)

// Mode selects which server list a read or write should be routed
// against.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Role is a server's advertised role in a routing table entry.
type Role string

const (
	RoleRoute Role = "ROUTE"
	RoleRead  Role = "READ"
	RoleWrite Role = "WRITE"
)

// Table is one database's routing table: a TTL, the moment it was
// fetched, and the router/reader/writer address lists it carries.
type Table struct {
	Database string
	TTL      time.Duration
	fetched  time.Time
	Routers  []address.Address
	Readers  []address.Address
	Writers  []address.Address

	// InitializedWithoutWriters is set once, when this table was first
	// parsed with an empty writer list (the usual state right after a
	// leader election). A routing pool refresh prefers the seed router
	// over the table's own routers while this holds.
	InitializedWithoutWriters bool
}

// Age reports how long ago this table was fetched.
func (t *Table) Age() time.Duration { return time.Since(t.fetched) }

// serversFor returns the address list backing mode.
func (t *Table) serversFor(mode Mode) []address.Address {
	if mode == ModeWrite {
		return t.Writers
	}
	return t.Readers
}

// IsFresh reports whether the table can still serve mode: it needs at
// least one router, at least one server for mode, and must not have
// outlived its TTL.
func (t *Table) IsFresh(mode Mode) bool {
	if len(t.Routers) == 0 {
		return false
	}
	if len(t.serversFor(mode)) == 0 {
		return false
	}
	return t.Age() <= t.TTL
}

// Deactivate removes addr from routers and readers, and redundantly from
// writers too — a server that turned out to be unreachable shouldn't be
// offered for any role until the next refresh.
func (t *Table) Deactivate(addr address.Address) {
	t.Routers = removeAddr(t.Routers, addr)
	t.Readers = removeAddr(t.Readers, addr)
	t.Writers = removeAddr(t.Writers, addr)
}

// DeactivateWriter removes addr only from the writer list, used when a
// write fails with "not a leader" but reads against it are still fine.
func (t *Table) DeactivateWriter(addr address.Address) {
	t.Writers = removeAddr(t.Writers, addr)
}

func removeAddr(list []address.Address, addr address.Address) []address.Address {
	out := list[:0:0]
	for _, a := range list {
		if !a.Equal(addr) {
			out = append(out, a)
		}
	}
	return out
}

// Parse extracts a Table for db from a ROUTE response's meta, reading the
// top-level "rt" map's ttl/db/servers fields. Unknown server roles are
// logged and skipped rather than rejected outright, since a newer server
// may advertise a role this driver version doesn't know about yet.
func Parse(meta map[string]any, defaultDB string, log *slog.Logger) (*Table, error) {
	rt, ok := meta["rt"].(map[string]any)
	if !ok {
		return nil, errRoutingTableMissing
	}
	ttlRaw, ok := asInt64(rt["ttl"])
	if !ok || ttlRaw < 0 {
		return nil, errInvalidTTL
	}

	db := defaultDB
	if dbField, ok := rt["db"].(string); ok && dbField != "" {
		db = dbField
	}

	t := &Table{Database: db, TTL: time.Duration(ttlRaw) * time.Second, fetched: time.Now()}

	servers, _ := rt["servers"].([]any)
	for _, entry := range servers {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		addrs := parseAddresses(m["addresses"])
		switch Role(role) {
		case RoleRoute:
			t.Routers = append(t.Routers, addrs...)
		case RoleRead:
			t.Readers = append(t.Readers, addrs...)
		case RoleWrite:
			t.Writers = append(t.Writers, addrs...)
		default:
			if log != nil {
				log.Warn("routing table entry with unrecognized role ignored", "role", role)
			}
		}
	}
	t.InitializedWithoutWriters = len(t.Writers) == 0
	return t, nil
}

func parseAddresses(raw any) []address.Address {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]address.Address, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, address.Parse(s))
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
