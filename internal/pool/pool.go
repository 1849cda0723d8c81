// Package pool implements a bounded pool of idle Bolt connections to one
// resolved address. It generalizes the teacher's per-upstream pooling in
// internal/resolvers/forwarding_resolver.go (map of upstream -> channel of
// pooled *net.UDPConn, capacity-bounded, mutex-guarded) from a fixed-size
// channel to an acquire/release protocol with deadline-aware waiting,
// in-flight reservation accounting, and liveness checks on reuse.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/bolt"
)

// Opener opens a brand-new, fully authenticated connection, trying each
// resolved endpoint for the pool's address in turn.
type Opener interface {
	Open(ctx context.Context, deadline time.Time) (bolt.Protocol, error)
}

// ReauthFunc brings a connection's auth up to date with whatever token the
// caller of Acquire/TryAcquire wants to use, a no-op if it already matches.
type ReauthFunc func(conn bolt.Protocol) error

// Config bounds a Pool's behavior.
type Config struct {
	Max             int
	MaxLifetime     time.Duration // 0 disables the max-lifetime check
	LivenessTimeout time.Duration // 0 disables the RESET liveness probe
}

// entry pairs a pooled connection with its idle-since timestamp.
type entry struct {
	conn     bolt.Protocol
	idleFrom time.Time
}

// Pool is a bounded, FIFO pool of idle connections for one address.
type Pool struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	cond         *sync.Cond
	idle         []entry
	reservations int
	borrowed     int
	opener       Opener
}

// New returns a Pool bounded by cfg.Max, using opener to create fresh
// connections.
func New(cfg Config, opener Opener, log *slog.Logger) *Pool {
	p := &Pool{cfg: cfg, opener: opener, log: log}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// TryAcquire returns a prepared connection without ever waiting: it reuses
// an idle connection (running it through prepare first) or opens a fresh
// one if the pool is under capacity. ok is false if neither was possible
// right now (the pool is at capacity with nothing usable idle); the caller
// is then free to try another pool or wait. reauth may be nil.
func (p *Pool) TryAcquire(ctx context.Context, deadline time.Time, reauth ReauthFunc) (conn bolt.Protocol, ok bool, err error) {
	for {
		e, fresh, gotOne := p.popOrReserve()
		if !gotOne {
			return nil, false, nil
		}

		if fresh {
			conn, err := p.opener.Open(ctx, deadline)
			p.mu.Lock()
			p.reservations--
			if err != nil {
				p.cond.Signal()
				p.mu.Unlock()
				return nil, false, err
			}
			p.borrowed++
			p.mu.Unlock()
			return conn, true, nil
		}

		usable, pErr := p.prepare(e.conn, e.idleFrom, reauth)
		if pErr != nil {
			return nil, false, pErr
		}
		if !usable {
			continue // prepare discarded a stale or dead connection; try again
		}
		return e.conn, true, nil
	}
}

// popOrReserve pops an idle entry if one exists; otherwise, if there is
// room under cfg.Max, commits a reservation and reports fresh=true so the
// caller opens a new connection outside the lock.
func (p *Pool) popOrReserve() (e entry, fresh bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.idle); n > 0 {
		e = p.idle[0]
		p.idle = p.idle[1:]
		p.borrowed++
		return e, false, true
	}
	if len(p.idle)+p.borrowed+p.reservations >= p.cfg.Max {
		return entry{}, false, false
	}
	p.reservations++
	return entry{}, true, true
}

// prepare decides whether a just-popped idle connection is still usable.
// usable=false (discarding conn in the process) means the caller should
// pop or open another connection and try again; a non-nil err means the
// caller should stop and propagate it instead of retrying, since it
// reflects a reauth failure rather than mere staleness.
func (p *Pool) prepare(conn bolt.Protocol, idleSince time.Time, reauth ReauthFunc) (usable bool, err error) {
	if p.cfg.MaxLifetime > 0 && time.Since(idleSince) > p.cfg.MaxLifetime {
		p.discard(conn)
		return false, nil
	}
	if p.cfg.LivenessTimeout > 0 && time.Since(idleSince) > p.cfg.LivenessTimeout {
		if err := livenessProbe(conn); err != nil {
			p.discard(conn)
			return false, nil
		}
	}
	if reauth != nil {
		if err := reauth(conn); err != nil {
			p.discard(conn)
			return false, fmt.Errorf("reauthenticating pooled connection: %w", err)
		}
	}
	return true, nil
}

// Acquire returns a prepared connection for use, opening a new one if room
// allows or waiting for one to free up, honoring deadline either way.
func (p *Pool) Acquire(ctx context.Context, deadline time.Time, reauth ReauthFunc) (bolt.Protocol, error) {
	for {
		conn, ok, err := p.TryAcquire(ctx, deadline, reauth)
		if err != nil {
			return nil, err
		}
		if ok {
			return conn, nil
		}

		p.mu.Lock()
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, errorkind.NewTimeout("timed out waiting for a free pool slot")
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait() // unlocks p.mu while waiting, relocks before returning
		timer.Stop()
		timedOut := time.Now().After(deadline)
		p.mu.Unlock()
		if timedOut {
			return nil, errorkind.NewTimeout("timed out waiting for a free pool slot")
		}
		// loop back around and try TryAcquire again
	}
}

func livenessProbe(conn bolt.Protocol) error {
	if err := conn.Reset(); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
	if err := conn.HandleResponse(deadline); err != nil {
		return err
	}
	return nil
}

// Release hands conn back to the pool: if it isn't Ready, a best-effort
// RESET is attempted first; a connection that's still broken or closed
// afterward is dropped instead of re-enqueued.
func (p *Pool) Release(conn bolt.Protocol) {
	if conn.ConnState() != bolt.StateReady {
		if err := resetToReady(conn); err != nil {
			if p.log != nil {
				p.log.Debug("dropping pooled connection that failed its release RESET", "err", err)
			}
			_ = conn.Close()
			p.mu.Lock()
			p.borrowed--
			p.cond.Signal()
			p.mu.Unlock()
			return
		}
	}

	p.mu.Lock()
	p.borrowed--
	if conn.ConnState() != bolt.StateClosed {
		p.idle = append(p.idle, entry{conn: conn, idleFrom: time.Now()})
	}
	p.cond.Signal()
	p.mu.Unlock()
}

func resetToReady(conn bolt.Protocol) error {
	if err := conn.Reset(); err != nil {
		return err
	}
	deadline := time.Now().Add(5 * time.Second)
	return conn.HandleResponse(deadline)
}

func (p *Pool) discard(conn bolt.Protocol) {
	_ = conn.Close()
	p.mu.Lock()
	p.borrowed--
	p.cond.Signal()
	p.mu.Unlock()
}

// InUse reports reservations+borrowed: connections either checked out or
// in the process of being opened. The routing pool sorts candidate
// addresses by this count to spread load across sub-pools.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reservations + p.borrowed
}

// Len reports idle+borrowed+reservations, for diagnostics and tests.
func (p *Pool) Len() (idle, borrowed, reservations int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.borrowed, p.reservations
}
