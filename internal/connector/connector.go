// Package connector opens and authenticates a fresh Bolt connection to one
// logical address: full address resolution, dial-with-fallback across the
// resolved endpoints, handshake, version dispatch, and HELLO/LOGON. It
// implements pool.Opener, the same role the teacher's ensurePool plays when
// it dials a brand-new upstream *net.UDPConn in forwarding_resolver.go.
package connector

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/bolt"
	"github.com/jroosing/gobolt/internal/iobolt/socket"
	"github.com/jroosing/gobolt/internal/packstream"
)

// identityTranslator resolves no struct tags of its own, surfacing every
// PackStream structure as a packstream.BrokenValue. Callers that need
// graph-typed values (Node, Relationship, Path, temporal types, ...) supply
// their own packstream.Translator through Config.
type identityTranslator struct{}

func (identityTranslator) FromStruct(s packstream.Struct) any {
	return packstream.BrokenValue{Tag: s.Tag, Fields: s.Fields, Reason: "no translator configured for this structure tag"}
}

func (identityTranslator) ToStruct(v any) (packstream.Struct, error) {
	return packstream.Struct{}, fmt.Errorf("%w: identityTranslator cannot encode %T", errorkind.ErrProtocol, v)
}

// Config bundles everything needed to open and authenticate a connection to
// one logical address.
type Config struct {
	UserAgent          string
	RoutingContext     map[string]string
	NotificationFilter map[string]any
	Auth               authtoken.Token
	KeepAlive          socket.KeepAlive
	TLS                socket.TLSConfigSource
	Resolver           address.Resolver
	DNSLookup          address.DNSLookup
	Translator         packstream.Translator
}

// Connector opens fresh, authenticated connections to one logical address.
type Connector struct {
	addr address.Address
	cfg  Config
}

// New returns a Connector for addr.
func New(addr address.Address, cfg Config) *Connector {
	return &Connector{addr: addr, cfg: cfg}
}

// Open resolves addr fully and attempts each resolved endpoint in turn,
// returning the first one that completes handshake, HELLO, and (if
// required) LOGON. This is pool.Opener's contract.
func (c *Connector) Open(ctx context.Context, deadline time.Time) (bolt.Protocol, error) {
	resolved, err := address.FullyResolve(ctx, c.addr, c.cfg.Resolver, c.cfg.DNSLookup)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range resolved {
		proto, err := c.openOne(ctx, endpoint, deadline)
		if err != nil {
			lastErr = err
			continue
		}
		return proto, nil
	}
	return nil, fmt.Errorf("%w: could not open a connection to %s: %v", errorkind.ErrDisconnect, c.addr, lastErr)
}

func (c *Connector) openOne(ctx context.Context, endpoint address.Address, deadline time.Time) (bolt.Protocol, error) {
	raw, err := socket.Dial(ctx, []address.Address{endpoint}, c.cfg.KeepAlive, c.cfg.TLS)
	if err != nil {
		return nil, err
	}
	conn := socket.NewDeadlineConn(raw)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	version, err := bolt.Handshake(rw)
	if err != nil {
		conn.Shutdown()
		return nil, err
	}

	translator := c.cfg.Translator
	if translator == nil {
		translator = identityTranslator{}
	}
	proto, err := selectProtocol(bolt.NewConnection(conn, endpoint, version, translator), version)
	if err != nil {
		conn.Shutdown()
		return nil, err
	}

	if err := c.helloAndReauth(proto, deadline); err != nil {
		conn.Shutdown()
		return nil, err
	}
	return proto, nil
}

func (c *Connector) helloAndReauth(proto bolt.Protocol, deadline time.Time) error {
	if err := proto.Hello(bolt.HelloParams{
		UserAgent:          c.cfg.UserAgent,
		RoutingContext:     c.cfg.RoutingContext,
		NotificationFilter: c.cfg.NotificationFilter,
		Auth:               c.cfg.Auth,
	}); err != nil {
		return err
	}
	if err := flushAndDrain(proto, deadline); err != nil {
		return err
	}

	if proto.ConnState() != bolt.StateUnauthenticated {
		return nil
	}
	// Bolt 5.1+: HELLO leaves the connection unauthenticated, credentials
	// travel over LOGON.
	if err := proto.Reauth(c.cfg.Auth, false); err != nil {
		return err
	}
	return flushAndDrain(proto, deadline)
}

func flushAndDrain(proto bolt.Protocol, deadline time.Time) error {
	if err := proto.WriteAll(deadline); err != nil {
		return err
	}
	return proto.ReadAll(deadline)
}

// selectProtocol picks the narrowest Protocol implementation for a
// negotiated version, newest first.
func selectProtocol(conn *bolt.Connection, version bolt.Version) (bolt.Protocol, error) {
	switch {
	case version.Major == 5 && version.Minor >= 1:
		return bolt.NewBolt5x1(conn), nil
	case version.Major == 5:
		return bolt.NewBolt5x0(conn), nil
	case version.Major == 4 && version.Minor == 4:
		return bolt.NewBolt4x4(conn), nil
	case version.Major == 3:
		return bolt.NewBolt3(conn), nil
	default:
		return nil, fmt.Errorf("%w: no protocol implementation for negotiated version %s", errorkind.ErrProtocol, version)
	}
}
