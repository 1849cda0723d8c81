// Package driverconfig holds the driver's two plain-data configuration
// structs — ConnectionConfig and DriverConfig — and the URI parser that
// builds a ConnectionConfig from a bolt:// or neo4j:// connection string.
// Everything here is inert data; the core pool/connector packages consume
// the resulting structs directly and never import viper (see load.go,
// which is the CLI-only layering convenience on top of these).
package driverconfig

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/socket"
)

// defaultPort is the port a bolt:// or neo4j:// URI gets when its
// authority names none.
const defaultPort = 7687

// reservedRoutingContextKey is forbidden in a URI's query string: the
// driver injects the resolved address under this key itself when it sends
// ROUTE.
const reservedRoutingContextKey = "address"

// TLSMode selects how a connection's transport is secured.
type TLSMode int

const (
	TLSModeNone TLSMode = iota
	TLSModeSecure
	TLSModeSelfSigned
)

func (m TLSMode) suffix() string {
	switch m {
	case TLSModeSecure:
		return "+s"
	case TLSModeSelfSigned:
		return "+ssc"
	default:
		return ""
	}
}

// ConnectionConfig is a target address plus how to reach it: whether to
// route through cluster discovery, the routing context to send with
// ROUTE, and the transport's TLS mode.
type ConnectionConfig struct {
	Address        address.Address
	Routing        bool
	RoutingContext map[string]string
	TLS            TLSMode
}

// ParseURI parses a bolt[+s|+ssc]:// or neo4j[+s|+ssc]:// connection
// string into a ConnectionConfig. A path other than "/", a username, a
// password, or a fragment is rejected; a query string is only accepted
// for neo4j* schemes and becomes the routing context.
func ParseURI(raw string) (*ConnectionConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errorkind.ErrInvalidConfig, err)
	}

	routing, tlsMode, err := parseScheme(u.Scheme)
	if err != nil {
		return nil, err
	}
	if u.User != nil {
		return nil, errorkind.NewInvalidConfig("connection URI must not carry userinfo; pass credentials via DriverConfig.Auth")
	}
	if u.Path != "" && u.Path != "/" {
		return nil, errorkind.NewInvalidConfig("connection URI must not carry a path")
	}
	if u.Fragment != "" {
		return nil, errorkind.NewInvalidConfig("connection URI must not carry a fragment")
	}
	if u.RawQuery != "" && !routing {
		return nil, errorkind.NewInvalidConfig("routing context query parameters require a neo4j:// scheme")
	}

	host, port, err := splitAuthority(u.Host)
	if err != nil {
		return nil, err
	}

	routingCtx, err := parseRoutingContext(u.RawQuery)
	if err != nil {
		return nil, err
	}

	return &ConnectionConfig{
		Address:        address.New(host, port),
		Routing:        routing,
		RoutingContext: routingCtx,
		TLS:            tlsMode,
	}, nil
}

func parseScheme(scheme string) (routing bool, tlsMode TLSMode, err error) {
	base, suffix, _ := strings.Cut(scheme, "+")
	switch suffix {
	case "":
		tlsMode = TLSModeNone
	case "s":
		tlsMode = TLSModeSecure
	case "ssc":
		tlsMode = TLSModeSelfSigned
	default:
		return false, 0, errorkind.NewInvalidConfig(fmt.Sprintf("unsupported URI scheme suffix %q", suffix))
	}
	switch base {
	case "neo4j":
		return true, tlsMode, nil
	case "bolt":
		return false, tlsMode, nil
	default:
		return false, 0, errorkind.NewInvalidConfig(fmt.Sprintf("unsupported URI scheme %q", scheme))
	}
}

func splitAuthority(authority string) (string, uint16, error) {
	if authority == "" {
		return "", 0, errorkind.NewInvalidConfig("connection URI must name a host")
	}
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		// No port in the authority at all.
		return authority, defaultPort, nil
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, errorkind.NewInvalidConfig(fmt.Sprintf("invalid port %q", portStr))
	}
	return host, uint16(port), nil
}

func parseRoutingContext(rawQuery string) (map[string]string, error) {
	if rawQuery == "" {
		return nil, nil
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid routing context: %v", errorkind.ErrInvalidConfig, err)
	}
	ctx := make(map[string]string, len(values))
	for k, v := range values {
		if k == reservedRoutingContextKey {
			return nil, errorkind.NewInvalidConfig(`routing context key "address" is reserved`)
		}
		if len(v) > 0 {
			ctx[k] = v[0]
		}
	}
	return ctx, nil
}

// URI renders c back to its connection-string form: scheme, host, port,
// and (for a routing config) its routing context as a sorted query
// string. Round-tripping ParseURI(c.URI()) reproduces c.
func (c *ConnectionConfig) URI() string {
	scheme := "bolt"
	if c.Routing {
		scheme = "neo4j"
	}
	scheme += c.TLS.suffix()

	host := c.Address.Host()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u := fmt.Sprintf("%s://%s:%d", scheme, host, c.Address.Port())
	if len(c.RoutingContext) == 0 {
		return u
	}

	keys := make([]string, 0, len(c.RoutingContext))
	for k := range c.RoutingContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = url.QueryEscape(k) + "=" + url.QueryEscape(c.RoutingContext[k])
	}
	return u + "?" + strings.Join(pairs, "&")
}

// DriverConfig is every pool-wide and connection-wide setting the
// high-level driver layer (out of this core's scope) would thread down
// into the connector and pools.
type DriverConfig struct {
	UserAgent string
	Auth      authtoken.Token

	MaxConnectionLifetime        time.Duration
	IdleTimeBeforeConnectionTest time.Duration
	MaxConnectionPoolSize        int
	ConnectionTimeout            time.Duration
	ConnectionAcquisitionTimeout time.Duration

	// FetchSize is PULL's "n": an integer >= 1, or -1 for "fetch all".
	FetchSize int64

	Resolver           address.Resolver
	NotificationFilter map[string]any
	KeepAlive          socket.KeepAlive
	TelemetryDisabled  bool
}

// DefaultDriverConfig returns the driver's out-of-the-box settings.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		UserAgent:                    "gobolt/0",
		MaxConnectionLifetime:        1 * time.Hour,
		IdleTimeBeforeConnectionTest: 0,
		MaxConnectionPoolSize:        100,
		ConnectionTimeout:            30 * time.Second,
		ConnectionAcquisitionTimeout: 60 * time.Second,
		FetchSize:                    1000,
	}
}

// Validate rejects settings the driver can never act on, never a
// retryable condition.
func (c DriverConfig) Validate() error {
	if c.FetchSize < 1 && c.FetchSize != -1 {
		return errorkind.NewInvalidConfig("fetch_size must be >= 1 or -1")
	}
	if c.MaxConnectionPoolSize <= 0 {
		return errorkind.NewInvalidConfig("max_connection_pool_size must be > 0")
	}
	return nil
}
