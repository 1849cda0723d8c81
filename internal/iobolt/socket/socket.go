// Package socket provides the TCP(+TLS) transport a Bolt connection runs
// over: dial-with-fallback across resolved addresses, TCP keep-alive tuned
// via golang.org/x/sys, and a deadline-aware read/write/flush wrapper that
// marks a connection Broken and shuts it down on any I/O error. The
// dial-and-try-each-address loop mirrors the teacher's upstream iteration
// in internal/resolvers/forwarding_resolver.go.
package socket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/errorkind"
)

// ErrSocket is the sentinel wrapped by transport errors.
var ErrSocket = errors.New("socket error")

// KeepAlive configures TCP keep-alive probing. A zero Interval applies no
// tuning of its own, leaving the Go dialer's default keep-alive in effect.
type KeepAlive struct {
	Interval time.Duration
}

// TLSConfigSource supplies the TLS client configuration to use when
// wrapping a connection, so the caller controls trust roots and server
// name verification without this package importing a specific TLS policy.
type TLSConfigSource interface {
	ClientConfig(serverName string) (*tls.Config, error)
}

// Dial connects to the first reachable address in addrs, applying ctx's
// deadline to each attempt. If tlsSrc is non-nil the raw TCP connection is
// wrapped with TLS using the first address's host as the server name. On
// total failure the last per-address error is wrapped and returned.
func Dial(ctx context.Context, addrs []address.Address, ka KeepAlive, tlsSrc TLSConfigSource) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no resolved addresses to connect to", ErrSocket)
	}

	var dialer net.Dialer
	var lastErr error
	for _, a := range addrs {
		conn, err := dialer.DialContext(ctx, "tcp", a.NetJoinHostPort())
		if err != nil {
			lastErr = err
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok && ka.Interval > 0 {
			if err := applyKeepAlive(tcpConn, ka.Interval); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
		}
		if tlsSrc != nil {
			cfg, err := tlsSrc.ClientConfig(addrs[0].UnresolvedHost())
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("%w: building TLS config: %v", ErrSocket, err)
			}
			tlsConn := tls.Client(conn, cfg)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				tlsConn.Close()
				lastErr = err
				continue
			}
			return tlsConn, nil
		}
		return conn, nil
	}
	return nil, fmt.Errorf("%w: could not connect to any of %d address(es): %v", ErrSocket, len(addrs), lastErr)
}

func applyKeepAlive(conn *net.TCPConn, interval time.Duration) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("%w: accessing raw connection for keep-alive: %v", ErrSocket, err)
	}
	secs := int(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	var setErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			setErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); e != nil {
			setErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); e != nil {
			setErr = e
			return
		}
	})
	if err != nil {
		return fmt.Errorf("%w: keep-alive control: %v", ErrSocket, err)
	}
	if setErr != nil {
		return fmt.Errorf("%w: keep-alive setsockopt: %v", ErrSocket, setErr)
	}
	return nil
}

// connState tracks whether a DeadlineConn has observed an error or been
// shut down; once broken, Shutdown is a no-op and every later Read, Write
// or SetDeadline fails fast with ErrSocket.
type connState int

const (
	connOpen connState = iota
	connBroken
)

// DeadlineConn wraps a net.Conn so SetDeadline, ReadWithDeadline and
// WriteWithDeadline apply a fresh socket deadline derived from an absolute
// deadline (plain Read and Write use whichever deadline was last applied),
// and any I/O error marks the connection Broken and shuts it down in both
// directions.
type DeadlineConn struct {
	net.Conn
	state connState
}

// NewDeadlineConn wraps conn.
func NewDeadlineConn(conn net.Conn) *DeadlineConn {
	return &DeadlineConn{Conn: conn}
}

// Broken reports whether a prior I/O error already shut this connection
// down.
func (c *DeadlineConn) Broken() bool { return c.state == connBroken }

func (c *DeadlineConn) applyDeadline(deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Nanosecond
	}
	return c.Conn.SetDeadline(time.Now().Add(remaining))
}

// SetDeadline applies deadline to the underlying socket without performing
// any I/O itself, for callers (like a chunk writer/dechunker) that issue
// several raw Read/Write calls under one logical deadline.
func (c *DeadlineConn) SetDeadline(deadline time.Time) error {
	if c.state == connBroken {
		return fmt.Errorf("%w: connection already broken", ErrSocket)
	}
	if err := c.applyDeadline(deadline); err != nil {
		return c.fail(err)
	}
	return nil
}

// Read shadows the embedded net.Conn's Read so every caller that holds a
// DeadlineConn through a plain io.Reader (chunk.Dechunker, in particular)
// still gets Broken-marking/shutdown classification, using whatever
// deadline was last applied via SetDeadline or ReadWithDeadline.
func (c *DeadlineConn) Read(p []byte) (int, error) {
	if c.state == connBroken {
		return 0, fmt.Errorf("%w: connection already broken", ErrSocket)
	}
	n, err := c.Conn.Read(p)
	if err != nil {
		return n, c.classify(err)
	}
	return n, nil
}

// Write shadows the embedded net.Conn's Write; see Read.
func (c *DeadlineConn) Write(p []byte) (int, error) {
	if c.state == connBroken {
		return 0, fmt.Errorf("%w: connection already broken", ErrSocket)
	}
	n, err := c.Conn.Write(p)
	if err != nil {
		return n, c.classify(err)
	}
	return n, nil
}

// ReadWithDeadline reads into p, enforcing deadline on the underlying
// socket. A timeout is reported as an errorkind.Timeout; a timeout or any
// other I/O error marks the connection Broken and triggers shutdown(both).
func (c *DeadlineConn) ReadWithDeadline(p []byte, deadline time.Time) (int, error) {
	if err := c.SetDeadline(deadline); err != nil {
		return 0, err
	}
	return c.Read(p)
}

// WriteWithDeadline writes p, enforcing deadline the same way
// ReadWithDeadline does.
func (c *DeadlineConn) WriteWithDeadline(p []byte, deadline time.Time) (int, error) {
	if err := c.SetDeadline(deadline); err != nil {
		return 0, err
	}
	return c.Write(p)
}

func (c *DeadlineConn) classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.fail(err)
		return errorkind.NewTimeout("socket I/O deadline exceeded")
	}
	return c.fail(err)
}

func (c *DeadlineConn) fail(err error) error {
	c.state = connBroken
	if tcpConn, ok := c.Conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
		_ = tcpConn.CloseRead()
	} else {
		_ = c.Conn.Close()
	}
	return fmt.Errorf("%w: %v", ErrSocket, err)
}

// Shutdown closes the connection in both directions and marks it Broken,
// for callers that need to abandon a connection outside the normal
// read/write path (e.g. a handshake failure).
func (c *DeadlineConn) Shutdown() error {
	if c.state == connBroken {
		return nil
	}
	c.state = connBroken
	return c.Conn.Close()
}

var _ io.ReadWriteCloser = (*DeadlineConn)(nil)
