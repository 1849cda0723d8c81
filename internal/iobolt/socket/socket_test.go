package socket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/gobolt/internal/address"
)

func startEchoListener(t *testing.T) (net.Listener, address.Address) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	return ln, address.New("127.0.0.1", uint16(port))
}

func TestDial_ConnectsToFirstReachableAddress(t *testing.T) {
	_, addr := startEchoListener(t)
	unreachable := address.New("127.0.0.1", 1) // almost certainly closed

	conn, err := Dial(context.Background(), []address.Address{unreachable, addr}, KeepAlive{}, nil)
	require.NoError(t, err)
	defer conn.Close()
}

func TestDial_AllAddressesFail(t *testing.T) {
	unreachable1 := address.New("127.0.0.1", 1)
	unreachable2 := address.New("127.0.0.1", 2)
	_, err := Dial(context.Background(), []address.Address{unreachable1, unreachable2}, KeepAlive{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSocket)
}

func TestDial_EmptyAddressList(t *testing.T) {
	_, err := Dial(context.Background(), nil, KeepAlive{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSocket)
}

func TestDeadlineConn_ReadWriteRoundTrip(t *testing.T) {
	_, addr := startEchoListener(t)
	conn, err := Dial(context.Background(), []address.Address{addr}, KeepAlive{}, nil)
	require.NoError(t, err)
	dc := NewDeadlineConn(conn)
	defer dc.Close()

	deadline := time.Now().Add(2 * time.Second)
	_, err = dc.WriteWithDeadline([]byte("ping"), deadline)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := dc.ReadWithDeadline(buf, deadline)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
	assert.False(t, dc.Broken())
}

func TestDeadlineConn_TimeoutMarksBroken(t *testing.T) {
	_, addr := startEchoListener(t)
	conn, err := Dial(context.Background(), []address.Address{addr}, KeepAlive{}, nil)
	require.NoError(t, err)
	dc := NewDeadlineConn(conn)
	defer dc.Close()

	buf := make([]byte, 4)
	_, err = dc.ReadWithDeadline(buf, time.Now().Add(10*time.Millisecond))
	require.Error(t, err)
	assert.True(t, dc.Broken())
}

func TestDeadlineConn_BrokenRejectsFurtherIO(t *testing.T) {
	_, addr := startEchoListener(t)
	conn, err := Dial(context.Background(), []address.Address{addr}, KeepAlive{}, nil)
	require.NoError(t, err)
	dc := NewDeadlineConn(conn)
	defer dc.Close()

	require.NoError(t, dc.Shutdown())
	assert.True(t, dc.Broken())

	_, err = dc.WriteWithDeadline([]byte("x"), time.Now().Add(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSocket)
}
