package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/chunk"
	"github.com/jroosing/gobolt/internal/iobolt/socket"
	"github.com/jroosing/gobolt/internal/packstream"
)

// ErrIgnored is returned by ReadOne/ReadAll when a request comes back
// IGNORED and its Response set no OnIgnored hook: a prior statement in the
// same transaction already failed, so the server skipped this one.
var ErrIgnored = errors.New("bolt: request ignored")

// Response describes what a connection does with the reply to one queued
// request: OnRecord fires per RECORD, OnSuccess once for the terminal
// SUCCESS (and decides the connection's next State), OnFailure once for a
// terminal FAILURE, OnIgnored once for IGNORED.
type Response struct {
	Kind      string
	OnRecord  func(fields []any) error
	OnSuccess func(meta map[string]any) (State, error)
	OnFailure func(srv *errorkind.Server) error
	OnIgnored func() error
}

// Connection drives one TCP socket speaking one negotiated Bolt version.
// Requests are queued (encode, don't send); WriteAll drains the queue onto
// the wire; ReadOne/ReadAll read and dispatch replies against the response
// queue's head, in order.
type Connection struct {
	Version      Version
	Address      address.Address
	translator   packstream.Translator
	conn         *socket.DeadlineConn
	chunkWriter  *chunk.Writer
	dechunker    *chunk.Dechunker
	state        State
	outbound     [][]byte
	responses    []*Response
	ServerAgent  string
	ConnectionID string
	RecvTimeout  *time.Duration
	LocalID      string
	authDirty    bool // never set by this package
}

// NewConnection wraps an already-handshaken socket connection.
func NewConnection(conn *socket.DeadlineConn, addr address.Address, version Version, t packstream.Translator) *Connection {
	return &Connection{
		Version:     version,
		Address:     addr,
		translator:  t,
		conn:        conn,
		chunkWriter: chunk.NewWriter(conn),
		dechunker:   chunk.NewDechunker(conn),
		state:       StateUnauthenticated,
		LocalID:     uuid.NewString(),
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// queueMessage encodes tag/fields as a PackStream Struct, appends the
// encoded message to the outbound queue, and registers resp to receive
// its eventual reply. It does not touch the wire.
func (c *Connection) queueMessage(tag byte, fields []any, resp *Response) error {
	var buf bytes.Buffer
	enc := packstream.NewEncoder(&buf)
	enc.WriteValue(packstream.Struct{Tag: tag, Fields: fields})
	if err := enc.Err(); err != nil {
		return fmt.Errorf("%w: encoding %s request: %v", errorkind.ErrProtocol, resp.Kind, err)
	}
	c.outbound = append(c.outbound, buf.Bytes())
	c.responses = append(c.responses, resp)
	return nil
}

// WriteAll flushes every queued message to the wire, in order, applying
// deadline to each chunk write.
func (c *Connection) WriteAll(deadline time.Time) error {
	for len(c.outbound) > 0 {
		msg := c.outbound[0]
		c.outbound = c.outbound[1:]
		c.chunkWriter.Reset()
		if _, err := c.chunkWriter.Write(msg); err != nil {
			return c.fail(err)
		}
		if err := c.flushWithDeadline(deadline); err != nil {
			return c.fail(err)
		}
	}
	return nil
}

func (c *Connection) flushWithDeadline(deadline time.Time) error {
	// chunk.Writer.Flush issues plain Write calls against c.conn; set the
	// deadline once up front so every syscall in this flush inherits it,
	// the same "one deadline per logical operation" contract the deadline
	// wrapper in internal/iobolt/socket applies to reads.
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	return c.chunkWriter.Flush()
}

// ReadOne reads and dispatches exactly one server message.
func (c *Connection) ReadOne(deadline time.Time) error {
	if err := c.conn.SetDeadline(deadline); err != nil {
		return c.fail(err)
	}
	raw, err := c.dechunker.ReadMessage()
	if err != nil {
		return c.fail(err)
	}
	dec := packstream.NewDecoder(raw)
	v, err := dec.DecodeValue()
	if err != nil {
		return c.fail(err)
	}
	s, ok := v.(packstream.Struct)
	if !ok {
		return c.fail(fmt.Errorf("%w: top-level response was not a structure", errorkind.ErrProtocol))
	}
	return c.dispatch(s)
}

// ReadAll reads responses until the response queue is empty.
func (c *Connection) ReadAll(deadline time.Time) error {
	for len(c.responses) > 0 {
		if err := c.ReadOne(deadline); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) dispatch(s packstream.Struct) error {
	if len(c.responses) == 0 {
		return errorkind.NewProtocol(fmt.Sprintf("response with tag 0x%02X but no pending request", s.Tag))
	}
	resp := c.responses[0]

	switch s.Tag {
	case tagRecord:
		list, _ := firstField(s).([]any)
		if resp.OnRecord != nil {
			return resp.OnRecord(list)
		}
		return nil
	case tagSuccess:
		meta, _ := firstField(s).(map[string]any)
		enrichSuccessDiagnostics(meta)
		c.responses = c.responses[1:]
		if resp.OnSuccess == nil {
			return nil
		}
		newState, err := resp.OnSuccess(meta)
		if err != nil {
			return err
		}
		c.state = newState
		return nil
	case tagFailure:
		meta, _ := firstField(s).(map[string]any)
		code, _ := meta["code"].(string)
		message, _ := meta["message"].(string)
		srv := errorkind.NewServerError(code, message)
		enrichFailureDiagnostics(meta)
		c.responses = c.responses[1:]
		c.state = StateFailed
		if resp.OnFailure != nil {
			if err := resp.OnFailure(srv); err != nil {
				return err
			}
		}
		return srv
	case tagIgnored:
		c.responses = c.responses[1:]
		if resp.OnIgnored != nil {
			return resp.OnIgnored()
		}
		return ErrIgnored
	default:
		return errorkind.NewProtocol(fmt.Sprintf("unexpected response tag 0x%02X", s.Tag))
	}
}

func firstField(s packstream.Struct) any {
	if len(s.Fields) == 0 {
		return nil
	}
	return s.Fields[0]
}

// enrichDiagnosticRecord fills in the three fields the server may omit
// from a single diagnostic record map.
func enrichDiagnosticRecord(m map[string]any) {
	if m == nil {
		return
	}
	if _, ok := m["OPERATION"]; !ok {
		m["OPERATION"] = ""
	}
	if _, ok := m["OPERATION_CODE"]; !ok {
		m["OPERATION_CODE"] = "0"
	}
	if _, ok := m["CURRENT_SCHEMA"]; !ok {
		m["CURRENT_SCHEMA"] = "/"
	}
}

// enrichSuccessDiagnostics enriches each entry of a SUCCESS's
// meta["statuses"] list, filling in that entry's diagnostic_record
// (creating it if absent). A SUCCESS that still has more records coming
// (has_more == true) is left untouched, since its statuses are not yet
// final.
func enrichSuccessDiagnostics(meta map[string]any) {
	if meta == nil {
		return
	}
	if hasMore, _ := meta["has_more"].(bool); hasMore {
		return
	}
	statuses, ok := meta["statuses"].([]any)
	if !ok {
		return
	}
	for _, raw := range statuses {
		status, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		dr, ok := status["diagnostic_record"].(map[string]any)
		if !ok {
			dr = map[string]any{}
			status["diagnostic_record"] = dr
		}
		enrichDiagnosticRecord(dr)
	}
}

// enrichFailureDiagnostics walks a FAILURE's cause chain (meta,
// meta["cause"], meta["cause"]["cause"], ...), filling in each level's
// diagnostic_record, creating it if absent.
func enrichFailureDiagnostics(meta map[string]any) {
	for meta != nil {
		dr, ok := meta["diagnostic_record"].(map[string]any)
		if !ok {
			dr = map[string]any{}
			meta["diagnostic_record"] = dr
		}
		enrichDiagnosticRecord(dr)
		next, _ := meta["cause"].(map[string]any)
		meta = next
	}
}

func (c *Connection) fail(err error) error {
	c.state = StateBroken
	return fmt.Errorf("%w: %v", errorkind.ErrDisconnect, err)
}

// Broken reports whether the connection has already failed.
func (c *Connection) Broken() bool { return c.state == StateBroken || c.state == StateClosed }

// Close transitions the connection to Closed, idempotently: it drops any
// queued requests and pending replies, sends a best-effort GOODBYE bounded
// by goodbyeDeadline (skipped once the connection is Broken), and tears down
// the transport.
func (c *Connection) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.outbound = nil
	c.responses = nil
	if c.state.Usable() {
		// The server never replies to GOODBYE, so nothing is left pending.
		if err := c.queueMessage(tagGoodbye, nil, &Response{Kind: "GOODBYE"}); err == nil {
			c.responses = nil
			_ = c.WriteAll(nowPlus(goodbyeDeadline))
		}
	}
	c.state = StateClosed
	c.outbound = nil
	return c.conn.Shutdown()
}
