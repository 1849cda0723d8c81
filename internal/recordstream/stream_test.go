package recordstream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/bolt"
	"github.com/jroosing/gobolt/internal/packstream"
)

// scriptEvent is one simulated wire message: a RECORD, a terminal SUCCESS
// (for whichever request is at the head of fakeConn's pending queue), a
// FAILURE, or an IGNORED.
type scriptEvent struct {
	record   []any
	keys     []string
	hasMore  bool
	failure  *errorkind.Server
	ignored  bool
}

func recordEvt(values ...any) scriptEvent    { return scriptEvent{record: values} }
func runSuccessEvt(keys []string) scriptEvent { return scriptEvent{keys: keys} }
func doneEvt(hasMore bool) scriptEvent        { return scriptEvent{hasMore: hasMore} }
func failureEvt(srv *errorkind.Server) scriptEvent { return scriptEvent{failure: srv} }
func ignoredEvt() scriptEvent                 { return scriptEvent{ignored: true} }

type pendingKind int

const (
	pendingRun pendingKind = iota
	pendingPull
	pendingDiscard
)

type pendingReq struct {
	kind     pendingKind
	onKeys   func([]string)
	onRecord func([]any)
	onDone   func(bool)
}

// fakeConn is a minimal bolt.Protocol double that replays a fixed script of
// wire events against whatever Run/Pull/Discard calls queue, one event per
// HandleResponse call — mirroring bolt.Connection.dispatch's "one message,
// maybe pops the response queue" contract closely enough to drive Stream.
type fakeConn struct {
	mu      sync.Mutex
	pending []pendingReq
	script  []scriptEvent
	pos     int
}

func newFakeConn(script ...scriptEvent) *fakeConn {
	return &fakeConn{script: script}
}

func (f *fakeConn) Run(_ string, _ map[string]any, _ bolt.Extra, onKeys func([]string), onRecord func([]any)) error {
	f.pending = append(f.pending, pendingReq{kind: pendingRun, onKeys: onKeys, onRecord: onRecord})
	return nil
}

func (f *fakeConn) Pull(_ int64, _ int64, onRecord func([]any), onDone func(bool)) error {
	f.pending = append(f.pending, pendingReq{kind: pendingPull, onRecord: onRecord, onDone: onDone})
	return nil
}

func (f *fakeConn) Discard(_ int64, _ int64, onDone func(bool)) error {
	f.pending = append(f.pending, pendingReq{kind: pendingDiscard, onDone: onDone})
	return nil
}

func (f *fakeConn) WriteAll(time.Time) error { return nil }

func (f *fakeConn) HandleResponse(time.Time) error {
	if len(f.pending) == 0 {
		return errors.New("fakeConn: HandleResponse called with no pending request")
	}
	if f.pos >= len(f.script) {
		return errors.New("fakeConn: script exhausted")
	}
	ev := f.script[f.pos]
	f.pos++
	head := f.pending[0]

	if ev.failure != nil {
		f.pending = f.pending[1:]
		return ev.failure
	}
	if ev.ignored {
		f.pending = f.pending[1:]
		return bolt.ErrIgnored
	}
	if ev.record != nil {
		if head.onRecord != nil {
			head.onRecord(ev.record)
		}
		return nil
	}
	f.pending = f.pending[1:]
	switch head.kind {
	case pendingRun:
		if head.onKeys != nil {
			head.onKeys(ev.keys)
		}
	case pendingPull, pendingDiscard:
		if head.onDone != nil {
			head.onDone(ev.hasMore)
		}
	}
	return nil
}

func (f *fakeConn) ReadAll(deadline time.Time) error {
	for len(f.pending) > 0 {
		if err := f.HandleResponse(deadline); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeConn) Hello(bolt.HelloParams) error      { return nil }
func (f *fakeConn) Reauth(authtoken.Token, bool) error { return nil }
func (f *fakeConn) Reset() error                       { return nil }
func (f *fakeConn) Begin(bolt.Extra) error             { return nil }
func (f *fakeConn) Commit(func(string)) error          { return nil }
func (f *fakeConn) Rollback() error                    { return nil }
func (f *fakeConn) Route(map[string]string, []string, bolt.RouteExtra, func(map[string]any)) error {
	return nil
}
func (f *fakeConn) LoadValue(packstream.Struct) any { return nil }
func (f *fakeConn) ProtocolVersion() bolt.Version   { return bolt.Version{Major: 5, Minor: 4} }
func (f *fakeConn) ConnState() bolt.State           { return bolt.StateReady }
func (f *fakeConn) Goodbye()                        {}
func (f *fakeConn) Close() error                    { return nil }

func newStream(conn bolt.Protocol, prop *ErrorPropagator, autoCommit bool) *Stream {
	return New(conn, prop, 1000, autoCommit, time.Second)
}

func TestRun_AutoCommit_DrainsRunReplyEagerly(t *testing.T) {
	conn := newFakeConn(runSuccessEvt([]string{"n"}), recordEvt(int64(1)), recordEvt(int64(2)), doneEvt(false))
	s := newStream(conn, nil, true)

	require.NoError(t, s.Run("RETURN 1 AS n", nil, bolt.Extra{}))
	assert.Equal(t, []string{"n"}, s.Keys(), "auto-commit Run must drain RUN's reply before returning")

	rec, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{int64(1)}, rec)

	rec, ok, err = s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []any{int64(2)}, rec)

	_, ok, err = s.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateDone, s.State())
}

func TestRun_AutoCommit_SurfacesRunFailureEagerly(t *testing.T) {
	srv := errorkind.NewServerError("Neo.ClientError.Statement.SyntaxError", "bad query")
	conn := newFakeConn(failureEvt(srv), ignoredEvt())
	s := newStream(conn, nil, true)

	require.NoError(t, s.Run("GARBAGE", nil, bolt.Extra{}))
	assert.Equal(t, StateError, s.State(), "a RUN failure must be visible right after Run returns for an auto-commit stream")

	_, ok, err := s.Next()
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errorkind.ErrServer))
	assert.Equal(t, StateDone, s.State())
}

func TestConsume_SwitchesToDiscardingAndDrains(t *testing.T) {
	conn := newFakeConn(runSuccessEvt([]string{"n"}), recordEvt(int64(1)), doneEvt(true), doneEvt(false))
	s := newStream(conn, nil, false)
	require.NoError(t, s.Run("MATCH (n) RETURN n", nil, bolt.Extra{}))

	summary, err := s.Consume()
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, []string{"n"}, summary.Keys)
	assert.True(t, summary.HadRecords)

	again, err := s.Consume()
	assert.NoError(t, err)
	assert.Nil(t, again, "a second Consume call must report nothing new")
}

func TestSingle_NoRecords(t *testing.T) {
	conn := newFakeConn(runSuccessEvt(nil), doneEvt(false))
	s := newStream(conn, nil, false)
	require.NoError(t, s.Run("MATCH (n) WHERE false RETURN n", nil, bolt.Extra{}))

	_, err := s.Single()
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestSingle_TooManyRecords(t *testing.T) {
	conn := newFakeConn(runSuccessEvt(nil), recordEvt("a"), recordEvt("b"), doneEvt(false))
	s := newStream(conn, nil, false)
	require.NoError(t, s.Run("MATCH (n) RETURN n.name", nil, bolt.Extra{}))

	_, err := s.Single()
	assert.ErrorIs(t, err, ErrTooManyRecords)
}

func TestSingle_ExactlyOneRecord(t *testing.T) {
	conn := newFakeConn(runSuccessEvt(nil), recordEvt("a"), doneEvt(false))
	s := newStream(conn, nil, false)
	require.NoError(t, s.Run("MATCH (n) RETURN n.name LIMIT 1", nil, bolt.Extra{}))

	rec, err := s.Single()
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, rec)
}

func TestErrorPropagator_MarksSiblingForeignError(t *testing.T) {
	prop := NewErrorPropagator()
	srv := errorkind.NewServerError("Neo.ClientError.Statement.SyntaxError", "bad query")

	failing := newStream(newFakeConn(failureEvt(srv), ignoredEvt()), prop, true)
	sibling := newStream(newFakeConn(), prop, false)

	require.NoError(t, failing.Run("GARBAGE", nil, bolt.Extra{}))
	_, _, err := failing.Next()
	require.Error(t, err)

	_, ok, sibErr := sibling.Next()
	assert.False(t, ok)
	require.Error(t, sibErr)
	assert.True(t, errors.Is(sibErr, errorkind.ErrServer))
	assert.Equal(t, StateDone, sibling.State())
}

func TestErrorPropagator_RegisterAfterFailureAdoptsForeignErrorImmediately(t *testing.T) {
	prop := NewErrorPropagator()
	srv := errorkind.NewServerError("Neo.ClientError.Statement.SyntaxError", "bad query")
	prop.fail(srv)

	late := newStream(newFakeConn(), prop, false)
	assert.Equal(t, StateForeignError, late.State(), "a stream registering after the group already failed must adopt the failure immediately")
}
