package bolt

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/gobolt/internal/address"
	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/iobolt/socket"
	"github.com/jroosing/gobolt/internal/packstream"
)

type passthroughTranslator struct{}

func (passthroughTranslator) FromStruct(s packstream.Struct) any { return s }
func (passthroughTranslator) ToStruct(v any) (packstream.Struct, error) {
	return v.(packstream.Struct), nil
}

// fakeServer continuously discards whatever the client writes (requests
// are not parsed in these tests) while writing back a fixed sequence of
// fully pre-chunked response messages. Read and write are independent
// directions over net.Pipe, so draining and responding can run
// concurrently without coordinating on request framing.
func fakeServer(t *testing.T, conn net.Conn, responses ...packstream.Struct) {
	t.Helper()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	go func() {
		defer conn.Close()
		for _, r := range responses {
			var payload bytes.Buffer
			enc := packstream.NewEncoder(&payload)
			enc.WriteValue(r)
			require.NoError(t, enc.Err())
			writeChunked(t, conn, payload.Bytes())
		}
	}()
}

func writeChunked(t *testing.T, w net.Conn, payload []byte) {
	t.Helper()
	var hdr [2]byte
	hdr[0] = byte(len(payload) >> 8)
	hdr[1] = byte(len(payload))
	_, err := w.Write(hdr[:])
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	_, err = w.Write([]byte{0, 0})
	require.NoError(t, err)
}

func newTestConnection(t *testing.T) (*Bolt3, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	dc := socket.NewDeadlineConn(client)
	conn := NewConnection(dc, address.New("127.0.0.1", 7687), Version{3, 0}, passthroughTranslator{})
	return NewBolt3(conn), server
}

func TestBolt3_HelloTransitionsToReady(t *testing.T) {
	b, server := newTestConnection(t)
	fakeServer(t, server, packstream.Struct{Tag: tagSuccess, Fields: []any{map[string]any{
		"server": "Neo4j/5.0", "connection_id": "bolt-1",
	}}})

	require.NoError(t, b.Hello(HelloParams{UserAgent: "gobolt/0.1", Auth: authtoken.Basic("neo4j", "pw", "")}))
	require.NoError(t, b.WriteAll(time.Now().Add(time.Second)))
	require.NoError(t, b.ReadAll(time.Now().Add(time.Second)))

	assert.Equal(t, StateReady, b.ConnState())
	assert.Equal(t, "Neo4j/5.0", b.ServerAgent)
	assert.Equal(t, "bolt-1", b.ConnectionID)
}

func TestBolt3_RunPullStreamsRecords(t *testing.T) {
	b, server := newTestConnection(t)
	fakeServer(t, server,
		packstream.Struct{Tag: tagSuccess, Fields: []any{map[string]any{"fields": []any{"n"}}}},
		packstream.Struct{Tag: tagRecord, Fields: []any{[]any{int64(1)}}},
		packstream.Struct{Tag: tagRecord, Fields: []any{[]any{int64(2)}}},
		packstream.Struct{Tag: tagSuccess, Fields: []any{map[string]any{"has_more": false, "bookmark": "bm1"}}},
	)

	var keys []string
	var records [][]any
	require.NoError(t, b.Run("RETURN 1", nil, Extra{}, func(k []string) { keys = k }, func(v []any) {
		records = append(records, v)
	}))
	require.NoError(t, b.WriteAll(time.Now().Add(time.Second)))
	require.NoError(t, b.ReadOne(time.Now().Add(time.Second)))
	assert.Equal(t, StateStreaming, b.ConnState())
	assert.Equal(t, []string{"n"}, keys)

	var more bool
	var bookmark string
	require.NoError(t, b.Pull(allRecords, lastQid, func(v []any) { records = append(records, v) }, func(m bool) { more = m }))
	require.NoError(t, b.WriteAll(time.Now().Add(time.Second)))
	require.NoError(t, b.ReadAll(time.Now().Add(time.Second)))
	_ = bookmark

	assert.False(t, more)
	assert.Equal(t, StateReady, b.ConnState())
	assert.Len(t, records, 2)
}

func TestBolt3_FailureTransitionsToFailed(t *testing.T) {
	b, server := newTestConnection(t)
	fakeServer(t, server, packstream.Struct{Tag: tagFailure, Fields: []any{map[string]any{
		"code": "Neo.ClientError.Statement.SyntaxError", "message": "bad query",
	}}})

	require.NoError(t, b.Run("GARBAGE", nil, Extra{}, nil, func([]any) {}))
	require.NoError(t, b.WriteAll(time.Now().Add(time.Second)))
	err := b.ReadAll(time.Now().Add(time.Second))
	require.Error(t, err)
	assert.Equal(t, StateFailed, b.ConnState())
}

func TestBolt3_RejectsNotificationFilter(t *testing.T) {
	b, _ := newTestConnection(t)
	err := b.Hello(HelloParams{UserAgent: "x", NotificationFilter: map[string]any{"minimum_severity": "WARNING"}})
	require.Error(t, err)
}

func TestBolt3_RejectsRoute(t *testing.T) {
	b, _ := newTestConnection(t)
	err := b.Route(nil, nil, RouteExtra{}, nil)
	require.Error(t, err)
}

func TestBolt3_RejectsReauth(t *testing.T) {
	b, _ := newTestConnection(t)
	err := b.Reauth(authtoken.None(), false)
	require.Error(t, err)
}

func TestEnrichSuccessDiagnostics_FillsEachStatusNotTopLevel(t *testing.T) {
	meta := map[string]any{
		"statuses": []any{
			map[string]any{"gql_status": "00000"},
			map[string]any{"gql_status": "01N42", "diagnostic_record": map[string]any{"OPERATION": "existing"}},
		},
	}
	enrichSuccessDiagnostics(meta)

	_, topLevel := meta["OPERATION"]
	assert.False(t, topLevel, "enrichment must never leak onto the top-level SUCCESS meta")

	first := meta["statuses"].([]any)[0].(map[string]any)
	dr := first["diagnostic_record"].(map[string]any)
	assert.Equal(t, "", dr["OPERATION"])
	assert.Equal(t, "0", dr["OPERATION_CODE"])
	assert.Equal(t, "/", dr["CURRENT_SCHEMA"])

	second := meta["statuses"].([]any)[1].(map[string]any)
	dr2 := second["diagnostic_record"].(map[string]any)
	assert.Equal(t, "existing", dr2["OPERATION"], "a pre-existing field must not be overwritten")
	assert.Equal(t, "0", dr2["OPERATION_CODE"])
}

func TestEnrichSuccessDiagnostics_SkipsWhenHasMore(t *testing.T) {
	meta := map[string]any{
		"has_more": true,
		"statuses": []any{map[string]any{}},
	}
	enrichSuccessDiagnostics(meta)

	status := meta["statuses"].([]any)[0].(map[string]any)
	_, ok := status["diagnostic_record"]
	assert.False(t, ok, "a SUCCESS with more records coming must not be enriched")
}

func TestEnrichFailureDiagnostics_WalksCauseChain(t *testing.T) {
	meta := map[string]any{
		"cause": map[string]any{
			"cause": map[string]any{},
		},
	}
	enrichFailureDiagnostics(meta)

	dr := meta["diagnostic_record"].(map[string]any)
	assert.Equal(t, "", dr["OPERATION"])

	cause := meta["cause"].(map[string]any)
	causeDr := cause["diagnostic_record"].(map[string]any)
	assert.Equal(t, "", causeDr["OPERATION"])

	nested := cause["cause"].(map[string]any)
	nestedDr := nested["diagnostic_record"].(map[string]any)
	assert.Equal(t, "", nestedDr["OPERATION"])
}

func TestBolt5x1_Reauth_SkipsWhenTokenUnchanged(t *testing.T) {
	conn := NewConnection(socket.NewDeadlineConn(nil), address.New("x", 7687), Version{5, 1}, passthroughTranslator{})
	b := NewBolt5x1(conn)
	b.authLoggedIn = true
	b.currentToken = authtoken.Basic("neo4j", "pw", "")

	err := b.Reauth(authtoken.Basic("neo4j", "pw", ""), false)
	require.NoError(t, err)
	assert.Empty(t, conn.outbound, "an unchanged token must not enqueue LOGOFF/LOGON")
}
