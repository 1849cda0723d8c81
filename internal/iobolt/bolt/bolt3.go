package bolt

import (
	"time"

	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/packstream"
)

// Bolt3 speaks the Bolt 3 dialect: auth travels inline in HELLO, there is
// no ROUTE message (routing tables come over HTTP in that era) and no
// session auth (LOGON/LOGOFF). Every later version embeds this one and
// overrides only what actually changed.
type Bolt3 struct {
	*Connection
	authLoggedIn bool
	wasInTx      bool // captured per in-flight streaming request, for its terminal state
}

// NewBolt3 wraps conn as a Bolt 3 protocol handle.
func NewBolt3(conn *Connection) *Bolt3 {
	return &Bolt3{Connection: conn}
}

func (b *Bolt3) ProtocolVersion() Version { return b.Connection.Version }
func (b *Bolt3) ConnState() State         { return b.Connection.state }

func (b *Bolt3) doneState() State {
	if b.wasInTx {
		return StateTxReady
	}
	return StateReady
}

func (b *Bolt3) streamingState() State {
	if b.wasInTx {
		return StateTxStreaming
	}
	return StateStreaming
}

// Hello sends HELLO with the auth token merged into its extra map, the
// way every server before 5.1 expects to receive credentials.
func (b *Bolt3) Hello(params HelloParams) error {
	if len(params.NotificationFilter) > 0 {
		return errorkind.NewInvalidConfig("notification filtering requires Bolt 5.0 or newer, negotiated " + b.Version.String())
	}
	extra := map[string]any{"user_agent": params.UserAgent}
	for k, v := range params.Auth {
		extra[k] = v
	}
	return b.queueMessage(tagHello, []any{extra}, &Response{
		Kind: "HELLO",
		OnSuccess: func(meta map[string]any) (State, error) {
			if agent, ok := meta["server"].(string); ok {
				b.ServerAgent = agent
			}
			if cid, ok := meta["connection_id"].(string); ok {
				b.ConnectionID = cid
			}
			b.authLoggedIn = true
			return StateReady, nil
		},
	})
}

// Reauth is unsupported before Bolt 5.1: a new auth token requires a fresh
// connection (HELLO only runs once per socket).
func (b *Bolt3) Reauth(_ authtoken.Token, _ bool) error {
	return errorkind.NewInvalidConfig("session auth (re-authentication of a live connection) requires Bolt 5.1 or newer, negotiated " + b.Version.String())
}

// Goodbye is fire-and-forget: queue it, flush with a short deadline, and
// never wait for (or expect) a reply.
func (b *Bolt3) Goodbye() {
	_ = b.queueMessage(tagGoodbye, nil, &Response{Kind: "GOODBYE"})
	b.responses = nil // the server never replies to GOODBYE
	deadline := nowPlus(goodbyeDeadline)
	_ = b.WriteAll(deadline)
}

func (b *Bolt3) Reset() error {
	return b.queueMessage(tagReset, nil, &Response{
		Kind: "RESET",
		OnSuccess: func(map[string]any) (State, error) {
			b.wasInTx = false
			return StateReady, nil
		},
	})
}

func (b *Bolt3) Run(query string, params map[string]any, extra Extra, onKeys func([]string), onRecord func([]any)) error {
	wasInTx := b.state == StateTxReady
	b.wasInTx = wasInTx
	fields := []any{query, mapOrEmpty(params), extra.toMap()}
	return b.queueMessage(tagRun, fields, &Response{
		Kind:     "RUN",
		OnRecord: func(values []any) error { onRecord(values); return nil },
		OnSuccess: func(meta map[string]any) (State, error) {
			if keysAny, ok := meta["fields"].([]any); ok && onKeys != nil {
				keys := make([]string, len(keysAny))
				for i, k := range keysAny {
					keys[i], _ = k.(string)
				}
				onKeys(keys)
			}
			return b.streamingState(), nil
		},
	})
}

func (b *Bolt3) Discard(n int64, qid int64, onDone func(bool)) error {
	return b.queueMessage(tagDiscard, []any{qidMap(n, qid)}, &Response{
		Kind: "DISCARD",
		OnSuccess: func(meta map[string]any) (State, error) {
			more, _ := meta["has_more"].(bool)
			if onDone != nil {
				onDone(more)
			}
			if more {
				return b.streamingState(), nil
			}
			return b.doneState(), nil
		},
	})
}

func (b *Bolt3) Pull(n int64, qid int64, onRecord func([]any), onDone func(bool)) error {
	return b.queueMessage(tagPull, []any{qidMap(n, qid)}, &Response{
		Kind:     "PULL",
		OnRecord: func(values []any) error { onRecord(values); return nil },
		OnSuccess: func(meta map[string]any) (State, error) {
			more, _ := meta["has_more"].(bool)
			if onDone != nil {
				onDone(more)
			}
			if more {
				return b.streamingState(), nil
			}
			return b.doneState(), nil
		},
	})
}

func (b *Bolt3) Begin(extra Extra) error {
	return b.queueMessage(tagBegin, []any{extra.toMap()}, &Response{
		Kind: "BEGIN",
		OnSuccess: func(map[string]any) (State, error) {
			return StateTxReady, nil
		},
	})
}

func (b *Bolt3) Commit(onBookmark func(string)) error {
	return b.queueMessage(tagCommit, nil, &Response{
		Kind: "COMMIT",
		OnSuccess: func(meta map[string]any) (State, error) {
			if bm, ok := meta["bookmark"].(string); ok && onBookmark != nil {
				onBookmark(bm)
			}
			return StateReady, nil
		},
	})
}

func (b *Bolt3) Rollback() error {
	return b.queueMessage(tagRollback, nil, &Response{
		Kind: "ROLLBACK",
		OnSuccess: func(map[string]any) (State, error) {
			return StateReady, nil
		},
	})
}

// Route is not part of the Bolt 3 dialect.
func (b *Bolt3) Route(map[string]string, []string, RouteExtra, func(map[string]any)) error {
	return errorkind.NewInvalidConfig("server-side routing (ROUTE) requires Bolt 4.3 or newer, negotiated " + b.Version.String())
}

// LoadValue translates a decoded Struct into a domain value. Bolt 3
// recognizes the core graph types (Node 0x4E, Relationship 0x52,
// UnboundRelationship 0x72, Path 0x50) plus legacy (pre-UTC-aware) date and
// time structs; anything else is a BrokenValue.
func (b *Bolt3) LoadValue(s packstream.Struct) any {
	switch s.Tag {
	case 0x4E, 0x52, 0x72, 0x50, 0x44, 0x54, 0x46, 0x45, 0x74, 0x65, 0x78, 0x79, 0x58, 0x59:
		return s
	default:
		return packstream.BrokenValue{Tag: s.Tag, Fields: s.Fields, Reason: "unrecognized structure tag for Bolt " + b.Version.String()}
	}
}

func (b *Bolt3) HandleResponse(deadline time.Time) error {
	return b.Connection.ReadOne(deadline)
}

func nowPlus(d time.Duration) time.Time { return time.Now().Add(d) }

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// qidMap builds PULL/DISCARD's extra map, applying the omitted-qid
// optimization: qid is left out entirely when it equals lastQid.
func qidMap(n, qid int64) map[string]any {
	m := map[string]any{"n": n}
	if qid != lastQid {
		m["qid"] = qid
	}
	return m
}
