package bolt

import (
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/packstream"
)

// Bolt4x4 adds routing context to HELLO and the ROUTE message on top of
// Bolt3's dialect. Auth still travels inline in HELLO; session
// re-authentication is still unsupported.
type Bolt4x4 struct {
	*Bolt3
}

// NewBolt4x4 wraps conn as a Bolt 4.4 protocol handle.
func NewBolt4x4(conn *Connection) *Bolt4x4 {
	return &Bolt4x4{Bolt3: NewBolt3(conn)}
}

// Hello sends routing context alongside the credentials Bolt3 already
// merges into HELLO's extra map.
func (b *Bolt4x4) Hello(params HelloParams) error {
	if len(params.NotificationFilter) > 0 {
		return errorkind.NewInvalidConfig("notification filtering requires Bolt 5.0 or newer, negotiated " + b.Version.String())
	}
	extra := map[string]any{"user_agent": params.UserAgent}
	for k, v := range params.Auth {
		extra[k] = v
	}
	if params.RoutingContext != nil {
		routing := make(map[string]any, len(params.RoutingContext))
		for k, v := range params.RoutingContext {
			routing[k] = v
		}
		extra["routing"] = routing
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

// Route asks the server for a fresh routing table.
func (b *Bolt4x4) Route(context map[string]string, bookmarks []string, extra RouteExtra, onRoute func(map[string]any)) error {
	ctx := make(map[string]any, len(context))
	for k, v := range context {
		ctx[k] = v
	}
	bm := make([]any, len(bookmarks))
	for i, v := range bookmarks {
		bm[i] = v
	}
	return b.queueMessage(tagRoute, []any{ctx, bm, extra.toMap()}, &Response{
		Kind: "ROUTE",
		OnSuccess: func(meta map[string]any) (State, error) {
			if table, ok := meta["rt"].(map[string]any); ok && onRoute != nil {
				onRoute(table)
			}
			return b.state, nil
		},
	})
}

// LoadValue recognizes everything Bolt3 does plus Bolt 4.x's date/time
// structs with explicit UTC offsets.
func (b *Bolt4x4) LoadValue(s packstream.Struct) any {
	switch s.Tag {
	case 0x46, 0x49: // DateTimeZoneId / DateTime with offset, 4.x encodings
		return s
	default:
		return b.Bolt3.LoadValue(s)
	}
}
