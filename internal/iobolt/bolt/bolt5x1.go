package bolt

import (
	"github.com/jroosing/gobolt/internal/authtoken"
)

// Bolt5x1 moves credentials out of HELLO and into dedicated LOGON/LOGOFF
// messages, which is what makes live re-authentication of a connection
// (needs_reauth) possible at all.
type Bolt5x1 struct {
	*Bolt5x0
	currentToken authtoken.Token
	authReset    bool
}

// NewBolt5x1 wraps conn as a Bolt 5.1+ protocol handle.
func NewBolt5x1(conn *Connection) *Bolt5x1 {
	return &Bolt5x1{Bolt5x0: NewBolt5x0(conn)}
}

// Hello no longer carries credentials; the caller must follow it with
// Reauth(token, ...), which sends LOGON, before running anything.
func (b *Bolt5x1) Hello(params HelloParams) error {
	extra := map[string]any{"user_agent": params.UserAgent}
	if params.RoutingContext != nil {
		routing := make(map[string]any, len(params.RoutingContext))
		for k, v := range params.RoutingContext {
			routing[k] = v
		}
		extra["routing"] = routing
	}
	if len(params.NotificationFilter) > 0 {
		extra["notifications"] = params.NotificationFilter
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
			return StateUnauthenticated, nil
		},
	})
}

// NeedsReauth reports whether token differs (by PackStream data equality)
// from the currently logged-in token, or a reset was previously recorded.
func (b *Bolt5x1) NeedsReauth(token authtoken.Token) bool {
	return b.authReset || !b.authLoggedIn || !authtoken.Equal(b.currentToken, token)
}

// Reauth issues LOGOFF (if currently logged in) followed by LOGON. A
// forced reauth always issues LOGON even if the token is unchanged.
func (b *Bolt5x1) Reauth(token authtoken.Token, forceReset bool) error {
	if !forceReset && !b.NeedsReauth(token) {
		return nil
	}
	if b.authLoggedIn {
		if err := b.logoff(); err != nil {
			return err
		}
	}
	return b.logon(token)
}

func (b *Bolt5x1) logoff() error {
	return b.queueMessage(tagLogoff, nil, &Response{
		Kind: "LOGOFF",
		OnSuccess: func(map[string]any) (State, error) {
			b.authLoggedIn = false
			return StateUnauthenticated, nil
		},
	})
}

func (b *Bolt5x1) logon(token authtoken.Token) error {
	extra := map[string]any{}
	for k, v := range token {
		extra[k] = v
	}
	return b.queueMessage(tagLogon, []any{extra}, &Response{
		Kind: "LOGON",
		OnSuccess: func(map[string]any) (State, error) {
			b.currentToken = token
			b.authLoggedIn = true
			b.authReset = false
			return StateReady, nil
		},
	})
}
