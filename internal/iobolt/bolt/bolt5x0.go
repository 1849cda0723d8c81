package bolt

// Bolt5x0 lifts the notification-filter restriction Bolt3/Bolt4x4 enforce:
// HELLO may now carry one. Everything else is inherited from Bolt4x4.
type Bolt5x0 struct {
	*Bolt4x4
}

// NewBolt5x0 wraps conn as a Bolt 5.0 protocol handle.
func NewBolt5x0(conn *Connection) *Bolt5x0 {
	return &Bolt5x0{Bolt4x4: NewBolt4x4(conn)}
}

func (b *Bolt5x0) Hello(params HelloParams) error {
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
			b.authLoggedIn = true
			return StateReady, nil
		},
	})
}
