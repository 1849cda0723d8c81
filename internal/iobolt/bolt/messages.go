package bolt

// Request message tags.
const (
	tagHello    byte = 0x01
	tagLogon    byte = 0x6A
	tagLogoff   byte = 0x6B
	tagGoodbye  byte = 0x02
	tagReset    byte = 0x0F
	tagRun      byte = 0x10
	tagDiscard  byte = 0x2F
	tagPull     byte = 0x3F
	tagBegin    byte = 0x11
	tagCommit   byte = 0x12
	tagRollback byte = 0x13
	tagRoute    byte = 0x66
)

// Response message tags.
const (
	tagSuccess byte = 0x70
	tagRecord  byte = 0x71
	tagIgnored byte = 0x7E
	tagFailure byte = 0x7F
)

// Extra bundles the fields carried by RUN and BEGIN's trailing extra map.
// The query itself is not part of it: RUN sends the query as a separate
// field, and BEGIN has none.
type Extra struct {
	Bookmarks          []string
	TxTimeoutMs        *int64
	TxMetadata         map[string]any
	Mode               string // "r" or "w"; "w" is the convention default and omitted
	Db                 string
	ImpersonatedUser   string
	NotificationFilter map[string]any
}

// toMap renders Extra as the wire map, omitting zero-value fields per the
// server's own lenient-defaults convention.
func (e Extra) toMap() map[string]any {
	m := map[string]any{}
	if len(e.Bookmarks) > 0 {
		bm := make([]any, len(e.Bookmarks))
		for i, b := range e.Bookmarks {
			bm[i] = b
		}
		m["bookmarks"] = bm
	}
	if e.TxTimeoutMs != nil {
		m["tx_timeout"] = *e.TxTimeoutMs
	}
	if len(e.TxMetadata) > 0 {
		m["tx_metadata"] = e.TxMetadata
	}
	if e.Mode == "r" {
		m["mode"] = "r"
	}
	if e.Db != "" {
		m["db"] = e.Db
	}
	if e.ImpersonatedUser != "" {
		m["imp_user"] = e.ImpersonatedUser
	}
	if len(e.NotificationFilter) > 0 {
		m["notifications"] = e.NotificationFilter
	}
	return m
}

// RouteExtra bundles ROUTE's trailing extra map.
type RouteExtra struct {
	Db               string
	ImpersonatedUser string
}

func (e RouteExtra) toMap() map[string]any {
	m := map[string]any{}
	if e.Db != "" {
		m["db"] = e.Db
	}
	if e.ImpersonatedUser != "" {
		m["imp_user"] = e.ImpersonatedUser
	}
	return m
}
