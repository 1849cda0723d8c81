package bolt

import (
	"time"

	"github.com/jroosing/gobolt/internal/authtoken"
	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/packstream"
)

// Protocol is the externally visible contract every Bolt version exposes.
// Bolt3 implements the Bolt 3 wire dialect directly; Bolt4x4, Bolt5x0 and
// Bolt5x1 each embed their predecessor and override only what changed,
// mirroring how the wire protocol itself grew by accretion.
type Protocol interface {
	Hello(params HelloParams) error
	Reauth(token authtoken.Token, forceReset bool) error
	Goodbye()
	Reset() error
	Run(query string, params map[string]any, extra Extra, onKeys func(keys []string), onRecord func(values []any)) error
	Discard(n int64, qid int64, onDone func(hasMore bool)) error
	Pull(n int64, qid int64, onRecord func(values []any), onDone func(hasMore bool)) error
	Begin(extra Extra) error
	Commit(onBookmark func(bookmark string)) error
	Rollback() error
	Route(context map[string]string, bookmarks []string, extra RouteExtra, onRoute func(table map[string]any)) error
	LoadValue(s packstream.Struct) any
	HandleResponse(deadline time.Time) error
	ProtocolVersion() Version
	ConnState() State

	// WriteAll and ReadAll flush the queued requests and drain their
	// replies; every version gets these for free via *Connection
	// embedding. Callers that pipeline several requests before reading
	// (Hello+Reauth on open, Run+Pull in recordstream) use these instead
	// of HandleResponse's single-message granularity.
	WriteAll(deadline time.Time) error
	ReadAll(deadline time.Time) error
	Close() error
}

// HelloParams bundles HELLO's fields. Auth is carried inside HELLO itself
// on Bolt versions before 5.1; Bolt5x1.Hello ignores Auth (it goes out via
// LOGON instead).
type HelloParams struct {
	UserAgent          string
	RoutingContext     map[string]string
	NotificationFilter map[string]any
	Auth               authtoken.Token
}

// goodbyeDeadline bounds the best-effort GOODBYE the close() path sends;
// a connection already on its way out should never block meaningfully.
const goodbyeDeadline = 100 * time.Millisecond

// lastQid is the sentinel the wire protocol itself uses for "the query
// that was last referenced."
const lastQid int64 = -1

// allRecords is PULL/DISCARD's "n" sentinel for "every remaining record."
const allRecords int64 = -1

func requireVersionAtLeast(got Version, wantMajor, wantMinor byte, feature string) error {
	if got.Major > wantMajor || (got.Major == wantMajor && got.Minor >= wantMinor) {
		return nil
	}
	return errorkind.NewInvalidConfig(feature + " requires Bolt " + (Version{wantMajor, wantMinor}).String() + " or newer, negotiated " + got.String())
}
