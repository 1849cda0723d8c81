// Package recordstream implements the pull-based record iterator built
// around one RUN: buffering, PULL/DISCARD pipelining, and the terminal
// state machine a caller drains through Next/Consume/Single.
package recordstream

import (
	"errors"
	"time"

	"github.com/jroosing/gobolt/internal/errorkind"
	"github.com/jroosing/gobolt/internal/iobolt/bolt"
)

// State is where a Stream sits in its lifecycle.
type State int

const (
	StateStreaming State = iota
	StateDiscarding
	StateError
	StateForeignError
	StateIgnored
	StateSuccess
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDiscarding:
		return "discarding"
	case StateError:
		return "error"
	case StateForeignError:
		return "foreign_error"
	case StateIgnored:
		return "ignored"
	case StateSuccess:
		return "success"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// lastQid is PULL/DISCARD's sentinel for "the query that was last
// referenced", letting the request omit qid entirely (bolt.Protocol's own
// qidMap applies this optimization on the wire).
const lastQid int64 = -1

// allRecords is PULL/DISCARD's "n" sentinel for "every remaining record".
const allRecords int64 = -1

var (
	// ErrNoRecords is Single's error when the stream produced zero records.
	ErrNoRecords = errors.New("recordstream: no records found")
	// ErrTooManyRecords is Single's error when the stream produced more
	// than one record.
	ErrTooManyRecords = errors.New("recordstream: more than one record found")
)

// Summary is the terminal metadata a Stream accumulates over its life.
type Summary struct {
	Keys       []string
	QueryID    int64
	Bookmark   string
	HadRecords bool
}

// Stream pulls records for one RUN, one buffered record at a time, over a
// connection borrowed from a pool. It is not safe for concurrent use: the
// driver's concurrency model gives each session (and its streams) a
// single owning goroutine.
type Stream struct {
	conn       bolt.Protocol
	prop       *ErrorPropagator
	fetchSize  int64
	autoCommit bool
	timeout    time.Duration

	buffer            [][]any
	keys              []string
	qid               int64
	state             State
	summary           Summary
	err               error
	sawRecord         bool
	consumed          bool
	expectedTerminals int // RUN/PULL/DISCARD replies queued but not yet resolved
}

// New creates a Stream around conn, registering with prop (which may be
// nil outside an explicit transaction) for sibling error propagation.
// fetchSize is PULL's "n" (use -1 for "all"); timeout bounds every
// network operation the stream performs.
func New(conn bolt.Protocol, prop *ErrorPropagator, fetchSize int64, autoCommit bool, timeout time.Duration) *Stream {
	s := &Stream{
		conn:       conn,
		prop:       prop,
		fetchSize:  fetchSize,
		autoCommit: autoCommit,
		timeout:    timeout,
		qid:        lastQid,
		state:      StateStreaming,
	}
	if prop != nil {
		prop.register(s)
	}
	return s
}

// Run sends RUN, pipelines a first PULL behind it, and — for an
// auto-commit stream — flushes both immediately and drains RUN's reply so
// a statement error surfaces before the caller ever calls Next. PULL's
// reply is left queued for Next's own lazy read either way.
func (s *Stream) Run(query string, params map[string]any, extra bolt.Extra) error {
	if err := s.conn.Run(query, params, extra, s.onKeys, s.onRecord); err != nil {
		return s.failLocal(err)
	}
	s.expectedTerminals++
	if err := s.conn.Pull(s.fetchSize, lastQid, s.onRecord, s.onPullDone); err != nil {
		return s.failLocal(err)
	}
	s.expectedTerminals++

	if !s.autoCommit {
		return nil
	}

	deadline := s.deadline()
	if err := s.conn.WriteAll(deadline); err != nil {
		return s.markDuringCommit(err)
	}
	_ = s.readOne(deadline)
	return nil
}

// Next returns the next record. ok is false once the stream is exhausted;
// err is non-nil only when exhaustion was caused by a failure.
func (s *Stream) Next() (record []any, ok bool, err error) {
	for {
		if s.state == StateDone {
			return nil, false, nil
		}

		for len(s.buffer) == 0 && s.expectedTerminals > 0 {
			if rerr := s.readOne(s.deadline()); rerr != nil {
				break
			}
		}

		if len(s.buffer) > 0 {
			rec := s.buffer[0]
			s.buffer = s.buffer[1:]
			return rec, true, nil
		}

		switch s.state {
		case StateStreaming:
			if err := s.issuePull(); err != nil {
				return nil, false, err
			}
		case StateDiscarding:
			if err := s.issueDiscard(); err != nil {
				return nil, false, err
			}
		default:
			return s.drainTerminal()
		}
	}
}

// Consume switches to Discarding (if still Streaming), iterates to
// completion, and returns the stream's summary. A second call, or a call
// on a stream that already failed, returns (nil, nil) / (nil, err)
// respectively rather than a summary.
func (s *Stream) Consume() (*Summary, error) {
	if s.consumed {
		return nil, nil
	}
	s.consumed = true
	if s.state == StateStreaming {
		s.state = StateDiscarding
	}
	for {
		_, ok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			summary := s.summary
			return &summary, nil
		}
	}
}

// Single returns the stream's one and only record. It errors with
// ErrNoRecords or ErrTooManyRecords if the stream didn't produce exactly
// one, draining the rest of the stream first in the latter case.
func (s *Stream) Single() ([]any, error) {
	first, ok, err := s.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoRecords
	}

	_, ok, err = s.Next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return first, nil
	}

	for {
		_, more, derr := s.Next()
		if derr != nil || !more {
			break
		}
	}
	return nil, ErrTooManyRecords
}

// Keys returns the result's column names. Only meaningful once RUN's
// SUCCESS has been observed (guaranteed for an auto-commit stream by the
// time Run returns; for an explicit-transaction stream, after the first
// Next call).
func (s *Stream) Keys() []string { return s.keys }

// State reports the stream's current lifecycle state.
func (s *Stream) State() State { return s.state }

func (s *Stream) deadline() time.Time { return time.Now().Add(s.timeout) }

func (s *Stream) onKeys(keys []string) {
	s.keys = keys
	s.summary.Keys = keys
	if s.expectedTerminals > 0 {
		s.expectedTerminals--
	}
}

func (s *Stream) onRecord(values []any) {
	s.buffer = append(s.buffer, values)
	s.sawRecord = true
}

func (s *Stream) onPullDone(hasMore bool) {
	if s.expectedTerminals > 0 {
		s.expectedTerminals--
	}
	if !hasMore {
		s.state = StateSuccess
	}
}

func (s *Stream) onDiscardDone(hasMore bool) {
	if s.expectedTerminals > 0 {
		s.expectedTerminals--
	}
	if !hasMore {
		s.state = StateSuccess
	}
}

func (s *Stream) issuePull() error {
	if err := s.conn.Pull(s.fetchSize, lastQid, s.onRecord, s.onPullDone); err != nil {
		return s.failLocal(err)
	}
	s.expectedTerminals++
	if err := s.conn.WriteAll(s.deadline()); err != nil {
		return s.markDuringCommit(err)
	}
	return nil
}

func (s *Stream) issueDiscard() error {
	if err := s.conn.Discard(allRecords, lastQid, s.onDiscardDone); err != nil {
		return s.failLocal(err)
	}
	s.expectedTerminals++
	if err := s.conn.WriteAll(s.deadline()); err != nil {
		return s.markDuringCommit(err)
	}
	return nil
}

// readOne reads exactly one server message. A non-nil return always
// corresponds to exactly one terminal (FAILURE or IGNORED) being
// resolved, since RECORD dispatch never errors and SUCCESS resolves via
// its own success-hook (onKeys/onPullDone/onDiscardDone) instead.
func (s *Stream) readOne(deadline time.Time) error {
	err := s.conn.HandleResponse(deadline)
	if err != nil {
		if s.expectedTerminals > 0 {
			s.expectedTerminals--
		}
		s.recordError(err)
	}
	return err
}

// recordError stores err as the stream's terminal failure, classifying it
// as Ignored or Error (and, for a server error, notifying the propagator
// so sibling streams adopt a ForeignError). A stream already in a
// terminal state keeps its first error.
func (s *Stream) recordError(err error) {
	if s.state == StateError || s.state == StateForeignError || s.state == StateIgnored || s.state == StateDone {
		return
	}
	if errors.Is(err, bolt.ErrIgnored) {
		s.state = StateIgnored
		return
	}
	var srv *errorkind.Server
	if errors.As(err, &srv) {
		s.err = srv
		s.state = StateError
		if s.prop != nil {
			s.prop.fail(srv)
		}
		return
	}
	s.err = err
	s.state = StateError
}

func (s *Stream) failLocal(err error) error {
	s.recordError(err)
	return err
}

// markDuringCommit wraps a disconnect observed while flushing an
// auto-commit stream's RUN+PULL as a during-commit Disconnect, so the
// caller can tell "the server might have already run this" apart from an
// ordinary pre-flush disconnect.
func (s *Stream) markDuringCommit(err error) error {
	if errors.Is(err, errorkind.ErrDisconnect) {
		wrapped := errorkind.NewDisconnect("commit", true, err)
		s.recordError(wrapped)
		return wrapped
	}
	s.recordError(err)
	return err
}

// adoptForeignError is called by this stream's ErrorPropagator when a
// sibling stream in the same transaction fails server-side.
func (s *Stream) adoptForeignError(srv *errorkind.Server) {
	if s.state == StateDone || s.state == StateError || s.state == StateForeignError {
		return
	}
	s.err = srv
	s.state = StateForeignError
}

// drainTerminal converts the stream's terminal State into Next's return
// triple and transitions to Done, unregistering from its propagator.
func (s *Stream) drainTerminal() ([]any, bool, error) {
	state := s.state
	if s.prop != nil {
		s.prop.unregister(s)
	}
	s.summary.HadRecords = s.sawRecord
	s.state = StateDone

	switch state {
	case StateSuccess:
		return nil, false, nil
	case StateIgnored:
		return nil, false, bolt.ErrIgnored
	case StateError, StateForeignError:
		return nil, false, s.err
	default:
		return nil, false, nil
	}
}
