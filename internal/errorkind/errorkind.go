// Package errorkind provides the driver's error taxonomy.
//
// Every error the core surfaces wraps one of the sentinels declared here
// with fmt.Errorf("...: %w", Err*), following the same wrapping discipline
// the DNS codec uses for wire errors. Callers classify an error with
// errors.Is against a sentinel, or errors.As against the concrete type
// when they need the extra classification fields (Retryable, DuringCommit,
// ...).
package errorkind

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnect marks a connectivity failure: dial, TLS, read, or write.
	ErrDisconnect = errors.New("bolt: disconnect")
	// ErrInvalidConfig marks a configuration error that can never succeed on retry.
	ErrInvalidConfig = errors.New("bolt: invalid config")
	// ErrServer marks a structured server-side failure (Neo.<Category>.<Class>.<Name>).
	ErrServer = errors.New("bolt: server error")
	// ErrTimeout marks a connection-acquisition deadline exceeded.
	ErrTimeout = errors.New("bolt: timeout")
	// ErrUserCallback marks a resolver/auth-manager/bookmark-manager callback failure.
	ErrUserCallback = errors.New("bolt: user callback error")
	// ErrProtocol marks a malformed server message. Never retryable.
	ErrProtocol = errors.New("bolt: protocol error")
)

// Disconnect is a connectivity failure. During_commit distinguishes a
// disconnect observed while a commit's trailing SUCCESS was still in
// flight, which flips retryability per spec.
type Disconnect struct {
	Op           string // "dial", "tls", "read", "write", "flush"
	DuringCommit bool
	Err          error
}

func (e *Disconnect) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDisconnect, e.Op, e.Err)
}

func (e *Disconnect) Unwrap() error { return ErrDisconnect }

// Retryable reports whether the operation may be retried. A disconnect
// observed mid-commit is never retryable: the client cannot tell whether
// the server committed before the socket broke.
func (e *Disconnect) Retryable() bool { return !e.DuringCommit }

// NewDisconnect wraps err as a Disconnect for the named operation.
func NewDisconnect(op string, duringCommit bool, err error) *Disconnect {
	return &Disconnect{Op: op, DuringCommit: duringCommit, Err: err}
}

// InvalidConfig is a bad URI, an empty custom-resolver result, an
// unsupported protocol feature for the negotiated version, a fetch size
// out of range, or a TLS configuration load failure. Never retryable.
type InvalidConfig struct {
	Reason string
}

func (e *InvalidConfig) Error() string { return fmt.Sprintf("%s: %s", ErrInvalidConfig, e.Reason) }
func (e *InvalidConfig) Unwrap() error { return ErrInvalidConfig }

// NewInvalidConfig builds an InvalidConfig with the given reason.
func NewInvalidConfig(reason string) *InvalidConfig { return &InvalidConfig{Reason: reason} }

// Server status codes and code prefixes that the Server classification
// methods below compare against.
const (
	codeDatabaseUnavailable        = "Neo.TransientError.General.DatabaseUnavailable"
	codeNotALeader                 = "Neo.ClientError.Cluster.NotALeader"
	codeForbiddenOnReadOnlyDB      = "Neo.ClientError.General.ForbiddenOnReadOnlyDatabase"
	codeAuthorizationExpired       = "Neo.ClientError.Security.AuthorizationExpired"
	codeDatabaseNotFound           = "Neo.ClientError.Database.DatabaseNotFound"
	codeInvalidBookmark            = "Neo.ClientError.Transaction.InvalidBookmark"
	codeInvalidBookmarkMixture     = "Neo.ClientError.Transaction.InvalidBookmarkMixture"
	codeTypeError                  = "Neo.ClientError.Statement.TypeError"
	codeArgumentError              = "Neo.ClientError.Statement.ArgumentError"
	codeRequestInvalid             = "Neo.ClientError.Request.Invalid"
	securityErrorPrefix            = "Neo.ClientError.Security."
	transientErrorPrefix           = "Neo.TransientError."
	legacyTxTerminated             = "Neo.TransientError.Transaction.Terminated"
	legacyTxLockClientStopped      = "Neo.TransientError.Transaction.LockClientStopped"
	remappedTxTerminated           = "Neo.ClientError.Transaction.Terminated"
	remappedTxLockClientStopped    = "Neo.ClientError.Transaction.LockClientStopped"
)

// Server is a structured server-side error: a dotted code plus a message.
// The classification flags are derived lazily from Code so that a server
// error constructed once (e.g. to clone for sibling-stream propagation)
// never disagrees with itself about its own classification.
type Server struct {
	Code    string
	Message string

	// Reason optionally overrides the surfaced message, e.g. when this
	// error is a clone propagated to a sibling stream in the same
	// transaction (spec.md §4.9, scenario 5).
	Reason string
}

// NewServerError remaps legacy transient codes to their client-side
// equivalents for backward compatibility (spec.md §4.5) and returns the
// resulting Server error.
func NewServerError(code, message string) *Server {
	switch code {
	case legacyTxTerminated:
		code = remappedTxTerminated
	case legacyTxLockClientStopped:
		code = remappedTxLockClientStopped
	}
	return &Server{Code: code, Message: message}
}

func (e *Server) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = e.Reason
	}
	return fmt.Sprintf("%s: %s: %s", ErrServer, e.Code, msg)
}

func (e *Server) Unwrap() error { return ErrServer }

// WithReason returns a copy of e whose surfaced message is reason. Used by
// the record-stream error propagator to clone a sibling's failure without
// mutating the original.
func (e *Server) WithReason(reason string) *Server {
	clone := *e
	clone.Reason = reason
	return &clone
}

// DeactivatesServer reports whether this error should cause the routing
// pool to deactivate the server it came from.
func (e *Server) DeactivatesServer() bool {
	return e.Code == codeDatabaseUnavailable
}

// InvalidatesWriter reports whether this error means the server that
// produced it is no longer a writer for the current routing table.
func (e *Server) InvalidatesWriter() bool {
	return e.Code == codeNotALeader || e.Code == codeForbiddenOnReadOnlyDB
}

// IsSecurityError reports whether this is any Security.* error.
func (e *Server) IsSecurityError() bool {
	return len(e.Code) >= len(securityErrorPrefix) && e.Code[:len(securityErrorPrefix)] == securityErrorPrefix
}

// UnauthenticatesAllConnections reports whether this error should mark
// every connection to the affected server for forced reauth.
func (e *Server) UnauthenticatesAllConnections() bool {
	return e.Code == codeAuthorizationExpired
}

// FatalDuringDiscovery reports whether this error must short-circuit a
// routing-table refresh rather than being logged and retried against the
// next router (spec.md §4.8).
func (e *Server) FatalDuringDiscovery() bool {
	switch e.Code {
	case codeDatabaseNotFound, codeInvalidBookmark, codeInvalidBookmarkMixture,
		codeTypeError, codeArgumentError, codeRequestInvalid:
		return true
	}
	if e.IsSecurityError() && e.Code != codeAuthorizationExpired {
		return true
	}
	return false
}

// Retryable reports whether a client may safely resend the operation that
// produced this error, absent any auth-manager override.
func (e *Server) Retryable() bool {
	if e.Code == codeAuthorizationExpired || e.InvalidatesWriter() {
		return true
	}
	if len(e.Code) >= len(transientErrorPrefix) && e.Code[:len(transientErrorPrefix)] == transientErrorPrefix {
		return true
	}
	return false
}

// Timeout marks a connection-acquisition deadline exceeded while waiting
// for a pool slot.
type Timeout struct {
	Reason string
}

func (e *Timeout) Error() string { return fmt.Sprintf("%s: %s", ErrTimeout, e.Reason) }
func (e *Timeout) Unwrap() error { return ErrTimeout }

// NewTimeout builds a Timeout with the given reason.
func NewTimeout(reason string) *Timeout { return &Timeout{Reason: reason} }

// UserCallbackSource names which user-supplied collaborator raised the error.
type UserCallbackSource int

const (
	SourceResolver UserCallbackSource = iota
	SourceAuthManager
	SourceBookmarkManager
)

func (s UserCallbackSource) String() string {
	switch s {
	case SourceResolver:
		return "resolver"
	case SourceAuthManager:
		return "auth_manager"
	case SourceBookmarkManager:
		return "bookmark_manager"
	default:
		return "unknown"
	}
}

// UserCallback wraps an error returned by a user-supplied collaborator
// (resolver, auth manager, bookmark manager).
type UserCallback struct {
	Source UserCallbackSource
	Err    error
}

func (e *UserCallback) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUserCallback, e.Source, e.Err)
}
func (e *UserCallback) Unwrap() error { return ErrUserCallback }

// NewUserCallback wraps err as having originated from the named collaborator.
func NewUserCallback(source UserCallbackSource, err error) *UserCallback {
	return &UserCallback{Source: source, Err: err}
}

// Protocol marks a malformed server message. Never retryable, never hidden
// from the caller.
type Protocol struct {
	Reason string
}

func (e *Protocol) Error() string { return fmt.Sprintf("%s: %s", ErrProtocol, e.Reason) }
func (e *Protocol) Unwrap() error { return ErrProtocol }

// NewProtocol builds a Protocol error with the given reason.
func NewProtocol(reason string) *Protocol { return &Protocol{Reason: reason} }

// Retryable classifies any supported error kind by whether a client may
// safely resend the operation that produced it. Unknown error types are
// treated as non-retryable.
func Retryable(err error) bool {
	var disc *Disconnect
	if errors.As(err, &disc) {
		return disc.Retryable()
	}
	var srv *Server
	if errors.As(err, &srv) {
		return srv.Retryable()
	}
	return false
}
