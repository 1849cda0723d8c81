package bolt

// State is a Bolt connection's position in its request/response lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateReady
	StateStreaming
	StateTxReady
	StateTxStreaming
	StateFailed
	StateBroken
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateReady:
		return "READY"
	case StateStreaming:
		return "STREAMING"
	case StateTxReady:
		return "TX_READY"
	case StateTxStreaming:
		return "TX_STREAMING"
	case StateFailed:
		return "FAILED"
	case StateBroken:
		return "BROKEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Streaming reports whether a record stream is currently open against this
// connection, in or out of an explicit transaction.
func (s State) Streaming() bool {
	return s == StateStreaming || s == StateTxStreaming
}

// InTx reports whether an explicit transaction is open.
func (s State) InTx() bool {
	return s == StateTxReady || s == StateTxStreaming
}

// Usable reports whether the connection can still accept new requests.
func (s State) Usable() bool {
	return s != StateBroken && s != StateClosed
}
