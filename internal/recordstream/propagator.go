package recordstream

import (
	"sync"

	"github.com/jroosing/gobolt/internal/errorkind"
)

// foreignErrorReason is the fixed wording every sibling stream in a failed
// transaction surfaces, regardless of which statement actually failed.
const foreignErrorReason = "failure in another query of this transaction caused transaction to be closed"

// ErrorPropagator lets every record stream running within one transaction
// learn about a sibling's server-side failure immediately, instead of
// discovering it only once the server starts sending it IGNORED. Streams
// register on creation and unregister once they reach a terminal state;
// there is no need for weak references here since a stream's lifetime is
// bounded by an explicit completion callback rather than GC.
type ErrorPropagator struct {
	mu      sync.Mutex
	err     *errorkind.Server
	members []*Stream
}

// NewErrorPropagator returns an empty propagator for one transaction.
func NewErrorPropagator() *ErrorPropagator {
	return &ErrorPropagator{}
}

// register adds s to the group. If the group already carries a failure, s
// immediately adopts it as a ForeignError rather than being added.
func (p *ErrorPropagator) register(s *Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		s.adoptForeignError(p.err.WithReason(foreignErrorReason))
		return
	}
	p.members = append(p.members, s)
}

// unregister removes s once it reaches a terminal state.
func (p *ErrorPropagator) unregister(s *Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.members {
		if m == s {
			p.members = append(p.members[:i], p.members[i+1:]...)
			return
		}
	}
}

// fail records srv as the group's first failure (a no-op if one is
// already recorded) and marks every other registered member ForeignError
// with a cloned, reworded copy of srv.
func (p *ErrorPropagator) fail(srv *errorkind.Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	p.err = srv
	reworded := srv.WithReason(foreignErrorReason)
	for _, m := range p.members {
		m.adoptForeignError(reworded)
	}
	p.members = nil
}
