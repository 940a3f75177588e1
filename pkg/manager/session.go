package manager

import (
	"context"
	"sync"

	"github.com/cuemby/rookery/pkg/leader"
	"github.com/cuemby/rookery/pkg/types"
)

// session is the state of one leadership term. It is discarded as a whole when
// leadership ends; nothing in it survives into the next term.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	lease  *leader.Lease
	queue  chan types.HealthReport

	// mu serializes every topology mutation: reports, manual failover and
	// reconciliation sweeps
	mu       sync.Mutex
	topology *types.Topology
}

func newSession(parent context.Context, lease *leader.Lease, queueSize int) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		ctx:      ctx,
		cancel:   cancel,
		lease:    lease,
		queue:    make(chan types.HealthReport, queueSize),
		topology: types.NewTopology(),
	}
}

// end stops the session; safe to call more than once
func (s *session) end() {
	s.cancel()
}

func (s *session) done() bool {
	return s.ctx.Err() != nil
}
