package health

import (
	"time"

	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/types"
)

// Config contains the probing configuration shared by all watchers
type Config struct {
	// Interval is the time between checks of one node
	Interval time.Duration

	// Timeout bounds a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before a node is
	// classified unreachable
	Retries int
}

// Result is the outcome of one check
type Result struct {
	Healthy     bool
	Replication node.Replication
	Message     string
	CheckedAt   time.Time
	Duration    time.Duration
}

// Streak counts consecutive check outcomes of one node. Only one of
// Failures and Successes is non-zero.
type Streak struct {
	Failures  int
	Successes int
	Last      Result
}

// Record adds a check outcome to the streak
func (s *Streak) Record(r Result) {
	s.Last = r
	if r.Healthy {
		s.Successes++
		s.Failures = 0
		return
	}
	s.Failures++
	s.Successes = 0
}

// Classify maps the streak to a health state. A single success is enough to
// classify a node; failures only count once retries of them are in a row, and
// until then the previous state stands.
func (s *Streak) Classify(previous types.HealthState, retries int) types.HealthState {
	if s.Successes > 0 {
		p := s.Last.Replication
		if p.Role == types.RoleReplica && p.Syncing && !p.ServeStaleData {
			return types.HealthSyncing
		}
		return types.HealthReachable
	}
	if s.Failures > 0 && s.Failures >= retries {
		return types.HealthUnreachable
	}
	return previous
}
