package snapshot

import (
	"sort"

	"github.com/cuemby/rookery/pkg/types"
)

// NodeSnapshot lists which managers see one node in which state
type NodeSnapshot struct {
	Node        types.Addr
	Available   []string
	Unavailable []string
	Syncing     []string
}

// Snapshot combines the views of every registered manager. It is rebuilt
// for every decision and never persisted.
type Snapshot struct {
	policy     types.DecisionPolicy
	leaderView types.ManagerView
	managers   int
	nodes      map[types.Addr]*NodeSnapshot
}

// Build creates a snapshot from the stored views. The leader's in-memory view
// replaces whatever the store holds for leaderID, so the leader always counts
// as a registered manager.
func Build(views map[string]types.ManagerView, leaderID string, leaderView types.ManagerView, policy types.DecisionPolicy) *Snapshot {
	merged := make(map[string]types.ManagerView, len(views)+1)
	for id, v := range views {
		merged[id] = v
	}
	merged[leaderID] = leaderView

	s := &Snapshot{
		policy:     policy,
		leaderView: leaderView,
		managers:   len(merged),
		nodes:      make(map[types.Addr]*NodeSnapshot),
	}

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		v := merged[id]
		for _, a := range v.Available {
			s.entry(a).Available = append(s.entry(a).Available, id)
		}
		for _, a := range v.Unavailable {
			s.entry(a).Unavailable = append(s.entry(a).Unavailable, id)
		}
		for _, a := range v.Syncing {
			s.entry(a).Syncing = append(s.entry(a).Syncing, id)
		}
	}
	return s
}

func (s *Snapshot) entry(a types.Addr) *NodeSnapshot {
	ns, ok := s.nodes[a]
	if !ok {
		ns = &NodeSnapshot{Node: a}
		s.nodes[a] = ns
	}
	return ns
}

// Managers returns the number of registered managers counted in the quorum
func (s *Snapshot) Managers() int {
	return s.managers
}

// Policy returns the policy verdicts are computed with
func (s *Snapshot) Policy() types.DecisionPolicy {
	return s.policy
}

// Node returns the per-manager opinions about addr
func (s *Snapshot) Node(addr types.Addr) (NodeSnapshot, bool) {
	ns, ok := s.nodes[addr]
	if !ok {
		return NodeSnapshot{Node: addr}, false
	}
	return *ns, true
}

// Nodes returns every node mentioned by any manager, in address order
func (s *Snapshot) Nodes() []types.Addr {
	set := make(types.AddrSet, len(s.nodes))
	for a := range s.nodes {
		set.Add(a)
	}
	return set.Sorted()
}

// Verdict returns the combined health of addr under the snapshot's policy.
// It returns HealthUnknown when no manager has an opinion to act on.
func (s *Snapshot) Verdict(addr types.Addr) types.HealthState {
	switch s.policy {
	case types.PolicySingleObserver:
		return s.singleObserver(addr)
	case types.PolicyMajority:
		return s.majority(addr)
	default:
		return types.HealthUnknown
	}
}

func (s *Snapshot) singleObserver(addr types.Addr) types.HealthState {
	switch {
	case contains(s.leaderView.Unavailable, addr):
		return types.HealthUnreachable
	case contains(s.leaderView.Syncing, addr):
		return types.HealthSyncing
	case contains(s.leaderView.Available, addr):
		return types.HealthReachable
	default:
		return types.HealthUnknown
	}
}

// majority marks a node unreachable only when a strict majority of registered
// managers cannot reach it. Syncing is passed through when a strict majority of
// the managers that reach the node see it syncing.
func (s *Snapshot) majority(addr types.Addr) types.HealthState {
	ns, ok := s.nodes[addr]
	if !ok {
		return types.HealthUnknown
	}
	if len(ns.Unavailable)*2 > s.managers {
		return types.HealthUnreachable
	}
	if len(ns.Available) == 0 {
		return types.HealthUnknown
	}
	if len(ns.Syncing)*2 > len(ns.Available) {
		return types.HealthSyncing
	}
	return types.HealthReachable
}

func contains(addrs []types.Addr, a types.Addr) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}
