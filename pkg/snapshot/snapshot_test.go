package snapshot

import (
	"testing"

	"github.com/cuemby/rookery/pkg/types"
	"github.com/stretchr/testify/assert"
)

const (
	n1 types.Addr = "n1:6379"
	n2 types.Addr = "n2:6379"
)

func reach(addrs ...types.Addr) types.ManagerView {
	return types.ManagerView{Available: addrs}
}

func TestMajorityVerdict(t *testing.T) {
	tests := []struct {
		name   string
		leader types.ManagerView
		others map[string]types.ManagerView
		node   types.Addr
		want   types.HealthState
	}{
		{
			name:   "one of three unreachable",
			leader: types.ManagerView{Unavailable: []types.Addr{n1}},
			others: map[string]types.ManagerView{"m2": reach(n1), "m3": reach(n1)},
			node:   n1,
			want:   types.HealthReachable,
		},
		{
			name:   "two of three unreachable",
			leader: types.ManagerView{Unavailable: []types.Addr{n1}},
			others: map[string]types.ManagerView{
				"m2": {Unavailable: []types.Addr{n1}},
				"m3": reach(n1),
			},
			node: n1,
			want: types.HealthUnreachable,
		},
		{
			name:   "half is not a majority",
			leader: types.ManagerView{Unavailable: []types.Addr{n1}},
			others: map[string]types.ManagerView{"m2": reach(n1)},
			node:   n1,
			want:   types.HealthReachable,
		},
		{
			name:   "sole manager",
			leader: types.ManagerView{Unavailable: []types.Addr{n1}},
			node:   n1,
			want:   types.HealthUnreachable,
		},
		{
			name:   "syncing reported by majority of reachers",
			leader: types.ManagerView{Available: []types.Addr{n2}, Syncing: []types.Addr{n2}},
			others: map[string]types.ManagerView{
				"m2": {Available: []types.Addr{n2}, Syncing: []types.Addr{n2}},
				"m3": {Unavailable: []types.Addr{n2}},
			},
			node: n2,
			want: types.HealthSyncing,
		},
		{
			name:   "syncing reported by a minority of reachers",
			leader: types.ManagerView{Available: []types.Addr{n2}, Syncing: []types.Addr{n2}},
			others: map[string]types.ManagerView{"m2": reach(n2)},
			node:   n2,
			want:   types.HealthReachable,
		},
		{
			name:   "nobody knows the node",
			leader: reach(n1),
			node:   n2,
			want:   types.HealthUnknown,
		},
		{
			name:   "minority unreachable and nobody reaches it",
			leader: types.ManagerView{},
			others: map[string]types.ManagerView{
				"m2": {Unavailable: []types.Addr{n1}},
				"m3": {},
			},
			node: n1,
			want: types.HealthUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Build(tt.others, "m1", tt.leader, types.PolicyMajority)
			assert.Equal(t, tt.want, s.Verdict(tt.node))
		})
	}
}

func TestLeaderViewReplacesStoredView(t *testing.T) {
	stored := map[string]types.ManagerView{
		"m1": {Unavailable: []types.Addr{n1}},
		"m2": {Unavailable: []types.Addr{n1}},
		"m3": reach(n1),
	}

	// the store still has the leader's stale view of n1
	s := Build(stored, "m1", reach(n1), types.PolicyMajority)
	assert.Equal(t, 3, s.Managers())
	assert.Equal(t, types.HealthReachable, s.Verdict(n1))

	ns, ok := s.Node(n1)
	assert.True(t, ok)
	assert.Equal(t, []string{"m1", "m3"}, ns.Available)
	assert.Equal(t, []string{"m2"}, ns.Unavailable)
}

func TestDisconnectedManagersExcluded(t *testing.T) {
	// m3 has no view and does not count toward the denominator
	stored := map[string]types.ManagerView{"m2": {Unavailable: []types.Addr{n1}}}
	s := Build(stored, "m1", types.ManagerView{Unavailable: []types.Addr{n1}}, types.PolicyMajority)

	assert.Equal(t, 2, s.Managers())
	assert.Equal(t, types.HealthUnreachable, s.Verdict(n1))
}

func TestSingleObserverVerdict(t *testing.T) {
	others := map[string]types.ManagerView{
		"m2": {Unavailable: []types.Addr{n1, n2}},
		"m3": {Unavailable: []types.Addr{n1, n2}},
	}
	leader := types.ManagerView{
		Available: []types.Addr{n1, n2},
		Syncing:   []types.Addr{n2},
	}

	s := Build(others, "m1", leader, types.PolicySingleObserver)
	assert.Equal(t, types.HealthReachable, s.Verdict(n1))
	assert.Equal(t, types.HealthSyncing, s.Verdict(n2))
	assert.Equal(t, types.HealthUnknown, s.Verdict("n9:6379"))

	s = Build(nil, "m1", types.ManagerView{Unavailable: []types.Addr{n1}}, types.PolicySingleObserver)
	assert.Equal(t, types.HealthUnreachable, s.Verdict(n1))
}

func TestUnknownPolicy(t *testing.T) {
	s := Build(nil, "m1", reach(n1), types.DecisionPolicy("quorum"))
	assert.Equal(t, types.HealthUnknown, s.Verdict(n1))
	assert.Equal(t, []types.Addr{n1}, s.Nodes())
}
