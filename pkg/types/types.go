package types

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidAddr is returned when a node address is not host:port
	ErrInvalidAddr = errors.New("invalid node address")

	// ErrUnknownHealthState is returned for health state symbols outside the known set
	ErrUnknownHealthState = errors.New("unknown health state")

	// ErrUnknownPolicy is returned for unsupported decision policies
	ErrUnknownPolicy = errors.New("unknown decision policy")

	// ErrTopologyInvariant is returned when a topology breaks set disjointness
	ErrTopologyInvariant = errors.New("topology invariant violated")
)

// AnyReplica is the manual failover sentinel meaning "promote any replica"
const AnyReplica = "*any*"

// Addr identifies a managed data-store node as host:port
type Addr string

// ParseAddr validates and normalizes a host:port address
func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidAddr, s, err)
	}
	if host == "" {
		return "", fmt.Errorf("%w %q: empty host", ErrInvalidAddr, s)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", fmt.Errorf("%w %q: bad port", ErrInvalidAddr, s)
	}
	return Addr(net.JoinHostPort(host, port)), nil
}

// ParseAddrs parses a list of addresses, failing on the first invalid one
func ParseAddrs(in []string) ([]Addr, error) {
	out := make([]Addr, 0, len(in))
	for _, s := range in {
		a, err := ParseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Host returns the host part of the address
func (a Addr) Host() string {
	host, _, _ := net.SplitHostPort(string(a))
	return host
}

// Port returns the port part of the address
func (a Addr) Port() string {
	_, port, _ := net.SplitHostPort(string(a))
	return port
}

func (a Addr) String() string {
	return string(a)
}

// Role is the replication role a node reports about itself
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
	RoleUnknown Role = "unknown"
)

// HealthState is the classification an Observer assigns to a node
type HealthState string

const (
	HealthUnreachable             HealthState = "unreachable"
	HealthReachable               HealthState = "reachable"
	HealthSyncing                 HealthState = "syncing"
	HealthCoordinatorDisconnected HealthState = "coordinator-disconnected"

	// HealthUnknown is never produced by an Observer; it marks a verdict
	// that could not be derived.
	HealthUnknown HealthState = ""
)

// ParseHealthState converts a symbol into a HealthState
func ParseHealthState(s string) (HealthState, error) {
	switch HealthState(s) {
	case HealthUnreachable, HealthReachable, HealthSyncing, HealthCoordinatorDisconnected:
		return HealthState(s), nil
	default:
		return HealthUnknown, fmt.Errorf("%w: %q", ErrUnknownHealthState, s)
	}
}

// Valid reports whether the state is one of the known classifications
func (h HealthState) Valid() bool {
	_, err := ParseHealthState(string(h))
	return err == nil
}

// HealthReport is a single Observer classification of one node
type HealthReport struct {
	Node       Addr
	State      HealthState
	ObservedAt time.Time
}

func (r HealthReport) String() string {
	return fmt.Sprintf("%s:%s", r.Node, r.State)
}

// NodeState is the decision engine's classification of a node
type NodeState string

const (
	NodeStatePrimary     NodeState = "primary"
	NodeStateReplica     NodeState = "replica"
	NodeStateUnavailable NodeState = "unavailable"
	NodeStateUnseen      NodeState = "unseen"
)

// DecisionPolicy selects how manager views are combined into a verdict
type DecisionPolicy string

const (
	PolicySingleObserver DecisionPolicy = "single-observer"
	PolicyMajority       DecisionPolicy = "majority"
)

// ParseDecisionPolicy converts a config value into a DecisionPolicy
func ParseDecisionPolicy(s string) (DecisionPolicy, error) {
	switch DecisionPolicy(s) {
	case PolicySingleObserver, PolicyMajority:
		return DecisionPolicy(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// AddrSet is an unordered set of node addresses
type AddrSet map[Addr]struct{}

// NewAddrSet builds a set from the given addresses
func NewAddrSet(addrs ...Addr) AddrSet {
	s := make(AddrSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

func (s AddrSet) Add(a Addr)    { s[a] = struct{}{} }
func (s AddrSet) Remove(a Addr) { delete(s, a) }

// Has reports set membership
func (s AddrSet) Has(a Addr) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the members in address order
func (s AddrSet) Sorted() []Addr {
	out := make([]Addr, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the members in address order as strings
func (s AddrSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, a := range sorted {
		out[i] = string(a)
	}
	return out
}

// Clone copies the set
func (s AddrSet) Clone() AddrSet {
	c := make(AddrSet, len(s))
	for a := range s {
		c[a] = struct{}{}
	}
	return c
}

// Topology is the authoritative primary/replica/unavailable assignment.
// Primary is empty when the cluster has no primary.
type Topology struct {
	Primary     Addr
	Replicas    AddrSet
	Unavailable AddrSet
}

// NewTopology returns an empty topology
func NewTopology() *Topology {
	return &Topology{
		Replicas:    make(AddrSet),
		Unavailable: make(AddrSet),
	}
}

// StateOf returns the engine classification of a node
func (t *Topology) StateOf(a Addr) NodeState {
	switch {
	case t.Primary != "" && t.Primary == a:
		return NodeStatePrimary
	case t.Replicas.Has(a):
		return NodeStateReplica
	case t.Unavailable.Has(a):
		return NodeStateUnavailable
	default:
		return NodeStateUnseen
	}
}

// Forget removes a node from every set
func (t *Topology) Forget(a Addr) {
	if t.Primary == a {
		t.Primary = ""
	}
	t.Replicas.Remove(a)
	t.Unavailable.Remove(a)
}

// MarkUnavailable moves a node into the unavailable set
func (t *Topology) MarkUnavailable(a Addr) {
	t.Forget(a)
	t.Unavailable.Add(a)
}

// MarkReplica moves a node into the replica set
func (t *Topology) MarkReplica(a Addr) {
	t.Forget(a)
	t.Replicas.Add(a)
}

// SetPrimary moves a node into the primary slot. The previous primary,
// if any, is not reassigned.
func (t *Topology) SetPrimary(a Addr) {
	t.Forget(a)
	t.Primary = a
}

// Nodes returns every known node in address order
func (t *Topology) Nodes() []Addr {
	all := t.Replicas.Clone()
	for a := range t.Unavailable {
		all.Add(a)
	}
	if t.Primary != "" {
		all.Add(t.Primary)
	}
	return all.Sorted()
}

// Validate checks that the sets are pairwise disjoint
func (t *Topology) Validate() error {
	if t.Primary != "" {
		if t.Replicas.Has(t.Primary) {
			return fmt.Errorf("%w: primary %s is also a replica", ErrTopologyInvariant, t.Primary)
		}
		if t.Unavailable.Has(t.Primary) {
			return fmt.Errorf("%w: primary %s is also unavailable", ErrTopologyInvariant, t.Primary)
		}
	}
	for a := range t.Replicas {
		if t.Unavailable.Has(a) {
			return fmt.Errorf("%w: replica %s is also unavailable", ErrTopologyInvariant, a)
		}
	}
	return nil
}

// Clone deep-copies the topology
func (t *Topology) Clone() *Topology {
	return &Topology{
		Primary:     t.Primary,
		Replicas:    t.Replicas.Clone(),
		Unavailable: t.Unavailable.Clone(),
	}
}

// Record converts the topology into its persisted form
func (t *Topology) Record() TopologyRecord {
	return TopologyRecord{
		Primary:     string(t.Primary),
		Replicas:    t.Replicas.Strings(),
		Unavailable: t.Unavailable.Strings(),
	}
}

func (t *Topology) String() string {
	primary := string(t.Primary)
	if primary == "" {
		primary = "none"
	}
	return fmt.Sprintf("primary=%s replicas=[%s] unavailable=[%s]",
		primary,
		strings.Join(t.Replicas.Strings(), ","),
		strings.Join(t.Unavailable.Strings(), ","))
}

// TopologyRecord is the persisted topology at <base>/topology
type TopologyRecord struct {
	Primary     string    `json:"primary,omitempty" yaml:"primary,omitempty"`
	Replicas    []string  `json:"replicas" yaml:"replicas"`
	Unavailable []string  `json:"unavailable" yaml:"unavailable"`
	UpdatedAt   time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Topology parses the record back into a Topology
func (r TopologyRecord) Topology() (*Topology, error) {
	t := NewTopology()
	if r.Primary != "" {
		p, err := ParseAddr(r.Primary)
		if err != nil {
			return nil, err
		}
		t.Primary = p
	}
	replicas, err := ParseAddrs(r.Replicas)
	if err != nil {
		return nil, err
	}
	for _, a := range replicas {
		t.Replicas.Add(a)
	}
	unavailable, err := ParseAddrs(r.Unavailable)
	if err != nil {
		return nil, err
	}
	for _, a := range unavailable {
		t.Unavailable.Add(a)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ManagerView is one manager process's latest opinion of node availability.
// Syncing is a subset of Available.
type ManagerView struct {
	Available   []Addr `json:"available" yaml:"available"`
	Unavailable []Addr `json:"unavailable" yaml:"unavailable"`
	Syncing     []Addr `json:"syncing,omitempty" yaml:"syncing,omitempty"`
}

// Equal compares two views irrespective of ordering
func (v ManagerView) Equal(o ManagerView) bool {
	return sameAddrs(v.Available, o.Available) &&
		sameAddrs(v.Unavailable, o.Unavailable) &&
		sameAddrs(v.Syncing, o.Syncing)
}

func sameAddrs(a, b []Addr) bool {
	if len(a) != len(b) {
		return false
	}
	set := NewAddrSet(a...)
	for _, x := range b {
		if !set.Has(x) {
			return false
		}
	}
	return true
}
