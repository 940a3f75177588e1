/*
Package types defines the data model shared by every rookery component.

The model is deliberately small: node addresses, the roles a node reports about
itself, the health classifications Observers produce, the decision engine's
topology, and the per-manager availability view that is published to the
coordination service.

# Core Types

Nodes:
  - Addr: host:port identity of a managed Redis instance
  - Role: primary, replica or unknown, as reported by the node itself
  - NodeState: primary, replica, unavailable or unseen, as decided by the engine

Health:
  - HealthState: unreachable, reachable, syncing, coordinator-disconnected
  - HealthReport: one Observer classification of one node

Topology:
  - Topology: authoritative primary / replicas / unavailable assignment
  - TopologyRecord: the JSON form stored at <base>/topology
  - ManagerView: one manager's available / unavailable / syncing lists

# Invariants

A Topology keeps its three sets pairwise disjoint. The mutators (SetPrimary,
MarkReplica, MarkUnavailable) always remove the node from every other set first,
so any sequence of mutator calls preserves the invariant. Validate is used
before persisting and when loading a record written by another process.

	┌──────────── Topology ────────────┐
	│  Primary      (0 or 1 node)      │
	│  Replicas     (set)              │
	│  Unavailable  (set)              │
	│  every known node in exactly one │
	└──────────────────────────────────┘

# Closed Enums

HealthState and DecisionPolicy are string enums. Parsing any other symbol fails
with ErrUnknownHealthState or ErrUnknownPolicy; callers never fall back to a
default silently.
*/
package types
