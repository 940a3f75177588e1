/*
Package manager implements the failover decision engine.

Every rookery process runs a Manager, but only the one holding the leadership
lock makes decisions. The others keep observing nodes and publishing their
views so the leader can decide with a quorum.

# Architecture

	┌──────────────────────── MANAGER PROCESS ─────────────────────────┐
	│                                                                    │
	│  health.Monitor (always running)                                  │
	│    Watcher per node ──► ManagerView ──► <base>/managers/<id>      │
	│          │                                                         │
	│          ▼ Report()                                                │
	│  ┌──────────────────── leadership session ──────────────────┐     │
	│  │  queue (FIFO) ──► process()                               │     │
	│  │                     │  snapshot.Build(all views)          │     │
	│  │                     ▼                                      │     │
	│  │                  apply(verdict)                            │     │
	│  │                     │  promote / demote / reconcile        │     │
	│  │                     ▼                                      │     │
	│  │                  <base>/topology                           │     │
	│  │                                                            │     │
	│  │  manual failover watch ──┐                                │     │
	│  │  reconciler sweep ───────┴──► same session lock            │     │
	│  └────────────────────────────────────────────────────────────┘     │
	└──────────────────────────────────────────────────────────────────┘

# Leadership Sessions

Run loops forever: acquire the lock, discover the topology, run the decision
loop, and when the session ends (lock lost, coordinator disconnected) throw
the session away and start again after a fixed backoff. Nothing from an
earlier session is trusted; each session rediscovers the topology from the
store and the nodes.

# Node State Machine

	verdict       current       action
	-----------   -----------   -----------------------------------------
	unreachable   primary       mark unavailable, promote a replica
	unreachable   replica       mark unavailable
	reachable     unavailable   reconcile; promote if there is no primary,
	                            otherwise attach as replica
	syncing       replica       mark unavailable until it has synced
	syncing       primary       restore the primary role if it was lost
	anything else               no-op

Every mutation is validated and persisted before the next report is read.

# Discovery

The recorded primary wins if it still reports the primary role (or cannot be
reached at all). Without a recorded primary exactly one node must report
itself primary; zero or several primaries are errors that need an operator.
Failed discovery is retried for as long as the lock is held.

# Manual Failover

Writing an address or "*any*" to <base>/manual_failover asks the leader to
promote that replica. The old primary rejoins as a replica. A request for the
current primary is ignored.
*/
package manager
