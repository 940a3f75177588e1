/*
Package reconciler runs the periodic drift sweep of the leader.

Health reports only trigger decisions when a node changes state. A replica
that restarts quickly and loses its replication settings, or a primary that
is demoted behind the manager's back, never looks unhealthy to the observers.
The reconciler asks the manager on every interval to check the primary and
each replica and to repair roles that drifted from the topology:

	primary reports replica         → BecomePrimary
	replica not following primary   → BecomeReplicaOf(primary)
	replica cannot be repaired      → unavailable

The sweep takes the same session lock as health reports and manual failover,
so it never interleaves with a decision. On followers the sweep is skipped.

	r := reconciler.NewReconciler(mgr, 10*time.Second)
	r.Start()
	defer r.Stop()
*/
package reconciler
