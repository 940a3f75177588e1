/*
Package health observes managed nodes and maintains this manager's view of them.

Every manager process, leader or not, runs a Monitor. The Monitor starts one
Watcher per known node; each Watcher checks its node on a fixed interval and
classifies it:

	check ok, replica syncing with replica-serve-stale-data no  → syncing
	check ok                                                     → reachable
	Retries consecutive check failures                           → unreachable
	failure below the threshold                                  → previous state

Every classification becomes a types.HealthReport. The Monitor folds reports
into the process's ManagerView, publishes the view to the topology store
whenever it changes, and forwards the report to its sink (the decision engine
inbox on the leader).

# Coordinator loss

If publishing the view fails because the coordination session is gone, the
Monitor forwards a coordinator-disconnected report so that a leader stops
acting on a session it no longer owns. Invalidate marks the stored view as
lost; the next report republishes it.

# Usage

	monitor := health.NewMonitor(managerID, store, node.RedisFactory(cfg), health.Config{
		Interval: time.Second,
		Timeout:  500 * time.Millisecond,
		Retries:  3,
	})
	monitor.SetSink(mgr.Report)
	monitor.Start(ctx, nodes...)
	defer monitor.Stop()
*/
package health
