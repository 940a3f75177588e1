/*
Package leader elects the single manager allowed to change the topology.

Only one manager holds the lock at a time. The holder must stop acting as soon
as Lease.Lost is closed, and asserts the lease before acting on requests that
may have been queued under an earlier session.

	elector := leader.NewElector(coordinator, store.Paths().Leader(), 5*time.Second)
	lease, err := elector.Acquire(ctx)
	if err != nil {
		return err // ctx cancelled
	}
	defer lease.Release(context.Background())

	<-lease.Lost()
*/
package leader
