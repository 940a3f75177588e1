/*
Package events provides an in-memory event broker for failover notifications.

The manager publishes an Event for every externally visible decision: leadership
changes, promotions, demotions, nodes leaving or rejoining the replica set and
manual failover requests. Subscribers receive events on buffered channels; a slow
subscriber misses events rather than blocking the publisher.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.Node)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventPrimaryPromoted,
		Node:    "10.0.0.2:6379",
		Message: "promoted after primary became unreachable",
	})

The storage journal subscribes to the broker and persists every event so that
`rookery history` can show recent failovers after a restart.
*/
package events
