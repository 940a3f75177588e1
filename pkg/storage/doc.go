/*
Package storage persists rookery's shared and local state.

Two stores live here. TopologyStore keeps the state every manager process
shares in the coordination service. Journal keeps a local, bounded history of
failover events in a BoltDB file.

# Layout in the coordination service

	<base>/                      (default /rookery)
	├── topology                 persistent, JSON TopologyRecord
	├── managers/
	│   ├── <manager-id>         ephemeral, JSON ManagerView
	│   └── ...
	├── manual_failover          persistent, node address or "*any*"
	└── leader                   leader election lock

The topology record is only written by the leader, and only after it has
checked that the primary, replica and unavailable sets are disjoint. Manager
views are ephemeral: when a manager's session ends its view disappears and it
stops counting toward the quorum.

# Journal

	┌────────────── <data_dir>/rookery.db ──────────────┐
	│  bucket "events"                                    │
	│    key:   big-endian sequence number                │
	│    value: JSON events.Event                         │
	└─────────────────────────────────────────────────────┘

The journal subscribes to the event broker and drops its oldest entries once
it holds more than the configured limit.

# Usage

	store := storage.NewTopologyStore(coordinator, "/rookery")
	rec, err := store.ReadTopology(ctx)
	if errors.Is(err, coord.ErrNoNode) {
		// never discovered
	}

	journal, err := storage.OpenJournal("/var/lib/rookery", 0)
	go journal.Record(broker.Subscribe())
	recent, _ := journal.List(20)
*/
package storage
