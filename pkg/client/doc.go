/*
Package client queries the gRPC health endpoint of rookery managers.

Every manager serves the standard gRPC health protocol. The service named
api.LeaderService is SERVING only on the current leader, so a client can
locate the leader without access to the coordination service:

	states := client.Survey(ctx, []string{"m1:9122", "m2:9122", "m3:9122"}, time.Second)
	leader, err := client.FindLeader(states)

Connections are plaintext unless DialOptions with transport credentials are
passed.
*/
package client
