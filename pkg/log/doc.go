/*
Package log provides structured logging for rookery using zerolog.

A single package-level Logger is configured once by Init from the process
configuration. Components derive child loggers that carry the fields used
throughout the failover decisions:

  - WithComponent("manager"), WithComponent("observer"), ...
  - WithNode("10.0.0.5:6379") for anything about one managed Redis node
  - WithManagerID(id) for anything about one manager process

Every decision the engine makes is logged with the affected node address and
the resulting topology, for example:

	{"level":"info","component":"manager","node":"10.0.0.5:6379",
	 "topology":"primary=10.0.0.6:6379 replicas=[10.0.0.7:6379] unavailable=[10.0.0.5:6379]",
	 "message":"demoted unreachable primary"}

Console output (JSONOutput=false) is meant for development; production
deployments should enable JSON and ship stderr to their log pipeline.
*/
package log
