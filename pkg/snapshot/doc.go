// Package snapshot combines the availability views of all manager processes
// into one verdict per node.
package snapshot
