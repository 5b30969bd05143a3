// Package crawler builds a network topology graph by breadth-first
// traversal from a set of seed devices.
//
// # Crawl
//
// Each device moves through Unvisited, InProgress and then one of Visited,
// Failed or Excluded. A bounded pool of workers claims devices from a FIFO
// frontier. Claiming, the visited check and every merge into the graph happen
// under one mutex, and no I/O is done while it is held.
//
// For each claimed device a worker:
//   - opens a session through the Connector
//   - asks the safety controller to enable CDP/LLDP if allowed
//   - reads neighbors through the Discoverer
//   - rolls back any change and closes the session
//   - merges the neighbors into the graph
//
// # Identity
//
// Two records are the same device when their management addresses
// intersect, or otherwise when their case-folded hostnames are equal.
// Merging unions addresses and aliases. The first discoverer keeps address
// preference, and status is never overridden.
//
// # Exclusion
//
// A neighbor record on an excluded interface is ignored entirely. A
// neighbor with an address in an excluded network is recorded as Excluded
// and its link is dropped. Seeds are never excluded.
package crawler
