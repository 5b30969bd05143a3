// Package discovery reads CDP and LLDP neighbor tables from a device and
// turns them into normalized model.Neighbor records.
//
// The Engine queries CDP first and LLDP second, normalizes host and
// interface names, and folds the two views of the same adjacency into one
// record. CLI is the IOS-style backend that runs show commands over a
// session.Session and parses their output.
package discovery
