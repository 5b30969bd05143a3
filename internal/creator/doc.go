// Package creator builds testbeds from a source.
//
// A Creator declares its required and optional arguments and generates a
// testbed. Creators are looked up by name in a Registry that the command
// line fills explicitly at startup. Two creators ship with topocrawl:
//
//   - topology: crawls the network from a seed testbed
//   - file: converts a CSV device inventory
package creator
