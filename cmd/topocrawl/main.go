// Package main provides the entry point for the topocrawl CLI.
//
// topocrawl discovers a network topology from a seed pyATS testbed. It logs
// in to every reachable device, reads its CDP and LLDP neighbors, follows
// them to new devices and writes the merged testbed with a topology section.
//
// Usage:
//
//	topocrawl topology --testbed-file seed.yaml --output testbed.yaml
//	topocrawl file --path devices.csv --output testbed.yaml
//
// See --help for all available options.
package main

func main() {
	Execute()
}
