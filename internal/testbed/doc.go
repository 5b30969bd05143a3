// Package testbed reads and writes pyATS-style testbed YAML.
//
// A Testbed keeps the parsed YAML node tree, so writing a loaded testbed
// back out preserves its key order and any content this package does not
// model. Seeds converts the devices section into crawl seeds, and Merge adds
// the devices and the topology section found by a crawl.
package testbed
