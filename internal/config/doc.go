// Package config holds the crawl configuration: the flat Config built from
// CLI flags, its defaults and validation, and the optional .topocrawl file
// with network-wide exclusions and per-device connection aliases.
package config
