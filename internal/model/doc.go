// Package model defines the topology data shared by the crawler, the
// connection layer and the output writers: devices with their candidate
// addresses and discovery status, undirected links between interfaces, and
// the normalized neighbor records produced by neighbor discovery.
package model
