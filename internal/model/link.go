package model

import (
	"crypto/sha256"
	"fmt"
	"slices"
)

// DiscoveryProtocol is a neighbor-discovery protocol.
type DiscoveryProtocol string

const (
	// DiscoveryCDP is the Cisco Discovery Protocol. It carries platform and
	// management addresses, so it is queried first.
	DiscoveryCDP DiscoveryProtocol = "cdp"

	// DiscoveryLLDP is the Link Layer Discovery Protocol.
	DiscoveryLLDP DiscoveryProtocol = "lldp"
)

// DiscoveryProtocols returns the supported protocols, richest first.
func DiscoveryProtocols() []DiscoveryProtocol {
	return []DiscoveryProtocol{DiscoveryCDP, DiscoveryLLDP}
}

// Endpoint is one side of a link.
type Endpoint struct {
	Device    string `json:"device"`
	Interface string `json:"interface"`
}

func (e Endpoint) String() string {
	return e.Device + ":" + e.Interface
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Device != o.Device {
		return e.Device < o.Device
	}
	return e.Interface < o.Interface
}

// Link is an undirected connection between two device interfaces.
type Link struct {
	A Endpoint `json:"a"`
	B Endpoint `json:"b"`

	// Protocols lists the protocols that reported this link.
	Protocols []DiscoveryProtocol `json:"protocols,omitempty"`

	// Synthesized is true when the link was reported in only-links mode
	// between already known devices.
	Synthesized bool `json:"synthesized,omitempty"`

	// Observations counts how many times the link was reported, from
	// either end.
	Observations int `json:"observations"`
}

// NewLink builds a link with normalized endpoint order.
func NewLink(a, b Endpoint, proto DiscoveryProtocol) Link {
	if b.less(a) {
		a, b = b, a
	}
	l := Link{A: a, B: b, Observations: 1}
	if proto != "" {
		l.Protocols = []DiscoveryProtocol{proto}
	}
	return l
}

// Key is the unordered identity of the link.
func (l Link) Key() string {
	a, b := l.A, l.B
	if b.less(a) {
		a, b = b, a
	}
	return a.String() + "<->" + b.String()
}

// ID is a short deterministic hash of Key, suitable for storage.
func (l Link) ID() string {
	sum := sha256.Sum256([]byte(l.Key()))
	return fmt.Sprintf("%x", sum[:8])
}

// Observe records another report of the same link.
func (l *Link) Observe(proto DiscoveryProtocol) {
	l.Observations++
	if proto != "" && !slices.Contains(l.Protocols, proto) {
		l.Protocols = append(l.Protocols, proto)
	}
}

// Neighbor is a normalized neighbor-discovery record reported by one device.
type Neighbor struct {
	// Hostname is the neighbor's reported name, already stripped of domain.
	Hostname string `json:"hostname"`

	// LocalInterface is the interface on the reporting device.
	LocalInterface string `json:"local_interface"`

	// RemoteInterface is the interface on the neighbor.
	RemoteInterface string `json:"remote_interface"`

	// Addresses are the neighbor's management address candidates.
	Addresses []string `json:"addresses,omitempty"`

	Platform string            `json:"platform,omitempty"`
	OS       string            `json:"os,omitempty"`
	Protocol DiscoveryProtocol `json:"protocol"`
}
