package model

import (
	"net"
	"strconv"
	"strings"
	"unicode"
)

// Protocol is a management session protocol.
type Protocol string

const (
	// ProtocolSSH is an SSH session (port 22 by default).
	ProtocolSSH Protocol = "ssh"

	// ProtocolTelnet is a Telnet session (port 23 by default).
	ProtocolTelnet Protocol = "telnet"
)

// DefaultPort returns the well-known port of the protocol, or 0 if unknown.
func (p Protocol) DefaultPort() int {
	switch p {
	case ProtocolSSH:
		return 22
	case ProtocolTelnet:
		return 23
	default:
		return 0
	}
}

// ParseProtocol normalizes a protocol name. Unknown names yield "".
func ParseProtocol(s string) Protocol {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ssh":
		return ProtocolSSH
	case "telnet":
		return ProtocolTelnet
	default:
		return ""
	}
}

// SeedVia is the DiscoveredVia value of devices that come from the seed testbed.
const SeedVia = "seed"

// Address is one candidate management endpoint of a device.
type Address struct {
	// Name is the connection alias from the testbed (for example "cli" or "default").
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Protocol pins the session protocol. Empty means any allowed protocol.
	Protocol Protocol `json:"protocol,omitempty" yaml:"protocol,omitempty"`

	// Host is the IP address or resolvable name.
	Host string `json:"host" yaml:"host"`

	// Port overrides the protocol default port when non-zero.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Proxy is a SOCKS5 "host:port" the session is dialed through.
	Proxy string `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

// PortFor returns the port to dial for the given protocol.
func (a Address) PortFor(p Protocol) int {
	if a.Port > 0 {
		return a.Port
	}
	return p.DefaultPort()
}

// Dial returns "host:port" for the given protocol.
func (a Address) Dial(p Protocol) string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.PortFor(p)))
}

// Key identifies a dial candidate. Two addresses with the same key are the
// same network attempt.
func (a Address) Key(p Protocol) string {
	key := string(p) + "://" + a.Dial(p)
	if a.Proxy != "" {
		key += "@" + a.Proxy
	}
	return key
}

// Credential is a login for a management session.
type Credential struct {
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"-" yaml:"password,omitempty"`
	EnablePassword string `json:"-" yaml:"enable_password,omitempty"`
}

// AskPlaceholder is the testbed marker for "prompt for this password".
const AskPlaceholder = "%ASK{}"

// Usable reports whether the credential can be used without asking.
func (c Credential) Usable() bool {
	return c.Username != "" && c.Password != "" && c.Password != AskPlaceholder
}

// Interface is a named port on a device.
type Interface struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	IPv4 string `json:"ipv4,omitempty" yaml:"ipv4,omitempty"`
}

// InterfaceType derives the interface type from its name by stripping the
// numbering, e.g. "GigabitEthernet0/1" -> "gigabitethernet".
func InterfaceType(name string) string {
	idx := strings.IndexFunc(name, unicode.IsDigit)
	if idx <= 0 {
		return strings.ToLower(name)
	}
	return strings.ToLower(strings.TrimSpace(name[:idx]))
}

// Device is a network device known to the crawl.
type Device struct {
	// ID is the identity key: the first management IP known when the
	// record was created, or the folded hostname when no IP was known.
	ID string `json:"id"`

	// Hostname is the short device name used in the output testbed.
	Hostname string `json:"hostname"`

	// Aliases holds other names the device has been reported under.
	Aliases []string `json:"aliases,omitempty"`

	// Addresses is the ordered list of connection candidates.
	Addresses []Address `json:"addresses,omitempty"`

	// Credential is the login attached from the seed or resolved during the crawl.
	Credential *Credential `json:"-"`

	OS       string `json:"os,omitempty"`
	Platform string `json:"platform,omitempty"`
	Type     string `json:"type,omitempty"`

	Status Status `json:"status"`

	// DiscoveredVia is SeedVia or "<parent>:<interface>".
	DiscoveredVia string `json:"discovered_via"`

	// Seed is true for devices that came from the seed testbed.
	Seed bool `json:"seed"`

	// Interfaces are keyed by interface name.
	Interfaces map[string]Interface `json:"interfaces,omitempty"`

	// Failure holds the terminal error message of a Failed or Excluded device.
	Failure string `json:"failure,omitempty"`
}

// Name returns the hostname, falling back to the ID.
func (d *Device) Name() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.ID
}

// Hosts returns the distinct hosts of all candidate addresses in order.
func (d *Device) Hosts() []string {
	seen := make(map[string]bool, len(d.Addresses))
	hosts := make([]string, 0, len(d.Addresses))
	for _, a := range d.Addresses {
		if a.Host == "" || seen[a.Host] {
			continue
		}
		seen[a.Host] = true
		hosts = append(hosts, a.Host)
	}
	return hosts
}

// AddAddress appends a candidate unless an identical one is already present.
// It reports whether the address was added.
func (d *Device) AddAddress(a Address) bool {
	for _, existing := range d.Addresses {
		if existing.Host == a.Host && existing.Protocol == a.Protocol &&
			existing.Port == a.Port && existing.Proxy == a.Proxy {
			return false
		}
	}
	d.Addresses = append(d.Addresses, a)
	return true
}

// AddAlias records another name for the device. The hostname itself and
// duplicates (case-insensitive) are ignored.
func (d *Device) AddAlias(name string) {
	if name == "" || strings.EqualFold(name, d.Hostname) {
		return
	}
	for _, a := range d.Aliases {
		if strings.EqualFold(a, name) {
			return
		}
	}
	d.Aliases = append(d.Aliases, name)
}

// SetInterface records an interface, keeping known fields when the new
// value leaves them empty.
func (d *Device) SetInterface(iface Interface) {
	if iface.Name == "" {
		return
	}
	if d.Interfaces == nil {
		d.Interfaces = make(map[string]Interface)
	}
	existing, ok := d.Interfaces[iface.Name]
	if ok {
		if iface.Type == "" {
			iface.Type = existing.Type
		}
		if iface.IPv4 == "" {
			iface.IPv4 = existing.IPv4
		}
	}
	if iface.Type == "" {
		iface.Type = InterfaceType(iface.Name)
	}
	d.Interfaces[iface.Name] = iface
}

// Clone returns a deep copy so a worker can use the device without holding
// the crawl lock.
func (d *Device) Clone() Device {
	c := *d
	c.Aliases = append([]string(nil), d.Aliases...)
	c.Addresses = append([]Address(nil), d.Addresses...)
	if d.Credential != nil {
		cred := *d.Credential
		c.Credential = &cred
	}
	if d.Interfaces != nil {
		c.Interfaces = make(map[string]Interface, len(d.Interfaces))
		for k, v := range d.Interfaces {
			c.Interfaces[k] = v
		}
	}
	return c
}
