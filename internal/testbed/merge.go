package testbed

import (
	"maps"
	"net/netip"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/topocrawl/internal/model"
)

// Topology is what a crawl found, in the shape Merge needs.
type Topology struct {
	// Devices are the non-excluded devices, named by hostname.
	Devices []model.Device

	// Links have endpoints named by device name.
	Links []model.Link

	// Protocols holds, per device name, the protocol that opened its session.
	Protocols map[string]model.Protocol

	// DefaultProtocol is written for unpinned connections of devices that
	// were never connected to. It defaults to ssh.
	DefaultProtocol model.Protocol
}

// Merge adds the crawl result to the testbed. Devices not yet in the devices
// section are appended with their connections, credentials, OS and type.
// Existing entries are left untouched. Every device interface is written to
// the topology section. Each link gets a Link_<n> name shared by both
// endpoints, and link names already in the document are kept.
func (t *Testbed) Merge(topo Topology) error {
	shared, err := t.sharedCredentials()
	if err != nil {
		return err
	}

	for _, d := range topo.Devices {
		name := d.Name()
		if t.HasDevice(name) {
			continue
		}
		if err := t.AddDevice(newDevice(d, shared, topo.protocol(name))); err != nil {
			return err
		}
	}

	t.mergeTopology(topo)
	return nil
}

func (topo Topology) protocol(device string) model.Protocol {
	if p, ok := topo.Protocols[device]; ok && p != "" {
		return p
	}
	if topo.DefaultProtocol != "" {
		return topo.DefaultProtocol
	}
	return model.ProtocolSSH
}

func newDevice(d model.Device, shared map[string]Credential, proto model.Protocol) Device {
	dev := Device{
		Name:     d.Name(),
		OS:       d.OS,
		Platform: d.Platform,
		Type:     d.Type,
	}

	for i, a := range d.Addresses {
		c := Connection{
			Name:     a.Name,
			Protocol: string(a.Protocol),
			Port:     a.Port,
			Proxy:    a.Proxy,
		}
		if c.Name == "" {
			c.Name = "a" + strconv.Itoa(i)
		}
		if c.Protocol == "" {
			c.Protocol = string(proto)
		}
		if _, err := netip.ParseAddr(a.Host); err == nil {
			c.IP = a.Host
		} else {
			c.Host = a.Host
		}
		dev.Connections = append(dev.Connections, c)
	}

	switch {
	case d.Credential != nil && d.Credential.Username != "":
		dev.Credentials = map[string]Credential{
			"default": {Username: d.Credential.Username, Password: d.Credential.Password},
		}
		if d.Credential.EnablePassword != "" {
			dev.Credentials["enable"] = Credential{Password: d.Credential.EnablePassword}
		}
	case len(shared) > 0:
		dev.Credentials = maps.Clone(shared)
	}
	return dev
}

// sharedCredentials collects the distinct credentials of the seed devices.
// The first credential under a name keeps it; a different credential under
// a taken name is stored as name plus the current count.
func (t *Testbed) sharedCredentials() (map[string]Credential, error) {
	devices, err := t.Devices()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Credential)
	for _, d := range devices {
		for _, name := range slices.Sorted(maps.Keys(d.Credentials)) {
			cred := d.Credentials[name]
			existing, taken := out[name]
			switch {
			case !taken:
				out[name] = cred
			case existing != cred && !slices.Contains(slices.Collect(maps.Values(out)), cred):
				out[name+strconv.Itoa(len(out))] = cred
			}
		}
	}
	return out, nil
}

func (t *Testbed) mergeTopology(topo Topology) {
	section := ensureMapping(t.root, "topology")

	taken := make(map[string]bool)
	for _, ifaces := range t.existingLinks(section) {
		taken[ifaces] = true
	}
	next := len(taken)
	newLinkName := func() string {
		for {
			name := "Link_" + strconv.Itoa(next)
			next++
			if !taken[name] {
				taken[name] = true
				return name
			}
		}
	}

	var links []model.Link
	for _, l := range topo.Links {
		if l.A.Interface != "" && l.B.Interface != "" {
			links = append(links, l)
		}
	}

	endpoints := make(map[string][]string)
	for _, l := range links {
		for _, e := range []model.Endpoint{l.A, l.B} {
			endpoints[e.Device] = append(endpoints[e.Device], e.Interface)
		}
	}

	interfaceNode := func(device, iface string) *yaml.Node {
		dev := ensureMapping(section, device)
		return ensureMapping(ensureMapping(dev, "interfaces"), iface)
	}

	for _, d := range topo.Devices {
		name := d.Name()
		names := slices.Collect(maps.Keys(d.Interfaces))
		names = append(names, endpoints[name]...)
		slices.Sort(names)
		for _, iface := range slices.Compact(names) {
			if iface == "" {
				continue
			}
			n := interfaceNode(name, iface)
			info, ok := d.Interfaces[iface]
			if !ok {
				info = model.Interface{Name: iface, Type: model.InterfaceType(iface)}
			}
			setDefault(n, "type", info.Type)
			setDefault(n, "ipv4", info.IPv4)
		}
	}

	for _, l := range links {
		a := interfaceNode(l.A.Device, l.A.Interface)
		b := interfaceNode(l.B.Device, l.B.Interface)
		name := linkName(a)
		if name == "" {
			name = linkName(b)
		}
		if name == "" {
			name = newLinkName()
		}
		setDefault(a, "type", model.InterfaceType(l.A.Interface))
		setDefault(b, "type", model.InterfaceType(l.B.Interface))
		setDefault(a, "link", name)
		setDefault(b, "link", name)
	}
}

// existingLinks returns the link names already present in the topology.
func (t *Testbed) existingLinks(section *yaml.Node) []string {
	var names []string
	for i := 1; i < len(section.Content); i += 2 {
		ifaces := lookup(section.Content[i], "interfaces")
		if ifaces == nil || ifaces.Kind != yaml.MappingNode {
			continue
		}
		for j := 1; j < len(ifaces.Content); j += 2 {
			if name := linkName(ifaces.Content[j]); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func linkName(iface *yaml.Node) string {
	if v := lookup(iface, "link"); v != nil && !isNull(v) {
		return v.Value
	}
	return ""
}
