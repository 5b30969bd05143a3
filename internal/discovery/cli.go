package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/session"
)

// Commander runs show and configuration commands on a device.
// session.Session satisfies it.
type Commander interface {
	Exec(ctx context.Context, cmd string) (string, error)
	Configure(ctx context.Context, lines []string) error
}

// CLI speaks to IOS, IOS-XE, IOS-XR and NX-OS style command lines. It
// implements Querier, InterfaceLister and the safety controller's
// Querier and Configurator.
type CLI struct {
	cmd Commander
}

// NewCLI wraps an open session.
func NewCLI(cmd Commander) *CLI {
	return &CLI{cmd: cmd}
}

var _ Commander = session.Session(nil)

func (c *CLI) exec(ctx context.Context, cmd string) (string, error) {
	out, err := c.cmd.Exec(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	if err := session.CommandError(out); err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	return out, nil
}

// DiscoveryEnabled reports whether the protocol runs globally.
func (c *CLI) DiscoveryEnabled(ctx context.Context, proto model.DiscoveryProtocol) (bool, error) {
	out, err := c.exec(ctx, "show "+string(proto))
	if err != nil {
		return false, err
	}
	return !strings.Contains(strings.ToLower(out), "not enabled"), nil
}

// SetDiscovery turns the protocol on or off globally.
func (c *CLI) SetDiscovery(ctx context.Context, proto model.DiscoveryProtocol, enabled bool) error {
	line := string(proto) + " run"
	if !enabled {
		line = "no " + line
	}
	if err := c.cmd.Configure(ctx, []string{line}); err != nil {
		return fmt.Errorf("%s: %w", line, err)
	}
	return nil
}

// Neighbors reads the detailed neighbor table of the protocol. The OS field
// of each record holds the raw software description; Normalize turns it
// into an OS name.
func (c *CLI) Neighbors(ctx context.Context, proto model.DiscoveryProtocol) ([]model.Neighbor, error) {
	out, err := c.exec(ctx, "show "+string(proto)+" neighbors detail")
	if err != nil {
		return nil, err
	}
	switch proto {
	case model.DiscoveryCDP:
		return ParseCDPDetail(out), nil
	case model.DiscoveryLLDP:
		return ParseLLDPDetail(out), nil
	default:
		return nil, fmt.Errorf("unsupported discovery protocol %q", proto)
	}
}

// Interfaces lists interfaces with their IPv4 address.
func (c *CLI) Interfaces(ctx context.Context) ([]model.Interface, error) {
	out, err := c.exec(ctx, "show ip interface brief")
	if err != nil {
		return nil, err
	}
	return ParseInterfaceBrief(out), nil
}

// keyValue splits "Key : value" lines. Keys are lower-cased.
func keyValue(line string) (string, string, bool) {
	k, v, ok := strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v), true
}

// cdpInterfacePattern matches "Interface: Gi0/1,  Port ID (outgoing port): Gi0/2".
var cdpInterfacePattern = regexp.MustCompile(`(?i)^interface:\s*([^,]+),\s*port id \(outgoing port\):\s*(.+)$`)

// cdpKeys are the keys that end a multi-line version block.
var cdpKeys = map[string]bool{
	"device id":              true,
	"system name":            true,
	"entry address(es)":      true,
	"management address(es)": true,
	"advertisement version":  true,
	"platform":               true,
	"interface":              true,
	"holdtime":               true,
	"duplex":                 true,
	"native vlan":            true,
}

// ParseCDPDetail parses "show cdp neighbors detail".
func ParseCDPDetail(out string) []model.Neighbor {
	var records []model.Neighbor
	var cur *model.Neighbor
	var systemName string
	inVersion := false

	flush := func() {
		if cur == nil {
			return
		}
		if systemName != "" {
			cur.Hostname = systemName
		}
		records = append(records, *cur)
		cur, systemName = nil, ""
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if inVersion {
			k, _, isKV := keyValue(line)
			switch {
			case line == "" || isKV && cdpKeys[k]:
				inVersion = false
			case cur.OS == "":
				cur.OS = line
				continue
			default:
				cur.OS += " " + line
				continue
			}
		}

		if m := cdpInterfacePattern.FindStringSubmatch(line); m != nil && cur != nil {
			cur.LocalInterface = strings.TrimSpace(m[1])
			cur.RemoteInterface = strings.TrimSpace(m[2])
			continue
		}

		key, value, ok := keyValue(line)
		if !ok {
			continue
		}
		switch key {
		case "device id":
			flush()
			cur = &model.Neighbor{Hostname: value, Protocol: model.DiscoveryCDP}
		case "system name":
			systemName = value
		case "platform":
			if cur != nil {
				platform, _, _ := strings.Cut(value, ",")
				cur.Platform = strings.TrimSpace(platform)
			}
		case "ip address", "ipv4 address", "ipv6 address":
			if cur != nil {
				cur.Addresses = appendAddress(cur.Addresses, value)
			}
		case "version":
			inVersion = cur != nil
			if cur != nil && value != "" {
				cur.OS = value
			}
		}
	}
	flush()
	return records
}

var macPattern = regexp.MustCompile(`(?i)^([0-9a-f]{4}\.){2}[0-9a-f]{4}$|^([0-9a-f]{2}[:-]){5}[0-9a-f]{2}$`)

// ParseLLDPDetail parses "show lldp neighbors detail".
func ParseLLDPDetail(out string) []model.Neighbor {
	type raw struct {
		local, chassis, port, portDesc, name, desc string
		addrs                                      []string
	}
	var raws []raw
	var cur *raw
	inDesc, inAddrs := false, false

	start := func() {
		raws = append(raws, raw{})
		cur = &raws[len(raws)-1]
		inDesc, inAddrs = false, false
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "---") {
			inDesc, inAddrs = false, false
			continue
		}

		if inDesc {
			if line == "" {
				inDesc = false
			} else if cur.desc == "" {
				cur.desc = line
			} else {
				cur.desc += " " + line
			}
			continue
		}

		key, value, ok := keyValue(line)
		if inAddrs {
			switch {
			case line == "":
				continue
			case ok && (key == "ip" || key == "ipv4" || key == "ipv6"):
				cur.addrs = appendAddress(cur.addrs, value)
				continue
			default:
				inAddrs = false
			}
		}
		if !ok {
			continue
		}

		switch key {
		case "local intf", "local interface":
			if cur == nil || cur.local != "" {
				start()
			}
			cur.local = value
		case "chassis id":
			if cur == nil || cur.chassis != "" {
				start()
			}
			cur.chassis = value
		case "local port id":
			if cur != nil {
				cur.local = value
			}
		case "port id":
			if cur != nil {
				cur.port = value
			}
		case "port description":
			if cur != nil {
				cur.portDesc = value
			}
		case "system name":
			if cur != nil {
				cur.name = value
			}
		case "system description":
			if cur != nil {
				cur.desc = value
				inDesc = value == ""
			}
		case "management addresses":
			inAddrs = cur != nil
		case "management address", "management address ipv4", "management address v4", "ip":
			if cur != nil {
				cur.addrs = appendAddress(cur.addrs, value)
			}
		}
	}

	records := make([]model.Neighbor, 0, len(raws))
	for _, r := range raws {
		n := model.Neighbor{
			Hostname:        r.name,
			LocalInterface:  r.local,
			RemoteInterface: r.port,
			Addresses:       r.addrs,
			OS:              r.desc,
			Protocol:        model.DiscoveryLLDP,
		}
		if n.Hostname == "" || strings.EqualFold(n.Hostname, "not advertised") {
			n.Hostname = r.chassis
		}
		if (n.RemoteInterface == "" || macPattern.MatchString(n.RemoteInterface)) && r.portDesc != "" &&
			!strings.EqualFold(r.portDesc, "not advertised") {
			n.RemoteInterface = r.portDesc
		}
		records = append(records, n)
	}
	return records
}

func appendAddress(addrs []string, value string) []string {
	value = strings.TrimSpace(value)
	if _, err := netip.ParseAddr(value); err != nil {
		return addrs
	}
	return append(addrs, value)
}

// ParseInterfaceBrief parses "show ip interface brief".
func ParseInterfaceBrief(out string) []model.Interface {
	var ifaces []model.Interface
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || strings.EqualFold(fields[0], "interface") {
			continue
		}
		if !strings.ContainsFunc(fields[0], func(r rune) bool { return r >= '0' && r <= '9' }) {
			continue
		}
		iface := model.Interface{
			Name: fields[0],
			Type: model.InterfaceType(fields[0]),
		}
		if ip, err := netip.ParseAddr(fields[1]); err == nil && ip.Is4() {
			iface.IPv4 = ip.String()
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces
}
