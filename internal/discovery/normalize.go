package discovery

import (
	"net/netip"
	"regexp"
	"strings"
	"unicode"

	"github.com/nao1215/topocrawl/internal/model"
)

// hostnamePattern keeps the leading name token, dropping domain suffixes
// and decorations such as "(FOC1234X0AB)".
var hostnamePattern = regexp.MustCompile(`^[^-\w]*([-\w]+)`)

// ShortHostname strips domain and serial decorations from a reported name.
// A chassis MAC used as a name is kept whole.
func ShortHostname(name string) string {
	name = strings.TrimSpace(name)
	if macPattern.MatchString(name) {
		return strings.ToLower(name)
	}
	m := hostnamePattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

// interfaceNames maps lower-case abbreviations to canonical IOS names.
var interfaceNames = map[string]string{
	"gi":                   "GigabitEthernet",
	"gig":                  "GigabitEthernet",
	"gigabitethernet":      "GigabitEthernet",
	"fa":                   "FastEthernet",
	"fastethernet":         "FastEthernet",
	"te":                   "TenGigabitEthernet",
	"ten":                  "TenGigabitEthernet",
	"tengigabitethernet":   "TenGigabitEthernet",
	"tw":                   "TwoGigabitEthernet",
	"twogigabitethernet":   "TwoGigabitEthernet",
	"twe":                  "TwentyFiveGigE",
	"twentyfivegige":       "TwentyFiveGigE",
	"fo":                   "FortyGigabitEthernet",
	"fortygigabitethernet": "FortyGigabitEthernet",
	"hu":                   "HundredGigE",
	"hundredgige":          "HundredGigE",
	"et":                   "Ethernet",
	"eth":                  "Ethernet",
	"ethernet":             "Ethernet",
	"mgmt":                 "mgmt",
	"mgmteth":              "MgmtEth",
	"lo":                   "Loopback",
	"loopback":             "Loopback",
	"po":                   "Port-channel",
	"port-channel":         "Port-channel",
	"vl":                   "Vlan",
	"vlan":                 "Vlan",
	"se":                   "Serial",
	"serial":               "Serial",
	"tu":                   "Tunnel",
	"tunnel":               "Tunnel",
}

// CanonicalInterface expands an abbreviated interface name, for example
// "Gi0/1" to "GigabitEthernet0/1". Unknown names are returned trimmed.
func CanonicalInterface(name string) string {
	name = strings.TrimSpace(name)
	idx := strings.IndexFunc(name, unicode.IsDigit)
	if idx <= 0 {
		return name
	}
	prefix := strings.TrimSpace(name[:idx])
	full, ok := interfaceNames[strings.ToLower(prefix)]
	if !ok {
		return name
	}
	// host-style names such as eth0 stay as reported
	if full == "Ethernet" && len(prefix) < len(full) && !strings.Contains(name[idx:], "/") {
		return name
	}
	return full + name[idx:]
}

// GuessOS derives the device OS from a software description and platform
// string. It returns "" when nothing matches.
func GuessOS(description, platform string) string {
	has := func(s string) bool {
		return strings.Contains(description, s) || strings.Contains(platform, s)
	}
	switch {
	case has("NX-OS"):
		return "nxos"
	case has("IOS"):
		switch {
		case has("XE"):
			return "iosxe"
		case has("XR"):
			return "iosxr"
		default:
			return "ios"
		}
	default:
		return ""
	}
}

// Normalize cleans one raw record. The OS field may carry the raw software
// description; it is replaced by the guessed OS.
func Normalize(n model.Neighbor) model.Neighbor {
	n.Hostname = ShortHostname(n.Hostname)
	n.LocalInterface = CanonicalInterface(n.LocalInterface)
	n.RemoteInterface = CanonicalInterface(n.RemoteInterface)
	n.Platform = strings.TrimSpace(n.Platform)
	n.OS = GuessOS(n.OS, n.Platform)

	addrs := make([]string, 0, len(n.Addresses))
	seen := make(map[string]bool, len(n.Addresses))
	for _, a := range n.Addresses {
		ip, err := netip.ParseAddr(strings.TrimSpace(a))
		if err != nil {
			continue
		}
		s := ip.Unmap().String()
		if seen[s] {
			continue
		}
		seen[s] = true
		addrs = append(addrs, s)
	}
	n.Addresses = addrs
	return n
}
