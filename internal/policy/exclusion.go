package policy

import (
	"fmt"
	"net/netip"
	"path"
	"slices"
	"strings"

	"github.com/nao1215/topocrawl/internal/discovery"
)

// MalformedRangeError reports an exclusion network that could not be parsed.
// The entry is skipped; the rest of the policy still applies.
type MalformedRangeError struct {
	Range string
	Err   error
}

func (e *MalformedRangeError) Error() string {
	return fmt.Sprintf("malformed exclusion range %q: %v", e.Range, e.Err)
}

func (e *MalformedRangeError) Unwrap() error {
	return e.Err
}

// Exclusion is an immutable set of excluded networks and interface patterns.
// The zero value and a nil *Exclusion exclude nothing.
type Exclusion struct {
	networks   []netip.Prefix
	interfaces []string
}

// New builds an Exclusion. Networks may be CIDRs or bare addresses (treated
// as host routes). Interface patterns use path.Match syntax and are compared
// case-insensitively; a pattern without metacharacters matches the name
// exactly. Unlike file paths, '*' also matches the slashes of slot/port
// numbering, so "Mgmt*" covers "MgmtEth0/RP0/CPU0/0".
//
// Abbreviated patterns match the expanded name too: "Gi0/1" excludes
// "GigabitEthernet0/1" and "Gi0/*" excludes every GigabitEthernet0 port.
//
// Malformed networks are returned as *MalformedRangeError values alongside
// the usable policy.
func New(networks, interfaces []string) (*Exclusion, []error) {
	var errs []error
	e := &Exclusion{}

	for _, raw := range networks {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := parseNetwork(raw)
		if err != nil {
			errs = append(errs, &MalformedRangeError{Range: raw, Err: err})
			continue
		}
		e.networks = append(e.networks, prefix)
	}

	for _, raw := range interfaces {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if _, err := path.Match(normalizeInterface(raw), ""); err != nil {
			errs = append(errs, fmt.Errorf("malformed interface pattern %q: %w", raw, err))
			continue
		}
		for _, p := range interfaceForms(raw) {
			if !slices.Contains(e.interfaces, p) {
				e.interfaces = append(e.interfaces, p)
			}
		}
	}

	return e, errs
}

func parseNetwork(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Networks returns the parsed networks.
func (e *Exclusion) Networks() []netip.Prefix {
	if e == nil {
		return nil
	}
	return append([]netip.Prefix(nil), e.networks...)
}

// interfaceForms returns the normalized name as given and, when it differs,
// its expanded form.
func interfaceForms(name string) []string {
	forms := []string{normalizeInterface(name)}
	if full := normalizeInterface(discovery.CanonicalInterface(name)); full != forms[0] {
		forms = append(forms, full)
	}
	return forms
}

// normalizeInterface lowercases the name and replaces '/' so that path.Match
// does not treat it as a separator.
func normalizeInterface(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "/", ":")
}

// Interfaces returns the normalized interface patterns.
func (e *Exclusion) Interfaces() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.interfaces...)
}

// Empty reports whether the policy excludes nothing.
func (e *Exclusion) Empty() bool {
	return e == nil || (len(e.networks) == 0 && len(e.interfaces) == 0)
}

// ExcludesAddress reports whether host lies in an excluded network.
// Hostnames that are not IP literals are never excluded.
func (e *Exclusion) ExcludesAddress(host string) bool {
	if e == nil || len(e.networks) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range e.networks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// ExcludesAny reports whether any of the hosts is excluded.
func (e *Exclusion) ExcludesAny(hosts []string) bool {
	for _, h := range hosts {
		if e.ExcludesAddress(h) {
			return true
		}
	}
	return false
}

// ExcludesInterface reports whether the interface name matches a pattern.
func (e *Exclusion) ExcludesInterface(name string) bool {
	if e == nil || name == "" {
		return false
	}
	for _, form := range interfaceForms(name) {
		for _, p := range e.interfaces {
			if p == form {
				return true
			}
			if ok, _ := path.Match(p, form); ok {
				return true
			}
		}
	}
	return false
}
