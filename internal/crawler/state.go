package crawler

import (
	"net/netip"
	"slices"
	"strconv"

	"golang.org/x/text/cases"

	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/model"
)

var fold = cases.Fold()

func foldName(name string) string {
	return fold.String(name)
}

// state is the discovery state. Every method expects the caller to hold
// Crawler.mu.
type state struct {
	// frontier is the FIFO of device IDs waiting to be claimed.
	frontier []string

	// visited marks IDs that were claimed, so a device is queued once.
	visited map[string]bool

	// devices holds every record by ID, excluded ones included.
	devices map[string]*model.Device

	// order is the insertion order of devices.
	order []string

	// byAddr maps a host to the first device that reported it.
	byAddr map[string]string

	// byName maps a folded hostname or alias to its device.
	byName map[string]string

	// links are keyed by model.Link.Key, so both ends of a link meet.
	links map[string]*model.Link

	// attempts are the connection attempts per device ID.
	attempts map[string][]connect.Attempt

	// inflight counts claimed devices whose visit has not finished.
	inflight int

	// pending counts devices whose discovery rollback failed.
	pending int

	// warnings are reported with the result.
	warnings []string
}

func newState() *state {
	return &state{
		visited:  make(map[string]bool),
		devices:  make(map[string]*model.Device),
		byAddr:   make(map[string]string),
		byName:   make(map[string]string),
		links:    make(map[string]*model.Link),
		attempts: make(map[string][]connect.Attempt),
	}
}

// identity picks the ID of a new record: the first IP literal, else the
// folded hostname, else the first host.
func identity(hostname string, hosts []string) string {
	for _, h := range hosts {
		if ip, err := netip.ParseAddr(h); err == nil {
			return ip.Unmap().String()
		}
	}
	if hostname != "" {
		return foldName(hostname)
	}
	if len(hosts) > 0 {
		return hosts[0]
	}
	return ""
}

// lookup finds a known device by address overlap, then by hostname. The
// hostname match also applies when both records carry disjoint addresses:
// devices are written to the testbed under their hostname, so two records
// with one name would collide there. The addresses are unioned instead.
func (s *state) lookup(hostname string, hosts []string) *model.Device {
	for _, h := range hosts {
		if id, ok := s.byAddr[h]; ok {
			return s.devices[id]
		}
	}
	if hostname == "" {
		return nil
	}
	if id, ok := s.byName[foldName(hostname)]; ok {
		return s.devices[id]
	}
	return nil
}

// add stores a new device and indexes it. The ID is made unique if needed.
func (s *state) add(dev *model.Device) {
	base := dev.ID
	for i := 2; s.devices[dev.ID] != nil; i++ {
		dev.ID = base + "#" + strconv.Itoa(i)
	}
	s.devices[dev.ID] = dev
	s.order = append(s.order, dev.ID)
	s.index(dev)
}

func (s *state) index(dev *model.Device) {
	for _, h := range dev.Hosts() {
		if _, ok := s.byAddr[h]; !ok {
			s.byAddr[h] = dev.ID
		}
	}
	for _, name := range append([]string{dev.Hostname}, dev.Aliases...) {
		if name == "" {
			continue
		}
		if _, ok := s.byName[foldName(name)]; !ok {
			s.byName[foldName(name)] = dev.ID
		}
	}
}

// merge folds another record of the same device into dev. Addresses on new
// hosts are appended, so the first discoverer keeps preference. Status and an already
// resolved credential are never replaced.
func (s *state) merge(dev *model.Device, other *model.Device) {
	if other.Hostname != "" && dev.Hostname == "" {
		dev.Hostname = other.Hostname
	} else {
		dev.AddAlias(other.Hostname)
	}
	for _, a := range other.Aliases {
		dev.AddAlias(a)
	}
	known := dev.Hosts()
	for _, a := range other.Addresses {
		if slices.Contains(known, a.Host) {
			continue
		}
		a.Name = uniqueAddressName(dev, a.Name)
		dev.AddAddress(a)
	}
	if dev.Credential == nil && other.Credential != nil {
		cred := *other.Credential
		dev.Credential = &cred
	}
	if dev.OS == "" {
		dev.OS = other.OS
	}
	if dev.Platform == "" {
		dev.Platform = other.Platform
	}
	for _, iface := range other.Interfaces {
		dev.SetInterface(iface)
	}
	s.index(dev)
}

// uniqueAddressName keeps connection names unique within a device.
func uniqueAddressName(dev *model.Device, name string) string {
	taken := func(n string) bool {
		return slices.ContainsFunc(dev.Addresses, func(a model.Address) bool { return a.Name == n })
	}
	if name == "" || !taken(name) {
		return name
	}
	for i := len(dev.Addresses); ; i++ {
		if n := "a" + strconv.Itoa(i); !taken(n) {
			return n
		}
	}
}

func (s *state) enqueue(id string) {
	s.frontier = append(s.frontier, id)
}

// claim pops the next Unvisited device and marks it InProgress.
func (s *state) claim() (model.Device, bool) {
	for len(s.frontier) > 0 {
		id := s.frontier[0]
		s.frontier = s.frontier[1:]
		dev := s.devices[id]
		if dev == nil || s.visited[id] || dev.Status != model.StatusUnvisited {
			continue
		}
		s.visited[id] = true
		dev.Status = model.StatusInProgress
		s.inflight++
		return dev.Clone(), true
	}
	return model.Device{}, false
}

func (s *state) idle() bool {
	return len(s.frontier) == 0 && s.inflight == 0
}

// link records an adjacency, counting repeated reports of the same pair.
func (s *state) link(a, b model.Endpoint, proto model.DiscoveryProtocol, synthesized bool) {
	l := model.NewLink(a, b, proto)
	if existing, ok := s.links[l.Key()]; ok {
		existing.Observe(proto)
		return
	}
	l.Synthesized = synthesized
	s.links[l.Key()] = &l
}

// linkedInterfaces returns the set of "device|interface" keys used by links.
func (s *state) linkedInterfaces() map[string]bool {
	used := make(map[string]bool, 2*len(s.links))
	for _, l := range s.links {
		used[l.A.Device+"|"+l.A.Interface] = true
		used[l.B.Device+"|"+l.B.Interface] = true
	}
	return used
}

func (s *state) sortedLinks() []model.Link {
	keys := make([]string, 0, len(s.links))
	for k := range s.links {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	links := make([]model.Link, len(keys))
	for i, k := range keys {
		links[i] = *s.links[k]
	}
	return links
}
