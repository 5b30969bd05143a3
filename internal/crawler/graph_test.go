package crawler

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/credential"
	"github.com/nao1215/topocrawl/internal/discovery"
	applog "github.com/nao1215/topocrawl/internal/log"
	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/safety"
	"github.com/nao1215/topocrawl/internal/session"
)

// fakeNode is one simulated device, reachable on its management host.
type fakeNode struct {
	mu          sync.Mutex
	neighbors   []model.Neighbor
	queryErr    error
	running     map[model.DiscoveryProtocol]bool
	disableErr  error
	ifaces      []model.Interface
	unreachable bool
	changes     []string
}

func (n *fakeNode) DiscoveryEnabled(_ context.Context, proto model.DiscoveryProtocol) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running == nil {
		return true, nil
	}
	return n.running[proto], nil
}

func (n *fakeNode) SetDiscovery(_ context.Context, proto model.DiscoveryProtocol, enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !enabled && n.disableErr != nil {
		return n.disableErr
	}
	n.running[proto] = enabled
	n.changes = append(n.changes, string(proto)+"="+map[bool]string{true: "on", false: "off"}[enabled])
	return nil
}

func (n *fakeNode) Neighbors(_ context.Context, proto model.DiscoveryProtocol) ([]model.Neighbor, error) {
	if n.queryErr != nil {
		return nil, n.queryErr
	}
	if proto != model.DiscoveryCDP {
		return nil, nil
	}
	return n.neighbors, nil
}

func (n *fakeNode) Interfaces(context.Context) ([]model.Interface, error) {
	return n.ifaces, nil
}

type fakeSession struct {
	node  *fakeNode
	addr  model.Address
	proto model.Protocol
}

func (s *fakeSession) Exec(context.Context, string) (string, error) { return "", nil }
func (s *fakeSession) Configure(context.Context, []string) error   { return nil }
func (s *fakeSession) Protocol() model.Protocol                    { return s.proto }
func (s *fakeSession) Address() model.Address                      { return s.addr }
func (s *fakeSession) Close() error                                { return nil }

// fakeNetwork is a session.Dialer over a set of fake nodes keyed by host.
type fakeNetwork struct {
	mu     sync.Mutex
	nodes  map[string]*fakeNode
	dialed map[string]int
}

func newFakeNetwork(nodes map[string]*fakeNode) *fakeNetwork {
	return &fakeNetwork{nodes: nodes, dialed: make(map[string]int)}
}

func (f *fakeNetwork) Dial(_ context.Context, addr model.Address, proto model.Protocol, _ model.Credential) (session.Session, error) {
	f.mu.Lock()
	f.dialed[addr.Host]++
	f.mu.Unlock()

	node, ok := f.nodes[addr.Host]
	if !ok || node.unreachable {
		return nil, errors.New("connection timed out")
	}
	return &fakeSession{node: node, addr: addr, proto: proto}, nil
}

func (f *fakeNetwork) dials(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialed[host]
}

func seed(name, host string) model.Device {
	return model.Device{
		Hostname:  name,
		Addresses: []model.Address{{Name: "cli", Protocol: model.ProtocolSSH, Host: host}},
	}
}

func neighbor(host, local, remote string, addrs ...string) model.Neighbor {
	return model.Neighbor{Hostname: host, LocalInterface: local, RemoteInterface: remote, Addresses: addrs}
}

func newCrawler(cfg *config.Config, net *fakeNetwork, opts ...Option) *Crawler {
	resolver := credential.NewResolver(credential.WithUniversal("admin", "secret"))
	manager := connect.NewManager(net, resolver,
		connect.WithProtocols(connect.Protocols(cfg.SSHOnly, cfg.TelnetConnect)...),
		connect.WithTimeout(cfg.Timeout))
	opts = append([]Option{WithBackend(func(s session.Session) Backend { return s.(*fakeSession).node })}, opts...)
	return New(cfg, manager, discovery.NewEngine(), opts...)
}

func deviceNames(devs []model.Device) []string {
	names := make([]string, len(devs))
	for i, d := range devs {
		names[i] = d.Name()
	}
	return names
}

func linkKeys(links []model.Link) []string {
	keys := make([]string, len(links))
	for i, l := range links {
		keys[i] = l.Key()
	}
	return keys
}

// exampleNetwork is device A (10.0.0.1) seeing B (10.0.0.2) from eth0 on
// B's eth1.
func exampleNetwork() *fakeNetwork {
	return newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("B", "eth0", "eth1", "10.0.0.2")}},
		"10.0.0.2": {neighbors: []model.Neighbor{neighbor("A", "eth1", "eth0", "10.0.0.1")}},
	})
}

func TestRun_WorkedExample(t *testing.T) {
	t.Parallel()

	t.Run("discovers B and one link", func(t *testing.T) {
		t.Parallel()
		result, err := newCrawler(config.NewConfig(), exampleNetwork()).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A", "B"}) {
			t.Errorf("devices = %v, want [A B]", got)
		}
		if got := linkKeys(result.Links); !slices.Equal(got, []string{"A:eth0<->B:eth1"}) {
			t.Errorf("links = %v, want [A:eth0<->B:eth1]", got)
		}
		if result.Links[0].Observations != 2 {
			t.Errorf("Observations = %d, want 2 (reported from both ends)", result.Links[0].Observations)
		}
		b, _ := result.Device("B")
		if b.Status != model.StatusVisited || b.DiscoveredVia != "A:eth0" || b.Seed {
			t.Errorf("B = %+v", b)
		}
		if _, ok := b.Interfaces["eth1"]; !ok {
			t.Errorf("B interfaces = %v, want eth1", b.Interfaces)
		}
		if len(result.Excluded) != 0 {
			t.Errorf("Excluded = %v, want none", deviceNames(result.Excluded))
		}
	})

	t.Run("excluded network keeps A alone", func(t *testing.T) {
		t.Parallel()
		cfg := config.NewConfig()
		cfg.ExcludeNetworks = []string{"10.0.0.0/24"}
		net := exampleNetwork()

		result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A"}) {
			t.Errorf("devices = %v, want [A]", got)
		}
		if len(result.Links) != 0 {
			t.Errorf("links = %v, want none", linkKeys(result.Links))
		}
		if got := deviceNames(result.Excluded); !slices.Equal(got, []string{"B"}) {
			t.Errorf("excluded = %v, want [B]", got)
		}
		if net.dials("10.0.0.2") != 0 {
			t.Error("excluded device was contacted")
		}
	})
}

func TestRun_OverlappingAddressesMergeIntoOneDevice(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("sw-b", "Gi1", "Gi1", "10.0.0.2")}},
		"10.0.0.3": {neighbors: []model.Neighbor{neighbor("b-alias", "Gi1", "Gi2", "10.0.1.2", "10.0.0.2")}},
		"10.0.0.2": {},
	})
	result, err := newCrawler(config.NewConfig(), net).Run(context.Background(),
		[]model.Device{seed("A", "10.0.0.1"), seed("C", "10.0.0.3")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A", "C", "sw-b"}) {
		t.Fatalf("devices = %v, want [A C sw-b]", got)
	}
	b, _ := result.Device("sw-b")
	if !slices.Contains(b.Aliases, "b-alias") {
		t.Errorf("aliases = %v, want b-alias", b.Aliases)
	}
	if got := b.Hosts(); !slices.Equal(got, []string{"10.0.0.2", "10.0.1.2"}) {
		t.Errorf("hosts = %v, want first discoverer's address first", got)
	}
	if b.Addresses[0].Name != "default" {
		t.Errorf("first candidate name = %q, want default", b.Addresses[0].Name)
	}
	if net.dials("10.0.0.2") != 1 {
		t.Errorf("sw-b dialed %d times, want 1", net.dials("10.0.0.2"))
	}
	if len(result.Links) != 2 {
		t.Errorf("links = %v, want 2", linkKeys(result.Links))
	}
}

func TestRun_HostnameFallbackWithoutAddresses(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("Core1.lab.example.com", "Gi1", "Gi1")}},
	})
	result, err := newCrawler(config.NewConfig(), net).Run(context.Background(),
		[]model.Device{seed("A", "10.0.0.1"), seed("core1", "10.0.0.9")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A", "core1"}) {
		t.Errorf("devices = %v, want neighbor folded into seed core1", got)
	}
	if got := linkKeys(result.Links); !slices.Equal(got, []string{"A:GigabitEthernet1<->core1:GigabitEthernet1"}) {
		t.Errorf("links = %v", got)
	}
}

func TestRun_SameHostnameDisjointAddresses(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("B", "Gi1", "Gi1", "10.0.0.2")}},
		"10.0.0.3": {neighbors: []model.Neighbor{neighbor("b", "Gi1", "Gi2", "10.0.1.2")}},
		"10.0.0.2": {},
	})
	result, err := newCrawler(config.NewConfig(), net).Run(context.Background(),
		[]model.Device{seed("A", "10.0.0.1"), seed("C", "10.0.0.3")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Fatalf("devices = %v, want one B", got)
	}
	b, _ := result.Device("B")
	if got := b.Hosts(); !slices.Equal(got, []string{"10.0.0.2", "10.0.1.2"}) {
		t.Errorf("hosts = %v, want both reported addresses", got)
	}
	if net.dials("10.0.0.2") != 1 {
		t.Errorf("B dialed %d times, want 1", net.dials("10.0.0.2"))
	}
}

func TestRun_RepeatRunIsIdentical(t *testing.T) {
	t.Parallel()

	build := func() *fakeNetwork {
		return newFakeNetwork(map[string]*fakeNode{
			"10.0.0.1": {neighbors: []model.Neighbor{
				neighbor("B", "Gi1", "Gi1", "10.0.0.2"),
				neighbor("C", "Gi2", "Gi1", "10.0.0.3"),
			}},
			"10.0.0.2": {neighbors: []model.Neighbor{
				neighbor("A", "Gi1", "Gi1", "10.0.0.1"),
				neighbor("D", "Gi2", "Gi1", "10.0.0.4"),
			}},
			"10.0.0.3": {neighbors: []model.Neighbor{neighbor("D", "Gi2", "Gi2", "10.0.0.4")}},
			"10.0.0.4": {},
		})
	}
	seeds := []model.Device{seed("A", "10.0.0.1")}

	first, err := newCrawler(config.NewConfig(), build()).Run(context.Background(), seeds)
	if err != nil {
		t.Fatal(err)
	}
	second, err := newCrawler(config.NewConfig(), build()).Run(context.Background(), seeds)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(deviceNames(first.Devices), deviceNames(second.Devices)) {
		t.Errorf("devices differ: %v vs %v", deviceNames(first.Devices), deviceNames(second.Devices))
	}
	if !slices.Equal(linkKeys(first.Links), linkKeys(second.Links)) {
		t.Errorf("links differ: %v vs %v", linkKeys(first.Links), linkKeys(second.Links))
	}
	d, _ := first.Device("D")
	if d.DiscoveredVia != "B:GigabitEthernet2" {
		t.Errorf("D discovered via %q, want breadth-first parent B", d.DiscoveredVia)
	}
}

func TestRun_ParallelWorkersMatchSequential(t *testing.T) {
	t.Parallel()

	build := func() *fakeNetwork {
		nodes := map[string]*fakeNode{}
		hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}
		names := []string{"r1", "r2", "r3", "r4", "r5", "r6"}
		for i, h := range hosts {
			node := &fakeNode{}
			for j := range hosts {
				if j != i {
					node.neighbors = append(node.neighbors, neighbor(names[j], "Gi"+names[j][1:], "Gi"+names[i][1:], hosts[j]))
				}
			}
			nodes[h] = node
		}
		return newFakeNetwork(nodes)
	}
	seeds := []model.Device{seed("r1", "10.0.0.1")}

	sequential, err := newCrawler(config.NewConfig(), build()).Run(context.Background(), seeds)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.NewConfig()
	cfg.Workers = 4
	net := build()
	parallel, err := newCrawler(cfg, net).Run(context.Background(), seeds)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(deviceNames(sequential.Devices), deviceNames(parallel.Devices)) {
		t.Errorf("devices differ: %v vs %v", deviceNames(sequential.Devices), deviceNames(parallel.Devices))
	}
	if !slices.Equal(linkKeys(sequential.Links), linkKeys(parallel.Links)) {
		t.Errorf("links differ: %v vs %v", linkKeys(sequential.Links), linkKeys(parallel.Links))
	}
	if len(parallel.Links) != 15 {
		t.Errorf("got %d links, want 15 for a full mesh of 6", len(parallel.Links))
	}
	for _, h := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"} {
		if n := net.dials(h); n != 1 {
			t.Errorf("%s dialed %d times, want 1", h, n)
		}
	}
}

func TestRun_OnlyLinks(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{
			neighbor("B", "Gi1", "Gi1", "10.0.0.2"),
			neighbor("X", "Gi2", "Gi1", "10.0.0.99"),
		}},
		"10.0.0.2":  {neighbors: []model.Neighbor{neighbor("A", "Gi1", "Gi1", "10.0.0.1")}},
		"10.0.0.99": {},
	})
	cfg := config.NewConfig()
	cfg.OnlyLinks = true

	result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1"), seed("B", "10.0.0.2")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("devices = %v, want exactly the seeds", got)
	}
	if len(result.Links) != 1 || !result.Links[0].Synthesized {
		t.Errorf("links = %+v, want one synthesized link", result.Links)
	}
	if got := deviceNames(result.Excluded); !slices.Equal(got, []string{"X"}) {
		t.Errorf("excluded = %v, want [X]", got)
	}
	if net.dials("10.0.0.99") != 0 {
		t.Error("only-links mode contacted a new device")
	}
}

func TestRun_InterfaceExclusion(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{
			neighbor("B", "Gi0/1", "Gi0/2", "10.0.0.2"),
			neighbor("C", "Gi0/3", "Gi0/1", "10.0.0.3"),
		}},
		"10.0.0.2": {neighbors: []model.Neighbor{neighbor("A", "Gi0/2", "Gi0/1", "10.0.0.1")}},
		"10.0.0.3": {},
	})
	cfg := config.NewConfig()
	cfg.ExcludeInterfaces = []string{"gigabitethernet0/1"}

	result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1"), seed("B", "10.0.0.2")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Links) != 0 {
		t.Errorf("links = %v, want none: every record touches GigabitEthernet0/1", linkKeys(result.Links))
	}
	if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("devices = %v, want C never recorded", got)
	}
}

func TestRun_AbbreviatedInterfaceExclusion(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("B", "Gi0/1", "Gi0/2", "10.0.0.2")}},
		"10.0.0.2": {},
	})
	cfg := config.NewConfig()
	cfg.ExcludeInterfaces = []string{"Gi0/1"}

	result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Links) != 0 {
		t.Errorf("links = %v, want none", linkKeys(result.Links))
	}
	if got := deviceNames(result.Devices); !slices.Equal(got, []string{"A"}) {
		t.Errorf("devices = %v, want [A]", got)
	}
	if net.dials("10.0.0.2") != 0 {
		t.Error("device behind an excluded interface was contacted")
	}
}

func TestRun_NeighborWithoutPort(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("B", "Gi0/1", "", "10.0.0.2")}},
		"10.0.0.2": {},
	})
	cfg := config.NewConfig()
	cfg.AddUnconnectedInterfaces = true

	result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Links) != 0 {
		t.Errorf("links = %v, want none without a remote port", linkKeys(result.Links))
	}
	b, ok := result.Device("B")
	if !ok || b.Status != model.StatusVisited {
		t.Fatalf("B = %+v, want discovered and visited", b)
	}
	if _, ok := b.Interfaces[""]; ok {
		t.Errorf("B interfaces = %v, want no empty name", b.Interfaces)
	}
	a, _ := result.Device("A")
	if _, ok := a.Interfaces["GigabitEthernet0/1"]; !ok {
		t.Errorf("A interfaces = %v, want GigabitEthernet0/1", a.Interfaces)
	}
}

func TestRun_NetworkExclusionFromBothEnds(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("B", "Gi1", "Gi1", "10.9.0.2")}},
		"10.9.0.2": {neighbors: []model.Neighbor{neighbor("A", "Gi1", "Gi1", "10.0.0.1")}},
	})
	cfg := config.NewConfig()
	cfg.ExcludeNetworks = []string{"10.9.0.0/16", "not-a-cidr"}

	result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1"), seed("B", "10.9.0.2")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Links) != 0 {
		t.Errorf("links = %v, want none", linkKeys(result.Links))
	}
	b, ok := result.Device("B")
	if !ok || b.Status != model.StatusVisited {
		t.Errorf("seed B = %+v, want visited and kept", b)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "not-a-cidr") {
		t.Errorf("warnings = %v, want the malformed range", result.Warnings)
	}
}

func TestRun_FailedDeviceDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	net := newFakeNetwork(map[string]*fakeNode{
		"10.0.0.1": {neighbors: []model.Neighbor{neighbor("B", "Gi1", "Gi1", "10.0.0.2")}},
		"10.0.0.2": {unreachable: true},
		"10.0.0.3": {},
	})
	cfg := config.NewConfig()
	cfg.Timeout = time.Second

	result, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1"), seed("C", "10.0.0.3")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	summary := result.Summary()
	if !slices.Equal(summary.Failed, []string{"B"}) {
		t.Errorf("failed = %v, want [B]", summary.Failed)
	}
	if summary.Counts[model.StatusVisited] != 2 {
		t.Errorf("visited = %d, want 2", summary.Counts[model.StatusVisited])
	}
	b, _ := result.Device("B")
	if !strings.Contains(b.Failure, "could not connect") {
		t.Errorf("B failure = %q", b.Failure)
	}
	if got := len(result.Attempts["B"]); got != 2 {
		t.Errorf("B attempts = %d, want ssh and telnet", got)
	}
	if !strings.Contains(summary.String(), "failed=1") {
		t.Errorf("Summary.String() = %q", summary.String())
	}
}

func yes(string) (bool, error) { return true, nil }

func TestRun_ConfigDiscovery(t *testing.T) {
	t.Parallel()

	t.Run("restores state even when discovery fails", func(t *testing.T) {
		t.Parallel()
		node := &fakeNode{
			running:  map[model.DiscoveryProtocol]bool{model.DiscoveryCDP: false, model.DiscoveryLLDP: true},
			queryErr: errors.New("parser blew up"),
		}
		net := newFakeNetwork(map[string]*fakeNode{"10.0.0.1": node})
		cfg := config.NewConfig()
		cfg.ConfigDiscovery = true

		result, err := newCrawler(cfg, net, WithConfirm(yes)).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if node.running[model.DiscoveryCDP] {
			t.Error("cdp left enabled")
		}
		if !slices.Equal(node.changes, []string{"cdp=on", "cdp=off"}) {
			t.Errorf("changes = %v", node.changes)
		}
		a, _ := result.Device("A")
		if a.Status != model.StatusFailed || !strings.Contains(a.Failure, "neighbor discovery failed") {
			t.Errorf("A = %+v, want failed on discovery", a)
		}
		if result.PendingRollbacks != 0 {
			t.Errorf("PendingRollbacks = %d", result.PendingRollbacks)
		}
	})

	t.Run("failed rollback is counted", func(t *testing.T) {
		t.Parallel()
		node := &fakeNode{
			running:    map[model.DiscoveryProtocol]bool{},
			disableErr: errors.New("session dropped"),
		}
		net := newFakeNetwork(map[string]*fakeNode{"10.0.0.1": node})
		cfg := config.NewConfig()
		cfg.ConfigDiscovery = true
		var out bytes.Buffer

		result, err := newCrawler(cfg, net, WithConfirm(yes), WithConsole(applog.NewConsole(&out))).
			Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if result.PendingRollbacks != 1 {
			t.Errorf("PendingRollbacks = %d, want 1", result.PendingRollbacks)
		}
		a, _ := result.Device("A")
		if a.Status != model.StatusVisited {
			t.Errorf("status = %s, want visited", a.Status)
		}
		if !strings.Contains(out.String(), applog.WarningTag) {
			t.Errorf("console = %q, want a warning line", out.String())
		}
	})

	t.Run("consent declined contacts nothing", func(t *testing.T) {
		t.Parallel()
		net := exampleNetwork()
		cfg := config.NewConfig()
		cfg.ConfigDiscovery = true

		_, err := newCrawler(cfg, net, WithConfirm(func(string) (bool, error) { return false, nil })).
			Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
		if !errors.Is(err, safety.ErrConsentDeclined) {
			t.Fatalf("Run() error = %v, want ErrConsentDeclined", err)
		}
		if net.dials("10.0.0.1") != 0 {
			t.Error("device contacted after declined consent")
		}
	})

	t.Run("disable config never touches devices", func(t *testing.T) {
		t.Parallel()
		node := &fakeNode{running: map[model.DiscoveryProtocol]bool{}}
		net := newFakeNetwork(map[string]*fakeNode{"10.0.0.1": node})
		cfg := config.NewConfig()
		cfg.DisableConfig = true

		if _, err := newCrawler(cfg, net).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")}); err != nil {
			t.Fatal(err)
		}
		if len(node.changes) != 0 {
			t.Errorf("changes = %v, want none", node.changes)
		}
	})
}

func TestRun_UnconnectedInterfaces(t *testing.T) {
	t.Parallel()

	build := func() *fakeNetwork {
		return newFakeNetwork(map[string]*fakeNode{
			"10.0.0.1": {
				neighbors: []model.Neighbor{neighbor("B", "Gi1", "Gi1", "10.0.0.2")},
				ifaces: []model.Interface{
					{Name: "GigabitEthernet1", IPv4: "10.0.0.1"},
					{Name: "GigabitEthernet9"},
				},
			},
			"10.0.0.2": {},
		})
	}

	result, err := newCrawler(config.NewConfig(), build()).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := result.Device("A")
	if len(a.Interfaces) != 1 || a.Interfaces["GigabitEthernet1"].IPv4 != "10.0.0.1" {
		t.Errorf("interfaces = %v, want only the linked one with its address", a.Interfaces)
	}

	cfg := config.NewConfig()
	cfg.AddUnconnectedInterfaces = true
	result, err = newCrawler(cfg, build()).Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	a, _ = result.Device("A")
	if _, ok := a.Interfaces["GigabitEthernet9"]; !ok {
		t.Errorf("interfaces = %v, want unconnected GigabitEthernet9", a.Interfaces)
	}
}

func TestRun_ProxyCandidates(t *testing.T) {
	t.Parallel()

	net := exampleNetwork()
	result, err := newCrawler(config.NewConfig(), net, WithProxies("jump:1080")).
		Run(context.Background(), []model.Device{seed("A", "10.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := result.Device("B")
	want := []model.Address{
		{Name: "default", Protocol: model.ProtocolSSH, Host: "10.0.0.2", Proxy: "jump:1080"},
		{Name: "a1", Host: "10.0.0.2"},
	}
	if !slices.Equal(b.Addresses, want) {
		t.Errorf("addresses = %+v, want %+v", b.Addresses, want)
	}
	if b.Credential == nil || b.Credential.Username != "admin" {
		t.Errorf("credential = %+v, want the resolved universal login", b.Credential)
	}
}

func TestRun_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	net := exampleNetwork()

	result, err := newCrawler(config.NewConfig(), net).Run(ctx, []model.Device{seed("A", "10.0.0.1")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if result == nil || len(result.Devices) != 1 || result.Devices[0].Status != model.StatusUnvisited {
		t.Errorf("result = %+v, want the untouched seed", result)
	}
	if net.dials("10.0.0.1") != 0 {
		t.Error("device contacted after cancellation")
	}
}
