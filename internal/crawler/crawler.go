package crawler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/discovery"
	applog "github.com/nao1215/topocrawl/internal/log"
	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/policy"
	"github.com/nao1215/topocrawl/internal/safety"
	"github.com/nao1215/topocrawl/internal/session"
)

// Connector opens a session on a device. *connect.Manager implements it.
type Connector interface {
	Connect(ctx context.Context, dev model.Device) (*connect.Connection, error)
}

// Discoverer returns the neighbors of a device. *discovery.Engine
// implements it.
type Discoverer interface {
	Discover(ctx context.Context, device string, q discovery.Querier) ([]model.Neighbor, error)
}

// Backend is everything the crawler asks of an open session.
type Backend interface {
	safety.Target
	discovery.Querier
	discovery.InterfaceLister
}

// BackendFunc wraps a session into a Backend.
type BackendFunc func(session.Session) Backend

// Crawler builds the topology graph from a set of seed devices.
// It visits devices breadth-first, one session per device, and merges every
// neighbor record into a single graph.
//
// Design decision: workers only talk to devices. All graph changes happen
// under mu, after the session is closed, so:
//  1. a device is claimed by exactly one worker
//  2. a slow device never holds the lock
type Crawler struct {
	// cfg holds the crawl options: workers, exclusions, only-links and the
	// config-discovery switches.
	cfg *config.Config

	// connector opens a session on a claimed device.
	connector Connector

	// discoverer queries CDP and LLDP on an open session.
	discoverer Discoverer

	// backend turns a session into the commands the crawler needs.
	// It defaults to the IOS CLI.
	backend BackendFunc

	// safety enables discovery protocols when allowed and rolls them back
	// before the session closes.
	safety *safety.Controller

	// confirm asks the operator for consent before any device is changed.
	confirm safety.ConfirmFunc

	// policy holds the excluded networks and interface patterns.
	// Seeds are never excluded.
	policy *policy.Exclusion

	// proxies are the SOCKS5 jump hosts offered to discovered devices.
	proxies []string

	// logger receives per-device debug records.
	logger *slog.Logger

	// console prints operator progress lines.
	console *applog.Console

	// now is the clock used for the crawl timestamps.
	now func() time.Time

	// mu protects st and every device record in it.
	mu sync.Mutex

	// st is the discovery state of the running crawl.
	st *state

	// wake is signalled when a worker finishes, so the claim loop can look
	// at the frontier again.
	wake chan struct{}

	// warns are policy warnings raised before the crawl starts.
	warns []string
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithBackend replaces the IOS CLI backend.
func WithBackend(fn BackendFunc) Option {
	return func(c *Crawler) {
		c.backend = fn
	}
}

// WithConfirm sets the consent prompt used when config-discovery is on.
func WithConfirm(fn safety.ConfirmFunc) Option {
	return func(c *Crawler) {
		c.confirm = fn
	}
}

// WithProxies sets the SOCKS5 jump hosts offered to newly discovered devices.
func WithProxies(proxies ...string) Option {
	return func(c *Crawler) {
		c.proxies = append(c.proxies, proxies...)
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) {
		c.logger = l
	}
}

// WithConsole sets the operator console.
func WithConsole(con *applog.Console) Option {
	return func(c *Crawler) {
		c.console = con
	}
}

// New creates a Crawler. Malformed exclusion ranges are reported on the
// console and skipped.
func New(cfg *config.Config, connector Connector, discoverer Discoverer, opts ...Option) *Crawler {
	c := &Crawler{
		cfg:        cfg,
		connector:  connector,
		discoverer: discoverer,
		backend:    func(s session.Session) Backend { return discovery.NewCLI(s) },
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.Proxy != "" {
		c.proxies = append(c.proxies, cfg.Proxy)
	}

	var errs []error
	c.policy, errs = policy.New(cfg.ExcludeNetworks, cfg.ExcludeInterfaces)
	for _, err := range errs {
		c.console.Warningf("skipping exclusion range: %v", err)
		c.warns = append(c.warns, err.Error())
	}
	if !c.policy.Empty() {
		c.logger.Debug("exclusion policy", "networks", c.policy.Networks(), "interfaces", c.policy.Interfaces())
	}

	c.safety = safety.NewController(cfg.ConfigDiscovery, cfg.DisableConfig, safety.WithLogger(c.logger))
	return c
}

// Run crawls from the seeds until no device is left to visit or ctx is
// cancelled. On cancellation the partial result is returned with ctx.Err().
func (c *Crawler) Run(ctx context.Context, seeds []model.Device) (*Result, error) {
	if err := c.safety.RequestConsent(c.confirm); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.st = newState()
	c.st.warnings = append(c.st.warnings, c.warns...)
	for _, seed := range seeds {
		c.addSeed(seed)
	}
	c.mu.Unlock()

	started := c.now()
	c.console.Infof("Starting topology discovery from %d seed devices", len(seeds))

	var g errgroup.Group
	g.SetLimit(max(c.cfg.Workers, 1))

	for ctx.Err() == nil {
		c.mu.Lock()
		dev, ok := c.st.claim()
		idle := !ok && c.st.idle()
		c.mu.Unlock()

		if idle {
			break
		}
		if !ok {
			select {
			case <-c.wake:
			case <-ctx.Done():
			}
			continue
		}

		g.Go(func() error {
			defer c.done()
			c.visit(ctx, dev)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	result := c.result(started, c.now())
	c.mu.Unlock()

	if result.PendingRollbacks > 0 {
		c.console.Warningf("%d devices still have discovery protocols enabled by this crawl", result.PendingRollbacks)
	}
	c.console.Infof("Discovery finished: %d devices, %d links", len(result.Devices), len(result.Links))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Crawler) done() {
	c.mu.Lock()
	c.st.inflight--
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// addSeed stores a seed device. Seeds are never excluded by policy.
func (c *Crawler) addSeed(seed model.Device) {
	dev := seed.Clone()
	dev.Seed = true
	dev.Status = model.StatusUnvisited
	dev.DiscoveredVia = model.SeedVia
	if dev.ID == "" {
		dev.ID = identity(dev.Hostname, dev.Hosts())
	}

	if existing := c.st.lookup(dev.Hostname, dev.Hosts()); existing != nil {
		c.st.merge(existing, &dev)
		return
	}
	c.st.add(&dev)
	c.st.enqueue(dev.ID)
}

// visit processes one claimed device: connect, enable discovery, query,
// roll back, close and merge.
func (c *Crawler) visit(ctx context.Context, dev model.Device) {
	name := dev.Name()
	c.logger.Debug("visiting device", "device", name, "id", dev.ID)

	conn, err := c.connector.Connect(ctx, dev)
	if err != nil {
		var cf *connect.ConnectionFailure
		var attempts []connect.Attempt
		if errors.As(err, &cf) {
			attempts = cf.Attempts
		}
		c.console.Warningf("Failed to connect to %s: %v", name, err)
		c.mu.Lock()
		c.fail(dev.ID, err, attempts)
		c.mu.Unlock()
		return
	}
	c.console.Infof("Connected to %s via %s %s", name, conn.Protocol, conn.Address.Dial(conn.Protocol))

	backend := c.backend(conn.Session)
	token, err := c.safety.EnsureDiscoveryEnabled(ctx, name, backend)
	if err != nil {
		c.console.Warningf("Could not read discovery protocol state on %s: %v", name, err)
	}

	neighbors, derr := c.discoverer.Discover(ctx, name, backend)
	var ifaces []model.Interface
	if derr == nil {
		ifaces, err = backend.Interfaces(ctx)
		if err != nil {
			c.logger.Debug("interface listing failed", "device", name, "error", err.Error())
		}
	}

	rerr := c.safety.Release(ctx, backend, token)
	if rerr != nil {
		c.console.Warningf("%v", rerr)
	}
	if err := conn.Session.Close(); err != nil {
		c.logger.Debug("session close failed", "device", name, "error", err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if rerr != nil {
		c.st.pending++
	}
	c.st.attempts[dev.ID] = append(c.st.attempts[dev.ID], conn.Attempts...)
	if d := c.st.devices[dev.ID]; d != nil && d.Credential == nil {
		cred := conn.Credential
		d.Credential = &cred
	}
	if derr != nil {
		c.console.Warningf("Neighbor discovery failed on %s: %v", name, derr)
		c.fail(dev.ID, derr, nil)
		return
	}
	c.mergeNeighbors(dev.ID, conn.Address, neighbors, ifaces)
	c.st.devices[dev.ID].Status = model.StatusVisited
	c.console.Infof("Found %d neighbors on %s", len(neighbors), name)
}

// fail marks a device Failed. The caller holds c.mu.
func (c *Crawler) fail(id string, err error, attempts []connect.Attempt) {
	dev := c.st.devices[id]
	dev.Status = model.StatusFailed
	dev.Failure = err.Error()
	c.st.attempts[id] = append(c.st.attempts[id], attempts...)
}

// mergeNeighbors applies exclusion and merges the neighbors reported by
// parent into the graph. The caller holds c.mu.
func (c *Crawler) mergeNeighbors(parentID string, via model.Address, neighbors []model.Neighbor, ifaces []model.Interface) {
	parent := c.st.devices[parentID]
	for _, iface := range ifaces {
		parent.SetInterface(iface)
	}
	sessionExcluded := c.policy.ExcludesAddress(via.Host)

	for _, n := range neighbors {
		if c.policy.ExcludesInterface(n.LocalInterface) || c.policy.ExcludesInterface(n.RemoteInterface) {
			c.logger.Debug("neighbor dropped by interface exclusion", "device", parent.Name(),
				"local", n.LocalInterface, "remote", n.RemoteInterface)
			continue
		}
		addrExcluded := c.policy.ExcludesAny(n.Addresses)

		target := c.st.lookup(n.Hostname, n.Addresses)
		switch {
		case target == nil:
			target = c.newDevice(parent, n)
			if addrExcluded || c.cfg.OnlyLinks {
				target.Status = model.StatusExcluded
				target.Failure = c.exclusionReason(addrExcluded)
				c.st.add(target)
				c.logger.Debug("neighbor excluded", "device", target.Name(), "reason", target.Failure)
				continue
			}
			c.st.add(target)
			c.st.enqueue(target.ID)
			c.logger.Debug("new device queued", "device", target.Name(), "via", target.DiscoveredVia)
		default:
			c.st.merge(target, c.newDevice(parent, n))
			if addrExcluded && !target.Seed && target.Status == model.StatusUnvisited {
				target.Status = model.StatusExcluded
				target.Failure = c.exclusionReason(true)
			}
		}

		if c.cfg.OnlyLinks && !target.Seed {
			if target.Status == model.StatusUnvisited {
				target.Status = model.StatusExcluded
				target.Failure = c.exclusionReason(false)
			}
			continue
		}
		if addrExcluded || sessionExcluded || target.Status == model.StatusExcluded {
			continue
		}

		if n.LocalInterface == "" || n.RemoteInterface == "" {
			c.logger.Debug("neighbor record without a port, no link recorded", "device", parent.Name(),
				"neighbor", target.Name(), "local", n.LocalInterface, "remote", n.RemoteInterface)
			if n.LocalInterface != "" {
				parent.SetInterface(model.Interface{Name: n.LocalInterface})
			}
			continue
		}
		parent.SetInterface(model.Interface{Name: n.LocalInterface})
		target.SetInterface(model.Interface{Name: n.RemoteInterface})
		c.st.link(
			model.Endpoint{Device: parent.ID, Interface: n.LocalInterface},
			model.Endpoint{Device: target.ID, Interface: n.RemoteInterface},
			n.Protocol,
			c.cfg.OnlyLinks,
		)
	}
}

func (c *Crawler) exclusionReason(byAddress bool) string {
	if byAddress {
		return "address in excluded network"
	}
	return "not a seed device (only-links)"
}

// newDevice builds the record of a reported neighbor. Each address gets one
// ssh candidate per known proxy and then a direct candidate.
func (c *Crawler) newDevice(parent *model.Device, n model.Neighbor) *model.Device {
	dev := &model.Device{
		ID:            identity(n.Hostname, n.Addresses),
		Hostname:      n.Hostname,
		OS:            n.OS,
		Platform:      n.Platform,
		Type:          "device",
		Status:        model.StatusUnvisited,
		DiscoveredVia: parent.Name() + ":" + n.LocalInterface,
	}
	for _, host := range n.Addresses {
		for _, proxy := range c.proxies {
			dev.AddAddress(model.Address{Name: c.candidateName(len(dev.Addresses)), Protocol: model.ProtocolSSH, Host: host, Proxy: proxy})
		}
		dev.AddAddress(model.Address{Name: c.candidateName(len(dev.Addresses)), Host: host})
	}
	return dev
}

func (c *Crawler) candidateName(i int) string {
	if i == 0 {
		return "default"
	}
	return "a" + strconv.Itoa(i)
}
