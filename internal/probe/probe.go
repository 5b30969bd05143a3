// Package probe checks candidate management ports with nmap before the
// connection manager spends a full timeout dialing them.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
)

// ErrNoTargets is returned when Probe is called without hosts or ports.
var ErrNoTargets = errors.New("no probe targets")

// PortState is the state nmap reported for a port.
type PortState string

// Port states used by the connection manager. nmap reports others
// (open|filtered, unfiltered) which are treated like filtered.
const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
)

// Result holds port states per host.
type Result struct {
	ports map[string]map[int]PortState
}

// NewResult returns an empty Result ready for Set.
func NewResult() Result {
	return Result{ports: make(map[string]map[int]PortState)}
}

// Set records the state of host:port.
func (r Result) Set(host string, port int, st PortState) {
	if r.ports[host] == nil {
		r.ports[host] = make(map[int]PortState)
	}
	r.ports[host][port] = st
}

// State returns the state of host:port. ok is false when the port was not
// scanned or the host did not answer.
func (r Result) State(host string, port int) (PortState, bool) {
	st, ok := r.ports[host][port]
	return st, ok
}

// Closed reports whether host:port is known to be closed.
func (r Result) Closed(host string, port int) bool {
	st, ok := r.State(host, port)
	return ok && st == PortClosed
}

// Prober checks TCP ports on a set of hosts.
type Prober interface {
	Probe(ctx context.Context, hosts []string, ports []int) (Result, error)
}

// NmapProber runs an nmap TCP scan without host discovery.
type NmapProber struct {
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an NmapProber.
type Option func(*NmapProber)

// WithTimeout bounds a single scan.
func WithTimeout(d time.Duration) Option {
	return func(p *NmapProber) {
		p.timeout = d
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *NmapProber) {
		p.logger = l
	}
}

// NewNmapProber creates an NmapProber. The nmap binary must be in PATH.
func NewNmapProber(opts ...Option) *NmapProber {
	p := &NmapProber{
		timeout: 30 * time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe scans ports on hosts.
func (p *NmapProber) Probe(ctx context.Context, hosts []string, ports []int) (Result, error) {
	if len(hosts) == 0 || len(ports) == 0 {
		return Result{}, ErrNoTargets
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(hosts...),
		nmap.WithPorts(joinPorts(ports)),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create scanner: %w", err)
	}

	run, warnings, err := scanner.Run()
	if err != nil {
		return Result{}, fmt.Errorf("scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		p.logger.Debug("nmap warnings", "hosts", hosts, "warnings", *warnings)
	}

	result := parseRun(run)
	p.logger.Debug("probe", "hosts", hosts, "ports", ports, "scanned", len(result.ports))
	return result, nil
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func parseRun(run *nmap.Run) Result {
	result := NewResult()
	if run == nil {
		return result
	}

	for _, host := range run.Hosts {
		if len(host.Addresses) == 0 || host.Status.State != "up" {
			continue
		}

		states := make(map[int]PortState, len(host.Ports))
		for _, port := range host.Ports {
			if port.Protocol != "" && port.Protocol != "tcp" {
				continue
			}
			switch port.State.State {
			case string(PortOpen):
				states[int(port.ID)] = PortOpen
			case string(PortClosed):
				states[int(port.ID)] = PortClosed
			default:
				states[int(port.ID)] = PortFiltered
			}
		}

		// index by every address and hostname nmap knows for the host
		for _, addr := range host.Addresses {
			if addr.AddrType == "mac" {
				continue
			}
			result.ports[addr.Addr] = states
		}
		for _, hn := range host.Hostnames {
			if hn.Name != "" {
				result.ports[hn.Name] = states
			}
		}
	}
	return result
}
