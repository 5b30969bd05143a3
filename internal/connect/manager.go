package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/probe"
	"github.com/nao1215/topocrawl/internal/session"
)

// CredentialResolver supplies the login for a device.
type CredentialResolver interface {
	Resolve(ctx context.Context, dev model.Device) (model.Credential, error)
}

// Candidate is one (address, protocol) pair to dial.
type Candidate struct {
	Address  model.Address
	Protocol model.Protocol
}

// Key identifies the candidate across the crawl.
func (c Candidate) Key() string {
	return c.Address.Key(c.Protocol)
}

// Attempt records one connection attempt.
type Attempt struct {
	Device   string         `json:"device"`
	Address  model.Address  `json:"address"`
	Protocol model.Protocol `json:"protocol"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration"`
	Err      error          `json:"-"`
}

// Key identifies the attempted candidate.
func (a Attempt) Key() string {
	return a.Address.Key(a.Protocol)
}

// Succeeded reports whether the attempt opened a session.
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Connection is an open session together with how it was obtained.
type Connection struct {
	Session    session.Session
	Address    model.Address
	Protocol   model.Protocol
	Credential model.Credential
	Attempts   []Attempt
}

// Protocols returns the allowed protocol set in preference order.
func Protocols(sshOnly, telnetOnly bool) []model.Protocol {
	switch {
	case sshOnly:
		return []model.Protocol{model.ProtocolSSH}
	case telnetOnly:
		return []model.Protocol{model.ProtocolTelnet}
	default:
		return []model.Protocol{model.ProtocolSSH, model.ProtocolTelnet}
	}
}

// AliasFunc returns the preferred connection alias for a device known by
// the given names, or "".
type AliasFunc func(names ...string) string

// Manager opens sessions. It is safe for concurrent use by crawl workers.
type Manager struct {
	// dialer opens the ssh and telnet sessions.
	dialer session.Dialer

	// creds picks the login for each device.
	creds CredentialResolver

	// prober, when set, drops candidates whose port is closed before dialing.
	prober probe.Prober

	// protocols is the allowed protocol set in preference order.
	protocols []model.Protocol

	// timeout bounds a single attempt.
	timeout time.Duration

	// aliasFor names the preferred connection of a device, if any.
	aliasFor AliasFunc

	logger *slog.Logger

	// mu protects failed.
	mu sync.Mutex

	// failed remembers candidates that could not be reached, by Candidate.Key.
	// Unresolvable credentials and cancellations are not recorded.
	failed map[string]error
}

// Option configures a Manager.
type Option func(*Manager)

// WithProtocols sets the allowed protocols in preference order.
func WithProtocols(protocols ...model.Protocol) Option {
	return func(m *Manager) {
		m.protocols = protocols
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithAliases sets the operator alias lookup.
func WithAliases(fn AliasFunc) Option {
	return func(m *Manager) {
		m.aliasFor = fn
	}
}

// WithProber enables port probing before dialing direct candidates.
func WithProber(p probe.Prober) Option {
	return func(m *Manager) {
		m.prober = p
	}
}

// WithLogger sets the debug logger that records every attempt.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager.
func NewManager(dialer session.Dialer, creds CredentialResolver, opts ...Option) *Manager {
	m := &Manager{
		dialer:    dialer,
		creds:     creds,
		protocols: Protocols(false, false),
		timeout:   10 * time.Second,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		failed:    make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Candidates returns the ordered candidates for dev.
func (m *Manager) Candidates(dev model.Device) []Candidate {
	alias := ""
	if m.aliasFor != nil {
		alias = m.aliasFor(append([]string{dev.Hostname, dev.ID}, dev.Aliases...)...)
	}

	preferred := make([]model.Address, 0, len(dev.Addresses))
	rest := make([]model.Address, 0, len(dev.Addresses))
	for _, a := range dev.Addresses {
		if alias != "" && (strings.EqualFold(a.Name, alias) || a.Host == alias) {
			preferred = append(preferred, a)
		} else {
			rest = append(rest, a)
		}
	}

	var out []Candidate
	for _, a := range append(preferred, rest...) {
		if a.Host == "" {
			continue
		}
		if a.Protocol != "" {
			if m.allowed(a.Protocol) {
				out = append(out, Candidate{Address: a, Protocol: a.Protocol})
			}
			continue
		}
		for _, p := range m.protocols {
			out = append(out, Candidate{Address: a, Protocol: p})
		}
	}
	return out
}

func (m *Manager) allowed(p model.Protocol) bool {
	for _, allowed := range m.protocols {
		if allowed == p {
			return true
		}
	}
	return false
}

// Connect opens a session on dev using the first candidate that succeeds.
// On failure it returns a *ConnectionFailure.
func (m *Manager) Connect(ctx context.Context, dev model.Device) (*Connection, error) {
	name := dev.Name()
	cands := m.Candidates(dev)
	if len(cands) == 0 {
		return nil, &ConnectionFailure{Device: name, Cause: ErrNoCandidates}
	}

	cred, credErr := m.creds.Resolve(ctx, dev)
	if credErr != nil {
		m.logger.Debug("credential", "device", name, "error", credErr.Error())
	}

	var probed probe.Result
	if credErr == nil {
		probed = m.probe(ctx, name, cands)
	}

	attempts := make([]Attempt, 0, len(cands))
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionFailure{Device: name, Attempts: attempts, Cause: err}
		}

		attempt := Attempt{Device: name, Address: c.Address, Protocol: c.Protocol, Started: time.Now()}

		switch prev := m.failedBefore(c.Key()); {
		case prev != nil:
			attempt.Err = fmt.Errorf("%w: %v", ErrCandidateFailedBefore, prev)
		case credErr != nil:
			attempt.Err = credErr
		case c.Address.Proxy == "" && probed.Closed(c.Address.Host, c.Address.PortFor(c.Protocol)):
			attempt.Err = ErrPortClosed
			m.markFailed(c.Key(), ErrPortClosed)
		}
		if attempt.Err != nil {
			attempts = append(attempts, attempt)
			m.logAttempt(attempt)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.timeout)
		sess, err := m.dialer.Dial(attemptCtx, c.Address, c.Protocol, cred)
		cancel()

		attempt.Duration = time.Since(attempt.Started)
		attempt.Err = err
		attempts = append(attempts, attempt)
		m.logAttempt(attempt)

		if err == nil {
			return &Connection{
				Session:    sess,
				Address:    c.Address,
				Protocol:   c.Protocol,
				Credential: cred,
				Attempts:   attempts,
			}, nil
		}
		// a cancelled crawl says nothing about the candidate
		if ctx.Err() == nil {
			m.markFailed(c.Key(), err)
		}
	}

	return nil, &ConnectionFailure{Device: name, Attempts: attempts}
}

func (m *Manager) probe(ctx context.Context, device string, cands []Candidate) probe.Result {
	if m.prober == nil {
		return probe.Result{}
	}

	var hosts []string
	var ports []int
	seenHost := make(map[string]bool)
	seenPort := make(map[int]bool)
	for _, c := range cands {
		if c.Address.Proxy != "" {
			continue
		}
		if !seenHost[c.Address.Host] {
			seenHost[c.Address.Host] = true
			hosts = append(hosts, c.Address.Host)
		}
		if p := c.Address.PortFor(c.Protocol); !seenPort[p] {
			seenPort[p] = true
			ports = append(ports, p)
		}
	}
	if len(hosts) == 0 {
		return probe.Result{}
	}

	result, err := m.prober.Probe(ctx, hosts, ports)
	if err != nil {
		m.logger.Debug("probe failed", "device", device, "error", err.Error())
		return probe.Result{}
	}
	return result
}

func (m *Manager) failedBefore(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[key]
}

func (m *Manager) markFailed(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.failed[key]; !ok {
		m.failed[key] = err
	}
}

func (m *Manager) logAttempt(a Attempt) {
	attrs := []any{
		"device", a.Device,
		"address", a.Address.Dial(a.Protocol),
		"protocol", string(a.Protocol),
		"duration", a.Duration,
	}
	if a.Address.Name != "" {
		attrs = append(attrs, "alias", a.Address.Name)
	}
	if a.Address.Proxy != "" {
		attrs = append(attrs, "proxy", a.Address.Proxy)
	}
	if a.Err != nil {
		attrs = append(attrs, "error", a.Err.Error())
		level := slog.LevelDebug
		if errors.Is(a.Err, ErrCandidateFailedBefore) {
			level = slog.LevelDebug - 1
		}
		m.logger.Log(context.Background(), level, "connection attempt failed", attrs...)
		return
	}
	m.logger.Debug("connection attempt succeeded", attrs...)
}
