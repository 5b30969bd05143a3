package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/nao1215/topocrawl/internal/model"
)

// DefaultCommandTimeout bounds a single command when the caller's context
// has no deadline.
const DefaultCommandTimeout = 30 * time.Second

// Session is an open management session on one device.
type Session interface {
	// Exec runs a show command and returns its output without the echoed
	// command or the trailing prompt.
	Exec(ctx context.Context, cmd string) (string, error)

	// Configure sends configuration lines, wrapped in configure terminal and end.
	Configure(ctx context.Context, lines []string) error

	// Protocol returns the session protocol.
	Protocol() model.Protocol

	// Address returns the candidate the session was opened on.
	Address() model.Address

	io.Closer
}

// Dialer opens sessions. The connection manager depends on this interface so
// tests can substitute scripted sessions.
type Dialer interface {
	Dial(ctx context.Context, addr model.Address, proto model.Protocol, cred model.Credential) (Session, error)
}

// Transport is the production Dialer.
type Transport struct {
	proxies        *proxyPool
	commandTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithCommandTimeout sets the per-command timeout used when the context has
// no deadline.
func WithCommandTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.commandTimeout = d
	}
}

// WithLogger sets the debug logger that records every command.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// NewTransport creates a Transport.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		proxies:        newProxyPool(),
		commandTimeout: DefaultCommandTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial opens a session on addr with the given protocol. The context bounds
// connection setup and login only.
func (t *Transport) Dial(ctx context.Context, addr model.Address, proto model.Protocol, cred model.Credential) (Session, error) {
	conn, err := t.dialTCP(ctx, addr, proto)
	if err != nil {
		return nil, err
	}

	var s Session
	switch proto {
	case model.ProtocolSSH:
		s, err = newSSHSession(ctx, conn, addr, cred, t.commandTimeout, t.logger)
	case model.ProtocolTelnet:
		s, err = newTelnetSession(ctx, conn, addr, cred, t.commandTimeout, t.logger)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedProtocol, proto)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (t *Transport) dialTCP(ctx context.Context, addr model.Address, proto model.Protocol) (net.Conn, error) {
	if proto != model.ProtocolSSH && proto != model.ProtocolTelnet {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, proto)
	}
	target := addr.Dial(proto)

	if addr.Proxy == "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", target, err)
		}
		return conn, nil
	}

	d, err := t.proxies.get(addr.Proxy)
	if err != nil {
		return nil, err
	}
	conn, err := dialWithContext(ctx, d, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s via %s: %w", target, addr.Proxy, err)
	}
	return conn, nil
}

// commandContext applies the default command timeout when ctx has no deadline.
func commandContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// configLines wraps lines in configure terminal / end.
func configLines(lines []string) []string {
	out := make([]string, 0, len(lines)+2)
	out = append(out, "configure terminal")
	out = append(out, lines...)
	return append(out, "end")
}
