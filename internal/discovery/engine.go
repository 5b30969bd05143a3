package discovery

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/nao1215/topocrawl/internal/model"
)

// Querier reads the neighbor table of one protocol.
type Querier interface {
	Neighbors(ctx context.Context, proto model.DiscoveryProtocol) ([]model.Neighbor, error)
}

// InterfaceLister lists the interfaces configured on a device.
type InterfaceLister interface {
	Interfaces(ctx context.Context) ([]model.Interface, error)
}

// Engine runs neighbor discovery on one device at a time. It holds no
// per-device state and is safe for concurrent use.
type Engine struct {
	// protocols is the query order, CDP first by default.
	protocols []model.DiscoveryProtocol

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithProtocols overrides the query order.
func WithProtocols(protos ...model.DiscoveryProtocol) Option {
	return func(e *Engine) {
		e.protocols = protos
	}
}

// WithLogger sets the logger used for per-protocol failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an Engine that queries CDP then LLDP.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		protocols: model.DiscoveryProtocols(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover returns the normalized, merged neighbors of a device. A device
// with no neighbors yields an empty slice and no error. A protocol that
// fails is logged and skipped; only when all of them fail is a *QueryError
// returned.
func (e *Engine) Discover(ctx context.Context, device string, q Querier) ([]model.Neighbor, error) {
	var all []model.Neighbor
	var failures []ProtocolError
	for _, proto := range e.protocols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := q.Neighbors(ctx, proto)
		if err != nil {
			e.logger.Debug("neighbor query failed", "device", device, "protocol", string(proto), "error", err.Error())
			failures = append(failures, ProtocolError{Protocol: proto, Err: err})
			continue
		}
		for _, n := range records {
			n.Protocol = proto
			if n = Normalize(n); n.Hostname == "" || n.LocalInterface == "" {
				e.logger.Debug("dropping incomplete neighbor record", "device", device, "protocol", string(proto))
				continue
			}
			all = append(all, n)
		}
	}

	if len(e.protocols) > 0 && len(failures) == len(e.protocols) {
		return nil, &QueryError{Device: device, Errors: failures}
	}
	return Merge(all), nil
}

// Merge folds records describing the same adjacency, that is with equal
// local and remote interfaces. The first record wins every field it has;
// addresses are unioned in order.
func Merge(records []model.Neighbor) []model.Neighbor {
	out := make([]model.Neighbor, 0, len(records))
	index := make(map[string]int, len(records))
	for _, n := range records {
		key := strings.ToLower(n.LocalInterface) + "|" + strings.ToLower(n.RemoteInterface)
		i, ok := index[key]
		if !ok {
			n.Addresses = slices.Clone(n.Addresses)
			index[key] = len(out)
			out = append(out, n)
			continue
		}

		kept := &out[i]
		for _, a := range n.Addresses {
			if !slices.Contains(kept.Addresses, a) {
				kept.Addresses = append(kept.Addresses, a)
			}
		}
		if kept.Platform == "" {
			kept.Platform = n.Platform
		}
		if kept.OS == "" {
			kept.OS = n.OS
		}
	}
	return out
}
