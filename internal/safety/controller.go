package safety

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nao1215/topocrawl/internal/model"
)

// Querier reports whether a discovery protocol is running on a device.
type Querier interface {
	DiscoveryEnabled(ctx context.Context, proto model.DiscoveryProtocol) (bool, error)
}

// Configurator turns a discovery protocol on or off on a device.
type Configurator interface {
	SetDiscovery(ctx context.Context, proto model.DiscoveryProtocol, enabled bool) error
}

// Target is a device the controller can both inspect and change.
type Target interface {
	Querier
	Configurator
}

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(question string) (bool, error)

// ConsentQuestion is shown once per run before any device is changed.
const ConsentQuestion = "Discovery protocols (CDP/LLDP) will be enabled on devices where they are off " +
	"and disabled again afterwards. Continue?"

// RollbackToken records the changes made on one device.
type RollbackToken struct {
	// Device is the name of the changed device.
	Device string

	// Snapshot is the running state observed before any change.
	Snapshot map[model.DiscoveryProtocol]bool

	// Enabled lists the protocols turned on by the crawl, in order.
	Enabled []model.DiscoveryProtocol

	// ChangedAt is when the last protocol was enabled.
	ChangedAt time.Time
}

// Pending reports whether the token still holds changes to undo.
func (t *RollbackToken) Pending() bool {
	return t != nil && len(t.Enabled) > 0
}

// Controller decides whether a device may be changed and undoes the changes.
// It is safe for concurrent use.
type Controller struct {
	// configDiscovery allows enabling discovery protocols that are off.
	configDiscovery bool

	// disableConfig turns every protocol the crawl enabled back off.
	disableConfig bool

	// protocols are checked in this order.
	protocols []model.DiscoveryProtocol

	logger *slog.Logger
	now    func() time.Time

	// consentOnce guards the single consent question of a crawl.
	consentOnce sync.Once
	consented   bool
	consentErr  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithProtocols sets the protocols to inspect, in order.
func WithProtocols(protos ...model.DiscoveryProtocol) Option {
	return func(c *Controller) {
		c.protocols = protos
	}
}

// WithLogger sets the logger used for snapshot and restore records.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// NewController creates a Controller.
func NewController(configDiscovery, disableConfig bool, opts ...Option) *Controller {
	c := &Controller{
		configDiscovery: configDiscovery,
		disableConfig:   disableConfig,
		protocols:       model.DiscoveryProtocols(),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NeedsConsent reports whether the run may change devices and so must ask.
func (c *Controller) NeedsConsent() bool {
	return c.configDiscovery && !c.disableConfig
}

// RequestConsent asks the operator once. Later calls return the first answer.
// When the run never changes devices it returns nil without asking.
func (c *Controller) RequestConsent(confirm ConfirmFunc) error {
	if !c.NeedsConsent() {
		return nil
	}
	c.consentOnce.Do(func() {
		if confirm == nil {
			c.consentErr = ErrConsentDeclined
			return
		}
		ok, err := confirm(ConsentQuestion)
		switch {
		case err != nil:
			c.consentErr = fmt.Errorf("%w: %v", ErrConsentDeclined, err)
		case !ok:
			c.consentErr = ErrConsentDeclined
		default:
			c.consented = true
		}
	})
	return c.consentErr
}

func (c *Controller) mayMutate() bool {
	if !c.NeedsConsent() {
		return false
	}
	// consentOnce guards consented
	c.consentOnce.Do(func() { c.consentErr = ErrConsentDeclined })
	return c.consented
}

// EnsureDiscoveryEnabled snapshots the discovery protocols on a device and
// enables the disabled ones when the run allows changes. With disable-config
// it does nothing and returns a nil token.
//
// A protocol whose state cannot be read is left alone. A failed enable is
// logged and leaves the protocol off.
func (c *Controller) EnsureDiscoveryEnabled(ctx context.Context, device string, t Target) (*RollbackToken, error) {
	if c.disableConfig {
		return nil, nil
	}

	token := &RollbackToken{
		Device:   device,
		Snapshot: make(map[model.DiscoveryProtocol]bool, len(c.protocols)),
	}
	var errs []error
	for _, proto := range c.protocols {
		if err := ctx.Err(); err != nil {
			return token, err
		}
		enabled, err := t.DiscoveryEnabled(ctx, proto)
		if err != nil {
			c.logger.Debug("discovery state unknown", "device", device, "protocol", string(proto), "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", proto, err))
			continue
		}
		token.Snapshot[proto] = enabled
		if enabled || !c.mayMutate() {
			continue
		}

		if err := t.SetDiscovery(ctx, proto, true); err != nil {
			c.logger.Warn("failed to enable discovery protocol", "device", device, "protocol", string(proto), "error", err.Error())
			continue
		}
		token.Enabled = append(token.Enabled, proto)
		token.ChangedAt = c.now()
		c.logger.Debug("enabled discovery protocol", "device", device, "protocol", string(proto))
	}

	if len(token.Snapshot) == 0 && len(errs) > 0 {
		return token, errors.Join(errs...)
	}
	return token, nil
}

// Release restores the snapshot by disabling every protocol the token
// enabled. It runs even when ctx is already cancelled. A failure returns a
// *RollbackError naming the protocols left on.
func (c *Controller) Release(ctx context.Context, cfg Configurator, token *RollbackToken) error {
	if c.disableConfig || !token.Pending() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var failed []model.DiscoveryProtocol
	var errs []error
	for _, proto := range slices.Backward(token.Enabled) {
		if err := cfg.SetDiscovery(ctx, proto, false); err != nil {
			failed = append(failed, proto)
			errs = append(errs, fmt.Errorf("%s: %w", proto, err))
			continue
		}
		c.logger.Debug("restored discovery protocol", "device", token.Device, "protocol", string(proto))
	}

	if len(failed) > 0 {
		slices.Reverse(failed)
		token.Enabled = failed
		return &RollbackError{Device: token.Device, Protocols: failed, Err: errors.Join(errs...)}
	}
	token.Enabled = nil
	return nil
}
