package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/topocrawl/internal/model"
)

// ErrUnresolvable is returned when no credential source can supply a login
// for the device. The connection manager counts it as a failed candidate.
var ErrUnresolvable = errors.New("credential unresolvable")

// PromptFunc asks the operator for a login for the named device.
type PromptFunc func(ctx context.Context, device string) (model.Credential, error)

// Source identifies where a resolved credential came from.
type Source string

// Credential sources in priority order.
const (
	SourceSeed      Source = "seed"
	SourceUniversal Source = "universal"
	SourcePrompt    Source = "prompt"
)

// Resolver resolves credentials. It is safe for concurrent use.
type Resolver struct {
	// universal is the --universal-login credential.
	universal *model.Credential

	// prompt asks the operator when nothing else applies.
	prompt PromptFunc

	promptMu sync.Mutex // serializes prompts

	// mu protects cache.
	mu sync.Mutex

	// cache holds prompted credentials by device ID, so each device is asked once.
	cache map[string]model.Credential
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUniversal sets the login used for devices without a usable seed
// credential.
func WithUniversal(username, password string) Option {
	return func(r *Resolver) {
		r.universal = &model.Credential{Username: username, Password: password}
	}
}

// WithPrompt enables interactive prompting through fn.
func WithPrompt(fn PromptFunc) Option {
	return func(r *Resolver) {
		r.prompt = fn
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{cache: make(map[string]model.Credential)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a login for dev.
func (r *Resolver) Resolve(ctx context.Context, dev model.Device) (model.Credential, error) {
	cred, _, err := r.ResolveWithSource(ctx, dev)
	return cred, err
}

// ResolveWithSource is Resolve that also reports which source answered.
func (r *Resolver) ResolveWithSource(ctx context.Context, dev model.Device) (model.Credential, Source, error) {
	if dev.Credential != nil && dev.Credential.Usable() {
		return *dev.Credential, SourceSeed, nil
	}

	if r.universal != nil && r.universal.Usable() {
		cred := *r.universal
		if dev.Credential != nil && dev.Credential.EnablePassword != "" {
			cred.EnablePassword = dev.Credential.EnablePassword
		}
		return cred, SourceUniversal, nil
	}

	if r.prompt != nil {
		cred, err := r.promptOnce(ctx, dev)
		if err != nil {
			return model.Credential{}, "", err
		}
		return cred, SourcePrompt, nil
	}

	return model.Credential{}, "", fmt.Errorf("%w: %s", ErrUnresolvable, dev.Name())
}

func (r *Resolver) promptOnce(ctx context.Context, dev model.Device) (model.Credential, error) {
	if cred, ok := r.cached(dev.ID); ok {
		return cred, nil
	}

	r.promptMu.Lock()
	defer r.promptMu.Unlock()

	// another worker may have prompted for the same device while we waited
	if cred, ok := r.cached(dev.ID); ok {
		return cred, nil
	}
	if err := ctx.Err(); err != nil {
		return model.Credential{}, err
	}

	cred, err := r.prompt(ctx, dev.Name())
	if err != nil {
		return model.Credential{}, fmt.Errorf("%w: prompt for %s: %w", ErrUnresolvable, dev.Name(), err)
	}
	if cred.Username == "" && dev.Credential != nil {
		cred.Username = dev.Credential.Username
	}
	if !cred.Usable() {
		return model.Credential{}, fmt.Errorf("%w: empty login entered for %s", ErrUnresolvable, dev.Name())
	}

	r.mu.Lock()
	r.cache[dev.ID] = cred
	r.mu.Unlock()
	return cred, nil
}

func (r *Resolver) cached(id string) (model.Credential, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.cache[id]
	return cred, ok
}
