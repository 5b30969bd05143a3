package creator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/topocrawl/internal/testbed"
)

// Creator generates a testbed from some source.
type Creator interface {
	// RequiredArguments lists the arguments that must be given.
	RequiredArguments() []string

	// OptionalArguments maps each optional argument to its default value.
	OptionalArguments() map[string]string

	// Generate builds the testbed.
	Generate(ctx context.Context) (*testbed.Testbed, error)
}

// Constructor creates a Creator from its arguments. It must accept empty
// arguments so the registry can describe the creator; problems with values
// are reported by Generate.
type Constructor func(args Arguments) (Creator, error)

// Arguments are creator arguments keyed by name, with dashes replaced by
// underscores ("encode-password" is "encode_password").
type Arguments map[string]string

// ArgumentName converts a flag name to an argument name.
func ArgumentName(flag string) string {
	return strings.ReplaceAll(strings.TrimLeft(flag, "-"), "-", "_")
}

// String returns the value of name, or "".
func (a Arguments) String(name string) string {
	return a[name]
}

// Bool parses name as a boolean. A missing argument is false.
func (a Arguments) Bool(name string) (bool, error) {
	v, ok := a[name]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidArgument, name, v)
	}
	return b, nil
}

// Int parses name as an integer. A missing argument yields def.
func (a Arguments) Int(name string, def int) (int, error) {
	v, ok := a[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidArgument, name, v)
	}
	return n, nil
}

// Duration parses name as a duration. A bare number is taken as seconds.
// A missing argument yields def.
func (a Arguments) Duration(name string, def time.Duration) (time.Duration, error) {
	v, ok := a[name]
	if !ok || v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalidArgument, name, v)
	}
	return d, nil
}

// List splits a comma-separated argument. Empty items are dropped.
func (a Arguments) List(name string) []string {
	var out []string
	for item := range strings.SplitSeq(a[name], ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Info describes a registered creator.
type Info struct {
	Name     string
	Required []string
	Optional map[string]string
}

// Registry maps creator names to constructors. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.constructors[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCreator, name)
	}
	r.constructors[name] = ctor
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.constructors))
}

func (r *Registry) constructor(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCreator, name)
	}
	return ctor, nil
}

// New constructs the named creator. Every required argument must be present
// and every argument must be one the creator declares.
func (r *Registry) New(name string, args Arguments) (Creator, error) {
	ctor, err := r.constructor(name)
	if err != nil {
		return nil, err
	}
	c, err := ctor(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var missing []string
	for _, req := range c.RequiredArguments() {
		if args[req] == "" {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w for %s: %s", ErrMissingArgument, name, strings.Join(missing, ", "))
	}

	optional := c.OptionalArguments()
	for _, arg := range slices.Sorted(maps.Keys(args)) {
		if _, ok := optional[arg]; ok || slices.Contains(c.RequiredArguments(), arg) {
			continue
		}
		return nil, fmt.Errorf("%w for %s: %s", ErrUnknownArgument, name, arg)
	}
	return c, nil
}

// Describe returns the arguments of the named creator.
func (r *Registry) Describe(name string) (Info, error) {
	ctor, err := r.constructor(name)
	if err != nil {
		return Info{}, err
	}
	c, err := ctor(nil)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", name, err)
	}
	return Info{
		Name:     name,
		Required: c.RequiredArguments(),
		Optional: c.OptionalArguments(),
	}, nil
}
