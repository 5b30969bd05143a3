package credential

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/topocrawl/internal/model"
)

func TestResolver_Priority(t *testing.T) {
	t.Parallel()

	seeded := model.Device{ID: "10.0.0.1", Hostname: "core1", Credential: &model.Credential{Username: "seed", Password: "pw"}}
	asking := model.Device{ID: "10.0.0.2", Hostname: "core2", Credential: &model.Credential{Username: "ops", Password: model.AskPlaceholder}}
	bare := model.Device{ID: "10.0.0.3", Hostname: "edge1"}

	prompt := func(_ context.Context, device string) (model.Credential, error) {
		return model.Credential{Username: "prompted", Password: device}, nil
	}

	tests := []struct {
		name       string
		opts       []Option
		dev        model.Device
		wantUser   string
		wantSource Source
		wantErr    error
	}{
		{name: "seed credential wins", opts: []Option{WithUniversal("uni", "pw"), WithPrompt(prompt)}, dev: seeded, wantUser: "seed", wantSource: SourceSeed},
		{name: "ask placeholder falls through to universal", opts: []Option{WithUniversal("uni", "pw")}, dev: asking, wantUser: "uni", wantSource: SourceUniversal},
		{name: "universal before prompt", opts: []Option{WithUniversal("uni", "pw"), WithPrompt(prompt)}, dev: bare, wantUser: "uni", wantSource: SourceUniversal},
		{name: "prompt when nothing else", opts: []Option{WithPrompt(prompt)}, dev: bare, wantUser: "prompted", wantSource: SourcePrompt},
		{name: "unresolvable without sources", dev: bare, wantErr: ErrUnresolvable},
		{name: "ask placeholder without sources is unresolvable", dev: asking, wantErr: ErrUnresolvable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewResolver(tt.opts...)
			cred, src, err := r.ResolveWithSource(t.Context(), tt.dev)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cred.Username != tt.wantUser {
				t.Errorf("expected user %q, got %q", tt.wantUser, cred.Username)
			}
			if src != tt.wantSource {
				t.Errorf("expected source %q, got %q", tt.wantSource, src)
			}
		})
	}
}

func TestResolver_PromptKeepsSeedUsername(t *testing.T) {
	t.Parallel()

	r := NewResolver(WithPrompt(func(context.Context, string) (model.Credential, error) {
		return model.Credential{Password: "typed"}, nil
	}))
	dev := model.Device{ID: "10.0.0.2", Credential: &model.Credential{Username: "ops", Password: model.AskPlaceholder}}

	cred, err := r.Resolve(t.Context(), dev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Username != "ops" || cred.Password != "typed" {
		t.Errorf("unexpected credential %+v", cred)
	}
}

func TestResolver_PromptIsCachedPerDevice(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := NewResolver(WithPrompt(func(_ context.Context, device string) (model.Credential, error) {
		calls.Add(1)
		return model.Credential{Username: "u", Password: device}, nil
	}))

	a := model.Device{ID: "10.0.0.1", Hostname: "a"}
	b := model.Device{ID: "10.0.0.2", Hostname: "b"}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), a)
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), b)
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 prompts, got %d", got)
	}
}

func TestResolver_PromptsAreSerialized(t *testing.T) {
	t.Parallel()

	var active, maxActive atomic.Int32
	r := NewResolver(WithPrompt(func(_ context.Context, device string) (model.Credential, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		return model.Credential{Username: "u", Password: device}, nil
	}))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dev := model.Device{ID: string(rune('a' + i))}
			_, _ = r.Resolve(context.Background(), dev)
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("expected at most one prompt at a time, got %d", maxActive.Load())
	}
}

func TestResolver_PromptError(t *testing.T) {
	t.Parallel()

	boom := errors.New("stdin closed")
	r := NewResolver(WithPrompt(func(context.Context, string) (model.Credential, error) {
		return model.Credential{}, boom
	}))

	_, err := r.Resolve(t.Context(), model.Device{ID: "x"})
	if !errors.Is(err, ErrUnresolvable) {
		t.Errorf("expected ErrUnresolvable, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped prompt error, got %v", err)
	}
}

func TestResolver_CancelledContextSkipsPrompt(t *testing.T) {
	t.Parallel()

	var called atomic.Bool
	r := NewResolver(WithPrompt(func(context.Context, string) (model.Credential, error) {
		called.Store(true)
		return model.Credential{Username: "u", Password: "p"}, nil
	}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := r.Resolve(ctx, model.Device{ID: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called.Load() {
		t.Error("expected prompt not to be called")
	}
}

func TestTerminalPrompt(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("netops\ns3cret\n")
	var out strings.Builder

	cred, err := TerminalPrompt(in, &out)(t.Context(), "core1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Username != "netops" || cred.Password != "s3cret" {
		t.Errorf("unexpected credential %+v", cred)
	}
	if !strings.Contains(out.String(), "Username for core1") || !strings.Contains(out.String(), "Password for core1") {
		t.Errorf("unexpected prompt output %q", out.String())
	}
}

func TestTerminalPrompt_EOF(t *testing.T) {
	t.Parallel()

	_, err := TerminalPrompt(strings.NewReader(""), &strings.Builder{})(t.Context(), "core1")
	if err == nil {
		t.Error("expected error on empty input")
	}
}

func TestTerminalPrompt_SharedReader(t *testing.T) {
	t.Parallel()

	in := bufio.NewReader(strings.NewReader("y\nnetops\ns3cret\n"))
	if answer, err := in.ReadString('\n'); err != nil || answer != "y\n" {
		t.Fatalf("ReadString() = %q, %v", answer, err)
	}

	cred, err := TerminalPrompt(in, &strings.Builder{})(t.Context(), "core1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Username != "netops" || cred.Password != "s3cret" {
		t.Errorf("unexpected credential %+v", cred)
	}
}
