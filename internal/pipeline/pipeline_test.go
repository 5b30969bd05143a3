package pipeline

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/nao1215/topocrawl/internal/config"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	finalize  bool
	doFunc    func(ctx context.Context, run *Run) error
	callCount int
	ctxErr    error
}

func (m *mockStep) Do(ctx context.Context, run *Run) error {
	m.callCount++
	m.ctxErr = ctx.Err()
	if m.doFunc != nil {
		return m.doFunc(ctx, run)
	}
	return nil
}

func (m *mockStep) Name() string {
	return m.name
}

// finalStep is a mockStep that runs after cancellation.
type finalStep struct {
	mockStep
}

func (f *finalStep) Finalize() bool {
	return f.finalize
}

func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies WithContinueOnError option", func(t *testing.T) {
		t.Parallel()

		p := New(WithContinueOnError(true))
		if !p.continueOnError {
			t.Error("expected continueOnError to be true")
		}
	})
}

func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	p := New()
	p.AddStep(&mockStep{name: "a"})
	p.AddSteps(&mockStep{name: "b"}, &mockStep{name: "c"})

	if p.StepCount() != 3 {
		t.Errorf("expected 3 steps, got %d", p.StepCount())
	}
	if got := p.StepNames(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected step names %v", got)
	}
}

func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("runs steps in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		step := func(name string) *mockStep {
			return &mockStep{name: name, doFunc: func(context.Context, *Run) error {
				order = append(order, name)
				return nil
			}}
		}

		p := New()
		p.AddSteps(step("load"), step("crawl"), step("merge"))
		run := NewRun(config.NewConfig())

		if err := p.Execute(context.Background(), run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(order, []string{"load", "crawl", "merge"}) {
			t.Errorf("unexpected order %v", order)
		}
		if !slices.Equal(run.Performed, order) {
			t.Errorf("expected performed %v, got %v", order, run.Performed)
		}
	})

	t.Run("stops on first error", func(t *testing.T) {
		t.Parallel()

		errBoom := errors.New("boom")
		failing := &mockStep{name: "fail", doFunc: func(context.Context, *Run) error { return errBoom }}
		after := &mockStep{name: "after"}

		p := New()
		p.AddSteps(failing, after)

		err := p.Execute(context.Background(), NewRun(config.NewConfig()))
		if !errors.Is(err, errBoom) {
			t.Fatalf("expected errBoom, got %v", err)
		}
		if after.callCount != 0 {
			t.Error("step after the failure should not run")
		}
	})

	t.Run("continue on error runs every step and returns the first error", func(t *testing.T) {
		t.Parallel()

		errFirst := errors.New("first")
		errSecond := errors.New("second")
		p := New(WithContinueOnError(true))
		p.AddSteps(
			&mockStep{name: "a", doFunc: func(context.Context, *Run) error { return errFirst }},
			&mockStep{name: "b", doFunc: func(context.Context, *Run) error { return errSecond }},
		)
		run := NewRun(config.NewConfig())

		if err := p.Execute(context.Background(), run); !errors.Is(err, errFirst) {
			t.Fatalf("expected first error, got %v", err)
		}
		if len(run.Performed) != 2 {
			t.Errorf("expected both steps performed, got %v", run.Performed)
		}
	})

	t.Run("cancellation skips ordinary steps and runs finalizers", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		crawl := &mockStep{name: "crawl", doFunc: func(context.Context, *Run) error {
			cancel()
			return nil
		}}
		skipped := &mockStep{name: "other"}
		write := &finalStep{mockStep{name: "write", finalize: true}}
		notFinal := &finalStep{mockStep{name: "not-final", finalize: false}}

		p := New()
		p.AddSteps(crawl, skipped, write, notFinal)
		run := NewRun(config.NewConfig())

		err := p.Execute(ctx, run)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if !run.Cancelled {
			t.Error("expected run to be marked cancelled")
		}
		if skipped.callCount != 0 || notFinal.callCount != 0 {
			t.Error("ordinary steps should be skipped after cancellation")
		}
		if write.callCount != 1 {
			t.Fatalf("expected finalizer to run once, ran %d times", write.callCount)
		}
		if write.ctxErr != nil {
			t.Errorf("finalizer should get an uncancelled context, got %v", write.ctxErr)
		}
		if !slices.Equal(run.Performed, []string{"crawl", "write"}) {
			t.Errorf("unexpected performed steps %v", run.Performed)
		}
	})

	t.Run("already cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "load"}
		p := New()
		p.AddStep(step)

		if err := p.Execute(ctx, NewRun(config.NewConfig())); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("step should not run")
		}
	})
}
