package pipeline

import (
	"context"
	"log/slog"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/crawler"
	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/testbed"
)

// Run is the state shared by the steps of one topology run.
type Run struct {
	Config *config.Config

	// Testbed is the seed testbed, and after the merge step the output.
	Testbed *testbed.Testbed

	Seeds []model.Device

	// Proxies are the SOCKS5 jump hosts harvested from the seed testbed.
	Proxies []string

	Result *crawler.Result

	// Cancelled is true when the crawl was interrupted.
	Cancelled bool

	// CrawlID is set by the history step.
	CrawlID string

	// Performed lists the steps that ran, in order.
	Performed []string
}

// NewRun creates a Run for the given configuration.
func NewRun(cfg *config.Config) *Run {
	return &Run{Config: cfg}
}

// Step defines the interface that all pipeline steps must implement.
type Step interface {
	// Do executes the step. A returned error stops the pipeline unless
	// continue-on-error is set.
	Do(ctx context.Context, run *Run) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Finalizer is a Step that still runs after the context is cancelled.
type Finalizer interface {
	Step

	// Finalize reports whether the step runs after cancellation.
	Finalize() bool
}

// Pipeline orchestrates the execution of multiple steps.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	// logger is used for structured logging during execution.
	logger *slog.Logger

	// continueOnError determines whether to continue executing steps
	// after one fails. If false, the pipeline stops on first error.
	continueOnError bool
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
// If not set, a default logger is created.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithContinueOnError configures the pipeline to continue execution
// even when a step fails. The first error is still returned by Execute.
func WithContinueOnError(continueOnError bool) Option {
	return func(p *Pipeline) {
		p.continueOnError = continueOnError
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence.
//
// Cancellation is checked before each step. Once ctx is done, run.Cancelled
// is set, ordinary steps are skipped and Finalizer steps run on a context
// that is no longer cancelled. Execute then returns ctx.Err().
func (p *Pipeline) Execute(ctx context.Context, run *Run) error {
	var firstErr error

	for _, step := range p.steps {
		stepCtx := ctx
		if ctx.Err() != nil {
			run.Cancelled = true
			f, ok := step.(Finalizer)
			if !ok || !f.Finalize() {
				p.logger.Warn("skipping step after cancellation",
					"step", step.Name(),
					"reason", ctx.Err(),
				)
				continue
			}
			stepCtx = context.WithoutCancel(ctx)
		}

		p.logger.Info("executing step", "step", step.Name())

		if err := step.Do(stepCtx, run); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			if !p.continueOnError {
				return err
			}
		} else {
			p.logger.Debug("step completed", "step", step.Name())
		}

		run.Performed = append(run.Performed, step.Name())
	}

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
