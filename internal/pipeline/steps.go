package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/crawler"
	"github.com/nao1215/topocrawl/internal/credential"
	"github.com/nao1215/topocrawl/internal/database"
	"github.com/nao1215/topocrawl/internal/discovery"
	applog "github.com/nao1215/topocrawl/internal/log"
	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/probe"
	"github.com/nao1215/topocrawl/internal/report"
	"github.com/nao1215/topocrawl/internal/safety"
	"github.com/nao1215/topocrawl/internal/session"
	"github.com/nao1215/topocrawl/internal/testbed"
)

// ErrNoResult is returned by steps that need a crawl result when none was
// produced.
var ErrNoResult = errors.New("no crawl result")

// LoadStep reads the seed testbed and extracts the seed devices and the
// SOCKS5 proxies.
type LoadStep struct {
	console *applog.Console
}

// NewLoadStep creates a LoadStep. Skipped and unreachable proxies are
// reported on console.
func NewLoadStep(console *applog.Console) *LoadStep {
	return &LoadStep{console: console}
}

// Name returns the step name.
func (s *LoadStep) Name() string {
	return "load"
}

// Do executes the load step.
func (s *LoadStep) Do(ctx context.Context, run *Run) error {
	tb, err := testbed.Load(run.Config.TestbedFile)
	if err != nil {
		return err
	}
	seeds, err := tb.Seeds()
	if err != nil {
		return err
	}

	run.Testbed = tb
	run.Seeds = seeds
	run.Proxies = tb.Proxies()
	for _, p := range tb.UnsupportedProxies() {
		s.console.Warningf("Proxy %q is not a SOCKS5 host:port and will not be used", p)
	}

	proxies := run.Proxies
	if run.Config.Proxy != "" {
		proxies = append(slices.Clone(proxies), run.Config.Proxy)
	}
	for _, p := range proxies {
		if st := session.CheckProxy(ctx, p); st != session.ProxyStatusOK {
			s.console.Warningf("Proxy %s failed its SOCKS5 check: %s", p, st)
		}
	}
	return nil
}

// CrawlStep wires the credential resolver, connection manager and discovery
// engine into a crawler and runs it from the seeds.
type CrawlStep struct {
	dialer  session.Dialer
	prober  probe.Prober
	prompt  credential.PromptFunc
	confirm safety.ConfirmFunc
	backend crawler.BackendFunc
	console *applog.Console
	logger  *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithProber enables port probing before dialing.
func WithProber(p probe.Prober) CrawlStepOption {
	return func(s *CrawlStep) {
		s.prober = p
	}
}

// WithPrompt sets the credential prompt used with --cred-prompt.
func WithPrompt(fn credential.PromptFunc) CrawlStepOption {
	return func(s *CrawlStep) {
		s.prompt = fn
	}
}

// WithConfirm sets the consent prompt used with --config-discovery.
func WithConfirm(fn safety.ConfirmFunc) CrawlStepOption {
	return func(s *CrawlStep) {
		s.confirm = fn
	}
}

// WithBackend replaces the IOS CLI backend.
func WithBackend(fn crawler.BackendFunc) CrawlStepOption {
	return func(s *CrawlStep) {
		s.backend = fn
	}
}

// WithConsole sets the operator console.
func WithConsole(con *applog.Console) CrawlStepOption {
	return func(s *CrawlStep) {
		s.console = con
	}
}

// WithCrawlLogger sets the attempt-level debug logger.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates a CrawlStep that opens sessions through dialer.
func NewCrawlStep(dialer session.Dialer, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		dialer: dialer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl step. An interrupted crawl keeps its partial result
// and sets run.Cancelled.
func (s *CrawlStep) Do(ctx context.Context, run *Run) error {
	cfg := run.Config

	var resolverOpts []credential.Option
	if user, pass, ok := cfg.Login(); ok {
		resolverOpts = append(resolverOpts, credential.WithUniversal(user, pass))
	}
	if cfg.CredPrompt && s.prompt != nil {
		resolverOpts = append(resolverOpts, credential.WithPrompt(s.prompt))
	}
	resolver := credential.NewResolver(resolverOpts...)

	managerOpts := []connect.Option{
		connect.WithProtocols(connect.Protocols(cfg.SSHOnly, cfg.TelnetConnect)...),
		connect.WithTimeout(cfg.Timeout),
		connect.WithAliases(cfg.AliasFor),
		connect.WithLogger(s.logger),
	}
	if s.prober != nil {
		managerOpts = append(managerOpts, connect.WithProber(s.prober))
	}
	manager := connect.NewManager(s.dialer, resolver, managerOpts...)

	engine := discovery.NewEngine(discovery.WithLogger(s.logger))

	crawlerOpts := []crawler.Option{
		crawler.WithConfirm(s.confirm),
		crawler.WithProxies(run.Proxies...),
		crawler.WithLogger(s.logger),
		crawler.WithConsole(s.console),
	}
	if s.backend != nil {
		crawlerOpts = append(crawlerOpts, crawler.WithBackend(s.backend))
	}

	result, err := crawler.New(cfg, manager, engine, crawlerOpts...).Run(ctx, run.Seeds)
	switch {
	case err == nil:
	case result != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		run.Cancelled = true
		s.console.Warningf("Discovery interrupted, keeping partial results")
	default:
		return err
	}
	run.Result = result
	return nil
}

// MergeStep merges the crawl result into the seed testbed.
type MergeStep struct{}

// NewMergeStep creates a MergeStep.
func NewMergeStep() *MergeStep {
	return &MergeStep{}
}

// Name returns the step name.
func (s *MergeStep) Name() string {
	return "merge"
}

// Finalize lets a partial crawl be merged after cancellation.
func (s *MergeStep) Finalize() bool {
	return true
}

// Do executes the merge step.
func (s *MergeStep) Do(_ context.Context, run *Run) error {
	if run.Result == nil {
		if run.Cancelled {
			return nil
		}
		return ErrNoResult
	}
	return run.Testbed.Merge(Topology(run.Result, run.Config.TelnetConnect))
}

// Topology converts a crawl result to the merge input. Each device is
// written with the protocol that opened its session. Devices never connected
// to get telnet when telnetConnect is set and ssh otherwise.
func Topology(result *crawler.Result, telnetConnect bool) testbed.Topology {
	topo := testbed.Topology{
		Devices:         result.Devices,
		Links:           result.Links,
		Protocols:       make(map[string]model.Protocol),
		DefaultProtocol: model.ProtocolSSH,
	}
	if telnetConnect {
		topo.DefaultProtocol = model.ProtocolTelnet
	}
	for name, attempts := range result.Attempts {
		for _, a := range attempts {
			if a.Succeeded() {
				topo.Protocols[name] = a.Protocol
				break
			}
		}
	}
	return topo
}

// WriteStep writes the merged testbed to the output file, or to stdout when
// no output path is configured.
type WriteStep struct {
	stdout  io.Writer
	console *applog.Console
}

// NewWriteStep creates a WriteStep.
func NewWriteStep(stdout io.Writer, console *applog.Console) *WriteStep {
	return &WriteStep{stdout: stdout, console: console}
}

// Name returns the step name.
func (s *WriteStep) Name() string {
	return "write"
}

// Finalize lets a partial crawl be written after cancellation.
func (s *WriteStep) Finalize() bool {
	return true
}

// Do executes the write step.
func (s *WriteStep) Do(_ context.Context, run *Run) error {
	if run.Result == nil {
		return nil
	}
	if run.Config.Output == "" {
		return run.Testbed.Write(s.stdout)
	}
	if err := run.Testbed.WriteFile(run.Config.Output); err != nil {
		return err
	}
	s.console.Infof("Testbed written to %s", run.Config.Output)
	return nil
}

// HistoryStep records the crawl in the history database.
type HistoryStep struct {
	console *applog.Console
}

// NewHistoryStep creates a HistoryStep.
func NewHistoryStep(console *applog.Console) *HistoryStep {
	return &HistoryStep{console: console}
}

// Name returns the step name.
func (s *HistoryStep) Name() string {
	return "history"
}

// Finalize lets a partial crawl be recorded after cancellation.
func (s *HistoryStep) Finalize() bool {
	return true
}

// Do executes the history step. It does nothing when history is disabled.
func (s *HistoryStep) Do(ctx context.Context, run *Run) error {
	if !run.Config.SaveToDB || run.Result == nil {
		return nil
	}

	db, err := database.Open(run.Config.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open crawl history: %w", err)
	}
	defer db.Close()

	id, err := db.SaveCrawl(ctx, run.Config.TestbedFile, run.Config.Output, run.Result, run.Cancelled)
	if err != nil {
		return fmt.Errorf("failed to save crawl history: %w", err)
	}
	run.CrawlID = id
	s.console.Infof("Crawl recorded as %s", id)
	return nil
}

// ReportStep writes the crawl report in the configured format.
type ReportStep struct {
	version string
	console *applog.Console
}

// NewReportStep creates a ReportStep. version is stamped into JSON reports.
func NewReportStep(version string, console *applog.Console) *ReportStep {
	return &ReportStep{version: version, console: console}
}

// Name returns the step name.
func (s *ReportStep) Name() string {
	return "report"
}

// Finalize lets a partial crawl be reported after cancellation.
func (s *ReportStep) Finalize() bool {
	return true
}

// Do executes the report step. It does nothing when no report file is set.
func (s *ReportStep) Do(_ context.Context, run *Run) (err error) {
	if run.Config.ReportFile == "" || run.Result == nil {
		return nil
	}

	if dir := filepath.Dir(run.Config.ReportFile); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(run.Config.ReportFile)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w, err := report.NewWriter(run.Config.ReportFormat, f, s.version)
	if err != nil {
		return err
	}
	if _, err := w.Write(&report.Report{
		CrawlID:   run.CrawlID,
		Testbed:   run.Config.TestbedFile,
		Output:    run.Config.Output,
		Cancelled: run.Cancelled,
		Result:    run.Result,
	}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	s.console.Infof("Report written to %s", run.Config.ReportFile)
	return nil
}

// Options bundles what a topology pipeline needs beyond the Config.
type Options struct {
	Dialer  session.Dialer
	Prober  probe.Prober
	Prompt  credential.PromptFunc
	Confirm safety.ConfirmFunc
	Backend crawler.BackendFunc
	Stdout  io.Writer
	Console *applog.Console
	Logger  *slog.Logger
	Version string
}

// TopologyPipeline returns the full topology run: load, crawl, merge,
// write, history and report.
func TopologyPipeline(opts Options, pipelineOpts ...Option) *Pipeline {
	p := New(pipelineOpts...)
	p.AddSteps(GenerateSteps(opts)...)
	p.AddSteps(
		NewWriteStep(opts.Stdout, opts.Console),
		NewHistoryStep(opts.Console),
		NewReportStep(opts.Version, opts.Console),
	)
	return p
}

// GenerateSteps returns the steps that produce the merged testbed without
// writing anything.
func GenerateSteps(opts Options) []Step {
	crawlOpts := []CrawlStepOption{
		WithPrompt(opts.Prompt),
		WithConfirm(opts.Confirm),
		WithConsole(opts.Console),
	}
	if opts.Prober != nil {
		crawlOpts = append(crawlOpts, WithProber(opts.Prober))
	}
	if opts.Backend != nil {
		crawlOpts = append(crawlOpts, WithBackend(opts.Backend))
	}
	if opts.Logger != nil {
		crawlOpts = append(crawlOpts, WithCrawlLogger(opts.Logger))
	}
	return []Step{
		NewLoadStep(opts.Console),
		NewCrawlStep(opts.Dialer, crawlOpts...),
		NewMergeStep(),
	}
}
