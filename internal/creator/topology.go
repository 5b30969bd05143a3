package creator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/nao1215/topocrawl/internal/config"
	applog "github.com/nao1215/topocrawl/internal/log"
	"github.com/nao1215/topocrawl/internal/pipeline"
	"github.com/nao1215/topocrawl/internal/probe"
	"github.com/nao1215/topocrawl/internal/session"
	"github.com/nao1215/topocrawl/internal/testbed"
)

// TopologyName is the registry name of the topology creator.
const TopologyName = "topology"

// Topology crawls the network from a seed testbed and returns the seed
// merged with every discovered device and link.
type Topology struct {
	args Arguments
	opts pipeline.Options
}

// TopologyConstructor returns the Constructor of the topology creator.
// opts supplies the dialer, prompts and console. A nil Dialer means the
// ssh/telnet transport.
func TopologyConstructor(opts pipeline.Options) Constructor {
	return func(args Arguments) (Creator, error) {
		return NewTopology(args, opts), nil
	}
}

// NewTopology creates the topology creator.
func NewTopology(args Arguments, opts pipeline.Options) *Topology {
	return &Topology{args: args, opts: opts}
}

// RequiredArguments implements Creator.
func (t *Topology) RequiredArguments() []string {
	return []string{"testbed_file"}
}

// OptionalArguments implements Creator.
func (t *Topology) OptionalArguments() map[string]string {
	return map[string]string{
		"output":                     "",
		"config_discovery":           "false",
		"add_unconnected_interfaces": "false",
		"exclude_networks":           "",
		"exclude_interfaces":         "",
		"only_links":                 "false",
		"alias":                      "",
		"ssh_only":                   "false",
		"telnet_connect":             "false",
		"timeout":                    config.DefaultTimeout.String(),
		"universal_login":            "",
		"cred_prompt":                "false",
		"debug_log":                  "",
		"disable_config":             "false",
		"workers":                    strconv.Itoa(config.DefaultWorkers),
		"proxy":                      "",
		"probe":                      "false",
		"config":                     "",
		"report":                     "",
		"report_format":              config.DefaultReportFormat,
		"no_history":                 "false",
		"db_dir":                     config.XDGDataDir(),
		"verbose":                    "false",
	}
}

// Config builds the validated crawl configuration from the arguments and
// the .topocrawl file.
func (t *Topology) Config() (*config.Config, error) {
	cfg := config.NewConfig()
	a := t.args

	cfg.TestbedFile = a.String("testbed_file")
	cfg.Output = a.String("output")
	cfg.ExcludeNetworks = a.List("exclude_networks")
	cfg.ExcludeInterfaces = a.List("exclude_interfaces")
	cfg.UniversalLogin = a.String("universal_login")
	cfg.DebugLog = a.String("debug_log")
	cfg.Proxy = a.String("proxy")
	cfg.ConfigFilePath = a.String("config")
	cfg.ReportFile = a.String("report")
	if v := a.String("report_format"); v != "" {
		cfg.ReportFormat = v
	}
	if v := a.String("db_dir"); v != "" {
		cfg.DBDir = v
	}
	if err := cfg.AddAliases(a.List("alias")); err != nil {
		return nil, err
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"config_discovery", &cfg.ConfigDiscovery},
		{"add_unconnected_interfaces", &cfg.AddUnconnectedInterfaces},
		{"only_links", &cfg.OnlyLinks},
		{"ssh_only", &cfg.SSHOnly},
		{"telnet_connect", &cfg.TelnetConnect},
		{"cred_prompt", &cfg.CredPrompt},
		{"disable_config", &cfg.DisableConfig},
		{"probe", &cfg.Probe},
		{"verbose", &cfg.Verbose},
	}
	for _, f := range flags {
		v, err := a.Bool(f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	noHistory, err := a.Bool("no_history")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noHistory

	if cfg.Timeout, err = a.Duration("timeout", config.DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.Workers, err = a.Int("workers", config.DefaultWorkers); err != nil {
		return nil, err
	}

	if path := config.FindConfigFile(cfg.ConfigFilePath); path != "" {
		file, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.ApplyFile(file)
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Generate implements Creator. It crawls and merges without writing
// anything. On interruption the partial testbed is returned with the
// context error.
func (t *Topology) Generate(ctx context.Context) (*testbed.Testbed, error) {
	run, err := t.execute(ctx, func(opts pipeline.Options) *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithLogger(opts.Logger))
		p.AddSteps(pipeline.GenerateSteps(opts)...)
		return p
	})
	if run == nil || run.Testbed == nil {
		return nil, err
	}
	return run.Testbed, err
}

// Run performs the full topology run: crawl, write the testbed, record the
// crawl and write the report.
func (t *Topology) Run(ctx context.Context) (*pipeline.Run, error) {
	return t.execute(ctx, func(opts pipeline.Options) *pipeline.Pipeline {
		return pipeline.TopologyPipeline(opts, pipeline.WithLogger(opts.Logger))
	})
}

func (t *Topology) execute(ctx context.Context, build func(pipeline.Options) *pipeline.Pipeline) (*pipeline.Run, error) {
	cfg, err := t.Config()
	if err != nil {
		return nil, err
	}

	opts := t.opts
	debug, closer := applog.NewDebugLogger(cfg.DebugLog)
	defer closer.Close()
	if cfg.DebugLog == "" && cfg.Verbose {
		debug = slog.Default()
	}
	opts.Logger = debug

	if opts.Dialer == nil {
		opts.Dialer = session.NewTransport(session.WithLogger(debug))
	}
	if cfg.Probe && opts.Prober == nil {
		opts.Prober = probe.NewNmapProber(probe.WithTimeout(cfg.Timeout), probe.WithLogger(debug))
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Console == nil {
		opts.Console = applog.NewConsole(io.Discard)
	}

	run := pipeline.NewRun(cfg)
	if err := build(opts).Execute(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return run, err
		}
		return run, fmt.Errorf("topology: %w", err)
	}
	return run, nil
}
