package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/crawler"
	"github.com/nao1215/topocrawl/internal/database"
	applog "github.com/nao1215/topocrawl/internal/log"
	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/session"
)

const seedTestbed = `testbed:
  name: lab
devices:
  core1:
    os: iosxe
    type: router
    connections:
      cli:
        protocol: ssh
        ip: 10.0.0.1
      jump:
        protocol: ssh
        ip: 10.0.0.1
        proxy: jumphost
`

// fakeDevice answers discovery queries with fixed neighbors.
type fakeDevice struct {
	neighbors []model.Neighbor
}

func (d *fakeDevice) DiscoveryEnabled(context.Context, model.DiscoveryProtocol) (bool, error) {
	return true, nil
}

func (d *fakeDevice) SetDiscovery(context.Context, model.DiscoveryProtocol, bool) error {
	return nil
}

func (d *fakeDevice) Neighbors(_ context.Context, proto model.DiscoveryProtocol) ([]model.Neighbor, error) {
	if proto != model.DiscoveryCDP {
		return nil, nil
	}
	return d.neighbors, nil
}

func (d *fakeDevice) Interfaces(context.Context) ([]model.Interface, error) {
	return nil, nil
}

type fakeSession struct {
	dev   *fakeDevice
	addr  model.Address
	proto model.Protocol
}

func (s *fakeSession) Exec(context.Context, string) (string, error) { return "", nil }
func (s *fakeSession) Configure(context.Context, []string) error   { return nil }
func (s *fakeSession) Protocol() model.Protocol                    { return s.proto }
func (s *fakeSession) Address() model.Address                      { return s.addr }
func (s *fakeSession) Close() error                                { return nil }

// fakeDialer reaches devices by host. onDial runs before every dial.
type fakeDialer struct {
	mu      sync.Mutex
	devices map[string]*fakeDevice
	onDial  func(host string)
}

func (f *fakeDialer) Dial(ctx context.Context, addr model.Address, proto model.Protocol, _ model.Credential) (session.Session, error) {
	f.mu.Lock()
	onDial := f.onDial
	f.mu.Unlock()
	if onDial != nil {
		onDial(addr.Host)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, ok := f.devices[addr.Host]
	if !ok {
		return nil, errors.New("connection timed out")
	}
	return &fakeSession{dev: dev, addr: addr, proto: proto}, nil
}

func fakeBackend(s session.Session) crawler.Backend {
	return s.(*fakeSession).dev
}

func twoDeviceLab() *fakeDialer {
	return &fakeDialer{devices: map[string]*fakeDevice{
		"10.0.0.1": {neighbors: []model.Neighbor{{
			Hostname:        "dist1",
			LocalInterface:  "GigabitEthernet0/1",
			RemoteInterface: "Ethernet1/1",
			Addresses:       []string{"10.0.0.2"},
			Platform:        "N9K-C93180YC",
		}}},
		"10.0.0.2": {neighbors: []model.Neighbor{{
			Hostname:        "core1",
			LocalInterface:  "Ethernet1/1",
			RemoteInterface: "GigabitEthernet0/1",
			Addresses:       []string{"10.0.0.1"},
		}}},
	}}
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seedTestbed), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.TestbedFile = writeSeed(t)
	cfg.Output = filepath.Join(dir, "out.yaml")
	cfg.UniversalLogin = "admin:secret"
	cfg.Timeout = time.Second
	cfg.DBDir = filepath.Join(dir, "db")
	cfg.ReportFile = filepath.Join(dir, "reports", "crawl.md")
	cfg.ReportFormat = config.ReportFormatMarkdown
	return cfg
}

func TestTopologyPipeline(t *testing.T) {
	t.Parallel()

	t.Run("crawls, writes, records and reports", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		var console bytes.Buffer
		p := TopologyPipeline(Options{
			Dialer:  twoDeviceLab(),
			Backend: fakeBackend,
			Console: applog.NewConsole(&console),
			Version: "test",
		})
		run := NewRun(cfg)

		if err := p.Execute(context.Background(), run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := p.StepNames(); strings.Join(got, ",") != "load,crawl,merge,write,history,report" {
			t.Errorf("unexpected steps %v", got)
		}

		out, err := os.ReadFile(cfg.Output)
		if err != nil {
			t.Fatal(err)
		}
		for _, want := range []string{"dist1:", "ip: 10.0.0.2", "link: Link_0", "GigabitEthernet0/1:", "Ethernet1/1:"} {
			if !strings.Contains(string(out), want) {
				t.Errorf("expected output testbed to contain %q, got:\n%s", want, out)
			}
		}

		if run.CrawlID == "" {
			t.Fatal("expected crawl ID")
		}
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		rec, err := db.GetCrawl(context.Background(), run.CrawlID)
		if err != nil {
			t.Fatalf("GetCrawl() error = %v", err)
		}
		if rec.Visited != 2 || rec.Links != 1 || rec.Cancelled {
			t.Errorf("unexpected crawl record %+v", rec)
		}

		report, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(report), "# Topology Crawl Report") || !strings.Contains(string(report), run.CrawlID) {
			t.Errorf("unexpected report:\n%s", report)
		}

		if !strings.Contains(console.String(), `%CONTRIB-WARNING: Proxy "jumphost" is not a SOCKS5 host:port`) {
			t.Errorf("expected proxy warning, got:\n%s", console.String())
		}
		if !strings.Contains(console.String(), "%CONTRIB-INFO: Testbed written to "+cfg.Output) {
			t.Errorf("expected write notice, got:\n%s", console.String())
		}
	})

	t.Run("no history and no report when disabled", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		cfg.SaveToDB = false
		cfg.ReportFile = ""

		run := NewRun(cfg)
		p := TopologyPipeline(Options{Dialer: twoDeviceLab(), Backend: fakeBackend})
		if err := p.Execute(context.Background(), run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if run.CrawlID != "" {
			t.Errorf("expected no crawl ID, got %q", run.CrawlID)
		}
		if _, err := os.Stat(filepath.Join(cfg.DBDir, database.FileName)); !os.IsNotExist(err) {
			t.Errorf("expected no database file, stat error = %v", err)
		}
	})

	t.Run("interrupted crawl keeps partial results", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dialer := twoDeviceLab()
		dialer.onDial = func(host string) {
			if host == "10.0.0.2" {
				cancel()
			}
		}

		run := NewRun(cfg)
		p := TopologyPipeline(Options{Dialer: dialer, Backend: fakeBackend})
		err := p.Execute(ctx, run)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if !run.Cancelled {
			t.Error("expected run to be cancelled")
		}

		out, err := os.ReadFile(cfg.Output)
		if err != nil {
			t.Fatalf("expected partial output to be written: %v", err)
		}
		if !strings.Contains(string(out), "core1:") {
			t.Errorf("expected seed device in output, got:\n%s", out)
		}

		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		rec, err := db.GetCrawl(context.Background(), run.CrawlID)
		if err != nil {
			t.Fatalf("GetCrawl() error = %v", err)
		}
		if !rec.Cancelled {
			t.Error("expected history record to be marked cancelled")
		}
	})
}

func TestLoadStep(t *testing.T) {
	t.Parallel()

	t.Run("loads seeds and proxies", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.TestbedFile = writeSeed(t)
		run := NewRun(cfg)

		if err := NewLoadStep(nil).Do(context.Background(), run); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(run.Seeds) != 1 || run.Seeds[0].Name() != "core1" {
			t.Errorf("unexpected seeds %+v", run.Seeds)
		}
		if len(run.Proxies) != 0 {
			t.Errorf("expected the device-name proxy to be dropped, got %v", run.Proxies)
		}
	})

	t.Run("warns about an unreachable proxy", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		closed := ln.Addr().String()
		_ = ln.Close()

		cfg := config.NewConfig()
		cfg.TestbedFile = writeSeed(t)
		cfg.Proxy = closed
		var console bytes.Buffer
		if err := NewLoadStep(applog.NewConsole(&console)).Do(context.Background(), NewRun(cfg)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(console.String(), "Proxy "+closed+" failed its SOCKS5 check") {
			t.Errorf("expected proxy warning, got:\n%s", console.String())
		}
	})

	t.Run("missing testbed", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.TestbedFile = filepath.Join(t.TempDir(), "missing.yaml")
		if err := NewLoadStep(nil).Do(context.Background(), NewRun(cfg)); err == nil {
			t.Error("expected error for missing testbed")
		}
	})
}

func TestMergeStepWithoutResult(t *testing.T) {
	t.Parallel()

	t.Run("error when the crawl produced nothing", func(t *testing.T) {
		t.Parallel()

		err := NewMergeStep().Do(context.Background(), NewRun(config.NewConfig()))
		if !errors.Is(err, ErrNoResult) {
			t.Errorf("expected ErrNoResult, got %v", err)
		}
	})

	t.Run("no error when cancelled before the crawl", func(t *testing.T) {
		t.Parallel()

		run := NewRun(config.NewConfig())
		run.Cancelled = true
		if err := NewMergeStep().Do(context.Background(), run); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestTopology(t *testing.T) {
	t.Parallel()

	result := &crawler.Result{
		Devices: []model.Device{{Hostname: "r1"}, {Hostname: "r2"}},
		Attempts: map[string][]connect.Attempt{
			"r1": {
				{Protocol: model.ProtocolSSH, Err: errors.New("refused")},
				{Protocol: model.ProtocolTelnet},
			},
			"r2": {
				{Protocol: model.ProtocolSSH, Err: errors.New("refused")},
			},
		},
	}

	t.Run("uses the protocol that connected", func(t *testing.T) {
		t.Parallel()

		topo := Topology(result, false)
		if topo.Protocols["r1"] != model.ProtocolTelnet {
			t.Errorf("expected telnet for r1, got %q", topo.Protocols["r1"])
		}
		if _, ok := topo.Protocols["r2"]; ok {
			t.Error("r2 never connected and should have no protocol")
		}
		if topo.DefaultProtocol != model.ProtocolSSH {
			t.Errorf("expected ssh default, got %q", topo.DefaultProtocol)
		}
	})

	t.Run("telnet-connect changes the default", func(t *testing.T) {
		t.Parallel()

		if got := Topology(result, true).DefaultProtocol; got != model.ProtocolTelnet {
			t.Errorf("expected telnet default, got %q", got)
		}
	})
}

func TestWriteStepStdout(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.TestbedFile = writeSeed(t)
	run := NewRun(cfg)
	if err := NewLoadStep(nil).Do(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	run.Result = &crawler.Result{}

	var stdout bytes.Buffer
	if err := NewWriteStep(&stdout, nil).Do(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "testbed:\n  name: lab\n") {
		t.Errorf("unexpected stdout:\n%s", stdout.String())
	}
}
