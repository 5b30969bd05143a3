package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/creator"
)

// NewTopologyCmd creates the topology command.
func NewTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Discover the topology from a seed testbed",
		Long: `Topology connects to the devices of a seed testbed, reads their CDP and
LLDP neighbors and follows them to new devices until nothing new is found.

The seed testbed is written back with every discovered device added to the
devices section and a topology section holding the interfaces and Link_<n>
names of every link. Seed entries are never modified.

Interrupting the crawl (Ctrl-C) stops new connections, rolls back any
discovery protocol that was turned on and still writes the partial result.

Examples:
  # Crawl from a seed testbed and print the result
  topocrawl topology --testbed-file seed.yaml

  # Log in to new devices with one account and write to a file
  topocrawl topology --testbed-file seed.yaml --universal-login admin:secret -o testbed.yaml

  # Keep out of the lab network and ignore management ports
  topocrawl topology --testbed-file seed.yaml --exclude-networks 10.99.0.0/16 --exclude-interfaces "mgmt*"

  # Turn CDP/LLDP on where it is off (asks first, always rolled back)
  topocrawl topology --testbed-file seed.yaml --config-discovery

  # Write a markdown crawl report
  topocrawl topology --testbed-file seed.yaml --report crawl.md --report-format markdown`,
		Args: cobra.NoArgs,
		RunE: runTopologyCmd,
	}

	f := cmd.Flags()

	// Inputs and outputs
	f.String("testbed-file", "", "Seed testbed YAML with the devices to start from")
	f.StringP("output", "o", "", "Path of the merged testbed (default: stdout)")
	f.StringP("config", "c", "",
		"Configuration file path (default: .topocrawl in current or home directory)")

	// Discovery scope
	f.Bool("config-discovery", false, "Enable CDP/LLDP on devices where it is off, rolled back afterwards")
	f.Bool("disable-config", false, "Never change device configuration")
	f.Bool("add-unconnected-interfaces", false, "Add interfaces without a link to the topology")
	f.StringSlice("exclude-networks", nil, "Networks (CIDR) that are never contacted or linked")
	f.StringSlice("exclude-interfaces", nil, "Interface patterns whose neighbors are ignored")
	f.Bool("only-links", false, "Only add links between seed devices")

	// Connections
	f.StringArray("alias", nil, "Connection alias tried first, as device:alias (repeatable)")
	f.Bool("ssh-only", false, "Connect with ssh only")
	f.Bool("telnet-connect", false, "Connect with telnet only")
	f.Duration("timeout", config.DefaultTimeout, "Timeout of each connection attempt")
	f.String("universal-login", "", "Credentials for devices without one, as user:password")
	f.Bool("cred-prompt", false, "Ask for credentials of devices that cannot log in")
	f.String("proxy", "", "SOCKS5 jump host (host:port) tried for discovered devices")
	f.Bool("probe", false, "Check ssh/telnet ports with nmap before connecting")
	f.IntP("workers", "w", config.DefaultWorkers, "Number of devices visited concurrently")

	// Logging, report and history
	f.String("debug-log", "", "Write attempt-level debug records to this file")
	f.StringP("report", "r", "", "Write a crawl report to this file")
	f.String("report-format", config.DefaultReportFormat, "Report format: text, markdown or json")
	f.Bool("no-history", false, "Do not record the crawl in the history database")
	f.String("db-dir", config.XDGDataDir(), "Directory of the history database")

	return cmd
}

// runTopologyCmd executes the topology command.
func runTopologyCmd(cmd *cobra.Command, _ []string) error {
	args := flagArguments(cmd.LocalFlags())
	if getVerboseFlag(cmd) {
		args["verbose"] = strconv.FormatBool(true)
	}
	if err := checkOutput(args.String("output")); err != nil {
		return err
	}

	c, err := newRegistry(pipelineOptions(cmd)).New(creator.TopologyName, args)
	if err != nil {
		return err
	}
	topo, ok := c.(*creator.Topology)
	if !ok {
		return fmt.Errorf("unexpected creator %T", c)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := topo.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && run != nil && run.Cancelled {
			return fmt.Errorf("crawl interrupted, partial results kept: %w", err)
		}
		return err
	}
	return nil
}
