package main

import (
	"github.com/spf13/cobra"

	"github.com/nao1215/topocrawl/internal/creator"
	applog "github.com/nao1215/topocrawl/internal/log"
)

// NewFileCmd creates the file command.
func NewFileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Create a testbed from a CSV device inventory",
		Long: `File converts a CSV device inventory into a testbed.

The first row names the columns. hostname, ip, username, protocol and os are
required for every device. password defaults to %ASK{}, enable_password to
the password (or %ASK{} when the column exists) and type to os. An ip may
carry a port as ip:port. Columns named custom:<key> are written to the
custom section of the device.

Example inventory:
  hostname,ip,username,password,protocol,os
  core1,10.0.0.1,admin,secret,ssh,iosxe

Examples:
  # Print the testbed
  topocrawl file --path devices.csv

  # Write it with %ENC{} passwords
  topocrawl file --path devices.csv --encode-password -o testbed.yaml`,
		Args: cobra.NoArgs,
		RunE: runFileCmd,
	}

	cmd.Flags().StringP("path", "p", "", "CSV file with one device per row")
	cmd.Flags().StringP("output", "o", "", "Path of the testbed (default: stdout)")
	cmd.Flags().Bool("encode-password", false, "Write passwords in %ENC{} form")

	return cmd
}

// runFileCmd executes the file command.
func runFileCmd(cmd *cobra.Command, _ []string) error {
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if err := checkOutput(output); err != nil {
		return err
	}

	c, err := newRegistry(pipelineOptions(cmd)).New(creator.FileName, flagArguments(cmd.LocalFlags(), "output"))
	if err != nil {
		return err
	}
	tb, err := c.Generate(cmd.Context())
	if err != nil {
		return err
	}

	if output == "" {
		return tb.Write(cmd.OutOrStdout())
	}
	if err := tb.WriteFile(output); err != nil {
		return err
	}
	applog.NewConsole(cmd.ErrOrStderr()).Infof("Testbed written to %s", output)
	return nil
}
