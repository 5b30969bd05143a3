package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	applog "github.com/nao1215/topocrawl/internal/log"
)

// NewRootCmd creates the root command for topocrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topocrawl",
		Short: "Discover network topology and write pyATS testbeds",
		Long: `topocrawl builds pyATS testbed files.

The topology creator starts from the devices of a seed testbed, connects to
them over ssh or telnet and follows their CDP and LLDP neighbors until no new
device is found. The result is the seed testbed plus every discovered device
and a topology section with the links between them.

The file creator converts a CSV device inventory into a testbed.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			newLogger := applog.NewSecureLogger
			if asJSON, err := cmd.Flags().GetBool("log-json"); err == nil && asJSON {
				newLogger = applog.NewSecureJSONLogger
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), getVerboseFlag(cmd)))
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write log records to stderr as JSON")

	cmd.AddCommand(NewTopologyCmd())
	cmd.AddCommand(NewFileCmd())
	cmd.AddCommand(NewCreatorsCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}
