package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/topocrawl/internal/pipeline"
)

// NewCreatorsCmd creates the creators command.
func NewCreatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "creators [name]",
		Short: "List testbed creators and their arguments",
		Long: `Creators lists the registered testbed creators with their required and
optional arguments. Arguments are given as flags of the same name, with
underscores written as dashes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCreatorsCmd,
	}
}

// runCreatorsCmd executes the creators command.
func runCreatorsCmd(cmd *cobra.Command, args []string) error {
	registry := newRegistry(pipeline.Options{})
	names := registry.Names()
	if len(args) == 1 {
		names = args
	}

	out := cmd.OutOrStdout()
	for i, name := range names {
		info, err := registry.Describe(name)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s\n", info.Name)
		fmt.Fprintf(out, "  required: %s\n", strings.Join(flagNames(info.Required), ", "))
		fmt.Fprintln(out, "  optional:")
		for _, arg := range slices.Sorted(maps.Keys(info.Optional)) {
			def := info.Optional[arg]
			if def == "" {
				def = "-"
			}
			fmt.Fprintf(out, "    --%-28s %s\n", flagName(arg), def)
		}
	}
	return nil
}

func flagName(arg string) string {
	return strings.ReplaceAll(arg, "_", "-")
}

func flagNames(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = "--" + flagName(a)
	}
	return out
}
