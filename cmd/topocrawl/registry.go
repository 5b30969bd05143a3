package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nao1215/topocrawl/internal/creator"
	"github.com/nao1215/topocrawl/internal/credential"
	applog "github.com/nao1215/topocrawl/internal/log"
	"github.com/nao1215/topocrawl/internal/pipeline"
	"github.com/nao1215/topocrawl/internal/safety"
)

// errOutputIsDirectory is returned when --output names a directory.
var errOutputIsDirectory = errors.New("output path is a directory")

// newRegistry registers every creator the CLI offers.
func newRegistry(opts pipeline.Options) *creator.Registry {
	r := creator.NewRegistry()
	for name, ctor := range map[string]creator.Constructor{
		creator.TopologyName: creator.TopologyConstructor(opts),
		creator.FileName:     creator.NewFile,
	} {
		if err := r.Register(name, ctor); err != nil {
			panic(err)
		}
	}
	return r
}

// pipelineOptions wires the terminal of cmd into a topology run. The
// consent and credential prompts read from one buffered stdin.
func pipelineOptions(cmd *cobra.Command) pipeline.Options {
	in := sharedInput(cmd.InOrStdin())
	return pipeline.Options{
		Prompt:  credential.TerminalPrompt(in, cmd.ErrOrStderr()),
		Confirm: safety.TerminalConfirm(in, cmd.ErrOrStderr()),
		Stdout:  cmd.OutOrStdout(),
		Console: applog.NewConsole(cmd.ErrOrStderr()),
		Version: getVersion(),
	}
}

// fileInput is a buffered *os.File that still exposes its descriptor, so
// passwords typed on a terminal are read without echo.
type fileInput struct {
	*bufio.Reader
	file *os.File
}

func (f *fileInput) Fd() uintptr {
	return f.file.Fd()
}

func sharedInput(in io.Reader) io.Reader {
	buf := bufio.NewReader(in)
	if f, ok := in.(*os.File); ok {
		return &fileInput{Reader: buf, file: f}
	}
	return buf
}

// flagArguments converts the flags set on the command line into creator
// arguments. Slice flags are joined with commas.
func flagArguments(fs *pflag.FlagSet, skip ...string) creator.Arguments {
	args := creator.Arguments{}
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		for _, s := range skip {
			if f.Name == s {
				return
			}
		}
		value := f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			value = strings.Join(sv.GetSlice(), ",")
		}
		args[creator.ArgumentName(f.Name)] = value
	})
	return args
}

// checkOutput rejects an output path that is an existing directory.
func checkOutput(path string) error {
	if path == "" {
		return nil
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return fmt.Errorf("%w: %s", errOutputIsDirectory, path)
	}
	return nil
}
