package credential

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"

	"github.com/nao1215/topocrawl/internal/model"
)

// LineReader reads newline-terminated answers. A *bufio.Reader shared by
// several prompts keeps each prompt from buffering the others' input.
type LineReader interface {
	ReadString(delim byte) (string, error)
}

// TerminalPrompt returns a PromptFunc that asks on out and reads from in.
// When in is a LineReader it is read directly; otherwise it is buffered.
// When in has a file descriptor on a terminal the password is read without
// echo.
func TerminalPrompt(in io.Reader, out io.Writer) PromptFunc {
	reader, ok := in.(LineReader)
	if !ok {
		reader = bufio.NewReader(in)
	}

	return func(ctx context.Context, device string) (model.Credential, error) {
		if err := ctx.Err(); err != nil {
			return model.Credential{}, err
		}

		if _, err := fmt.Fprintf(out, "Username for %s: ", device); err != nil {
			return model.Credential{}, err
		}
		username, err := readLine(reader)
		if err != nil {
			return model.Credential{}, fmt.Errorf("failed to read username: %w", err)
		}

		if _, err := fmt.Fprintf(out, "Password for %s: ", device); err != nil {
			return model.Credential{}, err
		}
		var password string
		if f, ok := in.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
			raw, err := term.ReadPassword(int(f.Fd())) //nolint:gosec // fd fits in int
			_, _ = fmt.Fprintln(out)
			if err != nil {
				return model.Credential{}, fmt.Errorf("failed to read password: %w", err)
			}
			password = string(raw)
		} else {
			password, err = readLine(reader)
			if err != nil {
				return model.Credential{}, fmt.Errorf("failed to read password: %w", err)
			}
		}

		return model.Credential{Username: username, Password: password}, nil
	}
}

func readLine(r LineReader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
