package safety

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TerminalConfirm returns a ConfirmFunc that asks on out and reads the answer
// from in. Only "y" and "yes" are taken as consent. An empty input stream
// declines. A reader with a ReadString method, such as a *bufio.Reader
// shared with other prompts, is read without further buffering.
func TerminalConfirm(in io.Reader, out io.Writer) ConfirmFunc {
	reader, ok := in.(interface {
		ReadString(delim byte) (string, error)
	})
	if !ok {
		reader = bufio.NewReader(in)
	}

	return func(question string) (bool, error) {
		if _, err := fmt.Fprintf(out, "%s [y/N]: ", question); err != nil {
			return false, err
		}
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
