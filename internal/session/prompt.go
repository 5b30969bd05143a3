package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var (
	loginPromptRe    = regexp.MustCompile(`(?i)(username|login)\s*:\s*$`)
	passwordPromptRe = regexp.MustCompile(`(?i)password\s*:\s*$`)
	cliPromptRe      = regexp.MustCompile(`^[\w.\-()/@:]+[#>]\s*$`)
	authFailureRe    = regexp.MustCompile(`(?i)(authentication failed|login invalid|login incorrect|access denied|bad passwords)`)
)

// prompter is an interactive CLI: lines go in, output is read up to the
// next prompt.
type prompter interface {
	writeLine(line string) error
	readUntil(ctx context.Context, prompts ...*regexp.Regexp) (string, error)
}

// enable raises a user EXEC CLI to privileged EXEC.
func enable(ctx context.Context, p prompter, password, target string) error {
	if err := p.writeLine("enable"); err != nil {
		return err
	}
	if _, err := p.readUntil(ctx, passwordPromptRe); err != nil {
		return fmt.Errorf("enable on %s: %w", target, err)
	}
	if err := p.writeLine(password); err != nil {
		return err
	}
	out, err := p.readUntil(ctx, cliPromptRe, passwordPromptRe)
	if err != nil {
		return fmt.Errorf("enable on %s: %w", target, err)
	}
	if !privileged(out) {
		return fmt.Errorf("%w: enable on %s", ErrAuthFailed, target)
	}
	return nil
}

func privileged(out string) bool {
	return strings.HasSuffix(strings.TrimSpace(promptLine(out)), "#")
}

func userExec(out string) bool {
	return strings.HasSuffix(strings.TrimSpace(promptLine(out)), ">")
}

// matchesPrompt reports whether the last line of out is one of prompts.
func matchesPrompt(out string, prompts []*regexp.Regexp) bool {
	last := promptLine(out)
	for _, p := range prompts {
		if p.MatchString(last) {
			return true
		}
	}
	return false
}

// promptLine is the last line of out without the blanks left over from the
// previous prompt.
func promptLine(out string) string {
	return strings.TrimLeft(lastLine(out), " ")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// trimCommandOutput drops the echoed command line and the trailing prompt.
func trimCommandOutput(out, cmd string) string {
	lines := strings.Split(out, "\n")
	if len(lines) > 0 && strings.Contains(lines[0], strings.TrimSpace(cmd)) {
		lines = lines[1:]
	}
	if len(lines) > 0 && cliPromptRe.MatchString(strings.TrimLeft(lines[len(lines)-1], " ")) {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
