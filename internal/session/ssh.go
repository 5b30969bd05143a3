package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/nao1215/topocrawl/internal/model"
)

type sshSession struct {
	client  *ssh.Client
	addr    model.Address
	timeout time.Duration
	logger  *slog.Logger

	// enablePassword raises a user EXEC shell before configuring.
	enablePassword string

	closeOnce sync.Once
	closeErr  error
}

func sshClientConfig(cred model.Credential, timeout time.Duration) *ssh.ClientConfig {
	password := cred.Password
	return &ssh.ClientConfig{
		User: cred.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			// many network OSes only offer keyboard-interactive
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // lab devices rarely have known host keys
		Timeout:         timeout,
	}
}

func newSSHSession(ctx context.Context, conn net.Conn, addr model.Address, cred model.Credential, timeout time.Duration, logger *slog.Logger) (*sshSession, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	target := addr.Dial(model.ProtocolSSH)
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target, sshClientConfig(cred, timeout))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("ssh handshake with %s: %w", target, ctxErr)
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s: %w", ErrAuthFailed, target, err)
		}
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", target, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{
		client:         ssh.NewClient(sshConn, chans, reqs),
		addr:           addr,
		timeout:        timeout,
		logger:         logger,
		enablePassword: cred.EnablePassword,
	}, nil
}

func (s *sshSession) Protocol() model.Protocol { return model.ProtocolSSH }

func (s *sshSession) Address() model.Address { return s.addr }

func (s *sshSession) Exec(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := commandContext(ctx, s.timeout)
	defer cancel()

	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		s.logger.Debug("command", "device", s.addr.Host, "protocol", "ssh", "command", cmd, "bytes", len(r.out))
		if r.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(r.err, &exitErr) {
				// command ran; IOS reports some show errors this way
				return string(r.out), nil
			}
			return "", fmt.Errorf("command %q failed: %w", cmd, r.err)
		}
		return string(r.out), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command %q: %w", cmd, ctx.Err())
	}
}

// Configure drives an interactive shell: it waits for the prompt, enters
// privileged EXEC when the login landed in user EXEC and an enable password
// is known, then sends each line and checks its answer.
func (s *sshSession) Configure(ctx context.Context, lines []string) error {
	ctx, cancel := commandContext(ctx, s.timeout)
	defer cancel()

	session, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})
	defer stop()

	modes := ssh.TerminalModes{ssh.ECHO: 0}
	if err := session.RequestPty("vt100", 0, 511, modes); err != nil {
		return fmt.Errorf("failed to request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}

	sh := &sshShell{r: bufio.NewReader(stdout), w: stdin}
	target := s.addr.Dial(model.ProtocolSSH)

	out, err := sh.readUntil(ctx, cliPromptRe)
	if err != nil {
		return fmt.Errorf("configure on %s: %w", target, err)
	}
	if userExec(out) && s.enablePassword != "" {
		if err := enable(ctx, sh, s.enablePassword, target); err != nil {
			return err
		}
	}

	for _, line := range configLines(lines) {
		if err := sh.writeLine(line); err != nil {
			return err
		}
		out, err := sh.readUntil(ctx, cliPromptRe)
		if err != nil {
			return fmt.Errorf("configure %q on %s: %w", line, target, err)
		}
		if err := CommandError(out); err != nil {
			_ = sh.writeLine("end")
			return err
		}
	}
	_ = sh.writeLine("exit")
	s.logger.Debug("configure", "device", s.addr.Host, "protocol", "ssh", "lines", lines)
	return nil
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

// sshShell is the interactive CLI of an ssh session with a pty.
type sshShell struct {
	r *bufio.Reader
	w io.Writer
}

func (sh *sshShell) writeLine(line string) error {
	if _, err := io.WriteString(sh.w, line+"\n"); err != nil {
		return fmt.Errorf("ssh write: %w", err)
	}
	return nil
}

// readUntil reads shell output until its last line matches one of the
// prompts. The shell is closed when ctx ends, which ends the read.
func (sh *sshShell) readUntil(ctx context.Context, prompts ...*regexp.Regexp) (string, error) {
	var buf strings.Builder
	for {
		b, err := sh.r.ReadByte()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return buf.String(), fmt.Errorf("%w: %w", ErrPromptNotFound, ctxErr)
			}
			return buf.String(), fmt.Errorf("%w: %w", ErrPromptNotFound, err)
		}
		if b == '\r' || b == 0 {
			continue
		}
		buf.WriteByte(b)

		switch b {
		case '#', '>', ':', ' ':
			if matchesPrompt(buf.String(), prompts) {
				return buf.String(), nil
			}
		}
	}
}

// CommandError reports the first CLI error marker in command output, such
// as "% Invalid input detected". The result wraps ErrCommandRejected.
func CommandError(out string) error {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "% Invalid") || strings.HasPrefix(line, "% Incomplete") ||
			strings.HasPrefix(line, "% Ambiguous") || strings.HasPrefix(line, "% Unknown") {
			return fmt.Errorf("%w: %s", ErrCommandRejected, line)
		}
	}
	return nil
}
