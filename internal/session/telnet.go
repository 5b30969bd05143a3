package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ziutek/telnet"

	"github.com/nao1215/topocrawl/internal/model"
)

// promptDelims end every prompt the CLI shows: hostname# and hostname> for
// EXEC modes, "Username:" and "Password:" while logging in.
var promptDelims = []string{"#", ">", ":"}

// outputCleaner drops carriage returns and the NUL a telnet server may send
// after them.
var outputCleaner = strings.NewReplacer("\r", "", "\x00", "")

type telnetSession struct {
	conn    *telnet.Conn
	addr    model.Address
	timeout time.Duration
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newTelnetSession(ctx context.Context, conn net.Conn, addr model.Address, cred model.Credential, timeout time.Duration, logger *slog.Logger) (*telnetSession, error) {
	tc, err := telnet.NewConn(conn)
	if err != nil {
		return nil, fmt.Errorf("telnet %s: %w", addr.Dial(model.ProtocolTelnet), err)
	}
	s := &telnetSession{
		conn:    tc,
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}
	if err := s.login(ctx, cred); err != nil {
		return nil, err
	}
	if _, err := s.Exec(ctx, "terminal length 0"); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *telnetSession) login(ctx context.Context, cred model.Credential) error {
	target := s.addr.Dial(model.ProtocolTelnet)

	out, err := s.readUntil(ctx, loginPromptRe, passwordPromptRe, cliPromptRe)
	if err != nil {
		return fmt.Errorf("telnet login to %s: %w", target, err)
	}

	if loginPromptRe.MatchString(promptLine(out)) {
		if err := s.writeLine(cred.Username); err != nil {
			return err
		}
		out, err = s.readUntil(ctx, passwordPromptRe, cliPromptRe)
		if err != nil {
			return fmt.Errorf("telnet login to %s: %w", target, err)
		}
	}

	if passwordPromptRe.MatchString(promptLine(out)) {
		if err := s.writeLine(cred.Password); err != nil {
			return err
		}
		out, err = s.readUntil(ctx, cliPromptRe, loginPromptRe, passwordPromptRe)
		if err != nil {
			return fmt.Errorf("telnet login to %s: %w", target, err)
		}
		if !cliPromptRe.MatchString(promptLine(out)) || authFailureRe.MatchString(out) {
			return fmt.Errorf("%w: %s", ErrAuthFailed, target)
		}
	}

	if userExec(out) && cred.EnablePassword != "" {
		return enable(ctx, s, cred.EnablePassword, target)
	}
	return nil
}

func (s *telnetSession) Protocol() model.Protocol { return model.ProtocolTelnet }

func (s *telnetSession) Address() model.Address { return s.addr }

func (s *telnetSession) Exec(ctx context.Context, cmd string) (string, error) {
	ctx, cancel := commandContext(ctx, s.timeout)
	defer cancel()

	if err := s.writeLine(cmd); err != nil {
		return "", err
	}
	out, err := s.readUntil(ctx, cliPromptRe)
	if err != nil {
		return "", fmt.Errorf("command %q: %w", cmd, err)
	}
	s.logger.Debug("command", "device", s.addr.Host, "protocol", "telnet", "command", cmd, "bytes", len(out))
	return trimCommandOutput(out, cmd), nil
}

func (s *telnetSession) Configure(ctx context.Context, lines []string) error {
	for _, line := range configLines(lines) {
		out, err := s.Exec(ctx, line)
		if err != nil {
			return err
		}
		if err := CommandError(out); err != nil {
			// leave configuration mode before reporting
			_, _ = s.Exec(ctx, "end")
			return err
		}
	}
	s.logger.Debug("configure", "device", s.addr.Host, "protocol", "telnet", "lines", lines)
	return nil
}

func (s *telnetSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.writeLine("exit")
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *telnetSession) writeLine(line string) error {
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("telnet write: %w", err)
	}
	return nil
}

// readUntil reads device output until its last line matches one of the
// prompts. Option negotiation is answered by the telnet connection and never
// shows up in the output.
func (s *telnetSession) readUntil(ctx context.Context, prompts ...*regexp.Regexp) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
	} else {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	var buf strings.Builder
	for {
		chunk, err := s.conn.ReadUntil(promptDelims...)
		buf.WriteString(outputCleaner.Replace(string(chunk)))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return buf.String(), fmt.Errorf("%w: %w", ErrPromptNotFound, ctxErr)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return buf.String(), fmt.Errorf("%w: %w", ErrPromptNotFound, err)
			}
			return buf.String(), err
		}
		if matchesPrompt(buf.String(), prompts) {
			return buf.String(), nil
		}
	}
}
