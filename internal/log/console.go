package log

import (
	"fmt"
	"io"
	"sync"
)

const (
	// InfoTag prefixes operator-facing progress lines.
	InfoTag = "%CONTRIB-INFO: "

	// WarningTag prefixes operator-facing warnings.
	WarningTag = "%CONTRIB-WARNING: "
)

// Console prints tagged status lines. It is safe for concurrent use by
// crawl workers.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w. A nil writer discards output.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{w: w}
}

// Infof prints a %CONTRIB-INFO: line.
func (c *Console) Infof(format string, args ...any) {
	c.printf(InfoTag, format, args...)
}

// Warningf prints a %CONTRIB-WARNING: line.
func (c *Console) Warningf(format string, args ...any) {
	c.printf(WarningTag, format, args...)
}

func (c *Console) printf(tag, format string, args ...any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, tag+format+"\n", args...)
}
