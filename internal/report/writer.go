package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/crawler"
	"github.com/nao1215/topocrawl/internal/model"
)

// Report is a crawl result together with where it came from.
type Report struct {
	// CrawlID is the history ID, empty when history is disabled.
	CrawlID string

	// Testbed is the seed testbed path.
	Testbed string

	// Output is the merged testbed path, empty for stdout.
	Output string

	// Cancelled is true when the crawl was interrupted.
	Cancelled bool

	Result *crawler.Result
}

// Summary tallies the result.
func (r *Report) Summary() crawler.Summary {
	return r.Result.Summary()
}

// Writer defines the interface for report output.
type Writer interface {
	// Write renders the report and returns the number of bytes written.
	Write(report *Report) (int, error)
}

// MultiWriter writes to multiple Writers in order and stops on the first
// error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
func (m *MultiWriter) Write(report *Report) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// NewWriter returns the writer for a --report-format value.
func NewWriter(format string, output io.Writer, version string) (Writer, error) {
	switch format {
	case config.ReportFormatText:
		return NewSimpleWriter(output), nil
	case config.ReportFormatMarkdown:
		return NewMarkdownWriter(output), nil
	case config.ReportFormatJSON:
		return NewJSONWriter(output, version, WithPrettyPrint()), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidReportFormat, format)
	}
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

var titleCase = cases.Title(language.English)

// statusTitle renders a status for headings, e.g. "Visited".
func statusTitle(s model.Status) string {
	return titleCase.String(s.String())
}

// reportStatuses are the statuses a finished crawl can report, in display
// order.
var reportStatuses = []model.Status{
	model.StatusVisited,
	model.StatusFailed,
	model.StatusExcluded,
	model.StatusUnvisited,
}

// primaryAddress returns the first candidate host of a device.
func primaryAddress(d model.Device) string {
	if hosts := d.Hosts(); len(hosts) > 0 {
		return hosts[0]
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// attemptLine renders one connection attempt, e.g.
// "ssh://10.0.0.1:22 failed after 2.1s: connection refused".
func attemptLine(a connect.Attempt) string {
	target := string(a.Protocol) + "://" + a.Address.Dial(a.Protocol)
	if a.Address.Proxy != "" {
		target += " via " + a.Address.Proxy
	}
	d := a.Duration.Round(time.Millisecond)
	if a.Succeeded() {
		return fmt.Sprintf("%s connected in %s", target, d)
	}
	return fmt.Sprintf("%s failed after %s: %v", target, d, a.Err)
}

func sortedInterfaces(d model.Device) []string {
	return slices.Sorted(maps.Keys(d.Interfaces))
}
