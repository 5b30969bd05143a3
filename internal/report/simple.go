package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/topocrawl/internal/model"
)

// SimpleWriter outputs human-readable text reports for the terminal.
type SimpleWriter struct {
	baseWriter

	// showEmpty controls whether sections with nothing to list are shown.
	showEmpty bool

	// verbose adds every connection attempt and device interface.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *Report) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	w.writeDevices(&sb, report)
	w.writeLinks(&sb, report)
	w.writeFailures(&sb, report)
	w.writeWarnings(&sb, report)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *Report) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                      TOPOLOGY CRAWL REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Testbed:   %s\n", orDash(report.Testbed))
	if report.Output != "" {
		fmt.Fprintf(sb, "Output:    %s\n", report.Output)
	}
	if report.CrawlID != "" {
		fmt.Fprintf(sb, "Crawl ID:  %s\n", report.CrawlID)
	}
	fmt.Fprintf(sb, "Started:   %s\n", formatTime(report.Result.Started))
	fmt.Fprintf(sb, "Duration:  %s\n", report.Result.Finished.Sub(report.Result.Started).Round(time.Millisecond))
	if report.Cancelled {
		sb.WriteString("Status:    CANCELLED (partial results)\n")
	} else {
		sb.WriteString("Status:    Complete\n")
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *Report) {
	summary := report.Summary()
	w.section(sb, "SUMMARY")

	total := 0
	for _, s := range reportStatuses {
		fmt.Fprintf(sb, "  %-10s %d\n", strings.ToUpper(s.String())+":", summary.Counts[s])
		total += summary.Counts[s]
	}
	sb.WriteString("\n")
	fmt.Fprintf(sb, "  %-10s %d devices\n", "TOTAL:", total)
	fmt.Fprintf(sb, "  %-10s %d\n", "LINKS:", summary.Links)
	if summary.PendingRollbacks > 0 {
		fmt.Fprintf(sb, "\n  [!!] %d device(s) still have discovery protocol changes applied\n", summary.PendingRollbacks)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeDevices(sb *strings.Builder, report *Report) {
	devices := report.Result.Devices
	if len(devices) == 0 && !w.showEmpty {
		return
	}
	w.section(sb, "DEVICES")

	if len(devices) == 0 {
		sb.WriteString("  No devices discovered\n\n")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(sb, "  [%s] %s (%s)\n", statusIndicator(d.Status), d.Name(), primaryAddress(d))
		if d.OS != "" || d.Platform != "" {
			fmt.Fprintf(sb, "    OS: %s  Platform: %s\n", orDash(d.OS), orDash(d.Platform))
		}
		fmt.Fprintf(sb, "    Via: %s\n", orDash(d.DiscoveredVia))
		if w.verbose {
			for _, name := range sortedInterfaces(d) {
				iface := d.Interfaces[name]
				if iface.IPv4 != "" {
					fmt.Fprintf(sb, "    - %s %s\n", name, iface.IPv4)
				} else {
					fmt.Fprintf(sb, "    - %s\n", name)
				}
			}
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeLinks(sb *strings.Builder, report *Report) {
	links := report.Result.Links
	if len(links) == 0 && !w.showEmpty {
		return
	}
	w.section(sb, "LINKS")

	if len(links) == 0 {
		sb.WriteString("  No links discovered\n\n")
		return
	}
	for _, l := range links {
		fmt.Fprintf(sb, "  %s <-> %s\n", l.A, l.B)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailures(sb *strings.Builder, report *Report) {
	var failed []model.Device
	for _, d := range report.Result.Devices {
		if d.Status == model.StatusFailed {
			failed = append(failed, d)
		}
	}
	failed = append(failed, report.Result.Excluded...)
	if len(failed) == 0 && !w.showEmpty {
		return
	}
	w.section(sb, "FAILED AND EXCLUDED")

	if len(failed) == 0 {
		sb.WriteString("  None\n\n")
		return
	}
	for _, d := range failed {
		fmt.Fprintf(sb, "  [%s] %s (%s)\n", statusIndicator(d.Status), d.Name(), primaryAddress(d))
		if d.Failure != "" {
			fmt.Fprintf(sb, "    Reason: %s\n", d.Failure)
		}
		if w.verbose {
			for _, a := range report.Result.Attempts[d.Name()] {
				fmt.Fprintf(sb, "    - %s\n", attemptLine(a))
			}
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeWarnings(sb *strings.Builder, report *Report) {
	if len(report.Result.Warnings) == 0 {
		return
	}
	w.section(sb, "WARNINGS")
	for _, warning := range report.Result.Warnings {
		fmt.Fprintf(sb, "  [!] %s\n", warning)
	}
	sb.WriteString("\n")
}

func statusIndicator(s model.Status) string {
	switch s {
	case model.StatusVisited:
		return "+"
	case model.StatusFailed:
		return "!!"
	case model.StatusExcluded:
		return "-"
	case model.StatusUnvisited:
		return "?"
	default:
		return " "
	}
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by topocrawl\n")
	sb.WriteString("https://github.com/nao1215/topocrawl\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
