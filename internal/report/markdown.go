package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/topocrawl/internal/crawler"
	"github.com/nao1215/topocrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format, for pasting into
// tickets and wiki pages.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *Report) (int, error) {
	md := markdown.NewMarkdown(w.output)
	summary := report.Summary()

	w.writeHeader(md, report)
	w.writeSummary(md, summary)
	w.writeDevices(md, report)
	w.writeLinks(md, report)
	w.writeFailures(md, report)
	w.writeWarnings(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *Report) {
	md.H1("Topology Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Testbed", "`" + orDash(report.Testbed) + "`"},
	}
	if report.Output != "" {
		rows = append(rows, []string{"Output", "`" + report.Output + "`"})
	}
	if report.CrawlID != "" {
		rows = append(rows, []string{"Crawl ID", "`" + report.CrawlID + "`"})
	}
	rows = append(rows,
		[]string{"Started", formatTime(report.Result.Started)},
		[]string{"Duration", report.Result.Finished.Sub(report.Result.Started).Round(time.Millisecond).String()},
		[]string{"Status", w.statusText(report)},
	)

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) statusText(report *Report) string {
	if report.Cancelled {
		return "⚠️ Cancelled (partial results)"
	}
	return "✅ Complete"
}

func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, summary crawler.Summary) {
	md.H2("Summary")
	md.PlainText("")

	rows := make([][]string, 0, len(reportStatuses)+2)
	total := 0
	for _, s := range reportStatuses {
		rows = append(rows, []string{statusTitle(s), strconv.Itoa(summary.Counts[s])})
		total += summary.Counts[s]
	}
	rows = append(rows,
		[]string{"**Devices**", "**" + strconv.Itoa(total) + "**"},
		[]string{"Links", strconv.Itoa(summary.Links)},
	)
	md.Table(markdown.TableSet{
		Header: []string{"Status", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	if total > 0 {
		w.writePieChart(md, summary)
	}
	w.writeAlert(md, summary)
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, summary crawler.Summary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Device Status"),
		piechart.WithShowData(true),
	)
	for _, s := range reportStatuses {
		if n := summary.Counts[s]; n > 0 {
			chart.LabelAndIntValue(statusTitle(s), uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary crawler.Summary) {
	switch {
	case summary.PendingRollbacks > 0:
		md.Cautionf(
			"Discovery protocol changes could not be rolled back on %d device(s). Check their configuration.",
			summary.PendingRollbacks,
		)
	case len(summary.Failed) > 0:
		md.Warningf("%d device(s) could not be crawled: %s", len(summary.Failed), strings.Join(summary.Failed, ", "))
	case summary.Counts[model.StatusUnvisited] > 0:
		md.Importantf("%d device(s) were found but never connected to.", summary.Counts[model.StatusUnvisited])
	default:
		md.Tip("Every reachable device was crawled.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeDevices(md *markdown.Markdown, report *Report) {
	md.H2("Devices")
	md.PlainText("")

	if len(report.Result.Devices) == 0 {
		md.PlainText("No devices were discovered.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(report.Result.Devices))
	for _, d := range report.Result.Devices {
		rows = append(rows, []string{
			d.Name(),
			statusTitle(d.Status),
			primaryAddress(d),
			orDash(d.OS),
			orDash(d.Platform),
			orDash(d.DiscoveredVia),
			strconv.Itoa(len(d.Interfaces)),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Device", "Status", "Address", "OS", "Platform", "Discovered Via", "Interfaces"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeLinks(md *markdown.Markdown, report *Report) {
	md.H2("Links")
	md.PlainText("")

	if len(report.Result.Links) == 0 {
		md.PlainText("No links were discovered.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(report.Result.Links))
	for _, l := range report.Result.Links {
		protocols := make([]string, 0, len(l.Protocols))
		for _, p := range l.Protocols {
			protocols = append(protocols, strings.ToUpper(string(p)))
		}
		rows = append(rows, []string{
			l.A.String(),
			l.B.String(),
			orDash(strings.Join(protocols, ", ")),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Endpoint A", "Endpoint B", "Reported By"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFailures lists failed and excluded devices with their reasons. The
// connection attempts of each failed device go in a collapsible block.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, report *Report) {
	var failed []model.Device
	for _, d := range report.Result.Devices {
		if d.Status == model.StatusFailed {
			failed = append(failed, d)
		}
	}
	if len(failed) == 0 && len(report.Result.Excluded) == 0 {
		return
	}

	md.H2("Failed and Excluded Devices")
	md.PlainText("")

	rows := make([][]string, 0, len(failed)+len(report.Result.Excluded))
	for _, d := range append(failed, report.Result.Excluded...) {
		rows = append(rows, []string{
			d.Name(),
			statusTitle(d.Status),
			primaryAddress(d),
			truncateString(orDash(d.Failure), 80),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Device", "Status", "Address", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, d := range failed {
		attempts := report.Result.Attempts[d.Name()]
		if len(attempts) == 0 {
			continue
		}
		lines := make([]string, 0, len(attempts))
		for _, a := range attempts {
			lines = append(lines, "- "+attemptLine(a))
		}
		md.Details(d.Name()+" connection attempts", strings.Join(lines, "\n"))
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeWarnings(md *markdown.Markdown, report *Report) {
	if len(report.Result.Warnings) == 0 {
		return
	}
	md.H2("Warnings")
	md.PlainText("")
	md.BulletList(report.Result.Warnings...)
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [topocrawl](https://github.com/nao1215/topocrawl)*")
}
