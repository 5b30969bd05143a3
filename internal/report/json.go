package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/topocrawl/internal/model"
)

// JSONWriter outputs reports in JSON format for tool integration.
type JSONWriter struct {
	baseWriter

	// version is stamped into every report.
	version string

	// indent enables pretty-printed JSON output.
	// When false, output is compact (no extra whitespace).
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
// This is a convenience wrapper for WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, version string, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
		version:    version,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the report in JSON format.
func (w *JSONWriter) Write(report *Report) (int, error) {
	return w.writeJSON(NewJSONReport(report, w.version))
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}

// JSONReport is the JSON document of a crawl.
type JSONReport struct {
	// Version is the topocrawl version that generated this report.
	Version   string `json:"version"`
	CrawlID   string `json:"crawl_id,omitempty"`
	Testbed   string `json:"testbed"`
	Output    string `json:"output,omitempty"`
	Cancelled bool   `json:"cancelled"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Summary JSONSummary `json:"summary"`

	Devices  []model.Device `json:"devices"`
	Links    []model.Link   `json:"links"`
	Excluded []model.Device `json:"excluded,omitempty"`

	// Attempts holds the connection attempts per device name.
	Attempts map[string][]JSONAttempt `json:"attempts,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
}

// JSONSummary is the status tally keyed by status name.
type JSONSummary struct {
	Devices          map[string]int `json:"devices"`
	Links            int            `json:"links"`
	PendingRollbacks int            `json:"pending_rollbacks"`
	DurationSeconds  float64        `json:"duration_seconds"`
}

// JSONAttempt is one connection attempt. Errors are flattened to strings.
type JSONAttempt struct {
	Protocol model.Protocol `json:"protocol"`
	Address  string         `json:"address"`
	Proxy    string         `json:"proxy,omitempty"`
	Started  time.Time      `json:"started"`
	Duration float64        `json:"duration_seconds"`
	Error    string         `json:"error,omitempty"`
}

// NewJSONReport converts a report to its JSON document.
func NewJSONReport(report *Report, version string) *JSONReport {
	r := report.Result
	summary := report.Summary()

	out := &JSONReport{
		Version:   version,
		CrawlID:   report.CrawlID,
		Testbed:   report.Testbed,
		Output:    report.Output,
		Cancelled: report.Cancelled,
		Started:   r.Started,
		Finished:  r.Finished,
		Summary: JSONSummary{
			Devices:          make(map[string]int, len(reportStatuses)),
			Links:            summary.Links,
			PendingRollbacks: summary.PendingRollbacks,
			DurationSeconds:  summary.Duration.Seconds(),
		},
		Devices:  r.Devices,
		Links:    r.Links,
		Excluded: r.Excluded,
		Warnings: r.Warnings,
	}
	if out.Devices == nil {
		out.Devices = []model.Device{}
	}
	if out.Links == nil {
		out.Links = []model.Link{}
	}
	for _, s := range reportStatuses {
		out.Summary.Devices[s.String()] = summary.Counts[s]
	}

	if len(r.Attempts) > 0 {
		out.Attempts = make(map[string][]JSONAttempt, len(r.Attempts))
		for name, attempts := range r.Attempts {
			for _, a := range attempts {
				ja := JSONAttempt{
					Protocol: a.Protocol,
					Address:  a.Address.Dial(a.Protocol),
					Proxy:    a.Address.Proxy,
					Started:  a.Started,
					Duration: a.Duration.Seconds(),
				}
				if a.Err != nil {
					ja.Error = a.Err.Error()
				}
				out.Attempts[name] = append(out.Attempts[name], ja)
			}
		}
	}
	return out
}
