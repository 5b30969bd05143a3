// Package report renders crawl results.
//
// Three writers share the Writer interface:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: Markdown with a mermaid pie chart of device statuses
//   - JSONWriter: structured JSON for other tools
//
// NewWriter picks one by the --report-format name.
package report
