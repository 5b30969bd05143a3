// Package pipeline runs a topology crawl as a sequence of steps.
//
// A topology run is: load the seed testbed, crawl, merge the result into the
// testbed, write it, record it in the history database and write the report.
// Each stage is a Step that reads and fills a shared Run.
//
// When the context is cancelled the remaining steps are skipped, except for
// Finalizer steps. Those run on an uncancelled context so that a partial
// crawl is still written out and recorded.
package pipeline
