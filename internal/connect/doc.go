// Package connect opens a management session on a device by trying its
// candidate (address, protocol) pairs in preference order.
//
// Candidates matching the operator's alias for the device come first, then
// the remaining addresses in the order they were discovered. Each attempt is
// bounded by its own timeout. A candidate that failed once is not dialed
// again for the rest of the crawl, and every attempt is written to the debug
// log.
package connect
