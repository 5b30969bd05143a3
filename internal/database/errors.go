package database

import "errors"

var (
	// ErrCrawlNotFound is returned when no crawl matches an ID.
	ErrCrawlNotFound = errors.New("crawl not found")

	// ErrAmbiguousCrawlID is returned when an ID prefix matches more than
	// one crawl.
	ErrAmbiguousCrawlID = errors.New("ambiguous crawl id")

	// ErrDatabaseNotFound is returned by Open when the database does not exist
	// and CreateIfNotExists is false.
	ErrDatabaseNotFound = errors.New("database not found")
)
