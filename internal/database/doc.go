// Package database stores crawl history in SQLite.
//
// Every topology crawl is saved under a random UUID together with its
// devices, links and connection attempts, so past crawls can be listed and
// compared with the history command. The driver is modernc.org/sqlite, which
// needs no cgo.
package database
