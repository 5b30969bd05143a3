// Package policy holds the exclusion policy applied while crawling: IPv4
// networks that must never be contacted or linked, and interface names whose
// neighbor records are ignored.
package policy
