// Package safety guards configuration changes made on devices during a crawl.
//
// A crawl only mutates a device when the operator asked for it with
// config-discovery, confirmed the consent prompt, and did not pass
// disable-config. Every change is recorded in a RollbackToken and undone by
// Release before the session closes.
package safety
