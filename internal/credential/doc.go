// Package credential supplies logins for devices during a crawl.
//
// A Resolver tries, in order: the credential attached to the device by the
// seed testbed, the operator's universal login, and an interactive prompt.
// Prompted credentials are cached per device for the rest of the crawl and
// prompts are serialized so workers never interleave on the terminal.
package credential
