// Package session opens management sessions on network devices.
//
// A Transport dials ssh (golang.org/x/crypto/ssh) or telnet sessions, either
// directly or through a SOCKS5 jump host (golang.org/x/net/proxy). Sessions
// run show commands with Exec and push configuration lines with Configure.
// Every session is owned by one crawl worker and must be closed by it.
package session
