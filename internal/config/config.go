package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// DefaultTimeout is the per-attempt connection timeout. It bounds each
	// (address, protocol) candidate, not the whole crawl.
	DefaultTimeout = 10 * time.Second

	// DefaultWorkers is the number of devices visited concurrently. A single
	// worker keeps the crawl order, and so alias preference, reproducible.
	DefaultWorkers = 1

	// DefaultReportFormat is used when --report is given without a format.
	DefaultReportFormat = ReportFormatText

	// AppName is the application name used for XDG directory paths.
	AppName = "topocrawl"
)

// Report formats accepted by --report-format.
const (
	ReportFormatText     = "text"
	ReportFormatMarkdown = "markdown"
	ReportFormatJSON     = "json"
)

// Config holds every option of a topology crawl. It is populated from CLI
// flags and the optional .topocrawl file, validated once, and passed to the
// crawler explicitly.
type Config struct {
	// TestbedFile is the seed testbed YAML.
	TestbedFile string

	// Output is the path of the merged testbed. Empty means stdout.
	Output string

	// ConfigDiscovery allows the crawler to enable CDP/LLDP on devices where
	// it is off, after operator consent. Every change is rolled back.
	ConfigDiscovery bool

	// AddUnconnectedInterfaces adds interfaces that appear in no link to the
	// output topology.
	AddUnconnectedInterfaces bool

	// ExcludeNetworks are CIDRs whose addresses are never contacted or linked.
	ExcludeNetworks []string

	// ExcludeInterfaces are interface name patterns whose neighbor records
	// are ignored.
	ExcludeInterfaces []string

	// OnlyLinks restricts the output to links between seed devices.
	OnlyLinks bool

	// Aliases maps a device name to the connection alias tried first.
	Aliases map[string]string

	// SSHOnly restricts sessions to ssh.
	SSHOnly bool

	// TelnetConnect restricts sessions to telnet.
	TelnetConnect bool

	// Timeout is the per-attempt connection timeout.
	Timeout time.Duration

	// UniversalLogin is "user:password" used for devices without a seed
	// credential.
	UniversalLogin string

	// CredPrompt enables the interactive per-device credential prompt.
	CredPrompt bool

	// DebugLog is the path of the attempt-level debug log. Empty disables it.
	DebugLog string

	// DisableConfig forbids any configuration change on devices, including
	// the snapshot taken before one.
	DisableConfig bool

	// Workers bounds the number of devices visited concurrently.
	Workers int

	// Proxy is a SOCKS5 "host:port" added as a jump candidate for every
	// newly discovered device, in addition to the proxies of the seed testbed.
	Proxy string

	// Probe checks candidate ports with nmap before dialing.
	Probe bool

	// Verbose enables debug output on stderr.
	Verbose bool

	// ConfigFilePath is the explicit .topocrawl path, if any.
	ConfigFilePath string

	// DeviceConfigs holds per-device settings loaded from the config file.
	DeviceConfigs *File

	// ReportFile is where the crawl report is written. Empty disables it.
	ReportFile string

	// ReportFormat is one of text, markdown and json.
	ReportFormat string

	// DBDir holds the crawl history database. Defaults to the XDG data dir.
	DBDir string

	// SaveToDB records the crawl in the history database.
	SaveToDB bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Timeout:      DefaultTimeout,
		Workers:      DefaultWorkers,
		ReportFormat: DefaultReportFormat,
		Aliases:      make(map[string]string),
		DBDir:        XDGDataDir(),
		SaveToDB:     true,
	}
}

// XDGDataDir returns the XDG data directory for topocrawl.
// On Linux: ~/.local/share/topocrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for topocrawl.
// On Linux: ~/.config/topocrawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ParseAlias splits a "device:alias" flag value.
func ParseAlias(s string) (device, alias string, err error) {
	device, alias, ok := strings.Cut(s, ":")
	device = strings.TrimSpace(device)
	alias = strings.TrimSpace(alias)
	if !ok || device == "" || alias == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidAlias, s)
	}
	return device, alias, nil
}

// AddAliases parses "device:alias" values into c.Aliases, replacing any
// alias already set for the device.
func (c *Config) AddAliases(values []string) error {
	if c.Aliases == nil {
		c.Aliases = make(map[string]string)
	}
	for _, v := range values {
		device, alias, err := ParseAlias(v)
		if err != nil {
			return err
		}
		c.Aliases[device] = alias
	}
	return nil
}

// AliasFor returns the preferred connection alias of a device, looked up by
// any of its names. Names are compared case-insensitively.
func (c *Config) AliasFor(names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		if alias, ok := c.Aliases[name]; ok {
			return alias
		}
		for device, alias := range c.Aliases {
			if strings.EqualFold(device, name) {
				return alias
			}
		}
	}
	return ""
}

// Login splits UniversalLogin. ok is false when no universal login is set.
func (c *Config) Login() (username, password string, ok bool) {
	if c.UniversalLogin == "" {
		return "", "", false
	}
	username, password, ok = strings.Cut(c.UniversalLogin, ":")
	if !ok || username == "" {
		return "", "", false
	}
	return username, password, true
}

// ApplyFile merges the config file into c. File defaults are appended
// before flag values; aliases already set from flags win.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	c.DeviceConfigs = f
	c.ExcludeNetworks = append(append([]string(nil), f.Defaults.ExcludeNetworks...), c.ExcludeNetworks...)
	c.ExcludeInterfaces = append(append([]string(nil), f.Defaults.ExcludeInterfaces...), c.ExcludeInterfaces...)
	if c.Aliases == nil {
		c.Aliases = make(map[string]string)
	}
	for name, dev := range f.Devices {
		if dev.Alias == "" {
			continue
		}
		if _, ok := c.Aliases[name]; !ok {
			c.Aliases[name] = dev.Alias
		}
	}
}

// Validate checks if the configuration is valid and returns the first
// problem found.
func (c *Config) Validate() error {
	if c.TestbedFile == "" {
		return ErrNoTestbed
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.SSHOnly && c.TelnetConnect {
		return ErrConflictingProtocols
	}
	if c.ConfigDiscovery && c.DisableConfig {
		return ErrConflictingConfigModes
	}
	if c.UniversalLogin != "" {
		if _, _, ok := c.Login(); !ok {
			return ErrInvalidUniversalLogin
		}
	}
	if c.Proxy != "" {
		if _, _, err := net.SplitHostPort(c.Proxy); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidProxy, c.Proxy)
		}
	}
	switch c.ReportFormat {
	case ReportFormatText, ReportFormatMarkdown, ReportFormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidReportFormat, c.ReportFormat)
	}
	return nil
}
