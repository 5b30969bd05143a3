package config

// Defaults holds settings applied to the whole crawl.
type Defaults struct {
	// ExcludeNetworks are CIDRs prepended to --exclude-networks.
	ExcludeNetworks []string `yaml:"excludeNetworks,omitempty"`

	// ExcludeInterfaces are patterns prepended to --exclude-interfaces.
	ExcludeInterfaces []string `yaml:"excludeInterfaces,omitempty"`
}

// DeviceConfig holds settings for a single device.
type DeviceConfig struct {
	// Alias is the connection tried first, like --alias device:alias.
	Alias string `yaml:"alias,omitempty"`
}

// File represents the structure of the .topocrawl configuration file.
type File struct {
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Devices maps device names to their settings.
	Devices map[string]DeviceConfig `yaml:"devices,omitempty"`
}
