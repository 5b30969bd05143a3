package testbed

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/topocrawl/internal/model"
)

// Credential is one entry of a credentials section.
type Credential struct {
	Password string `yaml:"password,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// Connection is one entry of a device's connections section.
type Connection struct {
	// Name is the connection alias, for example "cli".
	Name string `yaml:"-"`

	Host     string `yaml:"host,omitempty"`
	IP       string `yaml:"ip,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
	Proxy    string `yaml:"proxy,omitempty"`
}

// Address returns the dial host of the connection.
func (c Connection) Address() string {
	if c.IP != "" {
		return c.IP
	}
	return c.Host
}

// Connections keeps the order of a connections mapping.
type Connections []Connection

// UnmarshalYAML decodes a connections mapping in document order. Entries that
// are not mappings are skipped.
func (c *Connections) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		if isNull(value) {
			return nil
		}
		return fmt.Errorf("connections: expected a mapping at line %d", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		name, v := value.Content[i].Value, value.Content[i+1]
		if v.Kind != yaml.MappingNode {
			continue
		}
		var conn Connection
		if err := v.Decode(&conn); err != nil {
			return fmt.Errorf("connection %s: %w", name, err)
		}
		conn.Name = name
		*c = append(*c, conn)
	}
	return nil
}

// MarshalYAML encodes the connections as a mapping in slice order.
func (c Connections) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, conn := range c {
		var v yaml.Node
		if err := v.Encode(conn); err != nil {
			return nil, fmt.Errorf("connection %s: %w", conn.Name, err)
		}
		n.Content = append(n.Content, scalar(conn.Name), &v)
	}
	return n, nil
}

// Device is one entry of the devices section.
type Device struct {
	Name string `yaml:"-"`

	Alias       string                `yaml:"alias,omitempty"`
	Connections Connections           `yaml:"connections,omitempty"`
	Credentials map[string]Credential `yaml:"credentials,omitempty"`
	Custom      map[string]any        `yaml:"custom,omitempty"`
	OS          string                `yaml:"os,omitempty"`
	Platform    string                `yaml:"platform,omitempty"`
	Type        string                `yaml:"type,omitempty"`

	// Extra holds any other keys of the entry.
	Extra map[string]any `yaml:",inline"`
}

// Interface is one entry of a device's topology interfaces.
type Interface struct {
	IPv4 string `yaml:"ipv4,omitempty"`
	Link string `yaml:"link,omitempty"`
	Type string `yaml:"type,omitempty"`
}

// Testbed is a parsed testbed document.
type Testbed struct {
	root *yaml.Node
}

// New returns an empty testbed. The testbed header is written only when name
// is not empty.
func New(name string) *Testbed {
	t := &Testbed{root: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
	if name != "" {
		header := ensureMapping(t.root, "testbed")
		header.Content = append(header.Content, scalar("name"), scalar(name))
	}
	return t
}

// Load reads a testbed file.
func Load(path string) (*Testbed, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read testbed: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse parses testbed YAML. An empty document yields an empty testbed.
func Parse(data []byte) (*Testbed, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTestbed, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return New(""), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrInvalidTestbed)
	}
	for _, key := range []string{"devices", "topology"} {
		if v := lookup(root, key); v != nil && v.Kind != yaml.MappingNode && !isNull(v) {
			return nil, fmt.Errorf("%w: %s is not a mapping", ErrInvalidTestbed, key)
		}
	}
	return &Testbed{root: root}, nil
}

// Name returns testbed.name.
func (t *Testbed) Name() string {
	if v := lookup(lookup(t.root, "testbed"), "name"); v != nil {
		return v.Value
	}
	return ""
}

// Devices decodes the devices section in document order.
func (t *Testbed) Devices() ([]Device, error) {
	section := lookup(t.root, "devices")
	if section == nil || section.Kind != yaml.MappingNode {
		return nil, nil
	}
	devices := make([]Device, 0, len(section.Content)/2)
	for i := 0; i+1 < len(section.Content); i += 2 {
		var d Device
		if err := section.Content[i+1].Decode(&d); err != nil {
			return nil, fmt.Errorf("device %s: %w", section.Content[i].Value, err)
		}
		d.Name = section.Content[i].Value
		devices = append(devices, d)
	}
	return devices, nil
}

// HasDevice reports whether the devices section has an entry named name.
func (t *Testbed) HasDevice(name string) bool {
	return lookup(lookup(t.root, "devices"), name) != nil
}

// AddDevice appends a device to the devices section.
func (t *Testbed) AddDevice(d Device) error {
	if t.HasDevice(d.Name) {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.Name)
	}
	var v yaml.Node
	if err := v.Encode(d); err != nil {
		return fmt.Errorf("device %s: %w", d.Name, err)
	}
	section := ensureMapping(t.root, "devices")
	section.Content = append(section.Content, scalar(d.Name), &v)
	return nil
}

// Topology decodes the topology section: interfaces per device.
func (t *Testbed) Topology() (map[string]map[string]Interface, error) {
	section := lookup(t.root, "topology")
	out := make(map[string]map[string]Interface)
	if section == nil || section.Kind != yaml.MappingNode {
		return out, nil
	}
	for i := 0; i+1 < len(section.Content); i += 2 {
		var entry struct {
			Interfaces map[string]Interface `yaml:"interfaces"`
		}
		if err := section.Content[i+1].Decode(&entry); err != nil {
			return nil, fmt.Errorf("topology %s: %w", section.Content[i].Value, err)
		}
		out[section.Content[i].Value] = entry.Interfaces
	}
	return out, nil
}

// Seeds converts the devices section into crawl seeds. Device credentials
// override the testbed-level credentials. %ENC{} passwords are decoded, and a
// password that fails to decode becomes %ASK{} so it is prompted for.
// Connections without an address are skipped, and proxies that are not
// "host:port" are dropped from their connection.
func (t *Testbed) Seeds() ([]model.Device, error) {
	devices, err := t.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	var shared map[string]Credential
	if v := lookup(lookup(t.root, "testbed"), "credentials"); v != nil {
		if err := v.Decode(&shared); err != nil {
			return nil, fmt.Errorf("testbed credentials: %w", err)
		}
	}

	seeds := make([]model.Device, 0, len(devices))
	for _, d := range devices {
		seed := model.Device{
			Hostname:      d.Name,
			OS:            d.OS,
			Platform:      d.Platform,
			Type:          d.Type,
			Seed:          true,
			DiscoveredVia: model.SeedVia,
		}
		seed.AddAlias(d.Alias)
		for _, c := range d.Connections {
			host := c.Address()
			if host == "" {
				continue
			}
			addr := model.Address{
				Name:     c.Name,
				Protocol: model.ParseProtocol(c.Protocol),
				Host:     host,
				Port:     c.Port,
			}
			if socksProxy(c.Proxy) {
				addr.Proxy = c.Proxy
			}
			seed.AddAddress(addr)
		}

		creds := maps.Clone(shared)
		if creds == nil {
			creds = make(map[string]Credential)
		}
		maps.Copy(creds, d.Credentials)
		seed.Credential = modelCredential(creds)

		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// Proxies returns the distinct "host:port" proxies used by seed connections,
// in order of appearance.
func (t *Testbed) Proxies() []string {
	return t.proxies(true)
}

// UnsupportedProxies returns proxies that are not "host:port", such as pyATS
// jump-host device names. Seeds drops them.
func (t *Testbed) UnsupportedProxies() []string {
	return t.proxies(false)
}

func (t *Testbed) proxies(supported bool) []string {
	devices, err := t.Devices()
	if err != nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, d := range devices {
		for _, c := range d.Connections {
			if c.Proxy == "" || seen[c.Proxy] || socksProxy(c.Proxy) != supported {
				continue
			}
			seen[c.Proxy] = true
			out = append(out, c.Proxy)
		}
	}
	return out
}

// EncodePasswords replaces every plain password value in the document with
// its %ENC{} form.
func (t *Testbed) EncodePasswords() {
	stack := []*yaml.Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Kind != yaml.MappingNode {
			stack = append(stack, n.Content...)
			continue
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Value == "password" && v.Kind == yaml.ScalarNode && !isNull(v) {
				v.Value = EncodeSecret(v.Value)
				v.Tag = "!!str"
				v.Style = 0
				continue
			}
			stack = append(stack, v)
		}
	}
}

// Write encodes the testbed with a two-space indent.
func (t *Testbed) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(t.root); err != nil {
		return fmt.Errorf("failed to encode testbed: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the testbed to path, creating parent directories. The file
// holds credentials and is created with mode 0600.
func (t *Testbed) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := t.Write(&buf); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write testbed: %w", err)
	}
	return nil
}

func modelCredential(creds map[string]Credential) *model.Credential {
	def, ok := creds["default"]
	if !ok {
		return nil
	}
	c := &model.Credential{
		Username: def.Username,
		Password: plainPassword(def.Password),
	}
	if enable, ok := creds["enable"]; ok {
		c.EnablePassword = plainPassword(enable.Password)
	}
	return c
}

func plainPassword(s string) string {
	plain, err := DecodeSecret(s)
	if err != nil {
		return model.AskPlaceholder
	}
	return plain
}

func socksProxy(p string) bool {
	host, port, err := net.SplitHostPort(p)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n < 65536
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// ensureMapping returns the mapping under key, creating it or replacing a
// null value.
func ensureMapping(m *yaml.Node, key string) *yaml.Node {
	if v := lookup(m, key); v != nil {
		if v.Kind != yaml.MappingNode {
			*v = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		return v
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content, scalar(key), v)
	return v
}

// setDefault sets key to value unless key is present or value is empty.
func setDefault(m *yaml.Node, key, value string) {
	if value == "" {
		return
	}
	if v := lookup(m, key); v != nil && !isNull(v) {
		return
	} else if v != nil {
		*v = *scalar(value)
		return
	}
	m.Content = append(m.Content, scalar(key), scalar(value))
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}
