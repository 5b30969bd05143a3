package creator

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/topocrawl/internal/model"
	"github.com/nao1215/topocrawl/internal/testbed"
)

// FileName is the registry name of the CSV creator.
const FileName = "file"

const (
	customPrefix = "custom:"

	// fileConnection is the connection name of every generated device.
	fileConnection = "cli"
)

// addressSplit separates "ip:port" and "ip port".
var addressSplit = regexp.MustCompile(`:| +`)

// File converts a CSV device inventory into a testbed.
//
// The first row names the columns. hostname, ip, username, protocol and os
// are required. password defaults to %ASK{}. enable_password defaults to
// %ASK{} when the column exists and to the password otherwise. type defaults
// to os. An ip may carry a port as "ip:port". Columns named "custom:<key>"
// go to the custom section and any other column is copied onto the device.
type File struct {
	args Arguments
}

// NewFile is the Constructor of the file creator.
func NewFile(args Arguments) (Creator, error) {
	return &File{args: args}, nil
}

// RequiredArguments implements Creator.
func (f *File) RequiredArguments() []string {
	return []string{"path"}
}

// OptionalArguments implements Creator.
func (f *File) OptionalArguments() map[string]string {
	return map[string]string{
		"encode_password": "false",
	}
}

// Generate implements Creator.
func (f *File) Generate(_ context.Context) (*testbed.Testbed, error) {
	encode, err := f.args.Bool("encode_password")
	if err != nil {
		return nil, err
	}
	path := f.args.String("path")
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open device file: %w", err)
	}
	defer file.Close()

	header, rows, err := readCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	tb := testbed.New("")
	for _, row := range rows {
		dev, err := rowDevice(row, slices.Contains(header, "enable_password"))
		if err != nil {
			return nil, err
		}
		if err := tb.AddDevice(dev); err != nil {
			if errors.Is(err, testbed.ErrDuplicateDevice) {
				return nil, fmt.Errorf("%w %q", ErrDuplicateHostname, dev.Name)
			}
			return nil, err
		}
	}
	if encode {
		tb.EncodePasswords()
	}
	return tb, nil
}

// readCSV returns the header and the rows as column maps holding only the
// non-empty cells.
func readCSV(r io.Reader) ([]string, []map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		row := make(map[string]string, len(header))
		for i, v := range record {
			if i < len(header) && v != "" {
				row[header[i]] = v
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func rowDevice(row map[string]string, enableColumn bool) (testbed.Device, error) {
	name, ok := pop(row, "hostname")
	if !ok {
		return testbed.Device{}, ErrEmptyRow
	}
	missing := func(key string) error {
		return fmt.Errorf("%w %s for device %s", ErrMissingKey, key, name)
	}

	ip, ok := pop(row, "ip")
	if !ok {
		return testbed.Device{}, missing("ip")
	}
	address := addressSplit.Split(strings.TrimSpace(ip), -1)
	conn := testbed.Connection{Name: fileConnection, IP: address[0]}

	port, ok := pop(row, "port")
	if !ok && len(address) > 1 {
		port, ok = address[1], true
	}
	if ok {
		n, err := strconv.Atoi(port)
		if err != nil {
			return testbed.Device{}, fmt.Errorf("%w: port %q for device %s", ErrInvalidArgument, port, name)
		}
		conn.Port = n
	}

	osName, ok := pop(row, "os")
	if !ok {
		return testbed.Device{}, missing("os")
	}
	if conn.Protocol, ok = pop(row, "protocol"); !ok {
		return testbed.Device{}, missing("protocol")
	}
	conn.Proxy, _ = pop(row, "proxy")

	password, ok := pop(row, "password")
	if !ok {
		password = model.AskPlaceholder
	}
	enable, ok := pop(row, "enable_password")
	if !ok {
		enable = password
		if enableColumn {
			enable = model.AskPlaceholder
		}
	}
	username, ok := pop(row, "username")
	if !ok {
		return testbed.Device{}, missing("username")
	}

	dev := testbed.Device{
		Name:        name,
		Connections: testbed.Connections{conn},
		Credentials: map[string]testbed.Credential{
			"default": {Username: username, Password: password},
			"enable":  {Password: enable},
		},
		OS:   osName,
		Type: osName,
	}
	if t, ok := pop(row, "type"); ok {
		dev.Type = t
	}
	if p, ok := pop(row, "platform"); ok {
		dev.Platform = p
	}
	if a, ok := pop(row, "alias"); ok {
		dev.Alias = a
	}

	for key, value := range row {
		if custom, ok := strings.CutPrefix(key, customPrefix); ok {
			if dev.Custom == nil {
				dev.Custom = make(map[string]any)
			}
			dev.Custom[custom] = value
			continue
		}
		if dev.Extra == nil {
			dev.Extra = make(map[string]any)
		}
		dev.Extra[key] = value
	}
	return dev, nil
}

func pop(row map[string]string, key string) (string, bool) {
	v, ok := row[key]
	delete(row, key)
	return v, ok
}
