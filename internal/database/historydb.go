package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/topocrawl/internal/crawler"
	"github.com/nao1215/topocrawl/internal/model"
)

// FileName is the database file created in the data directory.
const FileName = "topocrawl.db"

// HistoryDB stores past crawls.
type HistoryDB struct {
	db     *sql.DB
	dbPath string
	newID  func() string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the history database in dbDir.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}
	dsn += "&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
		newID:  uuid.NewString,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return hdb, nil
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

// Close closes the database connection.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

func (h *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crawls (
		id TEXT PRIMARY KEY,
		testbed TEXT NOT NULL,
		output TEXT,
		started TEXT NOT NULL,
		finished TEXT NOT NULL,
		cancelled INTEGER NOT NULL DEFAULT 0,
		visited INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		excluded INTEGER NOT NULL DEFAULT 0,
		unvisited INTEGER NOT NULL DEFAULT 0,
		links INTEGER NOT NULL DEFAULT 0,
		pending_rollbacks INTEGER NOT NULL DEFAULT 0,
		warnings TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_crawls_started ON crawls(started);

	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		device_key TEXT NOT NULL,
		status TEXT NOT NULL,
		seed INTEGER NOT NULL DEFAULT 0,
		os TEXT,
		platform TEXT,
		type TEXT,
		discovered_via TEXT,
		addresses TEXT,
		failure TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_devices_crawl ON devices(crawl_id);
	CREATE INDEX IF NOT EXISTS idx_devices_name ON devices(name);

	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		link_id TEXT NOT NULL,
		a_device TEXT NOT NULL,
		a_interface TEXT NOT NULL,
		b_device TEXT NOT NULL,
		b_interface TEXT NOT NULL,
		protocols TEXT,
		synthesized INTEGER NOT NULL DEFAULT 0,
		observations INTEGER NOT NULL DEFAULT 0,
		UNIQUE(crawl_id, link_id)
	);

	CREATE INDEX IF NOT EXISTS idx_links_crawl ON links(crawl_id);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id TEXT NOT NULL REFERENCES crawls(id) ON DELETE CASCADE,
		device TEXT NOT NULL,
		address TEXT NOT NULL,
		protocol TEXT NOT NULL,
		started TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_crawl ON attempts(crawl_id);
	`

	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// CrawlRecord is the stored summary of one crawl.
type CrawlRecord struct {
	ID               string
	Testbed          string
	Output           string
	Started          time.Time
	Finished         time.Time
	Cancelled        bool
	Visited          int
	Failed           int
	Excluded         int
	Unvisited        int
	Links            int
	PendingRollbacks int
	Warnings         []string
}

// Duration returns how long the crawl ran.
func (r CrawlRecord) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// DeviceRecord is a stored device of a crawl.
type DeviceRecord struct {
	Name          string
	Key           string
	Status        string
	Seed          bool
	OS            string
	Platform      string
	Type          string
	DiscoveredVia string
	Addresses     []model.Address
	Failure       string
}

// LinkRecord is a stored link of a crawl.
type LinkRecord struct {
	LinkID       string
	A            model.Endpoint
	B            model.Endpoint
	Protocols    []string
	Synthesized  bool
	Observations int
}

// AttemptRecord is a stored connection attempt.
type AttemptRecord struct {
	Device   string
	Address  string
	Protocol string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// SaveCrawl stores a crawl result and returns its new ID. testbed and output
// are the seed and output file paths. The whole crawl is written in one
// transaction.
func (h *HistoryDB) SaveCrawl(ctx context.Context, testbed, output string, result *crawler.Result, cancelled bool) (string, error) {
	id := h.newID()
	summary := result.Summary()

	warnings, err := json.Marshal(result.Warnings)
	if err != nil {
		return "", fmt.Errorf("failed to serialize warnings: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO crawls (id, testbed, output, started, finished, cancelled,
		visited, failed, excluded, unvisited, links, pending_rollbacks, warnings)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		id,
		testbed,
		output,
		formatTimestamp(result.Started),
		formatTimestamp(result.Finished),
		cancelled,
		summary.Counts[model.StatusVisited],
		summary.Counts[model.StatusFailed],
		summary.Counts[model.StatusExcluded],
		summary.Counts[model.StatusUnvisited],
		summary.Links,
		summary.PendingRollbacks,
		string(warnings),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert crawl: %w", err)
	}

	devices := append(append([]model.Device(nil), result.Devices...), result.Excluded...)
	for _, d := range devices {
		if err := insertDevice(ctx, tx, id, d); err != nil {
			return "", err
		}
	}
	for _, l := range result.Links {
		if err := insertLink(ctx, tx, id, l); err != nil {
			return "", err
		}
	}
	for _, attempts := range result.Attempts {
		for _, a := range attempts {
			if err := insertAttempt(ctx, tx, id, a.Device, a.Address.Dial(a.Protocol), string(a.Protocol), a.Started, a.Duration, a.Err); err != nil {
				return "", err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit crawl: %w", err)
	}
	return id, nil
}

func insertDevice(ctx context.Context, tx *sql.Tx, crawlID string, d model.Device) error {
	addresses, err := json.Marshal(d.Addresses)
	if err != nil {
		return fmt.Errorf("failed to serialize addresses: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO devices (crawl_id, name, device_key, status, seed, os, platform, type,
		discovered_via, addresses, failure)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		crawlID,
		d.Name(),
		d.ID,
		d.Status.String(),
		d.Seed,
		d.OS,
		d.Platform,
		d.Type,
		d.DiscoveredVia,
		string(addresses),
		d.Failure,
	)
	if err != nil {
		return fmt.Errorf("failed to insert device %s: %w", d.Name(), err)
	}
	return nil
}

func insertLink(ctx context.Context, tx *sql.Tx, crawlID string, l model.Link) error {
	protocols := make([]string, len(l.Protocols))
	for i, p := range l.Protocols {
		protocols[i] = string(p)
	}
	_, err := tx.ExecContext(ctx, `
	INSERT INTO links (crawl_id, link_id, a_device, a_interface, b_device, b_interface,
		protocols, synthesized, observations)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		crawlID,
		l.ID(),
		l.A.Device,
		l.A.Interface,
		l.B.Device,
		l.B.Interface,
		strings.Join(protocols, ","),
		l.Synthesized,
		l.Observations,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link %s: %w", l.Key(), err)
	}
	return nil
}

func insertAttempt(ctx context.Context, tx *sql.Tx, crawlID, device, address, protocol string, started time.Time, d time.Duration, attemptErr error) error {
	var errText sql.NullString
	if attemptErr != nil {
		errText = sql.NullString{String: attemptErr.Error(), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
	INSERT INTO attempts (crawl_id, device, address, protocol, started, duration_ms, error)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		crawlID,
		device,
		address,
		protocol,
		formatTimestamp(started),
		d.Milliseconds(),
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

const crawlColumns = `id, testbed, output, started, finished, cancelled, visited, failed,
	excluded, unvisited, links, pending_rollbacks, warnings`

// ListCrawls returns the most recent crawls first. A limit of zero or less
// returns every crawl.
func (h *HistoryDB) ListCrawls(ctx context.Context, limit int) ([]CrawlRecord, error) {
	query := "SELECT " + crawlColumns + " FROM crawls ORDER BY started DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var records []CrawlRecord
	for rows.Next() {
		rec, err := scanCrawl(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetCrawl returns the crawl whose ID equals or starts with id.
func (h *HistoryDB) GetCrawl(ctx context.Context, id string) (*CrawlRecord, error) {
	if id == "" {
		return nil, ErrCrawlNotFound
	}
	rows, err := h.db.QueryContext(ctx,
		"SELECT "+crawlColumns+" FROM crawls WHERE id = ? OR id LIKE ? ESCAPE '\\' LIMIT 2",
		id, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl: %w", err)
	}
	defer rows.Close()

	var found []CrawlRecord
	for rows.Next() {
		rec, err := scanCrawl(rows)
		if err != nil {
			return nil, err
		}
		if rec.ID == id {
			return &rec, nil
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get crawl: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrCrawlNotFound, id)
	case 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousCrawlID, id)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCrawl(s scanner) (CrawlRecord, error) {
	var rec CrawlRecord
	var output, warnings sql.NullString
	var started, finished string
	err := s.Scan(
		&rec.ID,
		&rec.Testbed,
		&output,
		&started,
		&finished,
		&rec.Cancelled,
		&rec.Visited,
		&rec.Failed,
		&rec.Excluded,
		&rec.Unvisited,
		&rec.Links,
		&rec.PendingRollbacks,
		&warnings,
	)
	if err != nil {
		return CrawlRecord{}, fmt.Errorf("failed to scan crawl: %w", err)
	}
	rec.Output = output.String
	rec.Started = parseTimestamp(started)
	rec.Finished = parseTimestamp(finished)
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &rec.Warnings); err != nil {
			rec.Warnings = nil
		}
	}
	return rec, nil
}

// Devices returns the devices of a crawl ordered by name.
func (h *HistoryDB) Devices(ctx context.Context, crawlID string) ([]DeviceRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT name, device_key, status, seed, os, platform, type, discovered_via, addresses, failure
	FROM devices
	WHERE crawl_id = ?
	ORDER BY name, id
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		var osName, platform, typ, via, addresses, failure sql.NullString
		err := rows.Scan(
			&rec.Name,
			&rec.Key,
			&rec.Status,
			&rec.Seed,
			&osName,
			&platform,
			&typ,
			&via,
			&addresses,
			&failure,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		rec.OS = osName.String
		rec.Platform = platform.String
		rec.Type = typ.String
		rec.DiscoveredVia = via.String
		rec.Failure = failure.String
		if addresses.Valid && addresses.String != "" {
			if err := json.Unmarshal([]byte(addresses.String), &rec.Addresses); err != nil {
				return nil, fmt.Errorf("failed to parse addresses of %s: %w", rec.Name, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Links returns the links of a crawl ordered by endpoints.
func (h *HistoryDB) Links(ctx context.Context, crawlID string) ([]LinkRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT link_id, a_device, a_interface, b_device, b_interface, protocols, synthesized, observations
	FROM links
	WHERE crawl_id = ?
	ORDER BY a_device, a_interface, b_device, b_interface
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var records []LinkRecord
	for rows.Next() {
		var rec LinkRecord
		var protocols sql.NullString
		err := rows.Scan(
			&rec.LinkID,
			&rec.A.Device,
			&rec.A.Interface,
			&rec.B.Device,
			&rec.B.Interface,
			&protocols,
			&rec.Synthesized,
			&rec.Observations,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		if protocols.String != "" {
			rec.Protocols = strings.Split(protocols.String, ",")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Attempts returns the connection attempts of a crawl in the order they
// were recorded.
func (h *HistoryDB) Attempts(ctx context.Context, crawlID string) ([]AttemptRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT device, address, protocol, started, duration_ms, error
	FROM attempts
	WHERE crawl_id = ?
	ORDER BY started, id
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var started string
		var ms int64
		var errText sql.NullString
		if err := rows.Scan(&rec.Device, &rec.Address, &rec.Protocol, &started, &ms, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.Started = parseTimestamp(started)
		rec.Duration = time.Duration(ms) * time.Millisecond
		rec.Error = errText.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteCrawl removes a crawl and everything recorded with it.
func (h *HistoryDB) DeleteCrawl(ctx context.Context, id string) error {
	rec, err := h.GetCrawl(ctx, id)
	if err != nil {
		return err
	}
	if _, err := h.db.ExecContext(ctx, "DELETE FROM crawls WHERE id = ?", rec.ID); err != nil {
		return fmt.Errorf("failed to delete crawl: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// timestampLayout has a fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp tries each known format and returns the zero time if none
// matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
