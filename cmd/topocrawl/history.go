package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/topocrawl/internal/config"
	"github.com/nao1215/topocrawl/internal/database"
	"github.com/nao1215/topocrawl/internal/model"
)

const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [crawl-id]",
		Short: "Show past topology crawls",
		Long: `History shows the crawls recorded by the topology command.

Without an argument the most recent crawls are listed. With a crawl ID (or
an unambiguous prefix of one) the devices, links and warnings of that crawl
are shown. --compare shows which devices and links appeared or disappeared
between an older crawl and the given one.

Examples:
  # List recent crawls
  topocrawl history

  # Show one crawl
  topocrawl history 3f2a9c1e

  # What changed since an earlier crawl
  topocrawl history 3f2a9c1e --compare 91b04d22

  # Output as JSON
  topocrawl history 3f2a9c1e --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Number of crawls to list (0 lists all)")
	cmd.Flags().String("compare", "", "Compare the crawl with this earlier crawl ID")
	cmd.Flags().Bool("delete", false, "Delete the crawl instead of showing it")
	cmd.Flags().BoolP("json", "j", false, "Output in JSON format")
	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory of the history database")

	return cmd
}

// historyFlags holds the parsed flags of the history command.
type historyFlags struct {
	limit   int
	compare string
	delete  bool
	json    bool
	dbDir   string
}

func parseHistoryFlags(cmd *cobra.Command) (historyFlags, error) {
	var (
		hf  historyFlags
		err error
	)
	if hf.limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return hf, err
	}
	if hf.compare, err = cmd.Flags().GetString("compare"); err != nil {
		return hf, err
	}
	if hf.delete, err = cmd.Flags().GetBool("delete"); err != nil {
		return hf, err
	}
	if hf.json, err = cmd.Flags().GetBool("json"); err != nil {
		return hf, err
	}
	if hf.dbDir, err = cmd.Flags().GetString("db-dir"); err != nil {
		return hf, err
	}
	return hf, nil
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	hf, err := parseHistoryFlags(cmd)
	if err != nil {
		return err
	}
	if len(args) == 0 && (hf.compare != "" || hf.delete) {
		return errors.New("a crawl ID is required with --compare and --delete")
	}

	out := cmd.OutOrStdout()
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(hf.dbDir, opts)
	if errors.Is(err, database.ErrDatabaseNotFound) {
		fmt.Fprintln(out, "No crawls recorded yet.")
		fmt.Fprintln(out, "\nUse 'topocrawl topology' to run a crawl.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	switch {
	case len(args) == 0:
		crawls, err := db.ListCrawls(ctx, hf.limit)
		if err != nil {
			return err
		}
		if hf.json {
			return writeJSON(out, crawls)
		}
		printCrawlList(out, crawls)
		return nil

	case hf.delete:
		rec, err := db.GetCrawl(ctx, args[0])
		if err != nil {
			return err
		}
		if err := db.DeleteCrawl(ctx, rec.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted crawl %s\n", rec.ID)
		return nil

	case hf.compare != "":
		previous, err := loadCrawl(cmd, db, hf.compare)
		if err != nil {
			return err
		}
		current, err := loadCrawl(cmd, db, args[0])
		if err != nil {
			return err
		}
		diff := compareCrawls(previous, current)
		if hf.json {
			return writeJSON(out, diff)
		}
		printCrawlDiff(out, diff)
		return nil

	default:
		detail, err := loadCrawl(cmd, db, args[0])
		if err != nil {
			return err
		}
		if hf.json {
			return writeJSON(out, detail)
		}
		printCrawlDetail(out, detail)
		return nil
	}
}

// crawlDetail is one crawl with its devices and links.
type crawlDetail struct {
	Crawl   database.CrawlRecord    `json:"crawl"`
	Devices []database.DeviceRecord `json:"devices"`
	Links   []database.LinkRecord   `json:"links"`
}

func loadCrawl(cmd *cobra.Command, db *database.HistoryDB, id string) (*crawlDetail, error) {
	ctx := cmd.Context()
	rec, err := db.GetCrawl(ctx, id)
	if err != nil {
		return nil, err
	}
	devices, err := db.Devices(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	links, err := db.Links(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &crawlDetail{Crawl: *rec, Devices: devices, Links: links}, nil
}

func printCrawlList(w io.Writer, crawls []database.CrawlRecord) {
	if len(crawls) == 0 {
		fmt.Fprintln(w, "No crawls recorded yet.")
		return
	}

	fmt.Fprintf(w, "Recorded crawls (%d):\n\n", len(crawls))
	fmt.Fprintf(w, "  %-8s  %-19s  %-9s  %7s  %6s  %8s  %5s  %s\n",
		"ID", "Started", "Duration", "Visited", "Failed", "Excluded", "Links", "Testbed")
	fmt.Fprintln(w, "  "+strings.Repeat("-", 90))
	for _, c := range crawls {
		testbed := c.Testbed
		if c.Cancelled {
			testbed += " (cancelled)"
		}
		fmt.Fprintf(w, "  %-8s  %-19s  %-9s  %7d  %6d  %8d  %5d  %s\n",
			shortID(c.ID),
			c.Started.Local().Format(time.DateTime),
			c.Duration().Round(time.Second),
			c.Visited, c.Failed, c.Excluded, c.Links,
			testbed,
		)
	}
	fmt.Fprintln(w, "\nUse 'topocrawl history <id>' to see the devices and links of a crawl.")
}

func printCrawlDetail(w io.Writer, d *crawlDetail) {
	c := d.Crawl
	fmt.Fprintf(w, "Crawl %s\n", c.ID)
	fmt.Fprintf(w, "  Testbed:  %s\n", c.Testbed)
	if c.Output != "" {
		fmt.Fprintf(w, "  Output:   %s\n", c.Output)
	}
	fmt.Fprintf(w, "  Started:  %s\n", c.Started.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  Duration: %s\n", c.Duration().Round(time.Millisecond))
	if c.Cancelled {
		fmt.Fprintln(w, "  Status:   cancelled (partial results)")
	}
	if c.PendingRollbacks > 0 {
		fmt.Fprintf(w, "  Pending rollbacks: %d\n", c.PendingRollbacks)
	}

	fmt.Fprintf(w, "\nDevices (%d):\n", len(d.Devices))
	for _, dev := range d.Devices {
		var hosts []string
		for _, a := range dev.Addresses {
			hosts = append(hosts, a.Host)
		}
		line := fmt.Sprintf("  %-10s %-24s %-10s %s", dev.Status, dev.Name, dev.OS, strings.Join(hosts, ","))
		if dev.Failure != "" {
			line += "  (" + dev.Failure + ")"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}

	fmt.Fprintf(w, "\nLinks (%d):\n", len(d.Links))
	for _, l := range d.Links {
		fmt.Fprintf(w, "  %s <-> %s [%s]\n", l.A, l.B, strings.Join(l.Protocols, ","))
	}

	if len(c.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(c.Warnings))
		for _, warn := range c.Warnings {
			fmt.Fprintf(w, "  ! %s\n", warn)
		}
	}
}

// crawlDiff lists what changed between two crawls. Devices are compared by
// name and links by their endpoints.
type crawlDiff struct {
	Previous       string   `json:"previous"`
	Current        string   `json:"current"`
	AddedDevices   []string `json:"added_devices"`
	RemovedDevices []string `json:"removed_devices"`
	AddedLinks     []string `json:"added_links"`
	RemovedLinks   []string `json:"removed_links"`
}

func compareCrawls(previous, current *crawlDetail) crawlDiff {
	deviceNames := func(d *crawlDetail) []string {
		var names []string
		for _, dev := range d.Devices {
			if dev.Status == model.StatusVisited.String() {
				names = append(names, dev.Name)
			}
		}
		return names
	}
	linkNames := func(d *crawlDetail) []string {
		names := make([]string, 0, len(d.Links))
		for _, l := range d.Links {
			names = append(names, l.A.String()+" <-> "+l.B.String())
		}
		return names
	}

	diff := crawlDiff{Previous: previous.Crawl.ID, Current: current.Crawl.ID}
	diff.AddedDevices, diff.RemovedDevices = difference(deviceNames(previous), deviceNames(current))
	diff.AddedLinks, diff.RemovedLinks = difference(linkNames(previous), linkNames(current))
	return diff
}

// difference returns the sorted items only in after and only in before.
func difference(before, after []string) (added, removed []string) {
	added = []string{}
	removed = []string{}
	for _, s := range after {
		if !slices.Contains(before, s) && !slices.Contains(added, s) {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if !slices.Contains(after, s) && !slices.Contains(removed, s) {
			removed = append(removed, s)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

func printCrawlDiff(w io.Writer, d crawlDiff) {
	fmt.Fprintf(w, "Changes from %s to %s\n", shortID(d.Previous), shortID(d.Current))
	if len(d.AddedDevices)+len(d.RemovedDevices)+len(d.AddedLinks)+len(d.RemovedLinks) == 0 {
		fmt.Fprintln(w, "\nNo changes.")
		return
	}
	section := func(title, marker string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s (%d):\n", title, len(items))
		for _, item := range items {
			fmt.Fprintf(w, "  %s %s\n", marker, item)
		}
	}
	section("New devices", "+", d.AddedDevices)
	section("Missing devices", "-", d.RemovedDevices)
	section("New links", "+", d.AddedLinks)
	section("Missing links", "-", d.RemovedLinks)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
