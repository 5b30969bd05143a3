package crawler

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nao1215/topocrawl/internal/connect"
	"github.com/nao1215/topocrawl/internal/model"
)

// Result is the outcome of a crawl.
type Result struct {
	// Devices holds every device that is not Excluded, sorted by name.
	Devices []model.Device `json:"devices"`

	// Links are sorted by key. Endpoints are named by device name.
	Links []model.Link `json:"links"`

	// Attempts holds the connection attempts per device name.
	Attempts map[string][]connect.Attempt `json:"-"`

	// Excluded holds the devices removed by exclusion or only-links mode.
	Excluded []model.Device `json:"excluded,omitempty"`

	// PendingRollbacks counts devices whose discovery protocol changes could
	// not be undone.
	PendingRollbacks int `json:"pending_rollbacks"`

	// Warnings are non-fatal problems such as skipped exclusion ranges.
	Warnings []string `json:"warnings,omitempty"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Summary is the per-status tally of a crawl.
type Summary struct {
	Counts           map[model.Status]int
	Failed           []string
	Excluded         []string
	Links            int
	PendingRollbacks int
	Duration         time.Duration
}

// Summary tallies the result.
func (r *Result) Summary() Summary {
	s := Summary{
		Counts:           make(map[model.Status]int),
		Links:            len(r.Links),
		PendingRollbacks: r.PendingRollbacks,
		Duration:         r.Finished.Sub(r.Started),
	}
	for _, d := range r.Devices {
		s.Counts[d.Status]++
		if d.Status == model.StatusFailed {
			s.Failed = append(s.Failed, d.Name())
		}
	}
	for _, d := range r.Excluded {
		s.Counts[d.Status]++
		s.Excluded = append(s.Excluded, d.Name())
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("visited=%d failed=%d excluded=%d unvisited=%d links=%d pending_rollbacks=%d",
		s.Counts[model.StatusVisited], s.Counts[model.StatusFailed], s.Counts[model.StatusExcluded],
		s.Counts[model.StatusUnvisited], s.Links, s.PendingRollbacks)
}

// Device returns the device with the given name.
func (r *Result) Device(name string) (model.Device, bool) {
	for _, d := range r.Devices {
		if d.Name() == name {
			return d, true
		}
	}
	return model.Device{}, false
}

// result assembles the Result. The caller holds c.mu.
func (c *Crawler) result(started, finished time.Time) *Result {
	r := &Result{
		Attempts:         make(map[string][]connect.Attempt),
		PendingRollbacks: c.st.pending,
		Warnings:         slices.Clone(c.st.warnings),
		Started:          started,
		Finished:         finished,
	}

	used := c.st.linkedInterfaces()
	for _, id := range c.st.order {
		d := c.st.devices[id]
		dev := d.Clone()
		if d.Status == model.StatusInProgress {
			dev.Status = model.StatusUnvisited
		}
		if !c.cfg.AddUnconnectedInterfaces {
			for name := range dev.Interfaces {
				if !used[id+"|"+name] {
					delete(dev.Interfaces, name)
				}
			}
		}
		if attempts := c.st.attempts[id]; len(attempts) > 0 {
			r.Attempts[dev.Name()] = slices.Clone(attempts)
		}
		if dev.Status == model.StatusExcluded {
			r.Excluded = append(r.Excluded, dev)
			continue
		}
		r.Devices = append(r.Devices, dev)
	}

	byName := func(a, b model.Device) int {
		return strings.Compare(a.Name(), b.Name())
	}
	slices.SortFunc(r.Devices, byName)
	slices.SortFunc(r.Excluded, byName)

	for _, l := range c.st.sortedLinks() {
		a, b := c.st.devices[l.A.Device], c.st.devices[l.B.Device]
		if a.Status == model.StatusExcluded || b.Status == model.StatusExcluded {
			continue
		}
		named := model.NewLink(
			model.Endpoint{Device: a.Name(), Interface: l.A.Interface},
			model.Endpoint{Device: b.Name(), Interface: l.B.Interface},
			"",
		)
		named.Protocols = slices.Clone(l.Protocols)
		named.Synthesized = l.Synthesized
		named.Observations = l.Observations
		r.Links = append(r.Links, named)
	}
	slices.SortFunc(r.Links, func(a, b model.Link) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return r
}
