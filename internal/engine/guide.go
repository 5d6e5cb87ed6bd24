package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/status"
	"github.com/BadgerOps/epggen/internal/xmltv"
)

// GuideReport summarizes a fetch or build run.
type GuideReport struct {
	Channels   int
	Programmes int
	Purged     cache.PurgeReport
}

// Fetch purges stale schedules and downloads the week window around ref for
// every bound playlist entry.
func (m *Manager) Fetch(ctx context.Context, ref time.Time) (*GuideReport, error) {
	run := m.beginRun("fetch")
	report, err := m.fetch(ctx, ref)
	if report != nil {
		run.Matched = report.Channels
		run.Programmes = report.Programmes
	}
	m.endRun(run, err)
	return report, err
}

func (m *Manager) fetch(ctx context.Context, ref time.Time) (*GuideReport, error) {
	purged, err := m.purge(m.config.Cache.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	st, err := m.loadStatus()
	if err != nil {
		return nil, err
	}
	report := &GuideReport{Purged: purged}
	err = m.eachBound(st, func(p provider.Provider, catalog provider.Catalog, e *status.Entry) error {
		programmes, err := p.FetchChannel(ctx, catalog, e.Binding(), ref)
		if err != nil {
			return err
		}
		report.Channels++
		report.Programmes += len(programmes)
		return nil
	})
	return report, err
}

// Build writes an XMLTV guide for every bound playlist entry to out. In
// offline mode only cached schedules are used and nothing is purged.
func (m *Manager) Build(ctx context.Context, out string, offline bool, ref time.Time) (*GuideReport, error) {
	run := m.beginRun("build")
	report, err := m.build(ctx, out, offline, ref)
	if report != nil {
		run.Matched = report.Channels
		run.Programmes = report.Programmes
	}
	m.endRun(run, err)
	return report, err
}

func (m *Manager) build(ctx context.Context, out string, offline bool, ref time.Time) (*GuideReport, error) {
	if err := xmltv.CheckWritable(out); err != nil {
		return nil, err
	}
	st, err := m.loadStatus()
	if err != nil {
		return nil, err
	}

	report := &GuideReport{}
	if !offline {
		if report.Purged, err = m.purge(m.config.Cache.MaxAgeDays); err != nil {
			return nil, err
		}
	}

	var (
		channels   []xmltv.Channel
		programmes []provider.Programme
	)
	err = m.eachBound(st, func(p provider.Provider, catalog provider.Catalog, e *status.Entry) error {
		var (
			got []provider.Programme
			err error
		)
		if offline {
			got, err = p.RestoreChannel(ctx, catalog, e.Binding(), ref)
		} else {
			got, err = p.FetchChannel(ctx, catalog, e.Binding(), ref)
		}
		if err != nil {
			return err
		}
		channels = append(channels, xmltv.Channel{ID: e.PlaylistID, Name: e.Name, Lang: p.Lang()})
		programmes = append(programmes, got...)
		if len(got) > 0 {
			report.Channels++
		}
		report.Programmes += len(got)
		return nil
	})
	if err != nil {
		return report, err
	}

	if err := xmltv.WriteFile(out, channels, programmes); err != nil {
		return report, err
	}
	m.logger.Info("guide written",
		"path", out,
		"channels", report.Channels,
		"programmes", report.Programmes)
	return report, nil
}

// eachBound calls fn for every bound entry in playlist order. A provider error
// is logged and skipped unless the context is done.
func (m *Manager) eachBound(st *status.Status, fn func(provider.Provider, provider.Catalog, *status.Entry) error) error {
	for _, e := range st.Entries() {
		if !e.Bound() {
			continue
		}
		p, ok := m.registry.Get(e.Provider)
		if !ok {
			m.logger.Warn("entry bound to unknown provider", "channel", e.Name, "provider", e.Provider)
			continue
		}
		if err := fn(p, st.Catalogs[e.Provider], e); err != nil {
			if isContextErr(err) {
				return err
			}
			m.logger.Warn("failed to load schedule", "channel", e.Name, "provider", e.Provider, "error", err)
		}
	}
	return nil
}

// Cleanup removes cached schedules dated more than days before today.
func (m *Manager) Cleanup(days int) (cache.PurgeReport, error) {
	if days < 0 {
		return cache.PurgeReport{}, fmt.Errorf("days must not be negative: %d", days)
	}
	run := m.beginRun("cleanup")
	report, err := m.purge(days)
	if err == nil && m.history != nil {
		cutoff := cache.Day(m.now()).AddDate(0, 0, -days)
		if _, herr := m.history.ClearFetchFailures(cutoff); herr != nil {
			m.logger.Warn("failed to clear fetch failures", "error", herr)
		}
	}
	m.endRun(run, err)
	return report, err
}
