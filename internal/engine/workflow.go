package engine

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/BadgerOps/epggen/internal/match"
	"github.com/BadgerOps/epggen/internal/playlist"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/status"
)

// MatchOptions controls one matching run.
type MatchOptions struct {
	// PlaylistPath is an M3U file to take channel names from. When empty the
	// entries already in the status file are matched again.
	PlaylistPath string
	Interactive  bool
	// Clear drops every existing binding before matching.
	Clear     bool
	Preferred string
	Offline   bool
	// Regions holds explicitly requested region/tz per provider; status.Unset
	// leaves that part to the stored catalog or the configuration.
	Regions map[string]status.RegionTZ
	// Chooser resolves ambiguous matches in interactive mode. Defaults to a
	// prompt on stdin.
	Chooser Chooser
}

// MatchReport summarizes a matching run.
type MatchReport struct {
	Matched   int
	Unmatched []string
	Saved     bool
}

type target struct {
	id   int
	name string
}

// Match reconciles playlist names with the provider catalogs, prints a
// summary and saves the status when anything changed.
func (m *Manager) Match(ctx context.Context, opts MatchOptions) (*MatchReport, error) {
	run := m.beginRun("match")
	report, err := m.match(ctx, opts)
	if report != nil {
		run.Matched = report.Matched
		run.Unmatched = len(report.Unmatched)
	}
	m.endRun(run, err)
	return report, err
}

func (m *Manager) match(ctx context.Context, opts MatchOptions) (*MatchReport, error) {
	if opts.Preferred != "" {
		if _, ok := m.registry.Get(opts.Preferred); !ok {
			return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, opts.Preferred)
		}
	}

	var items []playlist.Item
	if opts.PlaylistPath != "" {
		var err error
		if items, err = playlist.ParseM3UFile(opts.PlaylistPath); err != nil {
			return nil, err
		}
	}

	st, err := status.Load(m.cache.StatusPath(), opts.Regions, m.logger)
	if err != nil {
		return nil, err
	}

	if opts.Clear {
		for _, e := range st.Playlist {
			if e.Bound() {
				st.Dirty = true
			}
		}
		st.ClearBindings()
	}

	if !opts.Offline {
		if err := m.refreshCatalogs(ctx, st); err != nil {
			return nil, err
		}
	} else if len(st.Playlist) == 0 {
		m.restoreCatalogs(ctx, st)
	}

	var targets []target
	if opts.PlaylistPath != "" {
		for _, it := range items {
			targets = append(targets, target{id: it.ID, name: it.Name})
		}
	} else {
		for _, e := range st.Entries() {
			targets = append(targets, target{id: e.PlaylistID, name: e.Name})
		}
	}

	chooser := opts.Chooser
	if chooser == nil {
		chooser = NewPromptChooser(os.Stdin, m.out)
	}
	skipAll := !opts.Interactive
	catalogs := m.catalogs(st)
	report := &MatchReport{}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		existing := st.Playlist[t.name]
		if existing != nil && existing.Bound() {
			m.logger.Info("channel already matched", "channel", t.name, "match", existing.Channel.Name)
			report.Matched++
			continue
		}

		var chosen *match.Candidate
		res := match.Match(t.name, catalogs, opts.Preferred)
		switch res.Kind {
		case match.Exact:
			chosen = &res.Exact
		case match.Ambiguous:
			if !skipAll {
				choice, err := chooser.Choose(t.name, res.Candidates)
				if err != nil {
					return nil, err
				}
				switch choice.Action {
				case SkipAll:
					skipAll = true
				case Pick:
					if choice.Index >= 0 && choice.Index < len(res.Candidates) {
						chosen = &res.Candidates[choice.Index]
					}
				}
			}
		}

		id := assignID(st, existing, t.id)
		if chosen != nil {
			m.logger.Info("channel matched",
				"channel", t.name,
				"provider", chosen.Provider,
				"match", chosen.Channel.Name)
			st.Set(t.name, id, chosen.Provider, &chosen.Channel)
			st.Dirty = true
			report.Matched++
			continue
		}
		m.logger.Info("channel skipped", "channel", t.name, "result", res.Kind.String())
		report.Unmatched = append(report.Unmatched, t.name)
		if st.Set(t.name, id, "", nil) {
			st.Dirty = true
		}
	}

	sort.Strings(report.Unmatched)
	fmt.Fprintf(m.out, "%d channels matched\n", report.Matched)
	fmt.Fprintf(m.out, "%d channels not matched:\n", len(report.Unmatched))
	for _, name := range report.Unmatched {
		fmt.Fprintf(m.out, "    %s\n", name)
	}

	if st.Dirty {
		if err := st.Save(m.cache.StatusPath()); err != nil {
			return report, err
		}
		report.Saved = true
	}
	return report, nil
}

// assignID keeps the stored id of an existing entry. A new entry takes its
// playlist position unless another entry already holds that id.
func assignID(st *status.Status, existing *status.Entry, position int) int {
	if existing != nil {
		return existing.PlaylistID
	}
	if position > 0 {
		if _, taken := st.EntryByID(position); !taken {
			return position
		}
	}
	return st.NextID()
}

// refreshCatalogs drops the cached index pages, fetches every catalog anew
// and unbinds entries whose channel was removed or renamed upstream.
func (m *Manager) refreshCatalogs(ctx context.Context, st *status.Status) error {
	if _, err := m.cache.ClearIndex(); err != nil {
		return fmt.Errorf("clearing index cache: %w", err)
	}

	refreshed := make(map[string]bool)
	for _, p := range m.registry.All() {
		rt := st.RegionFor(p.Name(), m.defaultRegion(p.Name()))
		catalog, err := p.FetchIndex(ctx, rt.Region, rt.TZ)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			m.logger.Warn("failed to fetch catalog", "provider", p.Name(), "error", err)
			continue
		}
		if len(catalog.Channels) == 0 {
			m.logger.Warn("provider returned an empty catalog, keeping the stored one", "provider", p.Name())
			continue
		}
		if old, ok := st.Catalogs[p.Name()]; !ok || !sameCatalog(old, catalog) {
			st.Dirty = true
		}
		st.SetCatalog(catalog)
		refreshed[p.Name()] = true
		m.logger.Debug("catalog refreshed", "provider", p.Name(), "channels", len(catalog.Channels))
	}

	for _, e := range st.Entries() {
		if !e.Bound() || !refreshed[e.Provider] {
			continue
		}
		updated, ok := st.Catalogs[e.Provider].ByID(e.Channel.ID)
		switch {
		case !ok:
			m.logger.Info("channel removed", "channel", e.Channel.Name, "provider", e.Provider)
		case updated.Name != e.Channel.Name:
			m.logger.Info("channel title changed", "from", e.Channel.Name, "to", updated.Name, "provider", e.Provider)
		default:
			e.Channel = &updated
			continue
		}
		st.Unbind(e)
		st.Dirty = true
	}
	return nil
}

// restoreCatalogs rebuilds every catalog from cached index pages.
func (m *Manager) restoreCatalogs(ctx context.Context, st *status.Status) {
	for _, p := range m.registry.All() {
		rt := st.RegionFor(p.Name(), m.defaultRegion(p.Name()))
		catalog, err := p.RestoreIndex(ctx, rt.Region, rt.TZ)
		if err != nil {
			m.logger.Warn("failed to restore catalog", "provider", p.Name(), "error", err)
			continue
		}
		if len(catalog.Channels) == 0 {
			m.logger.Warn("no cached catalog", "provider", p.Name())
			continue
		}
		if old, ok := st.Catalogs[p.Name()]; !ok || !sameCatalog(old, catalog) {
			st.Dirty = true
		}
		st.SetCatalog(catalog)
	}
}

func sameCatalog(a, b provider.Catalog) bool {
	return a.Region == b.Region && a.TZ == b.TZ && reflect.DeepEqual(a.Channels, b.Channels)
}
