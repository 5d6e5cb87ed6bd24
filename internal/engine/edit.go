package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Set binds playlist entry playlistID to channel channelID of a provider.
func (m *Manager) Set(playlistID int, providerName string, channelID int) error {
	run := m.beginRun("set")
	err := m.set(playlistID, providerName, channelID)
	m.endRun(run, err)
	return err
}

func (m *Manager) set(playlistID int, providerName string, channelID int) error {
	st, err := m.loadStatus()
	if err != nil {
		return err
	}
	e, ok := st.EntryByID(playlistID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrPlaylistEntryNotFound, playlistID)
	}
	if _, ok := m.registry.Get(providerName); !ok {
		return fmt.Errorf("%w: %q", ErrProviderNotFound, providerName)
	}
	catalog, ok := st.Catalogs[providerName]
	if !ok {
		return fmt.Errorf("%w: %d (%q has no catalog)", ErrCatalogChannelNotFound, channelID, providerName)
	}
	ch, ok := catalog.ByID(channelID)
	if !ok {
		return fmt.Errorf("%w: %d (%q)", ErrCatalogChannelNotFound, channelID, providerName)
	}
	st.Set(e.Name, playlistID, providerName, &ch)
	m.logger.Info("channel bound", "channel", e.Name, "provider", providerName, "match", ch.Name)
	return st.Save(m.cache.StatusPath())
}

// Unset removes the binding of playlist entry playlistID.
func (m *Manager) Unset(playlistID int) error {
	run := m.beginRun("unset")
	err := m.unset(playlistID)
	m.endRun(run, err)
	return err
}

func (m *Manager) unset(playlistID int) error {
	st, err := m.loadStatus()
	if err != nil {
		return err
	}
	e, ok := st.EntryByID(playlistID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrPlaylistEntryNotFound, playlistID)
	}
	st.Unbind(e)
	return st.Save(m.cache.StatusPath())
}

// ListFilter selects which playlist entries List reports.
type ListFilter int

const (
	ListAll ListFilter = iota
	ListMatched
	ListUnmatched
)

// ListRow is one line of the channel listing. Catalog channels that are not
// bound to any entry have empty playlist columns.
type ListRow struct {
	PlaylistID   string
	Name         string
	Provider     string
	ProviderID   string
	ProviderName string
}

// List reports playlist entries and, for ListAll, the unbound catalog names,
// sorted by provider, provider name and playlist name. A non-empty pattern
// keeps rows whose playlist or provider name fuzzily contains it.
func (m *Manager) List(pattern string, filter ListFilter) ([]ListRow, error) {
	st, err := m.loadStatus()
	if err != nil {
		return nil, err
	}

	matches := func(s string) bool {
		return pattern == "" || fuzzy.MatchNormalizedFold(pattern, s)
	}

	type boundKey struct {
		provider string
		id       int
	}
	bound := make(map[boundKey]bool)
	for _, e := range st.Playlist {
		if e.Bound() {
			bound[boundKey{e.Provider, e.Channel.ID}] = true
		}
	}

	var rows []ListRow
	for _, e := range st.Entries() {
		if (filter == ListMatched && !e.Bound()) || (filter == ListUnmatched && e.Bound()) {
			continue
		}
		if !matches(e.Name) && !(e.Bound() && matches(e.Channel.Name)) {
			continue
		}
		row := ListRow{PlaylistID: strconv.Itoa(e.PlaylistID), Name: e.Name}
		if e.Bound() {
			row.Provider = e.Provider
			row.ProviderID = strconv.Itoa(e.Channel.ID)
			row.ProviderName = e.Channel.Name
		}
		rows = append(rows, row)
	}

	if filter == ListAll {
		for _, c := range m.catalogs(st) {
			for _, ch := range c.Channels {
				if bound[boundKey{c.Provider, ch.ID}] {
					continue
				}
				for _, name := range ch.Names() {
					if matches(name) {
						rows = append(rows, ListRow{
							Provider:     c.Provider,
							ProviderID:   strconv.Itoa(ch.ID),
							ProviderName: name,
						})
					}
				}
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Provider != rows[j].Provider {
			return rows[i].Provider < rows[j].Provider
		}
		if rows[i].ProviderName != rows[j].ProviderName {
			return rows[i].ProviderName < rows[j].ProviderName
		}
		return rows[i].Name < rows[j].Name
	})
	return rows, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
