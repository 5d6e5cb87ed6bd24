// Package status persists the playlist-to-catalog mapping together with the
// provider catalogs it was made against.
package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BadgerOps/epggen/internal/provider"
)

// Unset marks a region or timezone that was not requested explicitly.
const Unset = -1

// RegionTZ is a provider region id and UTC offset in minutes.
type RegionTZ struct {
	Region int
	TZ     int
}

// Entry is one playlist channel slot.
type Entry struct {
	PlaylistID int
	Name       string
	Provider   string
	Channel    *provider.Channel
}

// Bound reports whether the entry is mapped to a catalog channel.
func (e *Entry) Bound() bool {
	return e.Provider != "" && e.Channel != nil
}

// Binding returns the fetch parameters for a bound entry.
func (e *Entry) Binding() provider.Binding {
	b := provider.Binding{PlaylistID: e.PlaylistID, Name: e.Name, ChannelID: -1}
	if e.Channel != nil {
		b.ChannelID = e.Channel.ID
	}
	return b
}

// Status is the persisted aggregate of catalogs and playlist entries.
type Status struct {
	Catalogs map[string]provider.Catalog
	Playlist map[string]*Entry
	// Regions holds the region/tz in effect per provider: explicitly
	// requested values first, then those of the stored catalog.
	Regions map[string]RegionTZ
	Dirty   bool
}

// New returns an empty Status.
func New() *Status {
	return &Status{
		Catalogs: make(map[string]provider.Catalog),
		Playlist: make(map[string]*Entry),
		Regions:  make(map[string]RegionTZ),
	}
}

type channelDoc struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

type catalogDoc struct {
	Region    int          `json:"region"`
	TZ        int          `json:"tz"`
	Timestamp string       `json:"timestamp"`
	Channels  []channelDoc `json:"channels"`
}

type entryDoc struct {
	PlaylistID int    `json:"playlistId"`
	Name       string `json:"name"`
	Provider   string `json:"provider,omitempty"`
	// Scraper is the key older status files used for Provider.
	Scraper string `json:"scraper,omitempty"`
	ID      *int   `json:"id,omitempty"`
}

const playlistKey = "playlist"

// Load reads the status file at path. A missing file yields an empty Status.
// A stored catalog whose region or timezone differs from an explicitly
// requested one is discarded and the Status is marked dirty. A file that
// cannot be parsed is logged and treated as empty and dirty.
func Load(path string, requested map[string]RegionTZ, logger *slog.Logger) (*Status, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := New()
	for name, rt := range requested {
		st.Regions[name] = rt
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, fmt.Errorf("reading status file: %w", err)
	}

	if err := st.decode(data, requested, logger); err != nil {
		logger.Warn("failed parsing status file", slog.String("path", path), slog.String("error", err.Error()))
		fresh := New()
		for name, rt := range requested {
			fresh.Regions[name] = rt
		}
		fresh.Dirty = true
		return fresh, nil
	}
	return st, nil
}

func (st *Status) decode(data []byte, requested map[string]RegionTZ, logger *slog.Logger) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	for name, raw := range doc {
		if name == playlistKey {
			continue
		}
		var cd catalogDoc
		if err := json.Unmarshal(raw, &cd); err != nil {
			return fmt.Errorf("catalog %q: %w", name, err)
		}
		want, ok := requested[name]
		if ok && ((want.Region != Unset && want.Region != cd.Region) || (want.TZ != Unset && want.TZ != cd.TZ)) {
			logger.Info("discarding stored catalog for different region",
				slog.String("provider", name),
				slog.Int("stored_region", cd.Region),
				slog.Int("stored_tz", cd.TZ))
			st.Dirty = true
			continue
		}
		catalog := provider.Catalog{
			Provider: name,
			Region:   cd.Region,
			TZ:       cd.TZ,
		}
		if cd.Timestamp != "" {
			ts, err := time.Parse(time.RFC3339Nano, cd.Timestamp)
			if err != nil {
				logger.Warn("bad catalog timestamp", slog.String("provider", name), slog.String("error", err.Error()))
			}
			catalog.Timestamp = ts
		}
		for _, ch := range cd.Channels {
			c := provider.Channel{ID: ch.ID, Name: ch.Name}
			if len(ch.Aliases) > 0 {
				c.Aliases = ch.Aliases
			}
			catalog.Channels = append(catalog.Channels, c)
		}
		st.Catalogs[name] = catalog
		st.Regions[name] = RegionTZ{Region: cd.Region, TZ: cd.TZ}
	}

	raw, ok := doc[playlistKey]
	if !ok {
		return nil
	}
	var entries []entryDoc
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("playlist: %w", err)
	}
	for _, ed := range entries {
		if ed.Name == "" {
			continue
		}
		e := &Entry{PlaylistID: ed.PlaylistID, Name: ed.Name}
		prov := ed.Provider
		if prov == "" {
			prov = ed.Scraper
		}
		if prov != "" && ed.ID != nil {
			if catalog, ok := st.Catalogs[prov]; ok {
				if ch, ok := catalog.ByID(*ed.ID); ok {
					e.Provider = prov
					e.Channel = &ch
				}
			}
		}
		st.Playlist[e.Name] = e
	}
	return nil
}

// Save writes the status file atomically.
func (st *Status) Save(path string) error {
	doc := make(map[string]interface{}, len(st.Catalogs)+1)
	for name, c := range st.Catalogs {
		cd := catalogDoc{
			Region:   c.Region,
			TZ:       c.TZ,
			Channels: make([]channelDoc, 0, len(c.Channels)),
		}
		if !c.Timestamp.IsZero() {
			cd.Timestamp = c.Timestamp.Format(time.RFC3339Nano)
		}
		for _, ch := range c.Channels {
			aliases := ch.Aliases
			if aliases == nil {
				aliases = []string{}
			}
			cd.Channels = append(cd.Channels, channelDoc{ID: ch.ID, Name: ch.Name, Aliases: aliases})
		}
		doc[name] = cd
	}

	entries := make([]entryDoc, 0, len(st.Playlist))
	for _, e := range st.Entries() {
		ed := entryDoc{PlaylistID: e.PlaylistID, Name: e.Name}
		if e.Bound() {
			id := e.Channel.ID
			ed.Provider = e.Provider
			ed.ID = &id
		}
		entries = append(entries, ed)
	}
	doc[playlistKey] = entries

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp status file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing status file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming status file: %w", err)
	}
	return nil
}

// RegionFor returns the region/tz in effect for a provider, taking unset
// parts from fallback.
func (st *Status) RegionFor(name string, fallback RegionTZ) RegionTZ {
	rt, ok := st.Regions[name]
	if !ok {
		return fallback
	}
	if rt.Region == Unset {
		rt.Region = fallback.Region
	}
	if rt.TZ == Unset {
		rt.TZ = fallback.TZ
	}
	return rt
}

// SetCatalog replaces the stored catalog of its provider.
func (st *Status) SetCatalog(c provider.Catalog) {
	st.Catalogs[c.Provider] = c
	st.Regions[c.Provider] = RegionTZ{Region: c.Region, TZ: c.TZ}
}

// Set records an entry under name, replacing any previous one. It reports
// whether name was not in the playlist before.
func (st *Status) Set(name string, playlistID int, prov string, ch *provider.Channel) bool {
	_, existed := st.Playlist[name]
	e := &Entry{PlaylistID: playlistID, Name: name}
	if prov != "" && ch != nil {
		c := *ch
		e.Provider = prov
		e.Channel = &c
	}
	st.Playlist[name] = e
	return !existed
}

// Unbind clears the mapping of an entry, keeping its id.
func (st *Status) Unbind(e *Entry) {
	e.Provider = ""
	e.Channel = nil
}

// ClearBindings unbinds every entry.
func (st *Status) ClearBindings() {
	for _, e := range st.Playlist {
		st.Unbind(e)
	}
}

// EntryByID finds a playlist entry by its stable id.
func (st *Status) EntryByID(id int) (*Entry, bool) {
	for _, e := range st.Playlist {
		if e.PlaylistID == id {
			return e, true
		}
	}
	return nil, false
}

// Entries returns the playlist sorted by id, then name.
func (st *Status) Entries() []*Entry {
	entries := make([]*Entry, 0, len(st.Playlist))
	for _, e := range st.Playlist {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PlaylistID != entries[j].PlaylistID {
			return entries[i].PlaylistID < entries[j].PlaylistID
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// NextID returns an id greater than every id in the playlist.
func (st *Status) NextID() int {
	highest := 0
	for _, e := range st.Playlist {
		if e.PlaylistID > highest {
			highest = e.PlaylistID
		}
	}
	return highest + 1
}
