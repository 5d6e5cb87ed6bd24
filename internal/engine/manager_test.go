package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/match"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/status"
	"github.com/BadgerOps/epggen/internal/store"
)

// fakeProvider serves a fixed catalog and fixed schedules.
type fakeProvider struct {
	name       string
	channels   []provider.Channel
	restored   []provider.Channel
	programmes map[int][]provider.Programme

	indexFetches   int
	indexRestores  int
	channelFetches int
	channelRestore int
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Lang() string { return "ru" }
func (f *fakeProvider) Configure(cfg provider.ProviderConfig) error { return nil }

func (f *fakeProvider) FetchIndex(ctx context.Context, region, tz int) (provider.Catalog, error) {
	f.indexFetches++
	return provider.Catalog{Provider: f.name, Region: region, TZ: tz, Channels: f.channels}, nil
}

func (f *fakeProvider) RestoreIndex(ctx context.Context, region, tz int) (provider.Catalog, error) {
	f.indexRestores++
	return provider.Catalog{Provider: f.name, Region: region, TZ: tz, Channels: f.restored}, nil
}

func (f *fakeProvider) schedule(b provider.Binding) []provider.Programme {
	var out []provider.Programme
	for _, p := range f.programmes[b.ChannelID] {
		p.PlaylistID = b.PlaylistID
		out = append(out, p)
	}
	return out
}

func (f *fakeProvider) FetchChannel(ctx context.Context, catalog provider.Catalog, b provider.Binding, ref time.Time) ([]provider.Programme, error) {
	f.channelFetches++
	return f.schedule(b), nil
}

func (f *fakeProvider) RestoreChannel(ctx context.Context, catalog provider.Catalog, b provider.Binding, ref time.Time) ([]provider.Programme, error) {
	f.channelRestore++
	return f.schedule(b), nil
}

// scriptedChooser answers from a fixed list and records the targets asked.
type scriptedChooser struct {
	answers []Choice
	asked   []string
}

func (s *scriptedChooser) Choose(target string, candidates []match.Candidate) (Choice, error) {
	s.asked = append(s.asked, target)
	if len(s.answers) == 0 {
		return Choice{Action: Skip}, nil
	}
	c := s.answers[0]
	s.answers = s.answers[1:]
	return c, nil
}

var testNow = time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, providers ...provider.Provider) (*Manager, *bytes.Buffer, *store.Store) {
	t.Helper()
	logger := discardLogger()
	cacheStore, err := cache.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	history, err := store.New(":memory:", logger)
	if err != nil {
		t.Fatalf("store.New() failed: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	reg := provider.NewRegistry()
	for _, p := range providers {
		reg.Register(p)
	}
	m := NewManager(reg, cacheStore, history, config.DefaultConfig(), logger)
	var out bytes.Buffer
	m.SetOutput(&out)
	m.now = func() time.Time { return testNow }
	return m, &out, history
}

func writePlaylist(t *testing.T, names ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i, n := range names {
		b.WriteString("#EXTINF:-1," + n + "\n")
		b.WriteString("http://iptv/" + string(rune('a'+i)) + "\n")
	}
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func seedStatus(t *testing.T, m *Manager, st *status.Status) {
	t.Helper()
	if err := st.Save(m.StatusPath()); err != nil {
		t.Fatalf("saving status: %v", err)
	}
}

func loadStatus(t *testing.T, m *Manager) *status.Status {
	t.Helper()
	st, err := status.Load(m.StatusPath(), nil, discardLogger())
	if err != nil {
		t.Fatalf("loading status: %v", err)
	}
	return st
}

func mailruFake() *fakeProvider {
	return &fakeProvider{
		name: "mailru",
		channels: []provider.Channel{
			{ID: 1, Name: "BBC 1"},
			{ID: 2, Name: "Discovery"},
			{ID: 3, Name: "Sport 2"},
			{ID: 4, Name: "Sport 3"},
		},
	}
}

func TestMatchFromPlaylist(t *testing.T) {
	fake := mailruFake()
	m, out, history := newTestManager(t, fake)
	path := writePlaylist(t, "BBC1", "Discovery Channel HD", "Unknown", "Sport")

	report, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if report.Matched != 2 {
		t.Errorf("Matched = %d, want 2", report.Matched)
	}
	if strings.Join(report.Unmatched, ",") != "Sport,Unknown" {
		t.Errorf("Unmatched = %v", report.Unmatched)
	}
	if !report.Saved {
		t.Error("status should have been saved")
	}
	want := "2 channels matched\n2 channels not matched:\n    Sport\n    Unknown\n"
	if out.String() != want {
		t.Errorf("summary = %q, want %q", out.String(), want)
	}
	if fake.indexFetches != 1 {
		t.Errorf("indexFetches = %d, want 1", fake.indexFetches)
	}

	st := loadStatus(t, m)
	tests := []struct {
		name    string
		id      int
		channel int
	}{
		{"BBC1", 1, 1},
		{"Discovery Channel HD", 2, 2},
		{"Unknown", 3, -1},
		{"Sport", 4, -1},
	}
	for _, tt := range tests {
		e := st.Playlist[tt.name]
		if e == nil {
			t.Fatalf("entry %q missing", tt.name)
		}
		if e.PlaylistID != tt.id {
			t.Errorf("%s id = %d, want %d", tt.name, e.PlaylistID, tt.id)
		}
		if got := e.Binding().ChannelID; got != tt.channel {
			t.Errorf("%s channel = %d, want %d", tt.name, got, tt.channel)
		}
	}
	if _, ok := st.Catalogs["mailru"]; !ok {
		t.Error("catalog not persisted")
	}

	runs, err := history.ListRuns("match", 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Matched != 2 || runs[0].Unmatched != 2 || runs[0].Status != store.RunSuccess {
		t.Errorf("runs = %+v", runs)
	}
}

func TestMatchSecondRunKeepsBindings(t *testing.T) {
	fake := mailruFake()
	m, out, _ := newTestManager(t, fake)
	path := writePlaylist(t, "BBC1", "Unknown")

	if _, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path}); err != nil {
		t.Fatalf("first Match() failed: %v", err)
	}
	out.Reset()
	report, err := m.Match(context.Background(), MatchOptions{})
	if err != nil {
		t.Fatalf("second Match() failed: %v", err)
	}
	if report.Matched != 1 || len(report.Unmatched) != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Saved {
		t.Error("nothing changed, status must not be rewritten")
	}
}

func TestMatchInteractive(t *testing.T) {
	fake := mailruFake()
	fake.channels = append(fake.channels, provider.Channel{ID: 5, Name: "Kino 1"}, provider.Channel{ID: 6, Name: "Kino 2"})
	m, _, _ := newTestManager(t, fake)
	path := writePlaylist(t, "Sport", "Kino", "Unknown")

	chooser := &scriptedChooser{answers: []Choice{{Action: Pick, Index: 1}, {Action: SkipAll}}}
	report, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path, Interactive: true, Chooser: chooser})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if strings.Join(chooser.asked, ",") != "Sport,Kino" {
		t.Errorf("asked = %v", chooser.asked)
	}
	if report.Matched != 1 {
		t.Errorf("Matched = %d, want 1", report.Matched)
	}
	st := loadStatus(t, m)
	if e := st.Playlist["Sport"]; !e.Bound() || e.Channel.ID != 4 {
		t.Errorf("Sport = %+v, want channel 4", e)
	}
}

func TestMatchSkipAllStopsPrompting(t *testing.T) {
	fake := mailruFake()
	fake.channels = append(fake.channels, provider.Channel{ID: 5, Name: "Kino 1"}, provider.Channel{ID: 6, Name: "Kino 2"})
	m, _, _ := newTestManager(t, fake)
	path := writePlaylist(t, "Sport", "Kino")

	chooser := &scriptedChooser{answers: []Choice{{Action: SkipAll}}}
	if _, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path, Interactive: true, Chooser: chooser}); err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if len(chooser.asked) != 1 {
		t.Errorf("asked = %v, want a single prompt", chooser.asked)
	}
}

func TestMatchRevalidatesBindings(t *testing.T) {
	fake := &fakeProvider{
		name:     "mailru",
		channels: []provider.Channel{{ID: 1, Name: "BBC 1"}, {ID: 2, Name: "Renamed"}},
	}
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{
		Provider: "mailru", Region: 70, TZ: 180,
		Channels: []provider.Channel{{ID: 1, Name: "BBC 1"}, {ID: 2, Name: "Old"}, {ID: 3, Name: "Gone TV"}},
	})
	st.Set("BBC One", 1, "mailru", &provider.Channel{ID: 1, Name: "BBC 1"})
	st.Set("Old Channel", 2, "mailru", &provider.Channel{ID: 2, Name: "Old"})
	st.Set("Gone", 3, "mailru", &provider.Channel{ID: 3, Name: "Gone TV"})
	seedStatus(t, m, st)

	report, err := m.Match(context.Background(), MatchOptions{})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if report.Matched != 1 {
		t.Errorf("Matched = %d, want 1", report.Matched)
	}
	if strings.Join(report.Unmatched, ",") != "Gone,Old Channel" {
		t.Errorf("Unmatched = %v", report.Unmatched)
	}

	loaded := loadStatus(t, m)
	if !loaded.Playlist["BBC One"].Bound() {
		t.Error("unchanged binding was dropped")
	}
	for _, name := range []string{"Old Channel", "Gone"} {
		e := loaded.Playlist[name]
		if e.Bound() {
			t.Errorf("%s still bound", name)
		}
	}
	if loaded.Playlist["Gone"].PlaylistID != 3 {
		t.Error("playlist id must survive unbinding")
	}
}

func TestMatchEmptyCatalogKeepsStored(t *testing.T) {
	fake := &fakeProvider{name: "mailru"}
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{Provider: "mailru", Region: 70, TZ: 180, Channels: []provider.Channel{{ID: 1, Name: "BBC 1"}}})
	st.Set("BBC One", 1, "mailru", &provider.Channel{ID: 1, Name: "BBC 1"})
	seedStatus(t, m, st)

	report, err := m.Match(context.Background(), MatchOptions{})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if report.Matched != 1 {
		t.Errorf("a failed catalog fetch must not unbind entries: %+v", report)
	}
}

func TestMatchOfflineRestoresCatalogs(t *testing.T) {
	fake := &fakeProvider{name: "mailru", restored: []provider.Channel{{ID: 1, Name: "BBC 1"}}}
	m, _, _ := newTestManager(t, fake)
	path := writePlaylist(t, "BBC1")

	report, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path, Offline: true})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if fake.indexFetches != 0 || fake.indexRestores != 1 {
		t.Errorf("fetches = %d, restores = %d", fake.indexFetches, fake.indexRestores)
	}
	if report.Matched != 1 {
		t.Errorf("Matched = %d, want 1", report.Matched)
	}
	st := loadStatus(t, m)
	if st.Catalogs["mailru"].Region != 70 || st.Catalogs["mailru"].TZ != 180 {
		t.Errorf("restored catalog should use configured region: %+v", st.Catalogs["mailru"])
	}
}

func TestMatchRegionOverride(t *testing.T) {
	fake := mailruFake()
	m, _, _ := newTestManager(t, fake)
	path := writePlaylist(t, "BBC1")

	regions := map[string]status.RegionTZ{"mailru": {Region: 42, TZ: status.Unset}}
	if _, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path, Regions: regions}); err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	c := loadStatus(t, m).Catalogs["mailru"]
	if c.Region != 42 || c.TZ != 180 {
		t.Errorf("catalog region/tz = %d/%d, want 42/180", c.Region, c.TZ)
	}
}

func TestMatchKeepsStoredIDs(t *testing.T) {
	fake := mailruFake()
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.Set("Unknown", 1, "", nil)
	seedStatus(t, m, st)

	path := writePlaylist(t, "BBC1", "Unknown")
	if _, err := m.Match(context.Background(), MatchOptions{PlaylistPath: path}); err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	loaded := loadStatus(t, m)
	if loaded.Playlist["Unknown"].PlaylistID != 1 {
		t.Errorf("Unknown id = %d, want stored 1", loaded.Playlist["Unknown"].PlaylistID)
	}
	if loaded.Playlist["BBC1"].PlaylistID != 2 {
		t.Errorf("BBC1 id = %d, want fresh 2", loaded.Playlist["BBC1"].PlaylistID)
	}
}

func TestMatchClear(t *testing.T) {
	fake := mailruFake()
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{Provider: "mailru", Region: 70, TZ: 180, Channels: fake.channels})
	st.Set("Sport", 1, "mailru", &provider.Channel{ID: 3, Name: "Sport 2"})
	seedStatus(t, m, st)

	report, err := m.Match(context.Background(), MatchOptions{Clear: true, Offline: true})
	if err != nil {
		t.Fatalf("Match() failed: %v", err)
	}
	if report.Matched != 0 || !report.Saved {
		t.Errorf("report = %+v", report)
	}
	if loadStatus(t, m).Playlist["Sport"].Bound() {
		t.Error("binding should be cleared")
	}
}

func TestMatchErrors(t *testing.T) {
	m, _, history := newTestManager(t, mailruFake())

	if _, err := m.Match(context.Background(), MatchOptions{Preferred: "nosuch"}); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("unknown preferred provider: err = %v", err)
	}
	if _, err := m.Match(context.Background(), MatchOptions{PlaylistPath: filepath.Join(t.TempDir(), "none.m3u")}); err == nil {
		t.Error("missing playlist should fail")
	}
	runs, _ := history.ListRuns("match", 0)
	if len(runs) != 2 || runs[0].Status != store.RunFailed {
		t.Errorf("failed runs not recorded: %+v", runs)
	}
}

func TestSetUnset(t *testing.T) {
	fake := mailruFake()
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{Provider: "mailru", Region: 70, TZ: 180, Channels: fake.channels})
	st.Set("Sport", 7, "", nil)
	seedStatus(t, m, st)

	tests := []struct {
		name     string
		id       int
		provider string
		channel  int
		wantErr  error
	}{
		{"unknown entry", 8, "mailru", 3, ErrPlaylistEntryNotFound},
		{"unknown provider", 7, "yandex", 3, ErrProviderNotFound},
		{"unknown channel", 7, "mailru", 99, ErrCatalogChannelNotFound},
		{"ok", 7, "mailru", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Set(tt.id, tt.provider, tt.channel)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Set() failed: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Set() err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	e := loadStatus(t, m).Playlist["Sport"]
	if !e.Bound() || e.Channel.ID != 3 || e.PlaylistID != 7 {
		t.Fatalf("after Set: %+v", e)
	}

	if err := m.Unset(9); !errors.Is(err, ErrPlaylistEntryNotFound) {
		t.Errorf("Unset(9) err = %v", err)
	}
	if err := m.Unset(7); err != nil {
		t.Fatalf("Unset() failed: %v", err)
	}
	if loadStatus(t, m).Playlist["Sport"].Bound() {
		t.Error("entry still bound after Unset")
	}
}

func TestList(t *testing.T) {
	fake := mailruFake()
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{Provider: "mailru", Region: 70, TZ: 180, Channels: []provider.Channel{
		{ID: 1, Name: "BBC 1", Aliases: []string{"BBC One"}},
		{ID: 2, Name: "Discovery"},
	}})
	st.Set("BBC1", 1, "mailru", &provider.Channel{ID: 1, Name: "BBC 1"})
	st.Set("Zeta", 2, "", nil)
	seedStatus(t, m, st)

	tests := []struct {
		name    string
		pattern string
		filter  ListFilter
		want    []string
	}{
		{"all", "", ListAll, []string{"|Zeta", "mailru|BBC1", "mailru|"}},
		{"matched", "", ListMatched, []string{"mailru|BBC1"}},
		{"unmatched", "", ListUnmatched, []string{"|Zeta"}},
		{"pattern on provider name", "disc", ListAll, []string{"mailru|"}},
		{"pattern on playlist name", "zet", ListAll, []string{"|Zeta"}},
		{"pattern on alias of bound channel", "one", ListAll, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := m.List(tt.pattern, tt.filter)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			var got []string
			for _, r := range rows {
				got = append(got, r.Provider+"|"+r.Name)
			}
			if strings.Join(got, ";") != strings.Join(tt.want, ";") {
				t.Errorf("rows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	msk := time.FixedZone("", 3*3600)
	fake := mailruFake()
	fake.programmes = map[int][]provider.Programme{
		1: {{Start: time.Date(2024, 1, 31, 6, 0, 0, 0, msk), Title: "Morning news"}},
	}
	m, _, history := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{Provider: "mailru", Region: 70, TZ: 180, Channels: fake.channels})
	st.Set("BBC1", 5, "mailru", &provider.Channel{ID: 1, Name: "BBC 1"})
	st.Set("Discovery", 6, "mailru", &provider.Channel{ID: 2, Name: "Discovery"})
	st.Set("Unknown", 7, "", nil)
	seedStatus(t, m, st)

	out := filepath.Join(t.TempDir(), "guide.xml")
	report, err := m.Build(context.Background(), out, true, testNow)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if fake.channelRestore != 2 || fake.channelFetches != 0 {
		t.Errorf("restores = %d, fetches = %d", fake.channelRestore, fake.channelFetches)
	}
	if report.Channels != 1 || report.Programmes != 1 {
		t.Errorf("report = %+v", report)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	guide := string(data)
	for _, want := range []string{`<channel id="5">`, `<display-name lang="ru">BBC1</display-name>`, `channel="5"`, "Morning news"} {
		if !strings.Contains(guide, want) {
			t.Errorf("guide missing %q:\n%s", want, guide)
		}
	}
	if strings.Contains(guide, `<channel id="6">`) {
		t.Error("channel without programmes must be omitted")
	}

	if _, err := m.Build(context.Background(), t.TempDir(), false, testNow); err == nil {
		t.Error("Build() to a directory should fail")
	}
	runs, _ := history.ListRuns("build", 0)
	if len(runs) != 2 || runs[1].Programmes != 1 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestFetchAndCleanup(t *testing.T) {
	fake := mailruFake()
	m, _, _ := newTestManager(t, fake)

	st := status.New()
	st.SetCatalog(provider.Catalog{Provider: "mailru", Region: 70, TZ: 180, Channels: fake.channels})
	st.Set("BBC1", 1, "mailru", &provider.Channel{ID: 1, Name: "BBC 1"})
	st.Set("Unknown", 2, "", nil)
	seedStatus(t, m, st)

	old := testNow.AddDate(0, 0, -10)
	recent := testNow.AddDate(0, 0, -2)
	for _, d := range []time.Time{old, recent} {
		if _, err := m.cache.Write(cache.ChannelDayKey("mailru", 1, d), []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}

	report, err := m.Fetch(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if fake.channelFetches != 1 || report.Channels != 1 {
		t.Errorf("fetches = %d, report = %+v", fake.channelFetches, report)
	}
	if report.Purged.Files != 1 {
		t.Errorf("purged %d files, want the one older than 7 days", report.Purged.Files)
	}

	purged, err := m.Cleanup(1)
	if err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}
	if purged.Files != 1 {
		t.Errorf("Cleanup(1) purged %d files, want 1", purged.Files)
	}
	days, _ := m.cache.ChannelDays("mailru", 1)
	if len(days) != 0 {
		t.Errorf("remaining days = %+v", days)
	}
	if _, err := m.Cleanup(-1); err == nil {
		t.Error("negative days should fail")
	}
}

func TestFailureRecorder(t *testing.T) {
	history, err := store.New(":memory:", discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	record := FailureRecorder(history, discardLogger())
	record(cache.IndexKey("yandex", 0), "https://tv.yandex.ru/x", "/c/yandex/index/0.json", 5, errors.New("HTTP 503"))
	record(cache.IndexKey("yandex", 0), "https://tv.yandex.ru/x", "/c/yandex/index/0.json", 5, errors.New("HTTP 503"))

	failures, err := history.ListFetchFailures("yandex", 0)
	if err != nil {
		t.Fatalf("ListFetchFailures() failed: %v", err)
	}
	if len(failures) != 1 || failures[0].FailureCount != 2 || failures[0].Attempts != 5 {
		t.Errorf("failures = %+v", failures)
	}

	// A nil store is tolerated.
	FailureRecorder(nil, nil)(cache.IndexKey("yandex", 0), "", "", 1, errors.New("x"))
}
