package mailru

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/fetch"
	"github.com/BadgerOps/epggen/internal/provider"
)

const (
	indexPage1 = `{"data":[{"channel":[{"id":"1","name":"Первый канал"},{"id":"2","name":"Россия 1"}]}]}`
	indexPage2 = `{"data":[{"channel":[{"id":"3","name":"НТВ"},{"name":"no id"}]}]}`
	indexEmpty = `{"data":[]}`

	scheduleDay = `{"schedule":[{"event":{
		"past":[{"id":"100","start":"23:30","name":"Новости"}],
		"current":[{"id":"101","start":"00:15","name":"Фильм"},{"start":"01:00","name":"no id"}]}}]}`
	scheduleEmpty = `{"schedule":[]}`

	eventDetail = `{"tv_event":{
		"episode_num":"5",
		"episode_title":"Серия пятая",
		"descr":"<p>Hello <b>world</b></p><p>again</p>",
		"genre":[{"title":"драма"}],
		"country":[{"title":"Россия"}],
		"participants":[
			{"title":"Режиссеры","persons":[{"name":"Director One"}]},
			{"title":"В ролях","persons":[{"name":"Actor One"},{"name":"Actor Two"}]},
			{"title":"Участники","persons":[{"name":"Host"}]}],
		"age_restrict":"16+",
		"year":{"title":"2001"},
		"tv_gallery":{"items":[{"preview":{"src":"http://img/p.jpg"}},{"original":{"src":"http://img/o.jpg"}}]}}}`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/channel/index/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if r.URL.Query().Get("region_id") != "70" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = w.Write([]byte(indexPage1))
		case "2":
			_, _ = w.Write([]byte(indexPage2))
		default:
			_, _ = w.Write([]byte(indexEmpty))
		}
	})
	mux.HandleFunc("/channel/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if r.URL.Query().Get("channel_id") == "1" && r.URL.Query().Get("date") == "2024-01-31" {
			_, _ = w.Write([]byte(scheduleDay))
			return
		}
		_, _ = w.Write([]byte(scheduleEmpty))
	})
	mux.HandleFunc("/event/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		if r.URL.Query().Get("id") == "100" {
			_, _ = w.Write([]byte(eventDetail))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestProvider(t *testing.T, store *cache.Store, baseURL string) *MailruProvider {
	t.Helper()
	client := fetch.NewClient(discardLogger(), fetch.ClientOptions{Timeout: 5 * time.Second})
	pipeline := fetch.NewPipeline(store, client, discardLogger(), fetch.Options{Attempts: 1})
	p := NewMailruProvider(pipeline, discardLogger())
	if err := p.Configure(provider.ProviderConfig{"base_url": baseURL + "/"}); err != nil {
		t.Fatalf("Configure() failed: %v", err)
	}
	p.now = func() time.Time { return time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC) }
	return p
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.New(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	return store
}

func TestFetchIndexPages(t *testing.T) {
	var calls int64
	server := newServer(t, &calls)
	store := newTestStore(t)
	p := newTestProvider(t, store, server.URL)

	catalog, err := p.FetchIndex(context.Background(), 70, 180)
	if err != nil {
		t.Fatalf("FetchIndex() failed: %v", err)
	}
	if len(catalog.Channels) != 3 {
		t.Fatalf("channels = %d, want 3: %+v", len(catalog.Channels), catalog.Channels)
	}
	if catalog.Channels[2].ID != 3 || catalog.Channels[2].Name != "НТВ" {
		t.Errorf("third channel = %+v", catalog.Channels[2])
	}
	if catalog.Provider != "mailru" || catalog.Region != 70 || catalog.TZ != 180 {
		t.Errorf("catalog header = %+v", catalog)
	}
	if calls != 3 {
		t.Errorf("network calls = %d, want 3", calls)
	}

	// Cached pages are reused without the network.
	again, err := p.FetchIndex(context.Background(), 70, 180)
	if err != nil {
		t.Fatalf("second FetchIndex() failed: %v", err)
	}
	if len(again.Channels) != 3 || calls != 3 {
		t.Errorf("second fetch: channels=%d calls=%d", len(again.Channels), calls)
	}

	restored, err := p.RestoreIndex(context.Background(), 70, 180)
	if err != nil {
		t.Fatalf("RestoreIndex() failed: %v", err)
	}
	if len(restored.Channels) != 3 {
		t.Errorf("restored channels = %d, want 3", len(restored.Channels))
	}
}

func TestFetchChannel(t *testing.T) {
	var calls int64
	server := newServer(t, &calls)
	store := newTestStore(t)
	p := newTestProvider(t, store, server.URL)

	catalog := provider.Catalog{Provider: "mailru", Region: 70, TZ: 180}
	ref := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC) // Wednesday
	binding := provider.Binding{PlaylistID: 12, Name: "Первый", ChannelID: 1}

	programmes, err := p.FetchChannel(context.Background(), catalog, binding, ref)
	if err != nil {
		t.Fatalf("FetchChannel() failed: %v", err)
	}
	if len(programmes) != 2 {
		t.Fatalf("programmes = %d, want 2", len(programmes))
	}

	// Window Jan 30 .. Feb 4 is six day requests plus two event requests.
	if calls != 8 {
		t.Errorf("network calls = %d, want 8", calls)
	}

	loc := time.FixedZone("", 180*60)
	first, second := programmes[0], programmes[1]
	if !first.Start.Equal(time.Date(2024, 1, 31, 23, 30, 0, 0, loc)) {
		t.Errorf("first start = %v", first.Start)
	}
	if !second.Start.Equal(time.Date(2024, 2, 1, 0, 15, 0, 0, loc)) {
		t.Errorf("second start = %v, want next day after rollover", second.Start)
	}
	if !first.Stop.Equal(second.Start) || !second.Stop.IsZero() {
		t.Errorf("stops = %v, %v", first.Stop, second.Stop)
	}
	if first.PlaylistID != 12 || first.Title != "Новости" {
		t.Errorf("first = %+v", first)
	}

	if first.Description != "Hello world again" {
		t.Errorf("description = %q", first.Description)
	}
	if first.SecondaryTitle != "Серия пятая" || first.EpisodeNum != "5" {
		t.Errorf("episode = %q %q", first.SecondaryTitle, first.EpisodeNum)
	}
	if first.Year != 2001 || first.Rating != "16+" {
		t.Errorf("year/rating = %d %q", first.Year, first.Rating)
	}
	if len(first.Credits.Directors) != 1 || len(first.Credits.Actors) != 2 || len(first.Credits.Presenters) != 1 {
		t.Errorf("credits = %+v", first.Credits)
	}
	if len(first.Icons) != 2 || first.Icons[0].Src != "http://img/p.jpg" || first.Icons[1].Src != "http://img/o.jpg" {
		t.Errorf("icons = %+v", first.Icons)
	}

	// Restoring from the same cache needs no network at all.
	offline := newTestProvider(t, store, "http://127.0.0.1:1")
	restored, err := offline.RestoreChannel(context.Background(), catalog, binding, ref)
	if err != nil {
		t.Fatalf("RestoreChannel() failed: %v", err)
	}
	if len(restored) != 2 || restored[0].Description != first.Description || !restored[0].Stop.Equal(first.Stop) {
		t.Errorf("restored = %+v", restored)
	}
}

func TestMinutesOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:00", 0, true},
		{"23:59", 23*60 + 59, true},
		{"7:05:30", 7*60 + 5, true},
		{"noon", 0, false},
		{"12", 0, false},
	}
	for _, tt := range tests {
		got, ok := minutesOfDay(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("minutesOfDay(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
