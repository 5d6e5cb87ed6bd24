package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitExtInf(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantMeta string
		wantName string
	}{
		{"standard format", `-1 tvg-id="test" tvg-name="Test Channel",Test Channel`, `-1 tvg-id="test" tvg-name="Test Channel"`, "Test Channel"},
		{"comma in attribute value", `-1 tvg-name="News, Sports" group-title="Ent",Channel Name`, `-1 tvg-name="News, Sports" group-title="Ent"`, "Channel Name"},
		{"comma in title", `-1,Sports, News & More`, `-1`, "Sports, News & More"},
		{"no comma", `-1 tvg-id="test"`, `-1 tvg-id="test"`, ""},
		{"empty input", ``, ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, name := splitExtInf(tt.input)
			if meta != tt.wantMeta || name != tt.wantName {
				t.Errorf("splitExtInf() = %q, %q; want %q, %q", meta, name, tt.wantMeta, tt.wantName)
			}
		})
	}
}

func TestParseM3U(t *testing.T) {
	input := "\ufeff#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"first\" group-title=\"Эфир\",Первый канал\n" +
		"http://iptv/1\n" +
		"\n" +
		"#EXTINF:-1,Россия 1 HD\n" +
		"#EXTGRP:news\n" +
		"http://iptv/2\n" +
		"#EXTINF:-1,Первый канал\n" +
		"http://iptv/1-backup\n" +
		"#EXTINF:0,НТВ\n" +
		"http://iptv/4\n"

	items, err := ParseM3U(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseM3U() failed: %v", err)
	}
	want := []Item{
		{ID: 1, Name: "Первый канал", TvgID: "first", Group: "Эфир", URL: "http://iptv/1"},
		{ID: 2, Name: "Россия 1 HD", URL: "http://iptv/2"},
		{ID: 4, Name: "НТВ", URL: "http://iptv/4"},
	}
	if len(items) != len(want) {
		t.Fatalf("items = %+v", items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("item %d = %+v, want %+v", i, items[i], want[i])
		}
	}
}

func TestParseM3UFileMissing(t *testing.T) {
	if _, err := ParseM3UFile(filepath.Join(t.TempDir(), "none.m3u")); err == nil {
		t.Fatal("expected error for missing playlist")
	}

	path := filepath.Join(t.TempDir(), "list.m3u8")
	if err := os.WriteFile(path, []byte("#EXTM3U\n#EXTINF:-1,One\nhttp://x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	items, err := ParseM3UFile(path)
	if err != nil || len(items) != 1 || items[0].Name != "One" {
		t.Fatalf("ParseM3UFile() = %+v, %v", items, err)
	}
}
