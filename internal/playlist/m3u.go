// Package playlist reads subscriber playlists.
package playlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Item is one channel of an M3U playlist.
type Item struct {
	// ID is the 1-based position of the track in the file.
	ID    int
	Name  string
	TvgID string
	Group string
	URL   string
}

var attrRe = regexp.MustCompile(`([\w-]+)="([^"]*)"`)

// ParseM3U reads an extended M3U playlist. Tracks are numbered from 1 in file
// order; a title seen earlier is not repeated. Lines other than #EXTINF
// directives and their URLs are ignored.
func ParseM3U(r io.Reader) ([]Item, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		items   []Item
		seen    = make(map[string]bool)
		pending *Item
		n       int
	)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			n++
			meta, name := splitExtInf(strings.TrimPrefix(line, "#EXTINF:"))
			item := Item{ID: n, Name: strings.TrimSpace(name)}
			for _, m := range attrRe.FindAllStringSubmatch(meta, -1) {
				switch m[1] {
				case "tvg-id":
					item.TvgID = m[2]
				case "group-title":
					item.Group = m[2]
				}
			}
			pending = &item
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending == nil {
				continue
			}
			pending.URL = line
			if pending.Name != "" && !seen[pending.Name] {
				seen[pending.Name] = true
				items = append(items, *pending)
			}
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	return items, nil
}

// ParseM3UFile reads the playlist at path.
func ParseM3UFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read playlist file: %w", err)
	}
	defer f.Close()
	return ParseM3U(f)
}

// splitExtInf separates the directive attributes from the title at the first
// comma outside double quotes.
func splitExtInf(s string) (meta, name string) {
	inQuotes := false
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return s[:i], s[i+1:]
			}
		}
	}
	return s, ""
}
