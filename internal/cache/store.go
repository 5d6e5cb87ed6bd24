// Package cache stores raw provider responses on disk, bucketed by provider,
// channel and date, and evicts per-day data once it ages out.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/BadgerOps/epggen/internal/safety"
)

var (
	// ErrNotDirectory is returned when an expected directory path holds something else.
	ErrNotDirectory = errors.New("not a directory")
	// ErrNotWritable is returned when a cache directory cannot be written to.
	ErrNotWritable = errors.New("directory is not writable")
)

const (
	indexDir    = "index"
	channelsDir = "channels"
	eventsDir   = "events"
	statusFile  = "status.json"
	appName     = "epggen"
)

// DatedFile is a per-day cache file together with the date its name encodes.
type DatedFile struct {
	Date time.Time
	Path string
}

// PurgeReport summarizes what Purge removed.
type PurgeReport struct {
	Files       int
	Directories int
}

// Store is a file-system key/value store rooted at a single directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// DefaultRoot resolves the cache directory used when none is configured.
func DefaultRoot() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	if dir := os.Getenv("USERPROFILE"); dir != "" {
		return filepath.Join(dir, appName)
	}
	if dir := os.Getenv("HOME"); dir != "" {
		return filepath.Join(dir, ".cache", appName)
	}
	return "."
}

// New opens (creating if needed) the cache rooted at root. A root that is not
// a directory or cannot be written is a fatal configuration error.
func New(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = DefaultRoot()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving cache root %q: %w", root, err)
	}
	if err := ensureDir(abs); err != nil {
		return nil, err
	}
	if err := probeWritable(abs); err != nil {
		return nil, err
	}
	logger.Debug("cache opened", "path", abs)
	return &Store{root: abs, logger: logger}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// StatusPath returns the location of the persisted match status document.
func (s *Store) StatusPath() string {
	return filepath.Join(s.root, statusFile)
}

// Dir resolves a directory under the root, creating missing parents.
func (s *Store) Dir(elems ...string) (string, error) {
	dir, err := safety.SafeJoinUnder(s.root, elems...)
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the file backing key, creating its parent directories.
func (s *Store) Path(key Key) (string, error) {
	if err := safety.ValidateSegment(key.Provider); err != nil {
		return "", fmt.Errorf("invalid provider in cache key: %w", err)
	}

	var (
		dir  string
		name string
		err  error
	)
	switch key.Kind {
	case KindIndex:
		dir, err = s.Dir(key.Provider, indexDir)
		name = strconv.Itoa(key.Page) + ".json"
	case KindChannelDay:
		dir, err = s.Dir(key.Provider, channelsDir, strconv.Itoa(key.ChannelID))
		name = FormatDate(key.Date) + ".json"
	case KindEvent:
		if verr := safety.ValidateSegment(key.EventID); verr != nil {
			return "", fmt.Errorf("invalid event id in cache key: %w", verr)
		}
		dir, err = s.Dir(key.Provider, channelsDir, strconv.Itoa(key.ChannelID), eventsDir, FormatDate(key.Date))
		name = key.EventID + ".json"
	default:
		return "", fmt.Errorf("unknown cache key kind %s", key.Kind)
	}
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Lookup reports whether a readable cache file exists for key.
func (s *Store) Lookup(key Key) (string, bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", false, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return path, false, nil
		}
		return path, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return path, fi.Mode().IsRegular(), nil
}

// Write stores data as the whole content of key's file. The file is written
// next to its destination and renamed into place so readers never observe a
// partial snapshot.
func (s *Store) Write(key Key, data []byte) (string, error) {
	path, err := s.Path(key)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming into %s: %w", path, err)
	}
	return path, nil
}

// ChannelDays lists the per-day files cached for a channel, sorted by date.
// Files whose names do not encode a date are skipped.
func (s *Store) ChannelDays(provider string, channelID int) ([]DatedFile, error) {
	dir, err := s.Dir(provider, channelsDir, strconv.Itoa(channelID))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var files []DatedFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		date, ok := ParseDateFile(e.Name())
		if !ok {
			continue
		}
		files = append(files, DatedFile{Date: date, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Date.Before(files[j].Date) })
	return files, nil
}

// IndexPages lists the cached catalog pages for a provider in page order.
func (s *Store) IndexPages(provider string) ([]string, error) {
	dir, err := s.Dir(provider, indexDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := pageFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	paths := make([]string, 0, len(pages))
	for _, p := range pages {
		paths = append(paths, p.path)
	}
	return paths, nil
}

// ClearIndex removes every cached index page of every provider. It runs
// before a full catalog refresh so stale pages never mix with fresh ones.
func (s *Store) ClearIndex() (int, error) {
	providers, err := s.providerDirs()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range providers {
		dir := filepath.Join(p, indexDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			path := filepath.Join(dir, e.Name())
			s.logger.Info("removing file", "path", path)
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("removing %s: %w", path, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Purge removes per-day channel files and per-day event directories whose
// date is strictly before cutoff, across every provider and channel.
func (s *Store) Purge(cutoff time.Time) (PurgeReport, error) {
	var report PurgeReport
	cutoff = Day(cutoff)

	providers, err := s.providerDirs()
	if err != nil {
		return report, err
	}
	for _, p := range providers {
		chRoot := filepath.Join(p, channelsDir)
		channels, err := os.ReadDir(chRoot)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return report, fmt.Errorf("listing %s: %w", chRoot, err)
		}
		for _, ch := range channels {
			if !ch.IsDir() {
				continue
			}
			if err := s.purgeChannel(filepath.Join(chRoot, ch.Name()), cutoff, &report); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (s *Store) purgeChannel(dir string, cutoff time.Time, report *PurgeReport) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.Type().IsRegular():
			date, ok := ParseDateFile(e.Name())
			if !ok || !date.Before(cutoff) {
				continue
			}
			s.logger.Info("removing file", "path", path)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("removing %s: %w", path, err)
			}
			report.Files++
		case e.IsDir() && e.Name() == eventsDir:
			days, err := os.ReadDir(path)
			if err != nil {
				return fmt.Errorf("listing %s: %w", path, err)
			}
			for _, d := range days {
				if !d.IsDir() {
					continue
				}
				date, ok := ParseDateDir(d.Name())
				if !ok || !date.Before(cutoff) {
					continue
				}
				dayDir := filepath.Join(path, d.Name())
				s.logger.Info("removing directory", "path", dayDir)
				if err := os.RemoveAll(dayDir); err != nil {
					return fmt.Errorf("removing %s: %w", dayDir, err)
				}
				report.Directories++
			}
		}
	}
	return nil
}

func (s *Store) providerDirs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.root, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(s.root, e.Name()))
		}
	}
	return dirs, nil
}

func ensureDir(dir string) error {
	fi, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %q: %w", dir, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %q: %w", dir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("path %q: %w", dir, ErrNotDirectory)
	}
	if fi.Mode().Perm()&0200 == 0 {
		return fmt.Errorf("path %q: %w", dir, ErrNotWritable)
	}
	return nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("path %q: %w: %v", dir, ErrNotWritable, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
