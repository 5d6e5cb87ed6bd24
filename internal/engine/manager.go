// Package engine drives the epggen commands: it ties the persisted status,
// the schedule providers and the match engine together.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/fetch"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/status"
	"github.com/BadgerOps/epggen/internal/store"
)

var (
	// ErrPlaylistEntryNotFound is returned when no playlist entry has the given id.
	ErrPlaylistEntryNotFound = errors.New("channel not found in playlist")
	// ErrProviderNotFound is returned for an unknown provider name.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrCatalogChannelNotFound is returned when a provider catalog lacks the given id.
	ErrCatalogChannelNotFound = errors.New("channel not found for provider")
)

// Manager runs the epggen operations against one cache root.
type Manager struct {
	registry *provider.Registry
	cache    *cache.Store
	history  *store.Store
	config   *config.Config
	logger   *slog.Logger

	out io.Writer
	now func() time.Time
}

// NewManager creates a Manager. history may be nil, in which case runs are
// not recorded.
func NewManager(
	registry *provider.Registry,
	cacheStore *cache.Store,
	history *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		registry: registry,
		cache:    cacheStore,
		history:  history,
		config:   cfg,
		logger:   logger,
		out:      os.Stdout,
		now:      time.Now,
	}
}

// SetOutput redirects the human-readable summaries printed by Match.
func (m *Manager) SetOutput(w io.Writer) {
	m.out = w
}

// StatusPath is the location of the persisted status document.
func (m *Manager) StatusPath() string {
	return m.cache.StatusPath()
}

// defaultRegion returns the configured region and timezone of a provider.
func (m *Manager) defaultRegion(name string) status.RegionTZ {
	pc, err := m.config.Provider(name)
	if err != nil {
		m.logger.Warn("no provider settings, using region 0", "provider", name, "error", err)
		return status.RegionTZ{}
	}
	return status.RegionTZ{Region: pc.Region, TZ: pc.TZ}
}

// loadStatus reads the status file with no explicit region request.
func (m *Manager) loadStatus() (*status.Status, error) {
	return status.Load(m.cache.StatusPath(), nil, m.logger)
}

// catalogs returns the stored catalogs in provider registration order.
func (m *Manager) catalogs(st *status.Status) []provider.Catalog {
	var out []provider.Catalog
	for _, name := range m.registry.Names() {
		if c, ok := st.Catalogs[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// purge removes cached schedules older than days before today.
func (m *Manager) purge(days int) (cache.PurgeReport, error) {
	cutoff := cache.Day(m.now()).AddDate(0, 0, -days)
	report, err := m.cache.Purge(cutoff)
	if err != nil {
		return report, fmt.Errorf("purging cache: %w", err)
	}
	m.logger.Debug("cache purged",
		"cutoff", cache.FormatDate(cutoff),
		"files", report.Files,
		"directories", report.Directories)
	return report, nil
}

// beginRun records the start of a command in the history store.
func (m *Manager) beginRun(command string) *store.Run {
	run := &store.Run{Command: command, StartTime: m.now()}
	if m.history == nil {
		return run
	}
	if err := m.history.CreateRun(run); err != nil {
		m.logger.Warn("failed to record run", "command", command, "error", err)
	}
	return run
}

// endRun stores the outcome of a command. Failures to record are logged only.
func (m *Manager) endRun(run *store.Run, runErr error) {
	if m.history == nil || run.ID == 0 {
		return
	}
	run.EndTime = m.now()
	if err := m.history.FinishRun(run, runErr); err != nil {
		m.logger.Warn("failed to finish run record", "command", run.Command, "error", err)
	}
}

// FailureRecorder returns a fetch failure hook that stores exhausted cache
// keys in the history database.
func FailureRecorder(history *store.Store, logger *slog.Logger) fetch.FailureFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(key cache.Key, url, path string, attempts int, err error) {
		if history == nil {
			return
		}
		rec := &store.FetchFailure{
			Provider:  key.Provider,
			CacheKey:  key.String(),
			URL:       url,
			CachePath: path,
			Error:     err.Error(),
			Attempts:  attempts,
		}
		if rerr := history.RecordFetchFailure(rec); rerr != nil {
			logger.Warn("failed to record fetch failure", "key", key.String(), "error", rerr)
		}
	}
}
