package yandex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/fetch"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/safety"
)

// DefaultBaseURL is the tv.yandex.ru region endpoint.
const DefaultBaseURL = "https://tv.yandex.ru/ajax/i-tv-region/get"

const (
	// The index is a single page.
	indexPage = 0
	// The schedule request runs past midnight of the last day by this much.
	scheduleOverrun = 4 * time.Hour
)

// YandexProvider implements provider.Provider for tv.yandex.ru. The catalog
// and the schedule of a whole window each come from one request.
type YandexProvider struct {
	name     string
	baseURL  string
	pipeline *fetch.Pipeline
	logger   *slog.Logger
	now      func() time.Time
}

// NewYandexProvider creates a provider that resolves every request through
// pipeline.
func NewYandexProvider(pipeline *fetch.Pipeline, logger *slog.Logger) *YandexProvider {
	return &YandexProvider{
		name:     "yandex",
		baseURL:  DefaultBaseURL,
		pipeline: pipeline,
		logger:   logger,
		now:      time.Now,
	}
}

// Name returns the provider identifier
func (p *YandexProvider) Name() string {
	return p.name
}

// Lang returns the language of titles and descriptions
func (p *YandexProvider) Lang() string {
	return "ru"
}

// Configure loads provider-specific settings from the raw config
func (p *YandexProvider) Configure(rawCfg provider.ProviderConfig) error {
	cfg, err := config.ParseProviderConfig[config.ScheduleProviderConfig](rawCfg)
	if err != nil {
		return fmt.Errorf("parsing yandex config: %w", err)
	}
	if cfg.BaseURL != "" {
		if _, err := safety.ValidateHTTPURL(cfg.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url for yandex: %w", err)
		}
		p.baseURL = cfg.BaseURL
	}
	p.logger.Debug("configured yandex provider", slog.String("base_url", p.baseURL))
	return nil
}

func (p *YandexProvider) endpoint(region int, resource, params string) string {
	return p.baseURL + "?" + url.Values{
		"params":     {params},
		"resource":   {resource},
		"userRegion": {strconv.Itoa(region)},
	}.Encode()
}

// FetchIndex requests the whole catalog in one call.
func (p *YandexProvider) FetchIndex(ctx context.Context, region, tz int) (provider.Catalog, error) {
	catalog := p.newCatalog(region, tz)
	u := p.endpoint(region, "channels", `{"limit":1000,"fields":"id,title,synonyms"}`)
	_, err := p.pipeline.Resolve(ctx, u, cache.IndexKey(p.name, indexPage), func(data []byte) (bool, error) {
		channels, err := parseIndex(data)
		if err != nil {
			return false, err
		}
		catalog.Channels = channels
		return len(channels) > 0, nil
	})
	if cerr := ctx.Err(); cerr != nil {
		return provider.Catalog{}, cerr
	}
	if err != nil {
		p.logger.Warn("catalog unavailable", slog.String("provider", p.name), slog.String("error", err.Error()))
	}
	p.logger.Info("fetched catalog",
		slog.String("provider", p.name),
		slog.Int("channels", len(catalog.Channels)))
	return catalog, nil
}

// RestoreIndex rebuilds the catalog from the cached index.
func (p *YandexProvider) RestoreIndex(ctx context.Context, region, tz int) (provider.Catalog, error) {
	catalog := p.newCatalog(region, tz)
	if err := ctx.Err(); err != nil {
		return provider.Catalog{}, err
	}
	_, err := p.pipeline.Restore(cache.IndexKey(p.name, indexPage), func(data []byte) (bool, error) {
		channels, err := parseIndex(data)
		if err != nil {
			return false, err
		}
		catalog.Channels = channels
		return true, nil
	})
	if err != nil && !errors.Is(err, fetch.ErrNotCached) {
		p.logger.Warn("restoring index", slog.String("provider", p.name), slog.String("error", err.Error()))
	}
	return catalog, nil
}

// FetchChannel requests the schedule from now until the early hours after
// the last day of the window.
func (p *YandexProvider) FetchChannel(ctx context.Context, catalog provider.Catalog, b provider.Binding, ref time.Time) ([]provider.Programme, error) {
	if b.ChannelID < 0 {
		return nil, nil
	}
	to := provider.LastDate(ref)
	seconds := p.duration(to, catalog.TZ)
	if seconds <= 0 {
		return nil, nil
	}

	params := fmt.Sprintf(`{"channelIds":"%d","duration":%d,"channelProgramsLimit":1000}`, b.ChannelID, seconds)
	u := p.endpoint(catalog.Region, "schedule", params)

	var programmes []provider.Programme
	_, _ = p.pipeline.Resolve(ctx, u, cache.ChannelDayKey(p.name, b.ChannelID, to), func(data []byte) (bool, error) {
		parsed, err := parseSchedule(data, catalog.Location(), b.PlaylistID, p.logger)
		if err != nil {
			return false, err
		}
		programmes = parsed
		return true, nil
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return programmes, nil
}

// RestoreChannel reads the cached schedule of the window, if any.
func (p *YandexProvider) RestoreChannel(ctx context.Context, catalog provider.Catalog, b provider.Binding, ref time.Time) ([]provider.Programme, error) {
	if b.ChannelID < 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	to := provider.LastDate(ref)
	if p.duration(to, catalog.TZ) <= 0 {
		return nil, nil
	}

	var programmes []provider.Programme
	_, err := p.pipeline.Restore(cache.ChannelDayKey(p.name, b.ChannelID, to), func(data []byte) (bool, error) {
		parsed, err := parseSchedule(data, catalog.Location(), b.PlaylistID, p.logger)
		if err != nil {
			return false, err
		}
		programmes = parsed
		return true, nil
	})
	if err != nil && !errors.Is(err, fetch.ErrNotCached) {
		p.logger.Warn("restoring channel", slog.Int("channel", b.ChannelID), slog.String("error", err.Error()))
	}
	return programmes, nil
}

// duration is the number of seconds from now until 04:00 on the day after
// lastDate, in the catalog's UTC offset.
func (p *YandexProvider) duration(lastDate time.Time, tz int) int64 {
	y, m, d := lastDate.Date()
	until := time.Date(y, m, d+1, 0, 0, 0, 0, time.FixedZone("", tz*60)).Add(scheduleOverrun)
	return until.Unix() - p.now().Unix()
}

func (p *YandexProvider) newCatalog(region, tz int) provider.Catalog {
	return provider.Catalog{
		Provider:  p.name,
		Region:    region,
		TZ:        tz,
		Timestamp: p.now(),
	}
}
