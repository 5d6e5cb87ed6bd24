package mailru

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BadgerOps/epggen/internal/cache"
	"github.com/BadgerOps/epggen/internal/config"
	"github.com/BadgerOps/epggen/internal/fetch"
	"github.com/BadgerOps/epggen/internal/provider"
	"github.com/BadgerOps/epggen/internal/safety"
)

// DefaultBaseURL is the root of the tv.mail.ru AJAX API.
const DefaultBaseURL = "https://tv.mail.ru/ajax/"

// MailruProvider implements provider.Provider for tv.mail.ru. The catalog is
// paged, schedules are requested one day at a time and every programme has a
// separate detail request.
type MailruProvider struct {
	name     string
	baseURL  string
	pipeline *fetch.Pipeline
	logger   *slog.Logger
	now      func() time.Time
}

// NewMailruProvider creates a provider that resolves every request through
// pipeline.
func NewMailruProvider(pipeline *fetch.Pipeline, logger *slog.Logger) *MailruProvider {
	return &MailruProvider{
		name:     "mailru",
		baseURL:  DefaultBaseURL,
		pipeline: pipeline,
		logger:   logger,
		now:      time.Now,
	}
}

// Name returns the provider identifier
func (p *MailruProvider) Name() string {
	return p.name
}

// Lang returns the language of titles and descriptions
func (p *MailruProvider) Lang() string {
	return "ru"
}

// Configure loads provider-specific settings from the raw config
func (p *MailruProvider) Configure(rawCfg provider.ProviderConfig) error {
	cfg, err := config.ParseProviderConfig[config.ScheduleProviderConfig](rawCfg)
	if err != nil {
		return fmt.Errorf("parsing mailru config: %w", err)
	}
	if cfg.BaseURL != "" {
		if _, err := safety.ValidateHTTPURL(cfg.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url for mailru: %w", err)
		}
		p.baseURL = cfg.BaseURL
	}
	p.logger.Debug("configured mailru provider", slog.String("base_url", p.baseURL))
	return nil
}

// FetchIndex walks the paged catalog until an empty page.
func (p *MailruProvider) FetchIndex(ctx context.Context, region, tz int) (provider.Catalog, error) {
	catalog := p.newCatalog(region, tz)
	pages := p.pipeline.Pages(ctx, 1,
		func(page int) string {
			return p.baseURL + "channel/index/?" + url.Values{
				"region_id": {strconv.Itoa(region)},
				"page":      {strconv.Itoa(page)},
			}.Encode()
		},
		func(page int) cache.Key { return cache.IndexKey(p.name, page) },
		func(data []byte) (bool, error) {
			channels, err := parseIndex(data)
			if err != nil {
				return false, err
			}
			catalog.Channels = append(catalog.Channels, channels...)
			return len(channels) > 0, nil
		})
	if err := ctx.Err(); err != nil {
		return provider.Catalog{}, err
	}

	p.logger.Info("fetched catalog",
		slog.String("provider", p.name),
		slog.Int("pages", pages),
		slog.Int("channels", len(catalog.Channels)))
	return catalog, nil
}

// RestoreIndex rebuilds the catalog from every cached page.
func (p *MailruProvider) RestoreIndex(ctx context.Context, region, tz int) (provider.Catalog, error) {
	catalog := p.newCatalog(region, tz)
	paths, err := p.pipeline.Store().IndexPages(p.name)
	if err != nil {
		return provider.Catalog{}, fmt.Errorf("listing cached index: %w", err)
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return provider.Catalog{}, err
		}
		p.logger.Info("restoring index", slog.String("path", path))
		data, err := os.ReadFile(path)
		if err != nil {
			p.logger.Warn("reading cached index page", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		channels, err := parseIndex(data)
		if err != nil {
			p.logger.Warn("parsing cached index page", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		catalog.Channels = append(catalog.Channels, channels...)
	}
	return catalog, nil
}

// FetchChannel requests every day of the window and then the details of each
// programme found.
func (p *MailruProvider) FetchChannel(ctx context.Context, catalog provider.Catalog, b provider.Binding, ref time.Time) ([]provider.Programme, error) {
	if b.ChannelID < 0 {
		return nil, nil
	}
	loc := catalog.Location()
	from, to := provider.Window(ref)

	var events []event
	for _, day := range provider.Days(from, to) {
		u := p.baseURL + "channel/?" + url.Values{
			"region_id":  {strconv.Itoa(catalog.Region)},
			"channel_id": {strconv.Itoa(b.ChannelID)},
			"date":       {day.Format("2006-01-02")},
		}.Encode()
		_, _ = p.pipeline.Resolve(ctx, u, cache.ChannelDayKey(p.name, b.ChannelID, day), func(data []byte) (bool, error) {
			parsed, err := parseSchedule(data, day, loc, b.PlaylistID)
			if err != nil {
				return false, err
			}
			events = append(events, parsed...)
			return true, nil
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	for i := range events {
		ev := &events[i]
		u := p.baseURL + "event/?" + url.Values{
			"id":        {ev.id},
			"region_id": {strconv.Itoa(catalog.Region)},
		}.Encode()
		_, _ = p.pipeline.Resolve(ctx, u, cache.EventKey(p.name, b.ChannelID, ev.day, ev.id), func(data []byte) (bool, error) {
			return true, applyEvent(data, &ev.programme)
		})
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return finish(events), nil
}

// RestoreChannel is FetchChannel over cached day and event files only.
func (p *MailruProvider) RestoreChannel(ctx context.Context, catalog provider.Catalog, b provider.Binding, ref time.Time) ([]provider.Programme, error) {
	if b.ChannelID < 0 {
		return nil, nil
	}
	loc := catalog.Location()
	from, to := provider.Window(ref)

	files, err := p.pipeline.Store().ChannelDays(p.name, b.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("listing cached days: %w", err)
	}

	var events []event
	for _, f := range files {
		if f.Date.Before(from) || f.Date.After(to) {
			continue
		}
		p.logger.Info("restoring channel", slog.String("path", f.Path))
		day := f.Date
		if _, err := p.pipeline.Restore(cache.ChannelDayKey(p.name, b.ChannelID, day), func(data []byte) (bool, error) {
			parsed, err := parseSchedule(data, day, loc, b.PlaylistID)
			if err != nil {
				return false, err
			}
			events = append(events, parsed...)
			return true, nil
		}); err != nil {
			p.logger.Warn("restoring channel day", slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}

	for i := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev := &events[i]
		_, err := p.pipeline.Restore(cache.EventKey(p.name, b.ChannelID, ev.day, ev.id), func(data []byte) (bool, error) {
			return true, applyEvent(data, &ev.programme)
		})
		if err != nil && !errors.Is(err, fetch.ErrNotCached) {
			p.logger.Warn("restoring event", slog.String("event", ev.id), slog.String("error", err.Error()))
		}
	}

	return finish(events), nil
}

func (p *MailruProvider) newCatalog(region, tz int) provider.Catalog {
	return provider.Catalog{
		Provider:  p.name,
		Region:    region,
		TZ:        tz,
		Timestamp: p.now(),
	}
}

func finish(events []event) []provider.Programme {
	programmes := make([]provider.Programme, 0, len(events))
	for _, ev := range events {
		programmes = append(programmes, ev.programme)
	}
	return provider.SetStopTimes(programmes)
}
