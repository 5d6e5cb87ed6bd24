package yandex

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/BadgerOps/epggen/internal/provider"
)

type indexDoc struct {
	Channels []struct {
		ID       provider.FlexInt `json:"id"`
		Title    string           `json:"title"`
		Synonyms []string         `json:"synonyms"`
	} `json:"channels"`
}

func parseIndex(data []byte) ([]provider.Channel, error) {
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding channel index: %w", err)
	}
	var channels []provider.Channel
	for _, ch := range doc.Channels {
		if !ch.ID.Valid || ch.Title == "" {
			continue
		}
		channels = append(channels, provider.Channel{ID: ch.ID.Value, Name: ch.Title, Aliases: ch.Synonyms})
	}
	return channels, nil
}

type imageSize struct {
	Src    string           `json:"src"`
	Width  provider.FlexInt `json:"width"`
	Height provider.FlexInt `json:"height"`
}

type scheduleEvent struct {
	Start   string `json:"start"`
	Finish  string `json:"finish"`
	Program *struct {
		Title   string `json:"title"`
		Episode *struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"episode"`
		Description string   `json:"description"`
		Countries   []string `json:"countries"`
		Type        *struct {
			Name string `json:"name"`
		} `json:"type"`
		Premiere *bool `json:"premiere"`
		Images   []struct {
			OriginalSize *imageSize           `json:"originalSize"`
			Sizes        map[string]imageSize `json:"sizes"`
		} `json:"images"`
		Persons []struct {
			Name string `json:"name"`
			Role string `json:"role"`
		} `json:"persons"`
		Year provider.FlexInt `json:"year"`
		// Misspelled by the provider.
		AgeRestriction provider.FlexInt `json:"ageRestrinction"`
	} `json:"program"`
}

type scheduleDoc struct {
	Schedules []struct {
		Events []json.RawMessage `json:"events"`
	} `json:"schedules"`
}

var (
	errNoStart = errors.New("no start time")
	errNoStop  = errors.New("no stop time")

	schemeRe       = regexp.MustCompile(`^\w+://`)
	leadingSlashRe = regexp.MustCompile(`^/+`)
)

// parseSchedule decodes a schedule document. Events that cannot be decoded
// are logged and skipped.
func parseSchedule(data []byte, loc *time.Location, playlistID int, logger *slog.Logger) ([]provider.Programme, error) {
	var doc scheduleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding schedule: %w", err)
	}
	var programmes []provider.Programme
	for _, s := range doc.Schedules {
		for _, raw := range s.Events {
			p, err := parseEvent(raw, loc, playlistID)
			if err != nil {
				logger.Warn("skipping schedule event", slog.String("error", err.Error()))
				continue
			}
			programmes = append(programmes, p)
		}
	}
	return programmes, nil
}

func parseEvent(raw json.RawMessage, loc *time.Location, playlistID int) (provider.Programme, error) {
	var ev scheduleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return provider.Programme{}, fmt.Errorf("decoding event: %w", err)
	}
	if ev.Start == "" {
		return provider.Programme{}, errNoStart
	}
	if ev.Finish == "" {
		return provider.Programme{}, errNoStop
	}
	start, err := time.Parse(time.RFC3339, ev.Start)
	if err != nil {
		return provider.Programme{}, fmt.Errorf("parsing start: %w", err)
	}
	stop, err := time.Parse(time.RFC3339, ev.Finish)
	if err != nil {
		return provider.Programme{}, fmt.Errorf("parsing finish: %w", err)
	}

	p := provider.Programme{
		PlaylistID: playlistID,
		Start:      start.In(loc),
		Stop:       stop.In(loc),
	}
	prog := ev.Program
	if prog == nil {
		return p, nil
	}

	p.Title = prog.Title
	if prog.Episode != nil {
		p.SecondaryTitle = prog.Episode.Title
		p.Description = prog.Episode.Description
	}
	if p.Description == "" {
		p.Description = prog.Description
	}
	p.Countries = prog.Countries
	if prog.Type != nil && prog.Type.Name != "" {
		p.Categories = []string{prog.Type.Name}
	}
	if prog.Premiere != nil {
		p.Premiere = *prog.Premiere
	}

	for _, img := range prog.Images {
		if img.OriginalSize != nil {
			addIcon(&p, *img.OriginalSize)
			continue
		}
		if size, ok := largestSize(img.Sizes); ok {
			addIcon(&p, size)
		}
	}

	for _, person := range prog.Persons {
		if person.Name == "" {
			continue
		}
		switch person.Role {
		case "presenter":
			p.Credits.Presenters = append(p.Credits.Presenters, person.Name)
		case "producer":
			p.Credits.Producers = append(p.Credits.Producers, person.Name)
		case "director":
			p.Credits.Directors = append(p.Credits.Directors, person.Name)
		case "writer":
			p.Credits.Writers = append(p.Credits.Writers, person.Name)
		case "actor":
			p.Credits.Actors = append(p.Credits.Actors, provider.Actor{Name: person.Name})
		case "composer":
			p.Credits.Composers = append(p.Credits.Composers, person.Name)
		}
	}

	if prog.Year.Valid {
		p.Year = prog.Year.Value
	}
	if prog.AgeRestriction.Valid {
		p.Rating = strconv.Itoa(prog.AgeRestriction.Value) + "+"
	}
	return p, nil
}

// largestSize picks the entry with the numerically greatest key. Keys that
// are not numbers sort first.
func largestSize(sizes map[string]imageSize) (imageSize, bool) {
	if len(sizes) == 0 {
		return imageSize{}, false
	}
	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	num := func(k string) int {
		n, err := strconv.Atoi(k)
		if err != nil {
			return -1
		}
		return n
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if num(keys[i]) != num(keys[j]) {
			return num(keys[i]) < num(keys[j])
		}
		return keys[i] < keys[j]
	})
	return sizes[keys[len(keys)-1]], true
}

// addIcon appends size as an icon. Scheme-relative sources get http://.
func addIcon(p *provider.Programme, size imageSize) {
	if size.Src == "" {
		return
	}
	src := size.Src
	if !schemeRe.MatchString(src) {
		src = "http://" + leadingSlashRe.ReplaceAllString(src, "")
	}
	p.Icons = append(p.Icons, provider.Icon{Src: src, Width: size.Width.Value, Height: size.Height.Value})
}
