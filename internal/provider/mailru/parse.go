package mailru

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/BadgerOps/epggen/internal/provider"
)

type indexDoc struct {
	Data []struct {
		Channel []struct {
			ID   provider.FlexInt `json:"id"`
			Name string           `json:"name"`
		} `json:"channel"`
	} `json:"data"`
}

// parseIndex decodes one catalog page. An empty page marks the end of the
// paged index.
func parseIndex(data []byte) ([]provider.Channel, error) {
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding index page: %w", err)
	}
	var channels []provider.Channel
	for _, group := range doc.Data {
		for _, ch := range group.Channel {
			if !ch.ID.Valid || ch.Name == "" {
				continue
			}
			channels = append(channels, provider.Channel{ID: ch.ID.Value, Name: ch.Name})
		}
	}
	return channels, nil
}

type scheduleEvent struct {
	ID    provider.FlexString `json:"id"`
	Start string              `json:"start"`
	Name  string              `json:"name"`
}

type scheduleDoc struct {
	Schedule []struct {
		Event struct {
			Past    []scheduleEvent `json:"past"`
			Current []scheduleEvent `json:"current"`
		} `json:"event"`
	} `json:"schedule"`
}

// event is a schedule entry still waiting for its detail request.
type event struct {
	id        string
	day       time.Time
	programme provider.Programme
}

// parseSchedule decodes one channel day. Start times are "HH:MM" local to loc;
// whenever the minute of day decreases the schedule has crossed midnight.
func parseSchedule(data []byte, day time.Time, loc *time.Location, playlistID int) ([]event, error) {
	var doc scheduleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding channel schedule: %w", err)
	}

	var events []event
	current := day
	lastMinutes := -1
	add := func(ev scheduleEvent) {
		if ev.ID == "" || ev.Start == "" {
			return
		}
		minutes, ok := minutesOfDay(ev.Start)
		if !ok {
			return
		}
		if minutes < lastMinutes {
			current = current.AddDate(0, 0, 1)
		}
		lastMinutes = minutes
		y, m, d := current.Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(time.Duration(minutes) * time.Minute)
		events = append(events, event{
			id:  string(ev.ID),
			day: day,
			programme: provider.Programme{
				PlaylistID: playlistID,
				Start:      start,
				Title:      ev.Name,
			},
		})
	}

	for _, s := range doc.Schedule {
		for _, ev := range s.Event.Past {
			add(ev)
		}
		for _, ev := range s.Event.Current {
			add(ev)
		}
	}
	return events, nil
}

// minutesOfDay parses "HH:MM" (extra ":SS" ignored).
func minutesOfDay(s string) (int, bool) {
	var ints []int
	for _, part := range strings.Split(s, ":") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		ints = append(ints, n)
	}
	if len(ints) < 2 {
		return 0, false
	}
	return ints[0]*60 + ints[1], true
}

type titled struct {
	Title string `json:"title"`
}

type eventDoc struct {
	Event *struct {
		EpisodeNum   provider.FlexString `json:"episode_num"`
		EpisodeTitle string              `json:"episode_title"`
		Descr        string              `json:"descr"`
		Genre        []titled            `json:"genre"`
		Country      []titled            `json:"country"`
		Participants []struct {
			Title   string `json:"title"`
			Persons []struct {
				Name string `json:"name"`
			} `json:"persons"`
		} `json:"participants"`
		AgeRestrict provider.FlexString `json:"age_restrict"`
		Year        *struct {
			Title provider.FlexInt `json:"title"`
		} `json:"year"`
		Gallery *struct {
			Items []struct {
				Preview  *struct{ Src string } `json:"preview"`
				Original *struct{ Src string } `json:"original"`
			} `json:"items"`
		} `json:"tv_gallery"`
	} `json:"tv_event"`
}

// Participant group titles as the provider labels them.
const (
	groupDirectors  = "Режиссеры"
	groupActors     = "В ролях"
	groupPresenters = "Участники"
)

// applyEvent merges the detail document of an event into p.
func applyEvent(data []byte, p *provider.Programme) error {
	var doc eventDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	ev := doc.Event
	if ev == nil {
		return nil
	}

	if ev.EpisodeNum != "" {
		p.EpisodeNum = string(ev.EpisodeNum)
	}
	if ev.EpisodeTitle != "" {
		p.SecondaryTitle = ev.EpisodeTitle
	}
	if ev.Descr != "" {
		p.Description = htmlText(ev.Descr)
	}
	for _, g := range ev.Genre {
		if g.Title != "" {
			p.Categories = append(p.Categories, g.Title)
		}
	}
	for _, c := range ev.Country {
		if c.Title != "" {
			p.Countries = append(p.Countries, c.Title)
		}
	}
	for _, group := range ev.Participants {
		for _, person := range group.Persons {
			if person.Name == "" {
				continue
			}
			switch group.Title {
			case groupDirectors:
				p.Credits.Directors = append(p.Credits.Directors, person.Name)
			case groupActors:
				p.Credits.Actors = append(p.Credits.Actors, provider.Actor{Name: person.Name})
			case groupPresenters:
				p.Credits.Presenters = append(p.Credits.Presenters, person.Name)
			}
		}
	}
	if ev.AgeRestrict != "" {
		p.Rating = string(ev.AgeRestrict)
	}
	if ev.Year != nil && ev.Year.Title.Valid {
		p.Year = ev.Year.Title.Value
	}
	if ev.Gallery != nil {
		for _, item := range ev.Gallery.Items {
			switch {
			case item.Preview != nil && item.Preview.Src != "":
				p.Icons = append(p.Icons, provider.Icon{Src: item.Preview.Src})
			case item.Original != nil && item.Original.Src != "":
				p.Icons = append(p.Icons, provider.Icon{Src: item.Original.Src})
			}
		}
	}
	return nil
}

// htmlText returns the visible text of an HTML fragment with whitespace runs
// collapsed to single spaces.
func htmlText(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "br", "p", "div", "li", "tr":
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(sb.String()), " ")
}
