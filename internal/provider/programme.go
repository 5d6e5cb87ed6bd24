package provider

import (
	"sort"
	"time"
)

// Programme is one normalized guide entry.
type Programme struct {
	PlaylistID     int
	Start          time.Time
	Stop           time.Time // zero when unknown
	Title          string
	SecondaryTitle string
	Description    string
	Categories     []string
	Countries      []string
	Credits        Credits
	Year           int
	Rating         string
	EpisodeNum     string
	Icons          []Icon
	Premiere       bool
}

// Credits lists the people involved in a programme.
type Credits struct {
	Directors  []string
	Actors     []Actor
	Writers    []string
	Producers  []string
	Composers  []string
	Presenters []string
}

// Empty reports whether no credits are set.
func (c Credits) Empty() bool {
	return len(c.Directors) == 0 && len(c.Actors) == 0 && len(c.Writers) == 0 &&
		len(c.Producers) == 0 && len(c.Composers) == 0 && len(c.Presenters) == 0
}

// Actor is a cast member with an optional role.
type Actor struct {
	Name string
	Role string
}

// Icon is an image attached to a programme.
type Icon struct {
	Src    string
	Width  int
	Height int
}

// SetStopTimes sorts programmes by start and fills each stop with the next
// programme's start. The last programme keeps a zero stop.
func SetStopTimes(programmes []Programme) []Programme {
	sort.SliceStable(programmes, func(i, j int) bool {
		return programmes[i].Start.Before(programmes[j].Start)
	})
	for i := range programmes {
		if i+1 < len(programmes) {
			programmes[i].Stop = programmes[i+1].Start
		} else {
			programmes[i].Stop = time.Time{}
		}
	}
	return programmes
}
