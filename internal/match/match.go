// Package match pairs playlist channel names with provider catalog channels.
package match

import (
	"sort"
	"unicode/utf8"

	"github.com/BadgerOps/epggen/internal/provider"
)

// Kind classifies the outcome of Match.
type Kind int

const (
	NoMatch Kind = iota
	Exact
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Ambiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Fixed distances for candidates found by word or substring containment.
const (
	maxDistance       = 3
	wordDistance      = 3
	substringDistance = 4
	minSubstringLen   = 3
)

// Candidate is a catalog channel that may correspond to a playlist name.
type Candidate struct {
	Provider string
	Channel  provider.Channel
	Distance int
	// Alias is the channel name or alias that produced the candidate.
	Alias string
}

// Result is the classification of one playlist name.
type Result struct {
	Kind Kind
	// Exact is set when Kind is Exact.
	Exact Candidate
	// Candidates are ranked by ascending distance when Kind is Ambiguous.
	Candidates []Candidate
}

// Match classifies name against the catalogs. The preferred provider's
// catalog is examined first; the remaining catalogs follow in the given order.
//
// A case-insensitive equality between name and any channel name or alias is
// an immediate exact match. Otherwise candidates are collected from every
// catalog and an exact match is reported only when all distance-zero
// candidates share one channel name.
func Match(name string, catalogs []provider.Catalog, preferred string) Result {
	ordered := make([]provider.Catalog, 0, len(catalogs))
	if preferred != "" {
		for _, c := range catalogs {
			if c.Provider == preferred {
				ordered = append(ordered, c)
			}
		}
	}
	for _, c := range catalogs {
		if c.Provider != preferred || preferred == "" {
			ordered = append(ordered, c)
		}
	}

	target := Normalize(name)
	targetLen := utf8.RuneCountInString(target)
	foldedName := fold(name)

	var candidates []Candidate
	for _, catalog := range ordered {
		for _, ch := range catalog.Channels {
			for _, alias := range ch.Names() {
				if fold(alias) == foldedName {
					return Result{Kind: Exact, Exact: Candidate{Provider: catalog.Provider, Channel: ch, Alias: alias}}
				}
				if d, ok := score(name, target, targetLen, alias); ok {
					candidates = append(candidates, Candidate{
						Provider: catalog.Provider,
						Channel:  ch,
						Distance: d,
						Alias:    alias,
					})
				}
			}
		}
	}

	if len(candidates) == 0 {
		return Result{Kind: NoMatch}
	}

	if c, ok := singleExact(candidates, preferred); ok {
		return Result{Kind: Exact, Exact: c}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Distance < candidates[j].Distance
	})
	return Result{Kind: Ambiguous, Candidates: candidates}
}

// score compares a playlist name with one catalog name or alias.
func score(raw, target string, targetLen int, alias string) (int, bool) {
	norm := Normalize(alias)
	normLen := utf8.RuneCountInString(norm)

	if d := Distance(target, norm); d < min(maxDistance, targetLen, normLen) {
		return d, true
	}
	if containsWord(target, alias) || containsWord(norm, raw) {
		return wordDistance, true
	}
	if targetLen >= minSubstringLen && normLen >= minSubstringLen &&
		(containsFold(norm, target) || containsFold(target, norm)) {
		return substringDistance, true
	}
	return 0, false
}

// singleExact returns the distance-zero candidate when every such candidate
// names the same channel. A candidate of that name from the preferred
// provider wins over the first one found.
func singleExact(candidates []Candidate, preferred string) (Candidate, bool) {
	var first *Candidate
	names := make(map[string]bool)
	for i := range candidates {
		c := &candidates[i]
		if c.Distance != 0 {
			continue
		}
		key := fold(c.Channel.Name)
		if !names[key] {
			names[key] = true
			if first == nil {
				first = c
			}
		}
	}
	if len(names) != 1 {
		return Candidate{}, false
	}

	if preferred != "" {
		key := fold(first.Channel.Name)
		for _, c := range candidates {
			if c.Provider == preferred && fold(c.Channel.Name) == key {
				return c, true
			}
		}
	}
	return *first, true
}
