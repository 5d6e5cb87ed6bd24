// Package xmltv serializes programme guides in the XMLTV format.
package xmltv

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/BadgerOps/epggen/internal/provider"
)

const (
	// GeneratorName is written into the generator-info-name attribute.
	GeneratorName = "epggen"
	timeLayout    = "20060102150405 -0700"
	doctype       = `<!DOCTYPE tv SYSTEM "xmltv.dtd">`
)

// Channel is a playlist channel as it appears in the guide.
type Channel struct {
	ID   int
	Name string
	Lang string
}

type tvDoc struct {
	XMLName    xml.Name       `xml:"tv"`
	Generator  string         `xml:"generator-info-name,attr"`
	Channels   []channelDoc   `xml:"channel"`
	Programmes []programmeDoc `xml:"programme"`
}

type channelDoc struct {
	ID          string  `xml:"id,attr"`
	DisplayName textDoc `xml:"display-name"`
}

type textDoc struct {
	Lang  string `xml:"lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

type programmeDoc struct {
	Start      string      `xml:"start,attr"`
	Stop       string      `xml:"stop,attr,omitempty"`
	Channel    string      `xml:"channel,attr"`
	Title      *textDoc    `xml:"title,omitempty"`
	SubTitle   *textDoc    `xml:"sub-title,omitempty"`
	Desc       *textDoc    `xml:"desc,omitempty"`
	Credits    *creditsDoc `xml:"credits,omitempty"`
	Date       string      `xml:"date,omitempty"`
	Categories []textDoc   `xml:"category"`
	Icons      []iconDoc   `xml:"icon"`
	Countries  []textDoc   `xml:"country"`
	EpisodeNum string      `xml:"episode-num,omitempty"`
	Premiere   *struct{}   `xml:"premiere,omitempty"`
	Rating     *ratingDoc  `xml:"rating,omitempty"`
}

type creditsDoc struct {
	Directors  []string   `xml:"director"`
	Actors     []actorDoc `xml:"actor"`
	Writers    []string   `xml:"writer"`
	Producers  []string   `xml:"producer"`
	Composers  []string   `xml:"composer"`
	Presenters []string   `xml:"presenter"`
}

type actorDoc struct {
	Role string `xml:"role,attr,omitempty"`
	Name string `xml:",chardata"`
}

type iconDoc struct {
	Src    string `xml:"src,attr"`
	Width  int    `xml:"width,attr,omitempty"`
	Height int    `xml:"height,attr,omitempty"`
}

type ratingDoc struct {
	Value string `xml:"value"`
}

// Write emits the guide. Only channels with at least one programme are
// listed, ordered by id; programmes keep their given order.
func Write(w io.Writer, channels []Channel, programmes []provider.Programme) error {
	langs := make(map[int]string, len(channels))
	for _, ch := range channels {
		langs[ch.ID] = ch.Lang
	}

	nonEmpty := make(map[int]bool)
	for _, p := range programmes {
		nonEmpty[p.PlaylistID] = true
	}
	listed := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if nonEmpty[ch.ID] {
			listed = append(listed, ch)
		}
	}
	sort.SliceStable(listed, func(i, j int) bool { return listed[i].ID < listed[j].ID })

	doc := tvDoc{Generator: GeneratorName}
	for _, ch := range listed {
		doc.Channels = append(doc.Channels, channelDoc{
			ID:          strconv.Itoa(ch.ID),
			DisplayName: textDoc{Lang: ch.Lang, Value: ch.Name},
		})
	}
	for _, p := range programmes {
		doc.Programmes = append(doc.Programmes, programmeElement(p, langs[p.PlaylistID]))
	}

	if _, err := io.WriteString(w, xml.Header+doctype+"\n"); err != nil {
		return fmt.Errorf("writing xmltv header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding xmltv: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("writing xmltv: %w", err)
	}
	return nil
}

func programmeElement(p provider.Programme, lang string) programmeDoc {
	el := programmeDoc{
		Start:      p.Start.Format(timeLayout),
		Channel:    strconv.Itoa(p.PlaylistID),
		Title:      text(p.Title, lang),
		SubTitle:   text(p.SecondaryTitle, lang),
		Desc:       text(p.Description, lang),
		EpisodeNum: p.EpisodeNum,
	}
	if !p.Stop.IsZero() {
		el.Stop = p.Stop.Format(timeLayout)
	}
	if !p.Credits.Empty() {
		c := &creditsDoc{
			Directors:  p.Credits.Directors,
			Writers:    p.Credits.Writers,
			Producers:  p.Credits.Producers,
			Composers:  p.Credits.Composers,
			Presenters: p.Credits.Presenters,
		}
		for _, a := range p.Credits.Actors {
			c.Actors = append(c.Actors, actorDoc{Name: a.Name, Role: a.Role})
		}
		el.Credits = c
	}
	if p.Year > 0 {
		el.Date = strconv.Itoa(p.Year)
	}
	for _, c := range p.Categories {
		el.Categories = append(el.Categories, textDoc{Lang: lang, Value: c})
	}
	for _, i := range p.Icons {
		el.Icons = append(el.Icons, iconDoc{Src: i.Src, Width: i.Width, Height: i.Height})
	}
	for _, c := range p.Countries {
		el.Countries = append(el.Countries, textDoc{Lang: lang, Value: c})
	}
	if p.Premiere {
		el.Premiere = &struct{}{}
	}
	if p.Rating != "" {
		el.Rating = &ratingDoc{Value: p.Rating}
	}
	return el
}

func text(s, lang string) *textDoc {
	if s == "" {
		return nil
	}
	return &textDoc{Lang: lang, Value: s}
}

// WriteFile writes the guide to path, gzip-compressed when path ends in .gz.
// The file is replaced only once the whole guide has been written.
func WriteFile(path string, channels []Channel, programmes []provider.Programme) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".xmltv-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	bw := bufio.NewWriter(tmp)
	var out io.Writer = bw
	var gz *gzip.Writer
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gz = gzip.NewWriter(bw)
		out = gz
	}

	if err := Write(out, channels, programmes); err != nil {
		tmp.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("closing gzip stream: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing xmltv file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing xmltv file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming xmltv file: %w", err)
	}
	return nil
}

// CheckWritable reports an error when path cannot be created or replaced.
func CheckWritable(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot write XMLTV file %s: %w", path, err)
	}
	if info, err := os.Stat(abs); err == nil {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("cannot write XMLTV file %s: not a regular file", abs)
		}
		f, err := os.OpenFile(abs, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("cannot write XMLTV file %s: %w", abs, err)
		}
		return f.Close()
	}
	dir := filepath.Dir(abs)
	probe, err := os.CreateTemp(dir, ".xmltv-probe-*")
	if err != nil {
		return fmt.Errorf("cannot write XMLTV file %s: %w", abs, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
