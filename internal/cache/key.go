package cache

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Kind identifies the kind of provider response stored under a key.
type Kind int

const (
	KindIndex Kind = iota
	KindChannelDay
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindChannelDay:
		return "channel-day"
	case KindEvent:
		return "event"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// dateLayout is the on-disk encoding of per-day buckets.
const dateLayout = "20060102"

var (
	dateFileRe = regexp.MustCompile(`^(\d{8})\.json$`)
	dateDirRe  = regexp.MustCompile(`^(\d{8})$`)
	pageFileRe = regexp.MustCompile(`^(\d+)\.json$`)
)

// Key identifies exactly one cached provider response.
type Key struct {
	Provider  string
	Kind      Kind
	Page      int       // KindIndex
	ChannelID int       // KindChannelDay, KindEvent
	Date      time.Time // KindChannelDay, KindEvent; only the calendar date is used
	EventID   string    // KindEvent
}

// IndexKey returns the key of one catalog index page.
func IndexKey(provider string, page int) Key {
	return Key{Provider: provider, Kind: KindIndex, Page: page}
}

// ChannelDayKey returns the key of one channel schedule bucket.
func ChannelDayKey(provider string, channelID int, date time.Time) Key {
	return Key{Provider: provider, Kind: KindChannelDay, ChannelID: channelID, Date: Day(date)}
}

// EventKey returns the key of one programme detail response.
func EventKey(provider string, channelID int, date time.Time, eventID string) Key {
	return Key{Provider: provider, Kind: KindEvent, ChannelID: channelID, Date: Day(date), EventID: eventID}
}

func (k Key) String() string {
	switch k.Kind {
	case KindIndex:
		return fmt.Sprintf("%s/index/%d", k.Provider, k.Page)
	case KindChannelDay:
		return fmt.Sprintf("%s/channels/%d/%s", k.Provider, k.ChannelID, FormatDate(k.Date))
	case KindEvent:
		return fmt.Sprintf("%s/channels/%d/events/%s/%s", k.Provider, k.ChannelID, FormatDate(k.Date), k.EventID)
	default:
		return fmt.Sprintf("%s/%s", k.Provider, k.Kind)
	}
}

// Day truncates t to its calendar date in t's own location and returns it
// as midnight UTC, so dates compare equal regardless of zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate encodes a date the way cache file and directory names carry it.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDateFile decodes a YYYYMMDD.json file name.
func ParseDateFile(name string) (time.Time, bool) {
	return parseDate(dateFileRe, name)
}

// ParseDateDir decodes a YYYYMMDD directory name.
func ParseDateDir(name string) (time.Time, bool) {
	return parseDate(dateDirRe, name)
}

func parseDate(re *regexp.Regexp, name string) (time.Time, bool) {
	m := re.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
