package timezone

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date is a calendar day in clinic-local time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Weekday is computed on the civil calendar, independent of any offset.
func (d Date) Weekday() time.Weekday {
	return d.midnight(time.UTC).Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.Compare(o) < 0
}

func (d Date) After(o Date) bool {
	return d.Compare(o) > 0
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	return d.midnight(time.UTC).Compare(o.midnight(time.UTC))
}

func (d Date) midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// ClockTime is a wall-clock time of day stored as minutes since midnight.
type ClockTime int

// ParseClock parses a 24h "HH:MM" string.
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// EndOfDay is "24:00", the latest time a working block may end.
const EndOfDay ClockTime = 24 * 60

// ParseEndClock is ParseClock that also accepts "24:00", for the end of a
// window running to midnight.
func ParseEndClock(s string) (ClockTime, error) {
	if strings.TrimSpace(s) == "24:00" {
		return EndOfDay, nil
	}
	return ParseClock(s)
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Normalizer converts between clinic wall-clock time and UTC instants using a
// fixed offset. There are no DST transitions.
type Normalizer struct {
	offset time.Duration
	loc    *time.Location
}

func NewNormalizer(offset time.Duration) *Normalizer {
	return &Normalizer{
		offset: offset,
		loc:    time.FixedZone(offsetName(offset), int(offset/time.Second)),
	}
}

// ParseOffset accepts "UTC", "Z", "+02:00", "-0530" or "+2".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "UTC") || s == "Z" {
		return 0, nil
	}
	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	default:
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	s = strings.ReplaceAll(s, ":", "")
	var h, m int
	var err error
	switch len(s) {
	case 1, 2:
		h, err = strconv.Atoi(s)
	case 4:
		h, err = strconv.Atoi(s[:2])
		if err == nil {
			m, err = strconv.Atoi(s[2:])
		}
	default:
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	if err != nil || h > 14 || m > 59 {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

func offsetName(offset time.Duration) string {
	if offset == 0 {
		return "UTC"
	}
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, int(offset.Hours()), int(offset.Minutes())%60)
}

func (n *Normalizer) Location() *time.Location {
	return n.loc
}

func (n *Normalizer) Offset() time.Duration {
	return n.offset
}

// ToUTC returns the UTC instant of wall-clock "HH:MM" on the given local date.
func (n *Normalizer) ToUTC(d Date, hhmm string) (time.Time, error) {
	c, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return n.At(d, c), nil
}

// At is ToUTC for an already parsed clock time.
func (n *Normalizer) At(d Date, c ClockTime) time.Time {
	return d.midnight(n.loc).Add(time.Duration(c) * time.Minute).UTC()
}

// ToLocal returns the local date and "HH:MM" of an instant.
func (n *Normalizer) ToLocal(t time.Time) (Date, string) {
	local := t.In(n.loc)
	return DateOf(local), local.Format("15:04")
}

// DayBounds returns the UTC instants of local midnight at the start and end of d.
func (n *Normalizer) DayBounds(d Date) (time.Time, time.Time) {
	start := d.midnight(n.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// Today returns the local date containing now.
func (n *Normalizer) Today(now time.Time) Date {
	return DateOf(now.In(n.loc))
}
