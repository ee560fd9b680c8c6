package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
}

// ParseDate parses a recorder date cell into days since the Unix epoch.
func ParseDate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return KeyOf(t).Date, nil
		}
	}
	return 0, fmt.Errorf("invalid date %q", s)
}

// ParseClock parses a time-of-day cell (HH:MM:SS with optional fraction)
// into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()), nil
}

// ParseKey combines a date cell and a time cell.
func ParseKey(date, clock string) (Key, error) {
	d, err := ParseDate(date)
	if err != nil {
		return Key{}, err
	}
	off, err := ParseClock(clock)
	if err != nil {
		return Key{}, err
	}
	return Key{Date: d, Offset: off}, nil
}

// ParseFloat parses a numeric cell. Blank cells, which the recorder emits
// before a sensor reports, read as zero.
func ParseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
