package pdu

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Time is an SMPP time value (schedule_delivery_time, validity_period,
// final_date). The zero value is the null time, encoded as a single NUL.
//
// Absolute times carry a full Year and an Offset from UTC in quarter hours.
// Relative times count years, months, days and so on from the SMSC's
// current time; Tenths and Offset are always zero for them.
type Time struct {
	Year, Month, Day     int
	Hour, Minute, Second int
	Tenths               int
	Offset               int
	Relative             bool
}

const timeLen = 16

// IsZero reports whether t is the null time.
func (t Time) IsZero() bool { return t == Time{} }

// AbsoluteTime converts tm to an absolute SMPP time, keeping its zone offset
// rounded down to the quarter hour.
func AbsoluteTime(tm time.Time) Time {
	_, off := tm.Zone()
	return Time{
		Year: tm.Year(), Month: int(tm.Month()), Day: tm.Day(),
		Hour: tm.Hour(), Minute: tm.Minute(), Second: tm.Second(),
		Tenths: tm.Nanosecond() / int(100*time.Millisecond),
		Offset: off / (15 * 60),
	}
}

// RelativeTime converts d into a relative SMPP time. Months are never
// produced; whole days beyond a year spill into Years.
func RelativeTime(d time.Duration) Time {
	secs := int(d / time.Second)
	t := Time{Relative: true}
	t.Second = secs % 60
	t.Minute = secs / 60 % 60
	t.Hour = secs / 3600 % 24
	days := secs / 86400
	t.Year, t.Day = days/365, days%365
	if t.Year > 99 {
		t.Year = 99
	}
	return t
}

// Time returns the absolute instant t denotes.
func (t Time) Time() (time.Time, bool) {
	if t.Relative || t.IsZero() {
		return time.Time{}, false
	}
	loc := time.UTC
	if t.Offset != 0 {
		loc = time.FixedZone("", t.Offset*15*60)
	}
	return time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second,
		t.Tenths*int(100*time.Millisecond), loc), true
}

// Duration returns the span a relative time denotes, using 365-day years
// and 30-day months.
func (t Time) Duration() (time.Duration, bool) {
	if !t.Relative {
		return 0, false
	}
	days := t.Year*365 + t.Month*30 + t.Day
	return time.Duration(days)*24*time.Hour +
		time.Duration(t.Hour)*time.Hour +
		time.Duration(t.Minute)*time.Minute +
		time.Duration(t.Second)*time.Second, true
}

// String returns the 16 character wire form, or "" for the null time.
func (t Time) String() string {
	s, err := t.format()
	if err != nil {
		return fmt.Sprintf("invalid(%v)", err)
	}
	return s
}

func (t Time) format() (string, error) {
	if t.IsZero() {
		return "", nil
	}
	if t.Relative {
		if t.Year < 0 || t.Year > 99 {
			return "", fmt.Errorf("relative years %d out of range", t.Year)
		}
		for _, v := range []int{t.Month, t.Day, t.Hour, t.Minute, t.Second} {
			if v < 0 || v > 99 {
				return "", fmt.Errorf("relative component %d out of range", v)
			}
		}
		return fmt.Sprintf("%02d%02d%02d%02d%02d%02d000R",
			t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second), nil
	}
	if t.Year < 1969 || t.Year > 2068 {
		return "", fmt.Errorf("year %d not representable", t.Year)
	}
	if err := t.validateClock(); err != nil {
		return "", err
	}
	if t.Tenths < 0 || t.Tenths > 9 {
		return "", errors.New("tenths of second must be one digit")
	}
	nn, p := t.Offset, '+'
	if nn < 0 {
		nn, p = -nn, '-'
	}
	if nn > 48 {
		return "", errors.New("time difference must be 0-48")
	}
	return fmt.Sprintf("%02d%02d%02d%02d%02d%02d%d%02d%c",
		t.Year%100, t.Month, t.Day, t.Hour, t.Minute, t.Second, t.Tenths, nn, p), nil
}

func (t Time) validateClock() error {
	d := time.Date(t.Year, time.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, 0, time.UTC)
	if d.Year() != t.Year || int(d.Month()) != t.Month || d.Day() != t.Day ||
		d.Hour() != t.Hour || d.Minute() != t.Minute || d.Second() != t.Second {
		return fmt.Errorf("invalid date %04d-%02d-%02d %02d:%02d:%02d",
			t.Year, t.Month, t.Day, t.Hour, t.Minute, t.Second)
	}
	return nil
}

// ParseTime parses the wire form of an SMPP time. The empty string is the
// null time.
func ParseTime(s string) (Time, error) {
	if s == "" {
		return Time{}, nil
	}
	if len(s) != timeLen {
		return Time{}, fmt.Errorf("invalid time length %d", len(s))
	}
	var f [7]int
	for i := range 6 {
		v, ok := digits(s[i*2 : i*2+2])
		if !ok {
			return Time{}, fmt.Errorf("invalid time %q", s)
		}
		f[i] = v
	}
	tenths, ok := digits(s[12:13])
	if !ok {
		return Time{}, errors.New("tenths of second must be one digit")
	}
	f[6] = tenths

	if s[15] == 'R' {
		if tenths != 0 {
			return Time{}, fmt.Errorf("relative time tenths of second is %d instead of 0", tenths)
		}
		return Time{Relative: true, Year: f[0], Month: f[1], Day: f[2], Hour: f[3], Minute: f[4], Second: f[5]}, nil
	}

	p := s[15]
	if p != '+' && p != '-' {
		return Time{}, fmt.Errorf("invalid offset indicator %q", p)
	}
	nn, ok := digits(s[13:15])
	if !ok || nn > 48 {
		return Time{}, errors.New("time difference must be 0-48")
	}
	if p == '-' {
		nn = -nn
	}
	year := 2000 + f[0]
	if f[0] >= 69 {
		year = 1900 + f[0]
	}
	t := Time{Year: year, Month: f[1], Day: f[2], Hour: f[3], Minute: f[4], Second: f[5], Tenths: f[6], Offset: nn}
	if err := t.validateClock(); err != nil {
		return Time{}, err
	}
	return t, nil
}

func digits(s string) (int, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}
