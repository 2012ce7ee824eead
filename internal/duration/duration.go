// Package duration converts between human-readable duration strings like
// "2 weeks" or "1 week 3 days" and time.Duration values.
package duration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmpty         = errors.New("duration string is empty")
	ErrUnknownUnit   = errors.New("unknown duration unit")
	ErrMalformed     = errors.New("malformed duration")
	ErrNegativeValue = errors.New("duration value must not be negative")
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// units maps every accepted unit spelling to its duration.
var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "week": Week, "weeks": Week,
}

// Parse converts a human-readable duration string into a time.Duration.
// Accepted forms include "2 weeks", "36 hours", "1 week 3 days" and
// compact variants like "90m" or "1w3d".
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrEmpty
	}

	var (
		total   time.Duration
		matched bool
	)

	rest := s
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}

		// Numeric part
		i := 0
		for i < len(rest) && (rest[i] >= '0' && rest[i] <= '9' || rest[i] == '.' || rest[i] == '-') {
			i++
		}

		if i == 0 {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}

		value, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}

		if value < 0 {
			return 0, fmt.Errorf("%w: %q", ErrNegativeValue, s)
		}

		rest = strings.TrimLeft(rest[i:], " \t")

		// Unit part
		j := 0
		for j < len(rest) && rest[j] >= 'a' && rest[j] <= 'z' {
			j++
		}

		if j == 0 {
			return 0, fmt.Errorf("%w: missing unit in %q", ErrMalformed, s)
		}

		unit, ok := units[rest[:j]]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, rest[:j])
		}

		total += time.Duration(value * float64(unit))
		matched = true
		rest = rest[j:]
	}

	if !matched {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	return total, nil
}

// Format renders a duration as a human-readable string with the largest
// units first, e.g. "1 week 2 days 3 hours". Zero renders as "0 seconds".
func Format(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	if d == 0 {
		return "0 seconds"
	}

	type part struct {
		unit time.Duration
		name string
	}

	parts := []part{
		{Week, "week"},
		{Day, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
		{time.Second, "second"},
	}

	var out []string

	for _, p := range parts {
		if d < p.unit {
			continue
		}

		n := d / p.unit
		d -= n * p.unit

		name := p.name
		if n != 1 {
			name += "s"
		}

		out = append(out, fmt.Sprintf("%d %s", n, name))
	}

	if len(out) == 0 {
		// Sub-second remainder only.
		return "0 seconds"
	}

	return strings.Join(out, " ")
}
