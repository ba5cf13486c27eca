// Package duration parses the age grammar used by the older-than policy.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Units accepted by the older-than grammar. Months and years are
// approximate on purpose; retention policies do not need calendar math.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var unitMultipliers = map[string]time.Duration{
	"d": Day,
	"w": Week,
	"m": Month,
	"y": Year,
}

// agePattern matches exactly one integer followed by one unit, e.g. "7d", "2w", "6m", "1y".
var agePattern = regexp.MustCompile(`^(\d+)([dwmy])$`)

// Parse converts an age string into a time.Duration.
//
// The grammar is a single integer followed by a single unit:
//   - d (days) = 24h
//   - w (weeks) = 7d
//   - m (months) = 30d
//   - y (years) = 365d
//
// No other units are accepted. An empty string is an error; callers that
// treat "no age" as unset must check before parsing.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty age string")
	}

	match := agePattern.FindStringSubmatch(s)
	if match == nil {
		return 0, fmt.Errorf("invalid age %q (expected <number><unit> with unit one of d, w, m, y)", s)
	}

	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid age value %q in %q", match[1], s)
	}

	return time.Duration(value) * unitMultipliers[match[2]], nil
}
