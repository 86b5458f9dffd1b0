package sanitize

import (
	"regexp"
	"strconv"
	"time"
)

// Recognized string date shapes. Anything else is rejected rather than
// handed to a lenient parser, so free text never becomes a bogus date.
var (
	reISO     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	reSlashed = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reDotted  = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{4})$`)
	reSafe    = regexp.MustCompile(`^[0-9TZz:+\-. ]+$`)
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatDate converts a raw date value into an RFC 3339 UTC string.
// Accepts time.Time, numeric epoch milliseconds, and strings matching a
// recognized date pattern. Returns false for anything unparseable.
func FormatDate(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	case float64:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339), true
	case int64:
		return time.UnixMilli(t).UTC().Format(time.RFC3339), true
	case int:
		return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339), true
	case string:
		return formatDateString(t)
	}
	return "", false
}

func formatDateString(s string) (string, bool) {
	if s == "" {
		return "", false
	}

	if m := reSlashed.FindStringSubmatch(s); m != nil {
		return dayMonthYear(m)
	}
	if m := reDotted.FindStringSubmatch(s); m != nil {
		return dayMonthYear(m)
	}

	// ISO-looking strings, or strings made only of date-safe characters,
	// get one shot at the strict layouts.
	if reISO.MatchString(s) || reSafe.MatchString(s) {
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC().Format(time.RFC3339), true
			}
		}
	}

	return "", false
}

// dayMonthYear builds a date from D/M/YYYY or D.M.YYYY submatches.
func dayMonthYear(m []string) (string, bool) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}

	ts := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject rollovers like 31/2/2025.
	if ts.Day() != day || ts.Month() != time.Month(month) {
		return "", false
	}
	return ts.Format(time.RFC3339), true
}
