package receipt

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultDateFormats are tried in order when no formats are configured
var DefaultDateFormats = []string{
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"2006年1月2日",
	"2006-1-2 15:04:05",
	"2006-1-2T15:04:05Z07:00",
	"2006/1/2 15:04",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// parseDate tries each layout in order; the first match wins
func parseDate(raw string, formats []string) (Date, bool) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	if s == "" {
		return UnknownDate(), false
	}

	candidates := []string{s}
	// Models often append a time or weekday, e.g. "2024/03/01 12:30" or "2024年3月1日(金)"
	if i := strings.IndexAny(s, " T("); i > 0 {
		candidates = append(candidates, s[:i])
	}

	for _, candidate := range candidates {
		for _, layout := range formats {
			if t, err := time.Parse(layout, candidate); err == nil {
				return DateOf(t), true
			}
		}
	}
	return UnknownDate(), false
}
