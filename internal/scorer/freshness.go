package scorer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NeutralFreshness is used when a page age is missing or unparseable.
const NeutralFreshness = 0.5

var (
	daysRe   = regexp.MustCompile(`(\d+)\s*(?:day|일\s*전)`)
	weeksRe  = regexp.MustCompile(`(\d+)\s*(?:week|주\s*전)`)
	monthsRe = regexp.MustCompile(`(\d+)\s*(?:month|개월\s*전|달\s*전)`)
	yearsRe  = regexp.MustCompile(`(\d+)\s*(?:year|년\s*전)`)
	isoRe    = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

var longDateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2006년 1월 2일",
}

// Freshness converts a provider page-age string ("3 days ago", "2주 전",
// "2025-01-15", "March 3, 2025") into a recency score in [0,1].
func Freshness(pageAge string, now time.Time) float64 {
	lower := strings.ToLower(strings.TrimSpace(pageAge))
	if lower == "" {
		return NeutralFreshness
	}

	if n, ok := matchInt(daysRe, lower); ok {
		switch {
		case n <= 7:
			return 1.0
		case n <= 30:
			return 0.8
		}
		return 0.6
	}

	if n, ok := matchInt(weeksRe, lower); ok {
		switch {
		case n <= 2:
			return 0.9
		case n <= 4:
			return 0.7
		}
		return 0.5
	}

	if n, ok := matchInt(monthsRe, lower); ok {
		switch {
		case n <= 3:
			return 0.7
		case n <= 6:
			return 0.5
		case n <= 12:
			return 0.3
		}
		return 0.2
	}

	if n, ok := matchInt(yearsRe, lower); ok {
		if n <= 1 {
			return 0.3
		}
		return 0.1
	}

	if date, ok := parseDate(pageAge); ok {
		return dateFreshness(now.Sub(date))
	}

	return NeutralFreshness
}

func dateFreshness(age time.Duration) float64 {
	days := int(age.Hours() / 24)
	switch {
	case days <= 7:
		return 1.0
	case days <= 30:
		return 0.8
	case days <= 90:
		return 0.7
	case days <= 365:
		return 0.4
	}
	return 0.2
}

func parseDate(s string) (time.Time, bool) {
	if m := isoRe.FindString(s); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t, true
		}
	}
	trimmed := strings.TrimSpace(s)
	for _, layout := range longDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func matchInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
