package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// MinYear and MaxYear bound accepted calendar years.
const (
	MinYear = 1900
	MaxYear = 2100
)

var (
	numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	yearRe   = regexp.MustCompile(`\d{4}`)

	months = []string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}

	// contract years whose round is known; others are not checked
	yearRounds = map[int]int{
		2015: 1, 2016: 1, 2017: 1,
		2018: 2,
		2019: 3,
		2022: 4,
	}
)

// text renders a decoded JSON scalar as trimmed text. Objects and arrays
// are rendered back as compact JSON-ish text.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(t)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") || s == "-" {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// parseDecimal reads a number out of text like "$1,500.00", "1500 USD" or
// "3 years". Returns false when no number is present.
func parseDecimal(v any) (decimal.Decimal, bool) {
	if f, ok := v.(float64); ok {
		return decimal.NewFromFloat(f), true
	}

	s := text(v)
	if s == "" {
		return decimal.Decimal{}, false
	}
	s = strings.ReplaceAll(s, ",", "")
	m := numberRe.FindString(s)
	if m == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// parseCount reads a non-negative whole number such as "500" or "1,200 seats".
func parseCount(v any) (int, bool) {
	d, ok := parseDecimal(v)
	if !ok || d.IsNegative() {
		return 0, false
	}
	f, _ := d.Round(0).Float64()
	if f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// parseYear accepts a four digit year in [MinYear, MaxYear], also inside
// text like "FY2019" or "2019-20".
func parseYear(v any) (int, bool) {
	s := text(v)
	if s == "" {
		return 0, false
	}
	m := yearRe.FindString(s)
	if m == "" {
		return 0, false
	}
	y, err := strconv.Atoi(m)
	if err != nil || y < MinYear || y > MaxYear {
		return 0, false
	}
	return y, true
}

// parseMonth normalizes month names, abbreviations and numbers 1-12 to the
// full English month name.
func parseMonth(v any) (string, bool) {
	s := strings.TrimSuffix(strings.ToLower(text(v)), ".")
	if s == "" {
		return "", false
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return months[n-1], true
		}
		return "", false
	}
	if s == "sept" {
		return "September", true
	}
	for _, m := range months {
		lm := strings.ToLower(m)
		if s == lm || (len(s) >= 3 && strings.HasPrefix(lm, s)) {
			return m, true
		}
	}
	return "", false
}

func matchEnum[T ~string](v string, allowed []T) (T, bool) {
	for _, a := range allowed {
		if strings.EqualFold(v, string(a)) {
			return a, true
		}
	}
	return "", false
}

// parseLevel also accepts common spellings like "Pre-K" and "High School".
func parseLevel(s string) (domain.ApproxLevel, bool) {
	if l, ok := matchEnum(s, domain.ApproxLevels); ok {
		return l, true
	}
	k := strings.ToLower(strings.NewReplacer("-", "", " ", "").Replace(s))
	switch k {
	case "prek", "prekindergarten":
		return domain.LevelPreK, true
	case "elementaryschool", "es":
		return domain.LevelElementary, true
	case "middleschool", "ms":
		return domain.LevelMiddle, true
	case "highschool", "hs":
		return domain.LevelHigh, true
	case "alternative":
		return domain.LevelAlt, true
	}
	return "", false
}

// expectedRound returns the round a contract year belongs to, when known.
func expectedRound(year int) (int, bool) {
	r, ok := yearRounds[year]
	return r, ok
}
