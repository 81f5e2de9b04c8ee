package walker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spherical/procurement-extractor/internal/domain"
)

// roundPattern matches R1, r 2, Round 3, ROUND4 and similar folder names.
var roundPattern = regexp.MustCompile(`(?i)^r(?:ound)?[\s_-]*(\d+)$`)

// RoundTable resolves round folder names to round numbers. Overrides are
// keyed by district then folder name, both compared case-insensitively.
type RoundTable struct {
	overrides map[string]map[string]int
}

// NewRoundTable builds a table from district -> folder -> round aliases.
func NewRoundTable(overrides map[string]map[string]int) *RoundTable {
	t := &RoundTable{overrides: make(map[string]map[string]int, len(overrides))}
	for district, aliases := range overrides {
		m := make(map[string]int, len(aliases))
		for folder, round := range aliases {
			m[foldKey(folder)] = round
		}
		t.overrides[foldKey(district)] = m
	}
	return t
}

// Normalize maps a round folder name inside district to a round 1-4.
// The second return is false for unrecognized names and out-of-range digits.
func (t *RoundTable) Normalize(district, folder string) (int, bool) {
	if t != nil {
		if aliases, ok := t.overrides[foldKey(district)]; ok {
			if round, ok := aliases[foldKey(folder)]; ok {
				return round, domain.ValidRound(round)
			}
		}
	}

	m := roundPattern.FindStringSubmatch(strings.TrimSpace(folder))
	if m == nil {
		return 0, false
	}
	round, err := strconv.Atoi(m[1])
	if err != nil || !domain.ValidRound(round) {
		return 0, false
	}
	return round, true
}

func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
