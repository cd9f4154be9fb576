package normalizer

import (
	"strings"

	"github.com/IshaanNene/calsync/internal/types"
	"github.com/IshaanNene/calsync/internal/venue"
)

// Field is a canonical MatchRecord field fed from raw rows.
type Field string

const (
	FieldMatchID  Field = "match_id"
	FieldHomeTeam Field = "home_team"
	FieldAwayTeam Field = "away_team"
	FieldDate     Field = "date"
	FieldTime     Field = "time"
	FieldVenue    Field = "venue"
	FieldResult   Field = "result"
	FieldRound    Field = "round"
)

// Fields lists the canonical fields in resolution order.
var Fields = []Field{
	FieldMatchID, FieldHomeTeam, FieldAwayTeam, FieldDate, FieldTime,
	FieldVenue, FieldResult, FieldRound,
}

// FieldPriority maps each canonical field to the raw header names that can
// feed it, in the order they are tried. Site-native Danish labels come
// before English synonyms. Match ids only come from match-number columns:
// row numbers ("nr", "id") restart in every pool.
var FieldPriority = map[Field][]string{
	FieldMatchID:  {"kampnr", "kamp_nr", "kampid", "match_id", "matchid"},
	FieldHomeTeam: {"hjemmehold", "hjemme", "home_team", "hometeam", "home", "hold_1", "team_1", "team1"},
	FieldAwayTeam: {"udehold", "ude", "away_team", "awayteam", "away", "hold_2", "team_2", "team2"},
	FieldDate:     {"dato", "date", "tid", "tidspunkt", "datetime", "dag"},
	FieldTime:     {"kl", "klokken", "time", "tid", "start", "starttid"},
	FieldVenue:    {"spillested", "sted", "hal", "venue", "location", "arena"},
	FieldResult:   {"resultat", "result", "score", "stilling"},
	FieldRound:    {"runde", "rnd", "round", "spillerunde"},
}

// placeholders are values that never name a real team.
var placeholders = map[string]struct{}{
	"unknown":    {},
	"ukendt":     {},
	"tbd":        {},
	"n/a":        {},
	"-":          {},
	"vs":         {},
	"hjemmehold": {},
	"udehold":    {},
	"home":       {},
	"away":       {},
	"home team":  {},
	"away team":  {},
}

// IsPlaceholderTeam reports whether name is empty or a known placeholder.
func IsPlaceholderTeam(name string) bool {
	folded := venue.Fold(name)
	if folded == "" {
		return true
	}
	_, ok := placeholders[folded]
	return ok
}

// Lookup returns the first non-empty value for a canonical field along with
// the raw key that supplied it.
func Lookup(row types.RawRow, field Field) (key, value string, ok bool) {
	for _, candidate := range FieldPriority[field] {
		v, found := row.Get(candidate)
		if !found {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		return candidate, v, true
	}
	return "", "", false
}

// IsTeamHeader reports whether a normalized header names a team column.
func IsTeamHeader(header string) bool {
	for _, f := range []Field{FieldHomeTeam, FieldAwayTeam} {
		for _, candidate := range FieldPriority[f] {
			if header == candidate {
				return true
			}
		}
	}
	return strings.Contains(header, "team") || strings.HasSuffix(header, "hold")
}

// DefaultColumns is the positional layout assumed when a table carries no
// usable header row.
var DefaultColumns = []string{"dato", "tid", "hjemmehold", "udehold", "spillested", "resultat"}
