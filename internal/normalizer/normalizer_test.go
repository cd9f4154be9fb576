package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/types"
)

func rawRow(kv ...string) types.RawRow {
	row := types.NewRawRow()
	for i := 0; i+1 < len(kv); i += 2 {
		row.Set(kv[i], kv[i+1])
	}
	return row
}

func TestNormalizeSiteRow(t *testing.T) {
	row := rawRow(
		"tid", "to 10-10-2024 19:30",
		"col_1", "446505",
		"hjemmehold", "Brønshøj Bordtennis 3",
		"hjemmehold_id", "8812",
		"udehold", "Roskilde Bordtennis, BTK 61 6",
		"udehold_id", "9034",
		"spillested", "Grøndal MultiCenter",
		"resultat", "9-5",
		"point", "2-0",
		"col_7", "",
	)

	rec := New().Normalize(row, Context{PoolName: "Pulje 1", Season: "2024/2025", Sequence: 4})

	assert.Equal(t, "446505", rec.MatchID)
	assert.Equal(t, "Brønshøj Bordtennis 3", rec.HomeTeam)
	assert.Equal(t, "Roskilde Bordtennis, BTK 61 6", rec.AwayTeam)
	assert.Equal(t, "8812", types.Deref(rec.HomeTeamID))
	assert.Equal(t, "9034", types.Deref(rec.AwayTeamID))
	assert.Equal(t, "10-10-2024", rec.Date)
	assert.Equal(t, "19:30", types.Deref(rec.Time))
	assert.Equal(t, "Grøndal MultiCenter", rec.Venue)
	assert.Equal(t, "9", types.Deref(rec.HomeScore))
	assert.Equal(t, "5", types.Deref(rec.AwayScore))
	assert.Nil(t, rec.Round)
	assert.Equal(t, types.ExtractionTable, rec.ExtractionMethod)
	assert.Equal(t, row.Keys, rec.RawData.Keys)
}

func TestNormalizeMissingOptionalFieldsAreNil(t *testing.T) {
	row := rawRow("dato", "15-12-2024", "hjemmehold", "A", "udehold", "B", "resultat", "")
	rec := New().Normalize(row, Context{Sequence: 1, PoolName: "P"})

	assert.Nil(t, rec.Time)
	assert.Nil(t, rec.HomeScore)
	assert.Nil(t, rec.AwayScore)
	assert.Nil(t, rec.Round)
	assert.Nil(t, rec.HomeTeamID)
	assert.Equal(t, "", rec.Venue)
}

func TestNormalizeEnglishSynonyms(t *testing.T) {
	row := rawRow("date", "2024-12-15", "time", "9.30", "home", "Alpha", "away", "Beta", "location", "Arena", "score", "3 : 7", "round", "5")
	rec := New().Normalize(row, Context{})

	assert.Equal(t, "Alpha", rec.HomeTeam)
	assert.Equal(t, "Beta", rec.AwayTeam)
	assert.Equal(t, "2024-12-15", rec.Date)
	assert.Equal(t, "09:30", types.Deref(rec.Time))
	assert.Equal(t, "Arena", rec.Venue)
	assert.Equal(t, "3", types.Deref(rec.HomeScore))
	assert.Equal(t, "7", types.Deref(rec.AwayScore))
	assert.Equal(t, "5", types.Deref(rec.Round))
}

func TestNormalizeNonNumericResult(t *testing.T) {
	rec := New().Normalize(rawRow("hjemmehold", "A", "udehold", "B", "resultat", "Udsat"), Context{})
	assert.Nil(t, rec.HomeScore)
	assert.Nil(t, rec.AwayScore)
}

func TestMatchIDFallbacks(t *testing.T) {
	n := New(WithIDGenerator(func() string { return "fixed" }))

	rec := n.Normalize(rawRow("kampnr", "abc", "hjemmehold", "A", "udehold", "B"), Context{Season: "2024/2025", PoolName: "Pulje 1", Sequence: 3})
	assert.Equal(t, "seq_2024-2025_pulje-1_3", rec.MatchID)

	rec = n.Normalize(rawRow("hjemmehold", "A", "udehold", "B"), Context{})
	assert.Equal(t, "gen_fixed", rec.MatchID)
}

func TestRowNumbersAreNotMatchIDs(t *testing.T) {
	n := New()
	first := n.Normalize(rawRow("nr", "1", "hjemmehold", "A", "udehold", "B", types.RowIndexKey, "1"), Context{Season: "2024", PoolName: "Pulje 1"})
	second := n.Normalize(rawRow("nr", "1", "hjemmehold", "C", "udehold", "D", types.RowIndexKey, "1"), Context{Season: "2024", PoolName: "Pulje 2"})

	assert.Equal(t, "seq_2024_pulje-1_1", first.MatchID)
	assert.Equal(t, "seq_2024_pulje-2_1", second.MatchID)

	rec := n.Normalize(rawRow("col_1", "3", "hjemmehold", "A", "udehold", "B"), Context{Season: "2024", PoolName: "Pulje 1", Sequence: 3})
	assert.Equal(t, "seq_2024_pulje-1_3", rec.MatchID)
}

func TestRowIndexBeatsCallerSequence(t *testing.T) {
	rec := New().Normalize(rawRow("hjemmehold", "A", "udehold", "B", types.RowIndexKey, "7"), Context{Season: "2024", PoolName: "Pulje 1", Sequence: 1})
	assert.Equal(t, "seq_2024_pulje-1_7", rec.MatchID)
}

func TestFixtureIDWithoutPosition(t *testing.T) {
	n := New(WithIDGenerator(func() string { return "fixed" }))
	row := rawRow("home_team", "Team Alpha", "away_team", "Team Beta", "date", "2024-12-15")

	a := n.Normalize(row, Context{Season: "2024", PoolName: "Pulje 1"})
	b := n.Normalize(row, Context{Season: "2024", PoolName: "Pulje 1"})
	assert.Equal(t, "fx_2024_pulje-1_team-alpha_team-beta_2024-12-15", a.MatchID)
	assert.Equal(t, a.MatchID, b.MatchID)
}

func TestGeneratedIDsDiffer(t *testing.T) {
	n := New()
	a := n.Normalize(rawRow("hjemmehold", "A"), Context{})
	b := n.Normalize(rawRow("hjemmehold", "A"), Context{})
	require.NotEqual(t, a.MatchID, b.MatchID)
}

func TestTimeOnlyCellIsNotADate(t *testing.T) {
	rec := New().Normalize(rawRow("tid", "19:30", "hjemmehold", "A", "udehold", "B"), Context{})
	assert.Equal(t, "", rec.Date)
	assert.Equal(t, "19:30", types.Deref(rec.Time))
}

func TestIsPlaceholderTeam(t *testing.T) {
	for _, name := range []string{"", "  ", "Unknown", "UNKNOWN", "Hjemmehold", "tbd"} {
		assert.True(t, IsPlaceholderTeam(name), name)
	}
	for _, name := range []string{"Brønshøj Bordtennis 3", "Team Alpha"} {
		assert.False(t, IsPlaceholderTeam(name), name)
	}
}

func TestLookupPriority(t *testing.T) {
	row := rawRow("home", "English", "hjemmehold", "Dansk")
	key, val, ok := Lookup(row, FieldHomeTeam)
	require.True(t, ok)
	assert.Equal(t, "hjemmehold", key)
	assert.Equal(t, "Dansk", val)
}
