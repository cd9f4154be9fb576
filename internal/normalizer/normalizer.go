// Package normalizer maps heterogeneous raw rows onto the canonical
// MatchRecord schema.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/calsync/internal/types"
)

var (
	numericRe = regexp.MustCompile(`^\d+$`)
	siteIDRe  = regexp.MustCompile(`^\d{5,}$`)
	dateRe    = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}[-./]\d{1,2}[-./]\d{2,4})\b`)
	timeRe    = regexp.MustCompile(`\b([01]?\d|2[0-3])[:.]([0-5]\d)\b`)
	resultRe  = regexp.MustCompile(`^\s*(\d{1,3})\s*[-:]\s*(\d{1,3})\s*$`)
	slugRe    = regexp.MustCompile(`[^a-z0-9]+`)
)

// Context is the per-row information the raw row does not carry.
type Context struct {
	PoolName string
	Season   string
	// Sequence is the 1-based row position within the pool's table, or 0
	// if unknown. A row's own types.RowIndexKey takes precedence.
	Sequence int
	Now      time.Time
}

// Normalizer converts RawRows to MatchRecords.
type Normalizer struct {
	newID func() string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithIDGenerator replaces the surrogate id source.
func WithIDGenerator(fn func() string) Option {
	return func(n *Normalizer) { n.newID = fn }
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps a raw row to a MatchRecord. Missing optional fields stay
// nil.
func (n *Normalizer) Normalize(row types.RawRow, ctx Context) *types.MatchRecord {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	rec := &types.MatchRecord{
		PoolName:         ctx.PoolName,
		Season:           ctx.Season,
		ExtractionMethod: types.ExtractionTable,
		RawData:          row.Clone(),
		ScrapedAt:        now,
	}
	if m := row.GetString("extraction_method"); m != "" {
		rec.ExtractionMethod = m
	}

	homeKey, home, _ := Lookup(row, FieldHomeTeam)
	awayKey, away, _ := Lookup(row, FieldAwayTeam)
	rec.HomeTeam = collapse(home)
	rec.AwayTeam = collapse(away)
	if homeKey != "" {
		rec.HomeTeamID = types.Ptr(strings.TrimSpace(row.GetString(homeKey + "_id")))
	}
	if awayKey != "" {
		rec.AwayTeamID = types.Ptr(strings.TrimSpace(row.GetString(awayKey + "_id")))
	}

	_, dateRaw, _ := Lookup(row, FieldDate)
	_, timeRaw, _ := Lookup(row, FieldTime)
	rec.Date, rec.Time = splitDateTime(dateRaw, timeRaw)

	_, v, _ := Lookup(row, FieldVenue)
	rec.Venue = collapse(v)

	if _, result, ok := Lookup(row, FieldResult); ok {
		rec.HomeScore, rec.AwayScore = splitResult(result)
	}
	if _, round, ok := Lookup(row, FieldRound); ok {
		rec.Round = types.Ptr(collapse(round))
	}

	rec.MatchID = n.matchID(row, rec, ctx)
	return rec
}

// matchID prefers a site-supplied match number, then the row's table
// position, then the fixture itself, then a fresh surrogate. Fallback ids
// are scoped to season and pool.
func (n *Normalizer) matchID(row types.RawRow, rec *types.MatchRecord, ctx Context) string {
	for _, candidate := range FieldPriority[FieldMatchID] {
		v := strings.TrimSpace(row.GetString(candidate))
		if numericRe.MatchString(v) {
			return v
		}
	}
	// The portal leaves its match number column unlabelled.
	if v := strings.TrimSpace(row.GetString("col_1")); siteIDRe.MatchString(v) {
		return v
	}
	seq := ctx.Sequence
	if v, err := strconv.Atoi(row.GetString(types.RowIndexKey)); err == nil && v > 0 {
		seq = v
	}
	if seq > 0 {
		return fmt.Sprintf("seq_%s_%s_%d", slug(ctx.Season), slug(ctx.PoolName), seq)
	}
	if rec.HomeTeam != "" && rec.AwayTeam != "" && rec.Date != "" {
		return fmt.Sprintf("fx_%s_%s_%s_%s_%s", slug(ctx.Season), slug(ctx.PoolName), slug(rec.HomeTeam), slug(rec.AwayTeam), slug(rec.Date))
	}
	return "gen_" + n.newID()
}

// splitDateTime separates combined cells such as "to 10-10-2024 19:30".
func splitDateTime(dateRaw, timeRaw string) (string, *string) {
	date := collapse(dateRaw)
	if m := dateRe.FindString(dateRaw); m != "" {
		date = m
	}

	var clock string
	if m := timeRe.FindStringSubmatch(stripDates(timeRaw)); m != nil {
		clock = m[1] + ":" + m[2]
	} else if m := timeRe.FindStringSubmatch(stripDates(dateRaw)); m != nil {
		clock = m[1] + ":" + m[2]
	}
	if len(clock) == 4 {
		clock = "0" + clock
	}

	// A time-only cell picked up as the date is not a date.
	if date != "" && dateRe.FindString(date) == "" && timeRe.MatchString(date) && stripTimes(date) == "" {
		date = ""
	}
	return date, types.Ptr(clock)
}

func splitResult(result string) (*string, *string) {
	m := resultRe.FindStringSubmatch(result)
	if m == nil {
		return nil, nil
	}
	return types.Ptr(m[1]), types.Ptr(m[2])
}

func stripDates(s string) string {
	return dateRe.ReplaceAllString(s, " ")
}

func stripTimes(s string) string {
	return strings.TrimSpace(timeRe.ReplaceAllString(s, ""))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
