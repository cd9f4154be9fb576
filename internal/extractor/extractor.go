// Package extractor turns a located results table, or a table-less page,
// into raw rows.
package extractor

import (
	"log/slog"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/calsync/internal/locator"
	"github.com/IshaanNene/calsync/internal/normalizer"
	"github.com/IshaanNene/calsync/internal/types"
	"github.com/IshaanNene/calsync/internal/venue"
)

// Extractor maps table rows and card elements to RawRows.
type Extractor struct {
	cardSelectors []string
	logger        *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	return &Extractor{
		cardSelectors: DefaultCardSelectors(),
		logger:        logger.With("component", "row_extractor"),
	}
}

// ExtractRows maps each data row of table onto headers and keeps rows that
// pass the venue filter and name two real teams.
func (e *Extractor) ExtractRows(table *locator.Table, headers []string, filter venue.Filter) []types.RawRow {
	info := e.headers(table)
	if len(headers) == 0 {
		headers = info.names
	}

	var out []types.RawRow
	var seen, droppedVenue, droppedTeams int

	table.Rows().Each(func(_ int, tr *goquery.Selection) {
		if info.row != nil && tr.IsSelection(info.row) {
			return
		}
		cells := tr.ChildrenFiltered("td, th")
		if cells.Length() == 0 || cells.Length() == tr.ChildrenFiltered("th").Length() {
			return
		}
		seen++

		row := types.NewRawRow()
		position := seen
		cells.Each(func(i int, cell *goquery.Selection) {
			name := positional(headers, i)
			row.Set(name, cleanText(cell.Text()))
			if normalizer.IsTeamHeader(name) {
				if id, ok := teamID(cell); ok {
					row.Set(name+"_id", id)
				}
			}
		})

		if !venueMatches(row, filter) {
			droppedVenue++
			return
		}
		if !hasTeams(row) {
			droppedTeams++
			return
		}
		row.Set("extraction_method", types.ExtractionTable)
		row.Set(types.RowIndexKey, strconv.Itoa(position))
		out = append(out, row)
	})

	e.logger.Debug("rows extracted",
		"strategy", table.Strategy,
		"header_source", info.source,
		"rows", seen,
		"kept", len(out),
		"dropped_venue", droppedVenue,
		"dropped_teams", droppedTeams,
	)
	return out
}

// venueMatches applies the filter to the row's venue cell. A row without a
// venue cell only passes a disabled filter.
func venueMatches(row types.RawRow, filter venue.Filter) bool {
	if filter.Disabled() {
		return true
	}
	_, v, ok := normalizer.Lookup(row, normalizer.FieldVenue)
	if !ok {
		return false
	}
	return filter.Match(v)
}

func hasTeams(row types.RawRow) bool {
	_, home, _ := normalizer.Lookup(row, normalizer.FieldHomeTeam)
	_, away, _ := normalizer.Lookup(row, normalizer.FieldAwayTeam)
	return !normalizer.IsPlaceholderTeam(home) && !normalizer.IsPlaceholderTeam(away)
}

func positional(headers []string, i int) string {
	if i < len(headers) && headers[i] != "" {
		return headers[i]
	}
	return "col_" + strconv.Itoa(i)
}
