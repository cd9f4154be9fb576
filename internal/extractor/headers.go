package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/calsync/internal/locator"
	"github.com/IshaanNene/calsync/internal/normalizer"
	"github.com/IshaanNene/calsync/internal/venue"
)

var headerJunkRe = regexp.MustCompile(`[^a-z0-9]+`)

// headerRowSelectors are explicit header-row classes seen on result pages.
const headerRowSelectors = "tr.headerrow, tr.header, tr.headerRow, tr.table-header"

// NormalizeHeader lower-cases and folds header text and collapses anything
// that is not a letter or digit into a single underscore.
func NormalizeHeader(text string) string {
	return strings.Trim(headerJunkRe.ReplaceAllString(venue.Fold(text), "_"), "_")
}

// headerInfo is the outcome of header discovery.
type headerInfo struct {
	names  []string
	row    *goquery.Selection
	source string
}

// ExtractHeaders returns the normalized column names of a table.
func (e *Extractor) ExtractHeaders(table *locator.Table) []string {
	return e.headers(table).names
}

func (e *Extractor) headers(table *locator.Table) headerInfo {
	rows := table.Rows()
	width := maxCells(rows)

	candidates := []struct {
		source string
		row    *goquery.Selection
	}{
		{"header_class", rows.Filter(headerRowSelectors).First()},
		{"thead", rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return goquery.NodeName(tr.Parent()) == "thead"
		}).First()},
		{"first_row", rows.First()},
	}

	for _, c := range candidates {
		if c.row.Length() == 0 {
			continue
		}
		texts := cellTexts(c.row)
		if allEmpty(texts) {
			continue
		}
		if w := len(texts); w > width {
			width = w
		}
		return headerInfo{names: finalizeHeaders(texts, width), row: c.row, source: c.source}
	}

	return headerInfo{names: synthesizeHeaders(width), source: "synthesized"}
}

// finalizeHeaders normalizes names and replaces empty or duplicate ones with
// positional names.
func finalizeHeaders(texts []string, width int) []string {
	names := make([]string, width)
	seen := make(map[string]struct{}, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(texts) {
			name = NormalizeHeader(texts[i])
		}
		if _, dup := seen[name]; name == "" || dup {
			name = fmt.Sprintf("col_%d", i)
		}
		seen[name] = struct{}{}
		names[i] = name
	}
	return names
}

// synthesizeHeaders uses the canonical default layout when the table is
// wide enough for it and positional names otherwise.
func synthesizeHeaders(width int) []string {
	names := make([]string, width)
	for i := range names {
		if width >= 5 && i < len(normalizer.DefaultColumns) {
			names[i] = normalizer.DefaultColumns[i]
			continue
		}
		names[i] = fmt.Sprintf("col_%d", i)
	}
	return names
}

func maxCells(rows *goquery.Selection) int {
	width := 0
	rows.Each(func(_ int, tr *goquery.Selection) {
		if n := tr.ChildrenFiltered("td, th").Length(); n > width {
			width = n
		}
	})
	return width
}

func cellTexts(tr *goquery.Selection) []string {
	cells := tr.ChildrenFiltered("td, th")
	texts := make([]string, 0, cells.Length())
	cells.Each(func(_ int, c *goquery.Selection) {
		texts = append(texts, cleanText(c.Text()))
	})
	return texts
}

func allEmpty(texts []string) bool {
	for _, t := range texts {
		if t != "" {
			return false
		}
	}
	return true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
