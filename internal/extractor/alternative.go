package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/calsync/internal/locator"
	"github.com/IshaanNene/calsync/internal/normalizer"
	"github.com/IshaanNene/calsync/internal/types"
	"github.com/IshaanNene/calsync/internal/venue"
)

// maxCardText bounds the text of a card candidate. Longer elements are page
// sections, not single fixtures.
const maxCardText = 400

var (
	teamsRe    = regexp.MustCompile(`^(.+?)\s+(?:vs\.?|v\.|-|–|—)\s+(.+)$`)
	cardDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}[-./]\d{1,2}[-./]\d{2,4})\b`)
	cardTimeRe = regexp.MustCompile(`\b(?:[01]?\d|2[0-3])[:.][0-5]\d\b`)
	cardScore  = regexp.MustCompile(`(?:^|\s)(\d{1,2})\s*-\s*(\d{1,2})(?:\s|$)`)
)

// DefaultCardSelectors lists the elements that may hold one fixture each
// on pages without a usable table.
func DefaultCardSelectors() []string {
	return []string{
		".match", ".match-item", ".kamp", ".fixture", ".event", ".card",
		"li[class*=match]", "div[class*=match]", "div[class*=kamp]", "tr",
	}
}

// ExtractAlternative scans fixture-like elements for "Home vs Away" text.
// Only innermost candidates are read, so a card wrapping other cards does
// not yield a merged row.
func (e *Extractor) ExtractAlternative(doc *goquery.Document, filter venue.Filter) []types.RawRow {
	combined := strings.Join(e.cardSelectors, ", ")
	seen := make(map[string]struct{})
	var out []types.RawRow
	var candidates int

	doc.Find(combined).Each(func(_ int, card *goquery.Selection) {
		if card.Find(combined).Length() > 0 || !locator.Displayed(card) {
			return
		}
		text := nodeText(card)
		if text == "" || len(text) > maxCardText {
			return
		}
		candidates++

		row, ok := parseCard(text, filter)
		if !ok {
			return
		}
		key := venue.Fold(row.GetString("home_team") + "|" + row.GetString("away_team") + "|" + row.GetString("date"))
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, row)
	})

	e.logger.Debug("alternative extraction",
		"candidates", candidates,
		"kept", len(out),
		"filter", filter.String(),
	)
	return out
}

// parseCard reads one card's flattened text.
func parseCard(text string, filter venue.Filter) (types.RawRow, bool) {
	term, ok := filter.MatchTerm(text)
	if !ok {
		return types.RawRow{}, false
	}

	m := teamsRe.FindStringSubmatch(text)
	if m == nil {
		return types.RawRow{}, false
	}
	home := cleanText(cardTimeRe.ReplaceAllString(cardDateRe.ReplaceAllString(m[1], " "), " "))
	away, rest := cutAway(m[2], filter)
	if normalizer.IsPlaceholderTeam(home) || normalizer.IsPlaceholderTeam(away) {
		return types.RawRow{}, false
	}

	undated := cardDateRe.ReplaceAllString(text, " ")
	row := types.NewRawRow()
	row.Set("home_team", home)
	row.Set("away_team", away)
	row.Set("date", cardDateRe.FindString(text))
	row.Set("time", cardTimeRe.FindString(undated))
	row.Set("venue", term)
	if s := cardScore.FindStringSubmatch(cardTimeRe.ReplaceAllString(cardDateRe.ReplaceAllString(rest, " "), " ")); s != nil {
		row.Set("result", s[1]+"-"+s[2])
	}
	row.Set("extraction_method", types.ExtractionAlternative)
	row.Set("raw_text", text)
	return row, true
}

// cutAway ends the away team name at the first date, time, score or venue
// term that follows it. The remainder is returned as well.
func cutAway(s string, filter venue.Filter) (string, string) {
	end := len(s)
	for _, re := range []*regexp.Regexp{cardDateRe, cardTimeRe, cardScore} {
		if loc := re.FindStringIndex(s); loc != nil && loc[0] < end {
			end = loc[0]
		}
	}
	if i := venueStart(s, filter); i >= 0 && i < end {
		end = i
	}
	return cleanText(s[:end]), s[end:]
}

// venueStart returns the byte offset of the first word at which a filter
// term begins, or -1.
func venueStart(s string, filter venue.Filter) int {
	if filter.Disabled() {
		return -1
	}
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i-1] != ' ' {
			continue
		}
		folded := venue.Fold(s[i:])
		for _, term := range filter.Terms() {
			if strings.HasPrefix(folded, venue.Fold(term)) {
				return i
			}
		}
	}
	return -1
}

// nodeText joins the text nodes below sel with single spaces, so adjacent
// cells do not run together.
func nodeText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return cleanText(strings.Join(parts, " "))
}
