package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// idPatterns recover a team identifier from link-like attributes. The
// first pattern that matches wins.
var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)teamid=(\d+)`),
	regexp.MustCompile(`(?i)[?&]id=(\d+)`),
	regexp.MustCompile(`(?i)ShowTeam\w*\(\D*(\d+)`),
	regexp.MustCompile(`#\d+\.(\d+)`),
	regexp.MustCompile(`/(\d+)/?$`),
	regexp.MustCompile(`\((\d+)\)`),
}

// idAttributes are the attributes inspected, in order.
var idAttributes = []string{"href", "onclick", "data-teamid", "data-team-id", "data-id"}

// ExtractID returns the first identifier embedded in s.
func ExtractID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// teamID looks for an identifier on the cell's anchors and on the cell
// itself.
func teamID(cell *goquery.Selection) (string, bool) {
	targets := []*goquery.Selection{cell.Find("a").First(), cell}
	for _, target := range targets {
		if target.Length() == 0 {
			continue
		}
		for _, attr := range idAttributes {
			v, ok := target.Attr(attr)
			if !ok {
				continue
			}
			if strings.HasPrefix(attr, "data-") {
				if v = strings.TrimSpace(v); v != "" && isDigits(v) {
					return v, true
				}
				continue
			}
			if id, ok := ExtractID(v); ok {
				return id, true
			}
		}
	}
	return "", false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
