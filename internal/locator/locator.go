// Package locator finds the results table in a loaded pool page.
package locator

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/calsync/internal/config"
)

// HiddenAttr is set by the browser navigator on elements whose computed
// style hides them, so visibility survives the HTML snapshot.
const HiddenAttr = "data-calsync-hidden"

// Kind is the expression language of a strategy.
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
)

// Strategy is one candidate selector, tried in list order.
type Strategy struct {
	Name string
	Kind Kind
	Expr string
}

// DefaultStrategies lists known-good selectors first and the generic table
// last.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "matchtable", Kind: KindCSS, Expr: "table.matchtable"},
		{Name: "match-table", Kind: KindCSS, Expr: "table.match-table"},
		{Name: "match-table-wrapper", Kind: KindCSS, Expr: ".match-table table"},
		{Name: "kampprogram", Kind: KindCSS, Expr: "table.kampprogram"},
		{Name: "show-standing", Kind: KindCSS, Expr: "#ctl00_ContentPlaceHolder1_ShowStanding table"},
		{Name: "standing", Kind: KindCSS, Expr: "table.standing"},
		{Name: "id-match", Kind: KindCSS, Expr: "table[id*=match]"},
		{Name: "class-result", Kind: KindCSS, Expr: "table[class*=result]"},
		{Name: "responsive", Kind: KindCSS, Expr: ".table-responsive table"},
		{Name: "dato-header", Kind: KindXPath, Expr: "//table[.//th[contains(translate(normalize-space(.), 'DATO', 'dato'), 'dato')]]"},
		{Name: "team-cells", Kind: KindXPath, Expr: "//table[.//td[contains(@class, 'team')]]"},
		{Name: "generic", Kind: KindCSS, Expr: "table"},
	}
}

// StrategiesFromConfig converts configured selectors, falling back to the
// defaults when none are configured.
func StrategiesFromConfig(cfg config.LocatorConfig) []Strategy {
	if len(cfg.Selectors) == 0 {
		return DefaultStrategies()
	}
	out := make([]Strategy, 0, len(cfg.Selectors))
	for _, s := range cfg.Selectors {
		out = append(out, Strategy{Name: s.Name, Kind: Kind(s.Type), Expr: s.Expr})
	}
	return out
}

// Table is a located results table.
type Table struct {
	Selection *goquery.Selection
	Strategy  string
}

// Rows returns the table's own rows, excluding rows of nested tables.
func (t *Table) Rows() *goquery.Selection {
	return ownRows(t.Selection)
}

// Locator tries strategies in order and returns the first structurally
// valid table.
type Locator struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New creates a Locator.
func New(strategies []Strategy, logger *slog.Logger) *Locator {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Locator{
		strategies: strategies,
		logger:     logger.With("component", "table_locator"),
	}
}

// Find returns the best candidate table or nil. A nil result is a legitimate
// "no results table" outcome.
func (l *Locator) Find(doc *goquery.Document) *Table {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil
	}

	tried := make(map[*html.Node]struct{})
	for _, st := range l.strategies {
		candidates := l.candidates(doc, st)
		for _, node := range candidates {
			if _, seen := tried[node]; seen {
				continue
			}
			tried[node] = struct{}{}

			sel := doc.FindNodes(node)
			if sel.Length() == 0 || !Valid(sel) {
				continue
			}
			l.logger.Debug("table located", "strategy", st.Name, "rows", ownRows(sel).Length())
			return &Table{Selection: sel, Strategy: st.Name}
		}
	}

	l.logger.Debug("no table located", "strategies", len(l.strategies))
	return nil
}

// candidates resolves a strategy to table nodes in document order.
func (l *Locator) candidates(doc *goquery.Document, st Strategy) []*html.Node {
	var nodes []*html.Node
	switch st.Kind {
	case KindXPath:
		found, err := htmlquery.QueryAll(doc.Nodes[0], st.Expr)
		if err != nil {
			l.logger.Warn("invalid xpath strategy", "strategy", st.Name, "error", err)
			return nil
		}
		nodes = found
	default:
		nodes = doc.Find(st.Expr).Nodes
	}

	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == html.ElementNode && n.Data == "table" {
			out = append(out, n)
			continue
		}
		// Wrapper matched: use its first table.
		if inner := goquery.NewDocumentFromNode(n).Find("table").First(); inner.Length() > 0 {
			out = append(out, inner.Nodes[0])
		}
	}
	return out
}

// Valid reports whether a table has a header and at least one data row and
// is displayed.
func Valid(table *goquery.Selection) bool {
	if ownRows(table).Length() <= 1 {
		return false
	}
	return Displayed(table)
}

// Displayed reports whether the element and all of its ancestors are shown.
func Displayed(sel *goquery.Selection) bool {
	for _, n := range sel.Nodes {
		for cur := n; cur != nil; cur = cur.Parent {
			if cur.Type == html.ElementNode && hiddenNode(cur) {
				return false
			}
		}
	}
	return true
}

func hiddenNode(n *html.Node) bool {
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "hidden":
			return true
		case HiddenAttr:
			if a.Val != "0" {
				return true
			}
		case "style":
			style := strings.ToLower(strings.Join(strings.Fields(a.Val), ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		case "type":
			if n.Data == "input" && strings.EqualFold(a.Val, "hidden") {
				return true
			}
		}
	}
	return false
}

func ownRows(table *goquery.Selection) *goquery.Selection {
	return table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	})
}
