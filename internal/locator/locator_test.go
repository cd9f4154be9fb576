package locator

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/calsync/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func parse(t *testing.T, src string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	require.NoError(t, err)
	return doc
}

func TestFindPrefersSpecificSelector(t *testing.T) {
	doc := parse(t, `<html><body>
		<table id="layout"><tr><td>menu</td></tr><tr><td>more</td></tr></table>
		<table class="matchtable">
			<tr><th>Dato</th><th>Hjemmehold</th></tr>
			<tr><td>10-10-2024</td><td>BTK 61</td></tr>
		</table>
	</body></html>`)

	table := New(nil, testLogger).Find(doc)
	require.NotNil(t, table)
	assert.Equal(t, "matchtable", table.Strategy)
	assert.Equal(t, 2, table.Rows().Length())
}

func TestFindSkipsHeaderOnlyAndHiddenTables(t *testing.T) {
	doc := parse(t, `<html><body>
		<table class="matchtable"><tr><th>Dato</th></tr></table>
		<div style="display: none"><table class="match-table"><tr><th>a</th></tr><tr><td>b</td></tr></table></div>
		<table data-calsync-hidden="1"><tr><th>a</th></tr><tr><td>b</td></tr></table>
		<table class="plain"><tr><th>Dato</th></tr><tr><td>x</td></tr></table>
	</body></html>`)

	table := New(nil, testLogger).Find(doc)
	require.NotNil(t, table)
	cls, _ := table.Selection.Attr("class")
	assert.Equal(t, "plain", cls)
}

func TestFindUsesXPathStrategy(t *testing.T) {
	doc := parse(t, `<html><body>
		<table><tr><th>DATO</th><th>Hold</th></tr><tr><td>1</td><td>2</td></tr></table>
	</body></html>`)

	l := New([]Strategy{
		{Name: "dato-header", Kind: KindXPath, Expr: "//table[.//th[contains(translate(normalize-space(.), 'DATO', 'dato'), 'dato')]]"},
	}, testLogger)
	table := l.Find(doc)
	require.NotNil(t, table)
	assert.Equal(t, "dato-header", table.Strategy)
}

func TestFindReturnsNilWithoutTables(t *testing.T) {
	doc := parse(t, `<html><body><div class="match">Team Alpha vs Team Beta</div></body></html>`)
	assert.Nil(t, New(nil, testLogger).Find(doc))
}

func TestNestedRowsAreNotCounted(t *testing.T) {
	doc := parse(t, `<html><body>
		<table class="matchtable"><tr><td><table><tr><td>a</td></tr><tr><td>b</td></tr></table></td></tr></table>
	</body></html>`)

	l := New([]Strategy{{Name: "matchtable", Kind: KindCSS, Expr: "table.matchtable"}}, testLogger)
	assert.Nil(t, l.Find(doc))
}

func TestWrapperSelectorResolvesInnerTable(t *testing.T) {
	doc := parse(t, `<html><body><div id="results"><table><tr><th>a</th></tr><tr><td>b</td></tr></table></div></body></html>`)
	l := New(StrategiesFromConfig(config.LocatorConfig{
		Selectors: []config.SelectorConfig{{Name: "results", Type: "css", Expr: "#results"}},
	}), testLogger)

	table := l.Find(doc)
	require.NotNil(t, table)
	assert.Equal(t, "results", table.Strategy)
}
