package htmlutil

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"

	"ukpolls-backend/lib/textutil"
)

var tracer = otel.Tracer("ukpolls.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CellText extracts a cell's text with footnote <sup> noise kept (it is
// stripped downstream where the citation pattern is known), whitespace
// collapsed and control characters dropped.
func CellText(node *html.Node) string {
	text := GetText(node)
	text = removeNonPrintable(text)
	return textutil.CollapseWhitespace(text)
}

// Table is an HTML table flattened into a header row plus body rows.
// Multi-level headers are collapsed into one label per column.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t Table) Columns() int {
	return len(t.Header)
}

// ExtractTables walks every <table> in the document into a grid.
// colspan repeats a cell across columns; rowspan is carried down into
// subsequent rows. Multi-level headers (two <tr> of <th>) merge by
// taking the most specific (deepest) non-empty label per column.
func ExtractTables(ctx context.Context, doc *goquery.Document) []Table {
	ctx, span := tracer.Start(ctx, "ExtractTables")
	defer span.End()

	var tables []Table
	doc.Find("table").Each(func(i int, sel *goquery.Selection) {
		table := extractTable(sel)
		if len(table.Header) == 0 && len(table.Rows) == 0 {
			return
		}
		tables = append(tables, table)
	})

	span.SetAttributes(attribute.Int("table_count", len(tables)))
	return tables
}

type pendingSpan struct {
	remaining int
	value     string
}

func extractTable(sel *goquery.Selection) Table {
	var headerRows [][]string
	var bodyRows [][]string

	// rowspan cells hang over into later rows, keyed by column index
	hangover := map[int]*pendingSpan{}

	sel.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells, isHeader := extractRow(row, hangover)
		if len(cells) == 0 {
			return
		}
		if isHeader && len(bodyRows) == 0 {
			headerRows = append(headerRows, cells)
			return
		}
		bodyRows = append(bodyRows, cells)
	})

	return Table{
		Header: mergeHeaderRows(headerRows),
		Rows:   bodyRows,
	}
}

func extractRow(row *goquery.Selection, hangover map[int]*pendingSpan) (cells []string, isHeader bool) {
	isHeader = true
	col := 0

	flushHangover := func() {
		for {
			span, ok := hangover[col]
			if !ok {
				break
			}
			cells = append(cells, span.value)
			span.remaining--
			if span.remaining <= 0 {
				delete(hangover, col)
			}
			col++
		}
	}

	row.ChildrenFiltered("td,th").Each(func(i int, cell *goquery.Selection) {
		flushHangover()

		if goquery.NodeName(cell) != "th" {
			isHeader = false
		}

		text := ""
		if len(cell.Nodes) > 0 {
			text = CellText(cell.Nodes[0])
		}

		colspan := spanAttr(cell, "colspan")
		rowspan := spanAttr(cell, "rowspan")

		for c := 0; c < colspan; c++ {
			cells = append(cells, text)
			if rowspan > 1 {
				hangover[col] = &pendingSpan{remaining: rowspan - 1, value: text}
			}
			col++
		}
	})
	flushHangover()

	return cells, isHeader && len(cells) > 0
}

func spanAttr(cell *goquery.Selection, name string) int {
	raw, ok := cell.Attr(name)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func mergeHeaderRows(headerRows [][]string) []string {
	if len(headerRows) == 0 {
		return nil
	}
	width := 0
	for _, r := range headerRows {
		if len(r) > width {
			width = len(r)
		}
	}
	merged := make([]string, width)
	for _, r := range headerRows {
		for i, label := range r {
			if label == "" {
				continue
			}
			// deeper rows are more specific, but never replace a
			// real label with a duplicated spanning one
			if merged[i] == "" || !strings.EqualFold(merged[i], label) {
				merged[i] = label
			}
		}
	}
	return merged
}
