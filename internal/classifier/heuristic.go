// Package classifier decides from a response body whether a competition page
// holds real data.
package classifier

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// Signals configures the rule set. All marker matching is case-insensitive.
type Signals struct {
	NegativeMarkers  []string
	ErrorMarkers     []string
	PositiveMarkers  []string
	ColumnKeywords   []string
	MinColumnMatches int
	MinRows          int
	DisplaySelectors []string
	DistrictSelector string
}

// Heuristic implements discovery.Classifier with marker and table rules.
type Heuristic struct {
	negative  [][]byte
	errors    [][]byte
	positive  [][]byte
	columns   []string
	minCols   int
	minRows   int
	display   []string
	districtQ string
}

// NewHeuristic creates a classifier for the configured signals.
func NewHeuristic(s Signals) *Heuristic {
	minCols := s.MinColumnMatches
	if minCols <= 0 {
		minCols = 1
	}
	minRows := s.MinRows
	if minRows <= 0 {
		minRows = 6
	}
	display := s.DisplaySelectors
	if len(display) == 0 {
		display = []string{"h1", "title"}
	}
	columns := make([]string, 0, len(s.ColumnKeywords))
	for _, kw := range s.ColumnKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			columns = append(columns, kw)
		}
	}
	return &Heuristic{
		negative:  lowerAll(s.NegativeMarkers),
		errors:    lowerAll(s.ErrorMarkers),
		positive:  lowerAll(s.PositiveMarkers),
		columns:   columns,
		minCols:   minCols,
		minRows:   minRows,
		display:   display,
		districtQ: s.DistrictSelector,
	}
}

func lowerAll(markers []string) [][]byte {
	out := make([][]byte, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		out = append(out, bytes.ToLower([]byte(m)))
	}
	return out
}

// block is one tabular structure found in a body.
type block struct {
	header []string
	rows   int
}

// Classify never promotes on weak evidence: any negative marker wins, and
// ConfirmedExists needs a qualifying table with at least minRows data rows.
func (h *Heuristic) Classify(body []byte, contentType string) discovery.Verdict {
	lower := bytes.ToLower(body)
	for _, m := range h.negative {
		if bytes.Contains(lower, m) {
			return discovery.Verdict{Status: discovery.StatusConfirmedAbsent, Signals: []string{"negative:" + string(m)}}
		}
	}
	for _, m := range h.errors {
		if bytes.Contains(lower, m) {
			return discovery.Verdict{Status: discovery.StatusConfirmedAbsent, Signals: []string{"error:" + string(m)}}
		}
	}

	var (
		blocks []block
		meta   discovery.Metadata
	)
	if isJSON(body, contentType) {
		blocks, meta = jsonBlocks(body)
	} else {
		blocks, meta = h.htmlBlocks(body)
	}

	var signals []string
	for _, m := range h.positive {
		if bytes.Contains(lower, m) {
			signals = append(signals, "positive:"+string(m))
		}
	}

	best := -1
	for _, b := range blocks {
		if h.columnMatches(b.header) < h.minCols || b.rows < h.minRows {
			continue
		}
		if b.rows > best {
			best = b.rows
		}
	}
	if best < 0 {
		return discovery.Verdict{Status: discovery.StatusUnresolved, Signals: append(signals, "no-qualifying-table")}
	}
	meta.MatchCount = best
	return discovery.Verdict{
		Status:   discovery.StatusConfirmedExists,
		Metadata: meta,
		Signals:  append(signals, "table"),
	}
}

func (h *Heuristic) columnMatches(header []string) int {
	matched := 0
	for _, cell := range header {
		cell = strings.ToLower(cell)
		for _, kw := range h.columns {
			if strings.Contains(cell, kw) {
				matched++
				break
			}
		}
	}
	return matched
}

func (h *Heuristic) htmlBlocks(body []byte) ([]block, discovery.Metadata) {
	var meta discovery.Metadata
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, meta
	}
	for _, sel := range h.display {
		if text := firstText(doc, sel); text != "" {
			meta.DisplayName = text
			break
		}
	}
	if h.districtQ != "" {
		meta.DistrictName = firstText(doc, h.districtQ)
	}

	var blocks []block
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		blocks = append(blocks, tableBlock(table))
	})
	return blocks, meta
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
}

func tableBlock(table *goquery.Selection) block {
	var b block
	rows := table.Find("tr")
	header := table.Find("thead th")
	headerFromBody := false
	if header.Length() == 0 {
		header = rows.First().Find("th")
	}
	if header.Length() == 0 {
		header = rows.First().Find("td")
		headerFromBody = true
	}
	header.Each(func(_ int, cell *goquery.Selection) {
		b.header = append(b.header, strings.TrimSpace(cell.Text()))
	})
	rows.Each(func(_ int, row *goquery.Selection) {
		if row.Find("td").Length() > 0 {
			b.rows++
		}
	})
	if headerFromBody && b.rows > 0 {
		b.rows--
	}
	return b
}

func isJSON(body []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '{') && json.Valid(trimmed)
}

var jsonRowKeys = []string{"rows", "data", "items"}

func jsonBlocks(body []byte) ([]block, discovery.Metadata) {
	var meta discovery.Metadata
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, meta
	}
	switch v := doc.(type) {
	case []any:
		if b, ok := arrayBlock(v); ok {
			return []block{b}, meta
		}
	case map[string]any:
		for _, key := range []string{"display_name", "title", "name"} {
			if s, ok := v[key].(string); ok && s != "" {
				meta.DisplayName = s
				break
			}
		}
		if s, ok := v["district_name"].(string); ok {
			meta.DistrictName = s
		}
		var blocks []block
		for _, key := range jsonRowKeys {
			arr, ok := v[key].([]any)
			if !ok {
				continue
			}
			if b, ok := arrayBlock(arr); ok {
				blocks = append(blocks, b)
			}
		}
		return blocks, meta
	}
	return nil, meta
}

// arrayBlock treats an array of objects as a table whose header is the union
// of object keys.
func arrayBlock(arr []any) (block, bool) {
	keys := map[string]struct{}{}
	rows := 0
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows++
		for k := range obj {
			keys[k] = struct{}{}
		}
	}
	if rows == 0 {
		return block{}, false
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)
	return block{header: header, rows: rows}, true
}
