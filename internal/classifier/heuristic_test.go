package classifier

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

func testSignals() Signals {
	return Signals{
		NegativeMarkers:  []string{"Keine Einträge", "no entries"},
		ErrorMarkers:     []string{"Seite nicht gefunden"},
		PositiveMarkers:  []string{"Torschützen"},
		ColumnKeywords:   []string{"Spieler", "Mannschaft", "Tore"},
		MinColumnMatches: 2,
		MinRows:          6,
		DisplaySelectors: []string{"h1.competition", "title"},
		DistrictSelector: ".district",
	}
}

func scorerPage(rows int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Fallback</title></head><body>`)
	b.WriteString(`<h1 class="competition"> Kreisliga   A </h1><span class="district">Bezirk Nord</span>`)
	b.WriteString(`<table><thead><tr><th>Spieler</th><th>Mannschaft</th><th>Tore</th></tr></thead><tbody>`)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, `<tr><td>P%d</td><td>T%d</td><td>%d</td></tr>`, i, i, i)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func TestClassifyHTMLTableConfirmsExists(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(testSignals())
	v := h.Classify([]byte(scorerPage(7)), "text/html")
	require.Equal(t, discovery.StatusConfirmedExists, v.Status)
	require.Equal(t, 7, v.Metadata.MatchCount)
	require.Equal(t, "Kreisliga A", v.Metadata.DisplayName)
	require.Equal(t, "Bezirk Nord", v.Metadata.DistrictName)
	require.Contains(t, v.Signals, "table")
}

func TestClassifyBelowMinRowsIsUnresolved(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(testSignals())
	v := h.Classify([]byte(scorerPage(5)), "text/html")
	require.Equal(t, discovery.StatusUnresolved, v.Status)
	require.Zero(t, v.Metadata.MatchCount)
}

func TestClassifyNegativeMarkerWins(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(testSignals())
	page := strings.Replace(scorerPage(10), "<body>", "<body><p>keine einträge vorhanden</p>", 1)
	v := h.Classify([]byte(page), "text/html")
	require.Equal(t, discovery.StatusConfirmedAbsent, v.Status)
	require.Equal(t, []string{"negative:keine einträge"}, v.Signals)
}

func TestClassifyErrorMarkerIsAbsent(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(testSignals())
	v := h.Classify([]byte(`<html><body><h1>Seite nicht gefunden</h1></body></html>`), "text/html")
	require.Equal(t, discovery.StatusConfirmedAbsent, v.Status)
}

func TestClassifyPositiveMarkerAloneIsNotEnough(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(testSignals())
	v := h.Classify([]byte(`<html><body><h2>Torschützen</h2><p>Loading...</p></body></html>`), "text/html")
	require.Equal(t, discovery.StatusUnresolved, v.Status)
	require.Contains(t, v.Signals, "positive:torschützen")
}

func TestClassifyTableWithoutMatchingColumns(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<table><tr><th>Datum</th><th>Ort</th></tr>`)
	for i := 0; i < 10; i++ {
		b.WriteString(`<tr><td>x</td><td>y</td></tr>`)
	}
	b.WriteString(`</table>`)
	v := NewHeuristic(testSignals()).Classify([]byte(b.String()), "text/html")
	require.Equal(t, discovery.StatusUnresolved, v.Status)
}

func TestClassifyHeaderlessTableUsesFirstRow(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<table><tr><td>Spieler</td><td>Tore</td></tr>`)
	for i := 0; i < 6; i++ {
		b.WriteString(`<tr><td>x</td><td>1</td></tr>`)
	}
	b.WriteString(`</table>`)
	v := NewHeuristic(testSignals()).Classify([]byte(b.String()), "text/html")
	require.Equal(t, discovery.StatusConfirmedExists, v.Status)
	require.Equal(t, 6, v.Metadata.MatchCount)
}

func TestClassifyJSON(t *testing.T) {
	t.Parallel()

	row := `{"spieler":"x","mannschaft":"y","tore":1}`
	rows := strings.TrimSuffix(strings.Repeat(row+",", 8), ",")

	tests := []struct {
		name        string
		body        string
		contentType string
		want        discovery.Status
		wantCount   int
		wantName    string
	}{
		{"bare array", "[" + rows + "]", "application/json", discovery.StatusConfirmedExists, 8, ""},
		{"wrapped rows", `{"title":"Kreisliga B","rows":[` + rows + `]}`, "", discovery.StatusConfirmedExists, 8, "Kreisliga B"},
		{"wrapped items too short", `{"items":[` + row + `]}`, "application/json", discovery.StatusUnresolved, 0, ""},
		{"empty array", `[]`, "application/json", discovery.StatusUnresolved, 0, ""},
		{"negative in json", `{"message":"no entries"}`, "application/json", discovery.StatusConfirmedAbsent, 0, ""},
	}

	h := NewHeuristic(testSignals())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := h.Classify([]byte(tt.body), tt.contentType)
			require.Equal(t, tt.want, v.Status)
			require.Equal(t, tt.wantCount, v.Metadata.MatchCount)
			require.Equal(t, tt.wantName, v.Metadata.DisplayName)
		})
	}
}

func TestClassifyNeverConfirmsGarbage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(testSignals())
	for _, body := range []string{"", "<<<>>>", "{not json", "\x00\x01\x02", "<table></table>"} {
		v := h.Classify([]byte(body), "")
		require.NotEqual(t, discovery.StatusConfirmedExists, v.Status, body)
	}
}
