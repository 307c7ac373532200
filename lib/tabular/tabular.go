// Package tabular holds the in-memory record set the pipeline moves
// between its stages: an ordered-column table with dynamically typed
// cells, plus the declarative schema used to validate one.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Table is a column-ordered set of rows. Cells are nil, string,
// float64, int or int64, anything else only survives until validation.
type Table struct {
	Columns []string
	Rows    [][]any
}

func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

func (t *Table) AppendRow(cells ...any) error {
	if len(cells) != len(t.Columns) {
		return fmt.Errorf(
			"append row: got %d cells, table has %d columns",
			len(cells), len(t.Columns),
		)
	}
	t.Rows = append(t.Rows, cells)
	return nil
}

// ColumnIndex returns -1 when the column doesn't exist.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns nil for unknown columns as well as null cells, callers
// that care about the difference should resolve the index themselves.
func (t *Table) Cell(row int, column string) any {
	idx := t.ColumnIndex(column)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return nil
	}
	return t.Rows[row][idx]
}

func (t *Table) SortRows(less func(a, b []any) bool) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return less(t.Rows[i], t.Rows[j])
	})
}

// FormatCell renders a cell the way it appears in CSV output. Nulls
// become empty strings, floats never use exponent notation so the
// hosted dataset parses them as plain numbers.
func FormatCell(v any) string {
	switch cell := v.(type) {
	case nil:
		return ""
	case string:
		return cell
	case float64:
		return strconv.FormatFloat(cell, 'f', -1, 64)
	case int:
		return strconv.Itoa(cell)
	case int64:
		return strconv.FormatInt(cell, 10)
	default:
		return fmt.Sprint(cell)
	}
}

// CSV serializes the table with a header row. Output is deterministic
// for a given table, re-publishing unchanged data uploads identical bytes.
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	err := w.Write(t.Columns)
	if err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, cell := range row {
			record[i] = FormatCell(cell)
		}
		err = w.Write(record)
		if err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Render pretty-prints up to `limit` rows for terminal preview,
// limit <= 0 renders everything.
func (t *Table) Render(out io.Writer, limit int) {
	w := table.NewWriter()
	w.SetOutputMirror(out)

	header := make(table.Row, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	w.AppendHeader(header)

	n := len(t.Rows)
	if limit > 0 && limit < n {
		n = limit
	}
	for _, row := range t.Rows[:n] {
		rendered := make(table.Row, len(row))
		for i, cell := range row {
			rendered[i] = FormatCell(cell)
		}
		w.AppendRow(rendered)
	}
	if n < len(t.Rows) {
		w.AppendFooter(table.Row{fmt.Sprintf("%d of %d rows", n, len(t.Rows))})
	}
	w.Render()
}
