package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
)

// rowIdFields are the columns the identifier derives from, in order.
var rowIdFields = []string{
	ColumnSource,
	ColumnVariable,
	ColumnDenominatorVariable,
	ColumnYear,
	ColumnGeoId,
}

// MakeRowID derives the stable identifier that keys the hosted
// dataset's upsert. Pure, identical inputs always produce identical
// identifiers. Pass "" for a record without a denominator.
func MakeRowID(source, variable, denominatorVariable string, year int, geoId string) string {
	return strings.Join([]string{
		source,
		variable,
		denominatorVariable,
		strconv.Itoa(year),
		geoId,
	}, "|")
}

// AssignRowIDs recomputes the row_id column from each row's own
// fields, overwriting whatever the source left there. Null fields
// render as empty strings.
func AssignRowIDs(t *tabular.Table) error {
	fieldIdx := make([]int, len(rowIdFields))
	for i, name := range rowIdFields {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			return fmt.Errorf("assign row ids: table has no %q column", name)
		}
		fieldIdx[i] = idx
	}
	idIdx := t.ColumnIndex(ColumnRowId)
	if idIdx < 0 {
		return fmt.Errorf("assign row ids: table has no %q column", ColumnRowId)
	}

	parts := make([]string, len(fieldIdx))
	for _, row := range t.Rows {
		for i, idx := range fieldIdx {
			parts[i] = tabular.FormatCell(row[idx])
		}
		row[idIdx] = strings.Join(parts, "|")
	}
	return nil
}
