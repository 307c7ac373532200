package pipeline

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
	"github.com/stretchr/testify/require"
)

// makeValidTable builds a two-row canonical table, one record with a
// denominator and one without. Row ids are left null for AssignRowIDs.
func makeValidTable(t *testing.T) *tabular.Table {
	table := tabular.NewTable(Columns()...)
	err := table.AppendRow(
		"ACS5", "Health", "Disability Characteristics",
		"S1810_C02_001E", "With a disability", 1528.0,
		"S1810_C01_001E", "Total civilian noninstitutionalized population", 4521.0,
		2018, "2018-12-31",
		"1400000US12011050800", "Census Tract 508, Broward County, Florida", "tract",
		"POINT (-80.172618 26.137901)", nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	err = table.AppendRow(
		"ACS5", "Demographics", "Total Population",
		"B01003_001E", "Total", 1952778.0,
		nil, nil, nil,
		2018, "2018-12-31",
		"0500000US12011", "Broward County, Florida", "county",
		"POINT (-80.357386 26.151958)", nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func requireViolation(t *testing.T, err error, column, detail string) {
	t.Helper()

	var schemaErr *tabular.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	for _, v := range schemaErr.Violations {
		if v.Column == column && strings.Contains(v.Detail, detail) {
			return
		}
	}
	t.Fatalf("no violation on %q containing %q in: %v", column, detail, err)
}

func TestColumnOrder(t *testing.T) {
	require.Equal(t, []string{
		"source", "topic", "concept", "variable", "label", "value",
		"denominator_variable", "denominator_label", "denominator",
		"year", "year_date", "geo_id", "geo_name", "geo_type",
		"location", "row_id",
	}, Columns())
}

func TestSchemaAcceptsCanonicalTable(t *testing.T) {
	table := makeValidTable(t)
	require.NoError(t, AssignRowIDs(table))
	require.NoError(t, Schema().Validate(table))
}

func TestSchemaRejectsYearBounds(t *testing.T) {
	yearIdx := makeValidTable(t).ColumnIndex(ColumnYear)
	dateIdx := makeValidTable(t).ColumnIndex(ColumnYearDate)

	{
		// too old
		table := makeValidTable(t)
		table.Rows[0][yearIdx] = 1999
		table.Rows[0][dateIdx] = "1999-12-31"
		require.NoError(t, AssignRowIDs(table))

		err := Schema().Validate(table)
		requireViolation(t, err, ColumnYear, "year 1999 is before 2000")
	}
	{
		// still in the future
		future := time.Now().Year() + 1
		table := makeValidTable(t)
		table.Rows[0][yearIdx] = future
		table.Rows[0][dateIdx] = fmt.Sprintf("%d-12-31", future)
		require.NoError(t, AssignRowIDs(table))

		err := Schema().Validate(table)
		requireViolation(t, err, ColumnYear, fmt.Sprintf("year %d is after", future))
	}
}

func TestSchemaRejectsYearDate(t *testing.T) {
	dateIdx := makeValidTable(t).ColumnIndex(ColumnYearDate)

	{
		// not a date at all
		table := makeValidTable(t)
		table.Rows[0][dateIdx] = "2018-13-40"
		require.NoError(t, AssignRowIDs(table))

		err := Schema().Validate(table)
		requireViolation(t, err, ColumnYearDate, "not a YYYY-MM-DD date")
	}
	{
		// a fine date from the wrong year
		table := makeValidTable(t)
		table.Rows[0][dateIdx] = "2017-12-31"
		require.NoError(t, AssignRowIDs(table))

		err := Schema().Validate(table)
		requireViolation(t, err, ColumnYearDate, `"2017-12-31" does not fall in year 2018`)
	}
}

func TestSchemaRejectsLocation(t *testing.T) {
	table := makeValidTable(t)
	locIdx := table.ColumnIndex(ColumnLocation)
	// missing the space after POINT
	table.Rows[0][locIdx] = "POINT(-80.172618 26.137901)"
	require.NoError(t, AssignRowIDs(table))

	err := Schema().Validate(table)
	requireViolation(t, err, ColumnLocation, "not a WKT point")
}

func TestSchemaRejectsRowIds(t *testing.T) {
	{
		// tampered identifier
		table := makeValidTable(t)
		require.NoError(t, AssignRowIDs(table))
		idIdx := table.ColumnIndex(ColumnRowId)
		table.Rows[0][idIdx] = "ACS5|bogus"

		err := Schema().Validate(table)
		requireViolation(t, err, ColumnRowId, `got "ACS5|bogus"`)
	}
	{
		// duplicated record
		table := makeValidTable(t)
		dup := make([]any, len(table.Rows[0]))
		copy(dup, table.Rows[0])
		table.Rows = append(table.Rows, dup)
		require.NoError(t, AssignRowIDs(table))

		err := Schema().Validate(table)
		requireViolation(t, err, ColumnRowId, "duplicate of row 0")
	}
}

func TestSchemaReportsEveryViolation(t *testing.T) {
	table := makeValidTable(t)
	require.NoError(t, AssignRowIDs(table))
	table.Rows[0][table.ColumnIndex(ColumnValue)] = nil
	table.Rows[1][table.ColumnIndex(ColumnLocation)] = "not wkt"

	err := Schema().Validate(table)
	var schemaErr *tabular.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Violations, 2)
	requireViolation(t, err, ColumnValue, "null in non-nullable column")
	requireViolation(t, err, ColumnLocation, "not a WKT point")
}
