package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/NHIT-open/Citizen-Connect-ACS/lib/gazetteer"
	"github.com/NHIT-open/Citizen-Connect-ACS/lib/tabular"
)

// Column names of the published record layout, in canonical order.
const (
	ColumnSource              = "source"
	ColumnTopic               = "topic"
	ColumnConcept             = "concept"
	ColumnVariable            = "variable"
	ColumnLabel               = "label"
	ColumnValue               = "value"
	ColumnDenominatorVariable = "denominator_variable"
	ColumnDenominatorLabel    = "denominator_label"
	ColumnDenominator         = "denominator"
	ColumnYear                = "year"
	ColumnYearDate            = "year_date"
	ColumnGeoId               = "geo_id"
	ColumnGeoName             = "geo_name"
	ColumnGeoType             = "geo_type"
	ColumnLocation            = "location"
	ColumnRowId               = "row_id"
)

const minYear = 2000

// Schema binds the canonical layout to its validation rules. Every
// table goes through it before anything is uploaded, the hosted
// dataset never sees a row the schema didn't accept.
func Schema() tabular.Schema {
	return tabular.Schema{
		Columns: []tabular.Column{
			{Name: ColumnSource, Type: tabular.String},
			{Name: ColumnTopic, Type: tabular.String, Nullable: true},
			{Name: ColumnConcept, Type: tabular.String, Nullable: true},
			{Name: ColumnVariable, Type: tabular.String},
			{Name: ColumnLabel, Type: tabular.String},
			{Name: ColumnValue, Type: tabular.Float},
			{Name: ColumnDenominatorVariable, Type: tabular.String, Nullable: true},
			{Name: ColumnDenominatorLabel, Type: tabular.String, Nullable: true},
			{Name: ColumnDenominator, Type: tabular.Float, Nullable: true},
			{Name: ColumnYear, Type: tabular.Int, Check: checkYear},
			{Name: ColumnYearDate, Type: tabular.String, Check: checkYearDate},
			{Name: ColumnGeoId, Type: tabular.String},
			{Name: ColumnGeoName, Type: tabular.String},
			{Name: ColumnGeoType, Type: tabular.String},
			{Name: ColumnLocation, Type: tabular.String, Check: checkLocation},
			{Name: ColumnRowId, Type: tabular.String},
		},
		Checks: []tabular.TableCheck{
			{Name: "row_id unique and derived", Check: checkRowIds},
			{Name: "year_date agrees with year", Check: checkYearDateAgreement},
		},
	}
}

// Columns returns the canonical column names in publish order.
func Columns() []string {
	schema := Schema()
	names := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		names[i] = col.Name
	}
	return names
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

func checkYear(v any) error {
	year, ok := asInt(v)
	if !ok {
		return fmt.Errorf("not a year: %v", v)
	}
	if year < minYear {
		return fmt.Errorf("year %d is before %d", year, minYear)
	}
	if max := time.Now().Year(); year > max {
		return fmt.Errorf("year %d is after %d", year, max)
	}
	return nil
}

func checkYearDate(v any) error {
	_, err := time.Parse("2006-01-02", v.(string))
	if err != nil {
		return fmt.Errorf("%q is not a YYYY-MM-DD date", v)
	}
	return nil
}

func checkLocation(v any) error {
	_, err := gazetteer.ParsePointWKT(v.(string))
	return err
}

// checkRowIds confirms every identifier is unique and equal to the
// derivation from its own row, so an upsert keyed on it can never
// collapse two records or orphan an old one.
func checkRowIds(t *tabular.Table) []tabular.Violation {
	idIdx := t.ColumnIndex(ColumnRowId)
	fieldIdx := make([]int, len(rowIdFields))
	for i, name := range rowIdFields {
		fieldIdx[i] = t.ColumnIndex(name)
	}

	var violations []tabular.Violation
	seen := map[string]int{}
	for rowIdx, row := range t.Rows {
		id, _ := row[idIdx].(string)
		parts := make([]string, len(fieldIdx))
		for i, idx := range fieldIdx {
			parts[i] = tabular.FormatCell(row[idx])
		}
		expected := strings.Join(parts, "|")
		if id != expected {
			violations = append(violations, tabular.Violation{
				Column: ColumnRowId,
				Row:    rowIdx,
				Detail: fmt.Sprintf("expected %q, got %q", expected, id),
			})
			continue
		}
		if prev, ok := seen[id]; ok {
			violations = append(violations, tabular.Violation{
				Column: ColumnRowId,
				Row:    rowIdx,
				Detail: fmt.Sprintf("duplicate of row %d", prev),
			})
			continue
		}
		seen[id] = rowIdx
	}
	return violations
}

func checkYearDateAgreement(t *tabular.Table) []tabular.Violation {
	yearIdx := t.ColumnIndex(ColumnYear)
	dateIdx := t.ColumnIndex(ColumnYearDate)

	var violations []tabular.Violation
	for rowIdx, row := range t.Rows {
		year, yearOk := asInt(row[yearIdx])
		date, dateOk := row[dateIdx].(string)
		if !yearOk || !dateOk {
			// the cell checks already flagged these
			continue
		}
		if !strings.HasPrefix(date, strconv.Itoa(year)+"-") {
			violations = append(violations, tabular.Violation{
				Column: ColumnYearDate,
				Row:    rowIdx,
				Detail: fmt.Sprintf("%q does not fall in year %d", date, year),
			})
		}
	}
	return violations
}
