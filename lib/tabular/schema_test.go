package tabular

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		Columns: []Column{
			{Name: "variable", Type: String},
			{Name: "value", Type: Float, Nullable: true},
			{Name: "year", Type: Int, Check: func(v any) error {
				year, ok := v.(int)
				if !ok {
					year = int(v.(float64))
				}
				if year < 2000 {
					return fmt.Errorf("year %d is before 2000", year)
				}
				return nil
			}},
		},
		Checks: []TableCheck{
			{
				Name: "unique variable",
				Check: func(t *Table) []Violation {
					var out []Violation
					seen := map[string]int{}
					idx := t.ColumnIndex("variable")
					for rowIdx, row := range t.Rows {
						name, _ := row[idx].(string)
						if firstRow, dup := seen[name]; dup {
							out = append(out, Violation{
								Column: "variable",
								Row:    rowIdx,
								Detail: fmt.Sprintf("duplicate of row %d", firstRow),
							})
							continue
						}
						seen[name] = rowIdx
					}
					return out
				},
			},
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	schema := testSchema()

	tbl := NewTable("variable", "value", "year")
	require.NoError(t, tbl.AppendRow("S1810_C02_001E", 73887.0, 2018))
	require.NoError(t, tbl.AppendRow("S1810_C01_001E", nil, 2015))
	// ints are fine where floats are expected
	require.NoError(t, tbl.AppendRow("B02001_002E", 1528, 2016))

	require.NoError(t, schema.Validate(tbl))
}

func TestValidateRejectsLayout(t *testing.T) {
	schema := testSchema()

	{
		// missing column
		tbl := NewTable("variable", "value")
		err := schema.Validate(tbl)
		require.Error(t, err)

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		require.Len(t, schemaErr.Violations, 1)
		require.Equal(t, "year", schemaErr.Violations[0].Column)
		require.Equal(t, -1, schemaErr.Violations[0].Row)
	}

	{
		// extra column
		tbl := NewTable("variable", "value", "year", "extra")
		err := schema.Validate(tbl)

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		require.Len(t, schemaErr.Violations, 1)
		require.Equal(t, "extra", schemaErr.Violations[0].Column)
	}

	{
		// misordered columns still get cell checks by name
		tbl := NewTable("value", "variable", "year")
		require.NoError(t, tbl.AppendRow(nil, 12, 2018))

		err := schema.Validate(tbl)
		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)

		var cellViolations int
		for _, v := range schemaErr.Violations {
			if v.Row == 0 && v.Column == "variable" {
				cellViolations++
			}
		}
		require.Equal(t, 1, cellViolations, "expected the int-typed variable cell to be flagged")
	}
}

func TestValidateRejectsCells(t *testing.T) {
	schema := testSchema()

	tbl := NewTable("variable", "value", "year")
	require.NoError(t, tbl.AppendRow(nil, "not a number", 1990))
	require.NoError(t, tbl.AppendRow("B02001_002E", 5.0, 2018))
	require.NoError(t, tbl.AppendRow("B02001_002E", 6.0, 2018))

	err := schema.Validate(tbl)
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)

	byDetail := map[string]Violation{}
	for _, v := range schemaErr.Violations {
		byDetail[v.Detail] = v
	}

	require.Len(t, schemaErr.Violations, 4)
	require.Contains(t, byDetail, "null in non-nullable column")
	require.Contains(t, byDetail, `expected float, got string (not a number)`)
	require.Contains(t, byDetail, "year 1990 is before 2000")
	require.Contains(t, byDetail, "duplicate of row 1")
	require.Equal(t, 2, byDetail["duplicate of row 1"].Row)
}

func TestSchemaErrorRendering(t *testing.T) {
	err := &SchemaError{}
	for i := range 25 {
		err.Violations = append(err.Violations, Violation{
			Column: "value",
			Row:    i,
			Detail: "bad",
		})
	}
	rendered := err.Error()
	require.Contains(t, rendered, "25 violations")
	require.Contains(t, rendered, "... and 5 more")
}
