package tabular

import (
	"fmt"
	"math"
	"strings"
)

type Type int

const (
	String Type = iota
	Float
	Int
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Float:
		return "float"
	case Int:
		return "int"
	}
	return "unknown"
}

// Check runs on non-null cells after the type check passed.
type Check func(v any) error

type Column struct {
	Name     string
	Type     Type
	Nullable bool
	Check    Check
}

// TableCheck validates cross-column and cross-row constraints,
// uniqueness and field agreement live here.
type TableCheck struct {
	Name  string
	Check func(t *Table) []Violation
}

type Schema struct {
	Columns []Column
	Checks  []TableCheck
}

// Violation pins one failure to a column and row. Row is -1 for
// layout-level failures.
type Violation struct {
	Column string
	Row    int
	Detail string
}

func (v Violation) String() string {
	if v.Row < 0 {
		return fmt.Sprintf("column %q: %s", v.Column, v.Detail)
	}
	return fmt.Sprintf("column %q row %d: %s", v.Column, v.Row, v.Detail)
}

// SchemaError carries every violation found in a table, validation
// never stops at the first offender.
type SchemaError struct {
	Violations []Violation
}

const maxRenderedViolations = 20

func (e *SchemaError) Error() string {
	var out strings.Builder
	fmt.Fprintf(&out, "schema validation failed with %d violations:", len(e.Violations))
	for i, v := range e.Violations {
		if i == maxRenderedViolations {
			fmt.Fprintf(&out, "\n  ... and %d more", len(e.Violations)-maxRenderedViolations)
			break
		}
		out.WriteString("\n  ")
		out.WriteString(v.String())
	}
	return out.String()
}

func cellTypeOk(expected Type, cell any) bool {
	switch expected {
	case String:
		_, ok := cell.(string)
		return ok
	case Float:
		switch cell.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case Int:
		switch n := cell.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	}
	return false
}

// Validate checks the table against the schema: exact column layout,
// then cell types, nullability and per-column checks, then the
// table-level checks. The table either passes whole or the returned
// *SchemaError enumerates every offending column and row.
func (s Schema) Validate(t *Table) error {
	var violations []Violation

	layoutOk := len(t.Columns) == len(s.Columns)
	for i, col := range s.Columns {
		if i >= len(t.Columns) {
			violations = append(violations, Violation{
				Column: col.Name,
				Row:    -1,
				Detail: "column is missing",
			})
			layoutOk = false
			continue
		}
		if t.Columns[i] != col.Name {
			violations = append(violations, Violation{
				Column: col.Name,
				Row:    -1,
				Detail: fmt.Sprintf("expected at position %d, found %q", i, t.Columns[i]),
			})
			layoutOk = false
		}
	}
	for i := len(s.Columns); i < len(t.Columns); i++ {
		violations = append(violations, Violation{
			Column: t.Columns[i],
			Row:    -1,
			Detail: "unexpected column",
		})
		layoutOk = false
	}

	// cell checks resolve columns by name so a misordered table still
	// reports its value-level problems
	for _, col := range s.Columns {
		idx := t.ColumnIndex(col.Name)
		if idx < 0 {
			continue
		}
		for rowIdx, row := range t.Rows {
			if idx >= len(row) {
				violations = append(violations, Violation{
					Column: col.Name,
					Row:    rowIdx,
					Detail: "row is too short",
				})
				continue
			}
			cell := row[idx]
			if cell == nil {
				if !col.Nullable {
					violations = append(violations, Violation{
						Column: col.Name,
						Row:    rowIdx,
						Detail: "null in non-nullable column",
					})
				}
				continue
			}
			if !cellTypeOk(col.Type, cell) {
				violations = append(violations, Violation{
					Column: col.Name,
					Row:    rowIdx,
					Detail: fmt.Sprintf("expected %s, got %T (%v)", col.Type, cell, cell),
				})
				continue
			}
			if col.Check != nil {
				err := col.Check(cell)
				if err != nil {
					violations = append(violations, Violation{
						Column: col.Name,
						Row:    rowIdx,
						Detail: err.Error(),
					})
				}
			}
		}
	}

	// table checks assume the layout they were written against
	if layoutOk {
		for _, check := range s.Checks {
			violations = append(violations, check.Check(t)...)
		}
	}

	if len(violations) > 0 {
		return &SchemaError{Violations: violations}
	}
	return nil
}
