package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// Table is a named, row-major numeric table.
type Table struct {
	Columns []string
	Rows    [][]float64

	// source line of each row in the raw file; nil for derived tables
	lines []int
}

// NewTable creates a table. Every row must have len(columns) values.
func NewTable(columns []string, rows [][]float64) (*Table, error) {
	for _, r := range rows {
		if len(r) != len(columns) {
			return nil, errors.NewDimensionError("dataset.NewTable", len(columns), len(r), 1)
		}
	}
	return &Table{Columns: columns, Rows: rows}, nil
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, error) {
	j := t.ColumnIndex(name)
	if j < 0 {
		return nil, errors.NewValueError("dataset.Column", "unknown column "+name)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[j]
	}
	return out, nil
}

// line returns the raw-file line of row i, or i+1 when unknown.
func (t *Table) line(i int) int {
	if t.lines != nil {
		return t.lines[i]
	}
	return i + 1
}

// DropColumns returns a table without the named columns. Unknown names are
// ignored.
func (t *Table) DropColumns(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []int
	var cols []string
	for j, c := range t.Columns {
		if !drop[c] {
			keep = append(keep, j)
			cols = append(cols, c)
		}
	}
	rows := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		nr := make([]float64, len(keep))
		for k, j := range keep {
			nr[k] = r[j]
		}
		rows[i] = nr
	}
	return &Table{Columns: cols, Rows: rows, lines: t.lines}
}

// DropNaNRows returns a table without rows containing NaN, and the number
// of rows removed.
func (t *Table) DropNaNRows() (*Table, int) {
	out := &Table{Columns: t.Columns}
	if t.lines != nil {
		out.lines = make([]int, 0, len(t.lines))
	}
	for i, r := range t.Rows {
		if hasNaN(r) {
			continue
		}
		out.Rows = append(out.Rows, r)
		if t.lines != nil {
			out.lines = append(out.lines, t.lines[i])
		}
	}
	return out, len(t.Rows) - len(out.Rows)
}

// Subset returns the rows at idx, in that order.
func (t *Table) Subset(idx []int) *Table {
	rows := make([][]float64, len(idx))
	for k, i := range idx {
		rows[k] = t.Rows[i]
	}
	return &Table{Columns: t.Columns, Rows: rows}
}

// HasNaN reports whether any cell is NaN.
func (t *Table) HasNaN() bool {
	for _, r := range t.Rows {
		if hasNaN(r) {
			return true
		}
	}
	return false
}

func hasNaN(r []float64) bool {
	for _, v := range r {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Dense returns the table as a gonum matrix.
func (t *Table) Dense() *mat.Dense {
	m := mat.NewDense(max(len(t.Rows), 1), max(len(t.Columns), 1), nil)
	if len(t.Rows) == 0 || len(t.Columns) == 0 {
		return m
	}
	for i, r := range t.Rows {
		m.SetRow(i, r)
	}
	return m
}

// XY splits the table into a feature matrix and a label vector. Feature
// columns keep their table order.
func (t *Table) XY(label string) (*mat.Dense, *mat.VecDense, []string, error) {
	j := t.ColumnIndex(label)
	if j < 0 {
		return nil, nil, nil, errors.NewValueError("dataset.XY", "label column "+label+" not found")
	}
	if len(t.Rows) == 0 {
		return nil, nil, nil, errors.Wrap(errors.ErrEmptyData, "dataset.XY")
	}
	if len(t.Columns) < 2 {
		return nil, nil, nil, errors.NewValueError("dataset.XY", "no feature columns")
	}

	names := make([]string, 0, len(t.Columns)-1)
	for k, c := range t.Columns {
		if k != j {
			names = append(names, c)
		}
	}
	X := mat.NewDense(len(t.Rows), len(names), nil)
	y := mat.NewVecDense(len(t.Rows), nil)
	for i, r := range t.Rows {
		col := 0
		for k, v := range r {
			if k == j {
				y.SetVec(i, v)
				continue
			}
			X.Set(i, col, v)
			col++
		}
	}
	return X, y, names, nil
}
