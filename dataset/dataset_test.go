package dataset

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// rawRows builds n header-less records. Row i is malignant when i is odd.
func rawRows(n int) []string {
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		class := 2
		if i%2 == 1 {
			class = 4
		}
		lines[i] = fmt.Sprintf("%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d",
			1000+i, 1+i%10, 1+(i*3)%10, 1+(i*7)%10, 1+(i*5)%10, 1+(i*2)%10,
			1+(i*9)%10, 1+(i*4)%10, 1+(i*6)%10, 1+i%3, class)
	}
	return lines
}

func writeRaw(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestLoadRawAndCleanDropsMissingRows(t *testing.T) {
	lines := rawRows(10)
	parts := strings.Split(lines[3], ",")
	parts[6] = "?"
	lines[3] = strings.Join(parts, ",")
	schema := BreastCancerSchema()

	raw, err := LoadRaw(writeRaw(t, lines), schema)
	require.NoError(t, err)
	assert.Equal(t, 10, raw.NumRows())
	assert.True(t, math.IsNaN(raw.Rows[3][6]))

	cleaned, report, err := Clean(raw, schema, DefaultCleanOptions())
	require.NoError(t, err)

	assert.Equal(t, 9, cleaned.NumRows())
	assert.Equal(t, 1, report.RowsDropped)
	assert.False(t, cleaned.HasNaN())
	assert.Equal(t, -1, cleaned.ColumnIndex(schema.IDColumn))
	assert.Equal(t, schema.LabelColumn, cleaned.Columns[len(cleaned.Columns)-1])

	labels, err := cleaned.Column(schema.LabelColumn)
	require.NoError(t, err)
	counts := map[float64]int{}
	for _, v := range labels {
		counts[v]++
	}
	assert.Len(t, counts, 2)
	// rows 0..9 minus row 3 (malignant): 5 benign, 4 malignant
	assert.Equal(t, 5, counts[0])
	assert.Equal(t, 4, counts[1])
	assert.Equal(t, map[int]int{0: 5, 1: 4}, report.LabelCounts)

	// raw table is left untouched
	assert.Equal(t, 11, len(raw.Columns))
	assert.Equal(t, float64(4), raw.Rows[1][10])
}

func TestCleanedFeaturesAreNotHighlyCorrelated(t *testing.T) {
	lines := rawRows(40)
	// make Uniformity of Cell Shape track Uniformity_Of_Cell_Size
	for i := range lines {
		p := strings.Split(lines[i], ",")
		p[3] = p[2]
		lines[i] = strings.Join(p, ",")
	}
	schema := BreastCancerSchema()
	raw, err := LoadRaw(writeRaw(t, lines), schema)
	require.NoError(t, err)

	cleaned, report, err := Clean(raw, schema, DefaultCleanOptions())
	require.NoError(t, err)
	require.Len(t, report.DroppedColumns, 1)
	assert.Contains(t, []string{"Uniformity_Of_Cell_Size", "Uniformity of Cell Shape"}, report.DroppedColumns[0])

	corr := CorrelationMatrix(cleaned)
	label := cleaned.ColumnIndex(schema.LabelColumn)
	require.GreaterOrEqual(t, label, 0)
	for i := range cleaned.Columns {
		for j := 0; j < i; j++ {
			if i == label || j == label {
				continue
			}
			r := math.Abs(corr.At(i, j))
			assert.False(t, r > 0.9, "%s vs %s: r=%v", cleaned.Columns[i], cleaned.Columns[j], r)
		}
	}
}

func TestCorrelatedFeaturesTieBreak(t *testing.T) {
	tbl, err := NewTable([]string{"A", "B", "Class"}, [][]float64{
		{1, 1, 0}, {2, 2, 1}, {3, 3, 0}, {4, 4, 1},
		{5, 5, 1}, {6, 6, 0}, {7, 8, 1}, {8, 7, 0},
	})
	require.NoError(t, err)

	byLabel, err := CorrelatedFeatures(tbl, "Class", 0.9, TieBreakLabelCorrelation)
	require.NoError(t, err)
	// A is uncorrelated with the label, B slightly correlated
	assert.Equal(t, []string{"A"}, byLabel)

	byPosition, err := CorrelatedFeatures(tbl, "Class", 0.9, TieBreakPosition)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, byPosition)

	none, err := CorrelatedFeatures(tbl, "Class", 0.99, TieBreakPosition)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = CorrelatedFeatures(tbl, "Class", 1.5, TieBreakPosition)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
	_, err = CorrelatedFeatures(tbl, "Class", 0.9, TieBreak("coin"))
	assert.Error(t, err)
}

func TestCorrelatedFeaturesNeverDropsLabel(t *testing.T) {
	// A equals the label exactly
	tbl, err := NewTable([]string{"A", "Class"}, [][]float64{{0, 0}, {1, 1}, {0, 0}, {1, 1}})
	require.NoError(t, err)
	dropped, err := CorrelatedFeatures(tbl, "Class", 0.9, TieBreakPosition)
	require.NoError(t, err)
	assert.Empty(t, dropped)
}

func TestLoadRawErrors(t *testing.T) {
	schema := BreastCancerSchema()

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRaw(filepath.Join(t.TempDir(), "nope.csv"), schema)
		var se *errors.SchemaError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 0, se.Line)
	})

	t.Run("wrong field count", func(t *testing.T) {
		lines := rawRows(3)
		lines[1] = "1,2,3"
		_, err := LoadRaw(writeRaw(t, lines), schema)
		var se *errors.SchemaError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 2, se.Line)
		assert.Contains(t, se.Reason, "expected 11 fields")
	})

	t.Run("unparseable non-nullable cell", func(t *testing.T) {
		lines := rawRows(3)
		p := strings.Split(lines[2], ",")
		p[9] = "many"
		lines[2] = strings.Join(p, ",")
		_, err := LoadRaw(writeRaw(t, lines), schema)
		var se *errors.SchemaError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "Mitoses", se.Column)
		assert.Equal(t, 3, se.Line)
	})

	for _, cell := range []string{"NaN", "Inf", "-Inf"} {
		t.Run("non-finite "+cell, func(t *testing.T) {
			lines := rawRows(3)
			p := strings.Split(lines[1], ",")
			p[2] = cell
			lines[1] = strings.Join(p, ",")
			_, err := LoadRaw(writeRaw(t, lines), schema)
			var se *errors.SchemaError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, schema.Columns[2], se.Column)
			assert.Equal(t, 2, se.Line)
			assert.Contains(t, se.Reason, "non-finite")
		})
	}

	t.Run("empty file", func(t *testing.T) {
		_, err := LoadRaw(writeRaw(t, nil), schema)
		var se *errors.SchemaError
		assert.True(t, errors.As(err, &se))
	})
}

func TestCleanRejectsUnknownLabel(t *testing.T) {
	lines := rawRows(5)
	p := strings.Split(lines[4], ",")
	p[10] = "3"
	lines[4] = strings.Join(p, ",")
	schema := BreastCancerSchema()

	raw, err := LoadRaw(writeRaw(t, lines), schema)
	require.NoError(t, err)
	_, _, err = Clean(raw, schema, DefaultCleanOptions())

	var le *errors.LabelError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 5, le.Line)
	assert.Equal(t, "3", le.Value)
	assert.Equal(t, []string{"2", "4"}, le.Allowed)
}

func TestWriteReadCSVRoundTrip(t *testing.T) {
	tbl, err := NewTable([]string{"Clump_Thickness", "Marginal Adhesion", "Class"},
		[][]float64{{5, 1, 0}, {10, 2.5, 1}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out", "cleaned.csv")
	require.NoError(t, WriteCSV(path, tbl))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Clump_Thickness,Marginal Adhesion,Class\n5,1,0\n10,2.5,1\n", string(data))

	back, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, back.Columns)
	assert.Equal(t, tbl.Rows, back.Rows)
}

func TestXY(t *testing.T) {
	tbl, err := NewTable([]string{"A", "Class", "B"}, [][]float64{{1, 0, 2}, {3, 1, 4}})
	require.NoError(t, err)

	X, y, names, err := tbl.XY("Class")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)
	r, c := X.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 4.0, X.At(1, 1))
	assert.Equal(t, 1.0, y.AtVec(1))

	_, _, _, err = tbl.XY("missing")
	assert.Error(t, err)

	_, err = NewTable([]string{"A"}, [][]float64{{1, 2}})
	assert.Error(t, err)

	sub := tbl.Subset([]int{1})
	assert.Equal(t, [][]float64{{3, 1, 4}}, sub.Rows)
}

func TestReadRawNonFiniteNullableIsMissing(t *testing.T) {
	schema := BreastCancerSchema()
	lines := rawRows(4)
	p := strings.Split(lines[3], ",")
	p[schema.Index(schema.NullableColumn)] = "Inf"
	lines[3] = strings.Join(p, ",")

	raw, err := LoadRaw(writeRaw(t, lines), schema)
	require.NoError(t, err)
	cleaned, report, err := Clean(raw, schema, DefaultCleanOptions())
	require.NoError(t, err)
	assert.Len(t, cleaned.Rows, 3)
	assert.Equal(t, 1, report.RowsDropped)
}

func TestCorrelationMatrix(t *testing.T) {
	tbl := &Table{
		Columns: []string{"a", "b", "c"},
		Rows: [][]float64{
			{1, 2, 4},
			{2, 4, 1},
			{3, 6, 3},
			{4, 8, 2},
		},
	}
	c := CorrelationMatrix(tbl)
	r, cols := c.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 3, cols)
	assert.InDelta(t, 1.0, c.At(0, 1), 1e-12)
	assert.InDelta(t, c.At(0, 2), c.At(2, 0), 1e-12)
	assert.InDelta(t, 1.0, c.At(2, 2), 1e-12)
}
