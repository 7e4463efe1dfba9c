package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/bcpipeline/pkg/errors"
)

// LoadRaw reads the header-less raw file described by schema.
//
// Cells of the nullable column that do not parse as numbers (the "?"
// placeholder, empty strings) become NaN. Any other unparseable cell, or a
// record with the wrong number of fields, is a *errors.SchemaError. An
// unparseable class value is a *errors.LabelError.
func LoadRaw(path string, schema Schema) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewSchemaError(path, 0, "", "file not found")
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return ReadRaw(f, path, schema)
}

// ReadRaw is LoadRaw over an io.Reader; name is used in error messages.
func ReadRaw(r io.Reader, name string, schema Schema) (*Table, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	nullable := schema.Index(schema.NullableColumn)
	label := schema.Index(schema.LabelColumn)
	t := &Table{Columns: append([]string(nil), schema.Columns...)}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewSchemaError(name, parseErrorLine(err), "", err.Error())
		}
		line, _ := reader.FieldPos(0)
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(schema.Columns) {
			return nil, errors.NewSchemaError(name, line, "",
				fmt.Sprintf("expected %d fields (%s), got %d",
					len(schema.Columns), strings.Join(schema.Columns, ", "), len(rec)))
		}

		row := make([]float64, len(rec))
		for j, cell := range rec {
			cell = strings.TrimSpace(cell)
			v, perr := strconv.ParseFloat(cell, 64)
			finite := perr == nil && !math.IsNaN(v) && !math.IsInf(v, 0)
			switch {
			case finite:
				row[j] = v
			case j == nullable:
				row[j] = math.NaN()
			case j == label:
				return nil, errors.NewLabelError(line, cell, schema.AllowedLabels())
			case perr == nil:
				return nil, errors.NewSchemaError(name, line, schema.Columns[j],
					fmt.Sprintf("non-finite value %q", cell))
			default:
				return nil, errors.NewSchemaError(name, line, schema.Columns[j],
					fmt.Sprintf("cannot parse %q as a number", cell))
			}
		}
		t.Rows = append(t.Rows, row)
		t.lines = append(t.lines, line)
	}

	if len(t.Rows) == 0 {
		return nil, errors.NewSchemaError(name, 0, "", "no records")
	}
	return t, nil
}

// ReadCSV reads a table with a header row, as written by WriteCSV.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewSchemaError(path, 0, "", "file not found")
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewSchemaError(path, 1, "", "missing header")
	}
	t := &Table{Columns: header}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewSchemaError(path, parseErrorLine(err), "", err.Error())
		}
		line, _ := reader.FieldPos(0)
		row := make([]float64, len(rec))
		for j, cell := range rec {
			v, perr := strconv.ParseFloat(cell, 64)
			if perr != nil {
				return nil, errors.NewSchemaError(path, line, header[j], fmt.Sprintf("cannot parse %q as a number", cell))
			}
			row[j] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes t with a header row, creating the parent directory.
// Integral values are written without a decimal point.
func WriteCSV(path string, t *Table) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}

	w := csv.NewWriter(f)
	if err := w.Write(t.Columns); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write header")
	}
	rec := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for j, v := range r {
			rec[j] = FormatValue(v)
		}
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return errors.Wrap(err, "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "flush csv")
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

func parseErrorLine(err error) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}

// FormatValue renders v with the shortest representation that round-trips.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
