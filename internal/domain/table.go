package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// nullCell is the upstream marker for a missing value.
const nullCell = "null"

// Table is a parsed CSV file with a header row.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row maps column headers to cell values. Absent values are nil.
type Row struct {
	line    int
	columns []string
	values  []*string
}

// NewRow builds a row from header/value pairs. A nil value is absent.
func NewRow(columns []string, values []*string) Row {
	return Row{columns: columns, values: values}
}

// Get returns the value under the named column, or nil when the column is
// missing or the cell was "null".
func (r Row) Get(column string) *string {
	for i, c := range r.columns {
		if c == column && i < len(r.values) {
			return r.values[i]
		}
	}
	return nil
}

// Line is the 1-based line the row started on, or 0 for built rows.
func (r Row) Line() int { return r.line }

// ParseTable reads a header-first CSV document. Empty lines are skipped,
// "null" cells become absent values, and every row must be as wide as the
// header. name is only used for error context.
func ParseTable(name string, r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, &ParseError{File: name, Err: errors.New("empty file")}
	}
	if err != nil {
		return Table{}, csvError(name, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := Table{Columns: header}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, csvError(name, err)
		}
		line, _ := cr.FieldPos(0)
		table.Rows = append(table.Rows, Row{
			line:    line,
			columns: header,
			values:  castCells(rec),
		})
	}
	return table, nil
}

func castCells(rec []string) []*string {
	values := make([]*string, len(rec))
	for i := range rec {
		if rec[i] == nullCell {
			continue
		}
		v := rec[i]
		values[i] = &v
	}
	return values
}

func csvError(name string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{File: name, Line: pe.Line, Err: pe.Err}
	}
	return &ParseError{File: name, Err: fmt.Errorf("read csv: %w", err)}
}
