// Package ingestion streams settlement report CSV files into typed lines.
package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyReport is returned when a file has no header row.
var ErrEmptyReport = errors.New("empty settlement report")

const bom = "\uFEFF"

// Row maps header names to trimmed cell values.
type Row map[string]string

// Reader yields rows of a settlement CSV one at a time. It is single-pass.
type Reader struct {
	csv    *csv.Reader
	header []string
	line   int
}

// NewReader consumes the header row of r.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyReport
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	header[0] = strings.TrimSpace(strings.TrimPrefix(header[0], bom))

	return &Reader{csv: cr, header: header, line: 1}, nil
}

// Header returns the cleaned header names.
func (r *Reader) Header() []string {
	return r.header
}

// Line returns the number of the last record read, counting the header as 1.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next row, or io.EOF when the file is exhausted. Short rows
// are padded with empty values; cells beyond the header are dropped. A
// *csv.ParseError affects only the current record and reading may continue.
func (r *Reader) Next() (Row, error) {
	rec, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	r.line++
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", r.line, err)
	}

	row := make(Row, len(r.header))
	for i, name := range r.header {
		var v string
		if i < len(rec) {
			v = strings.TrimSpace(rec[i])
		}
		row[name] = v
	}
	return row, nil
}
