// Package csv reads and writes flat tables as CSV.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"go.ngs.io/metnorm/internal/domain"
)

const source = "csv"

// Write writes the table with a header row of column names. Dates are
// written as YYYY-MM-DD.
func Write(w io.Writer, t *domain.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	cols := t.Columns()
	record := make([]string, len(cols))
	for r := 0; r < t.Len(); r++ {
		for i, cell := range t.Row(r) {
			record[i] = formatCell(cols[i].Kind, cell)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record %d: %w", r, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the table to path, replacing any existing file.
func WriteFile(path string, t *domain.Table) (err error) {
	//nolint:gosec // G304: path is chosen by the operator.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, t)
}

func formatCell(kind domain.Kind, c domain.Cell) string {
	if kind == domain.KindDate {
		return c.Date.String()
	}
	return strconv.FormatFloat(c.Num, 'f', -1, 64)
}

// Load reads a CSV previously written by Write. A column becomes a date
// column when every value is a YYYY-MM-DD date; other columns must be numeric.
func Load(path string) (*domain.Table, *domain.DecodeReport, error) {
	//nolint:gosec // G304: path is resolved by the caller.
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	table, err := Read(file)
	if err != nil {
		var fe *domain.FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return nil, nil, err
	}
	return table, &domain.DecodeReport{Source: source, Path: path, RowsRead: table.Len()}, nil
}

// Read parses CSV from r. See Load.
func Read(r io.Reader) (*domain.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.FormatError{Field: "header"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	// csv.Reader enforces a constant field count after the header.
	records, err := reader.ReadAll()
	if err != nil {
		return nil, &domain.SchemaMismatchError{Reason: err.Error()}
	}

	cols := make([]domain.Column, len(header))
	for i, name := range header {
		cols[i] = domain.Column{Name: name, Kind: columnKind(records, i)}
	}
	table, err := domain.NewTable(cols...)
	if err != nil {
		return nil, err
	}

	cells := make([]domain.Cell, len(cols))
	for r, record := range records {
		for i, raw := range record {
			raw = strings.TrimSpace(raw)
			if cols[i].Kind == domain.KindDate {
				d, _ := civil.ParseDate(raw)
				cells[i] = domain.DateCell(d)
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &domain.FormatError{
					Field:  cols[i].Name,
					Reason: fmt.Sprintf("row %d: invalid number %q", r+1, raw),
				}
			}
			cells[i] = domain.Float(v)
		}
		if err := table.Append(cells...); err != nil {
			return nil, err
		}
	}
	return table, nil
}

func columnKind(records [][]string, i int) domain.Kind {
	if len(records) == 0 {
		return domain.KindFloat
	}
	for _, record := range records {
		if _, err := civil.ParseDate(strings.TrimSpace(record[i])); err != nil {
			return domain.KindFloat
		}
	}
	return domain.KindDate
}
