package domain

import "fmt"

// FormatError reports a required dimension, variable, group or field that is
// missing from (or malformed in) an input file.
type FormatError struct {
	Path   string // Input file path.
	Field  string // Name of the missing or malformed field.
	Reason string // Optional detail.
}

func (e *FormatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("format error in %s: %s: %s", e.Path, e.Field, e.Reason)
	}
	return fmt.Sprintf("format error in %s: missing %s", e.Path, e.Field)
}

// SchemaMismatchError reports a decoded table that violates a row or column
// invariant, or an operation referencing a column absent from a table schema.
type SchemaMismatchError struct {
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("schema mismatch on column %q: %s", e.Column, e.Reason)
}

// DecodeReport summarizes policy decisions taken while decoding a file.
//
// Dropping rows with a missing measurement (RowsDropped) and keeping only the
// first block0 value (Narrowed) are not errors.
type DecodeReport struct {
	Source               string // "grid", "blocks" or "csv".
	Path                 string
	RowsRead             int // Rows seen before filtering.
	RowsDropped          int // Rows dropped for a missing measurement.
	Narrowed             bool
	DistinctBlock0Values int
}
