package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
)

// Canonical column names produced by the decoders.
const (
	ColLatitude    = "Latitude"
	ColLongitude   = "Longitude"
	ColDate        = "Date"
	ColPredictedAt = "Predicted_at_time"
	ColTemperature = "Temperature"
	ColStartDate   = "start_date"
)

// Kind is the type of the values held by a column.
type Kind int

const (
	// KindFloat columns hold float64 values.
	KindFloat Kind = iota
	// KindDate columns hold calendar dates.
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Column describes one named, typed column of a Table.
type Column struct {
	Name string
	Kind Kind
}

// Cell holds one value. Only the field matching the column Kind is meaningful.
type Cell struct {
	Num  float64
	Date civil.Date
}

// Float returns a cell for a KindFloat column.
func Float(v float64) Cell { return Cell{Num: v} }

// DateCell returns a cell for a KindDate column.
func DateCell(d civil.Date) Cell { return Cell{Date: d} }

// Observation is one decoded (location, time, value) record.
type Observation struct {
	Latitude    float64
	Longitude   float64
	Date        civil.Date  // Valid (observation) date.
	PredictedAt *civil.Date // Issuance date, forecast data only.
	Value       float64     // Already unit-converted, never NaN.
}

// Table is an ordered, row-oriented collection of records sharing a fixed schema.
type Table struct {
	columns []Column
	index   map[string]int
	rows    [][]Cell
}

// NewTable creates an empty table with the given schema.
func NewTable(columns ...Column) (*Table, error) {
	t := &Table{
		columns: make([]Column, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	copy(t.columns, columns)
	for i, c := range columns {
		if c.Name == "" {
			return nil, &SchemaMismatchError{Reason: fmt.Sprintf("column %d has no name", i)}
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, &SchemaMismatchError{Column: c.Name, Reason: "duplicate column"}
		}
		t.index[c.Name] = i
	}
	return t, nil
}

// ObservationTable builds a table in the canonical grid schema. The
// Predicted_at_time column is only part of the schema when withPredicted is set.
// A valueColumn that repeats a canonical name is a SchemaMismatchError.
func ObservationTable(obs []Observation, valueColumn string, withPredicted bool) (*Table, error) {
	cols := []Column{
		{Name: ColLatitude, Kind: KindFloat},
		{Name: ColLongitude, Kind: KindFloat},
		{Name: ColDate, Kind: KindDate},
	}
	if withPredicted {
		cols = append(cols, Column{Name: ColPredictedAt, Kind: KindDate})
	}
	cols = append(cols, Column{Name: valueColumn, Kind: KindFloat})

	t, err := NewTable(cols...)
	if err != nil {
		return nil, err
	}
	t.rows = make([][]Cell, 0, len(obs))
	for _, o := range obs {
		row := []Cell{Float(o.Latitude), Float(o.Longitude), DateCell(o.Date)}
		if withPredicted {
			var p civil.Date
			if o.PredictedAt != nil {
				p = *o.PredictedAt
			}
			row = append(row, DateCell(p))
		}
		row = append(row, Float(o.Value))
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// Columns returns a copy of the schema.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// ColumnNames returns the column names in schema order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row returns the cells of row i. The slice must not be modified.
func (t *Table) Row(i int) []Cell { return t.rows[i] }

// Append adds a row. The number of cells must match the schema width.
func (t *Table) Append(cells ...Cell) error {
	if len(cells) != len(t.columns) {
		return &SchemaMismatchError{
			Reason: fmt.Sprintf("row has %d cells, schema has %d columns", len(cells), len(t.columns)),
		}
	}
	row := make([]Cell, len(cells))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return nil
}

// Has reports whether the schema contains a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Lookup returns the position and description of a column.
func (t *Table) Lookup(name string) (int, Column, error) {
	i, ok := t.index[name]
	if !ok {
		return 0, Column{}, &SchemaMismatchError{Column: name, Reason: "column not in schema"}
	}
	return i, t.columns[i], nil
}

func (t *Table) lookupKind(name string, kind Kind) (int, error) {
	i, c, err := t.Lookup(name)
	if err != nil {
		return 0, err
	}
	if c.Kind != kind {
		return 0, &SchemaMismatchError{Column: name, Reason: fmt.Sprintf("expected %s column, got %s", kind, c.Kind)}
	}
	return i, nil
}

// Observations converts a table in the canonical grid schema back to
// observations. Rows with a NaN value are skipped.
func (t *Table) Observations(valueColumn string) ([]Observation, error) {
	latCol, err := t.FindColumn(LatitudeColumns...)
	if err != nil {
		return nil, err
	}
	lonCol, err := t.FindColumn(LongitudeColumns...)
	if err != nil {
		return nil, err
	}
	dateCol, err := t.FindColumn(ColDate, ColStartDate)
	if err != nil {
		return nil, err
	}
	li, err := t.lookupKind(latCol, KindFloat)
	if err != nil {
		return nil, err
	}
	oi, err := t.lookupKind(lonCol, KindFloat)
	if err != nil {
		return nil, err
	}
	di, err := t.lookupKind(dateCol, KindDate)
	if err != nil {
		return nil, err
	}
	vi, err := t.lookupKind(valueColumn, KindFloat)
	if err != nil {
		return nil, err
	}
	pi := -1
	if t.Has(ColPredictedAt) {
		if pi, err = t.lookupKind(ColPredictedAt, KindDate); err != nil {
			return nil, err
		}
	}

	out := make([]Observation, 0, len(t.rows))
	for _, row := range t.rows {
		if math.IsNaN(row[vi].Num) {
			continue
		}
		o := Observation{
			Latitude:  row[li].Num,
			Longitude: row[oi].Num,
			Date:      row[di].Date,
			Value:     row[vi].Num,
		}
		if pi >= 0 {
			p := row[pi].Date
			o.PredictedAt = &p
		}
		out = append(out, o)
	}
	return out, nil
}

// Floats returns the values of a float column in row order.
func (t *Table) Floats(name string) ([]float64, error) {
	i, err := t.lookupKind(name, KindFloat)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i].Num
	}
	return out, nil
}

// Dates returns the values of a date column in row order.
func (t *Table) Dates(name string) ([]civil.Date, error) {
	i, err := t.lookupKind(name, KindDate)
	if err != nil {
		return nil, err
	}
	out := make([]civil.Date, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i].Date
	}
	return out, nil
}

// FilterYears returns a new table holding the rows whose date column falls in
// one of the given years. Row order is preserved.
func (t *Table) FilterYears(column string, years []int) (*Table, error) {
	i, err := t.lookupKind(column, KindDate)
	if err != nil {
		return nil, err
	}
	want := make(map[int]bool, len(years))
	for _, y := range years {
		want[y] = true
	}

	out, _ := NewTable(t.columns...)
	for _, row := range t.rows {
		if want[row[i].Date.Year] {
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

// DateRange returns the earliest and latest date of a date column.
func (t *Table) DateRange(column string) (civil.Date, civil.Date, error) {
	i, err := t.lookupKind(column, KindDate)
	if err != nil {
		return civil.Date{}, civil.Date{}, err
	}
	if len(t.rows) == 0 {
		return civil.Date{}, civil.Date{}, &SchemaMismatchError{Column: column, Reason: "table has no rows"}
	}
	lo, hi := t.rows[0][i].Date, t.rows[0][i].Date
	for _, row := range t.rows[1:] {
		d := row[i].Date
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	return lo, hi, nil
}

// GroupMean groups rows by the float key columns and averages the value
// column within each group. The result has the key columns followed by the
// value column, one row per group in order of first appearance. NaN values do
// not contribute; a group with no finite value averages to NaN.
func (t *Table) GroupMean(keys []string, value string) (*Table, error) {
	keyIdx := make([]int, len(keys))
	cols := make([]Column, 0, len(keys)+1)
	for k, name := range keys {
		i, err := t.lookupKind(name, KindFloat)
		if err != nil {
			return nil, err
		}
		keyIdx[k] = i
		cols = append(cols, t.columns[i])
	}
	vi, err := t.lookupKind(value, KindFloat)
	if err != nil {
		return nil, err
	}
	cols = append(cols, t.columns[vi])

	out, err := NewTable(cols...)
	if err != nil {
		return nil, err
	}

	type acc struct {
		row   int
		sum   float64
		count int
	}
	groups := make(map[string]*acc)
	var sb strings.Builder
	for _, row := range t.rows {
		sb.Reset()
		for _, i := range keyIdx {
			k := row[i].Num
			if k == 0 {
				k = 0 // Folds -0 into +0.
			}
			sb.WriteString(strconv.FormatUint(math.Float64bits(k), 16))
			sb.WriteByte('|')
		}
		key := sb.String()

		g, ok := groups[key]
		if !ok {
			cells := make([]Cell, 0, len(cols))
			for _, i := range keyIdx {
				cells = append(cells, row[i])
			}
			cells = append(cells, Float(math.NaN()))
			out.rows = append(out.rows, cells)
			g = &acc{row: len(out.rows) - 1}
			groups[key] = g
		}
		if v := row[vi].Num; !math.IsNaN(v) {
			g.sum += v
			g.count++
		}
	}

	last := len(cols) - 1
	for _, g := range groups {
		if g.count > 0 {
			out.rows[g.row][last] = Float(g.sum / float64(g.count))
		}
	}
	return out, nil
}

// FindColumn returns the first candidate present in the schema.
func (t *Table) FindColumn(candidates ...string) (string, error) {
	for _, name := range candidates {
		if t.Has(name) {
			return name, nil
		}
	}
	return "", &SchemaMismatchError{
		Column: strings.Join(candidates, "|"),
		Reason: "none of the candidate columns is in the schema",
	}
}
