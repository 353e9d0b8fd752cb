package blocks

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"go.ngs.io/metnorm/internal/domain"
)

const frameSource = "frame"

// valueTypeAttr marks an int64 values array that pandas wrote from a
// datetime64 column.
const valueTypeAttr = "value_type"

// ReadFrame opens any frame written by pandas' fixed HDF format and returns
// every block as columns. Unlike Read, datetime blocks keep one date per row.
func (r *Reader) ReadFrame(path string) (*domain.Table, *domain.DecodeReport, error) {
	return r.open(path, frameSource, r.ReadFrameGroup)
}

// frameColumn is one column gathered from a block before the table is built.
type frameColumn struct {
	name   string
	floats []float64
	dates  []civil.Date
	isDate bool
	// valid is false for rows holding NaT.
	valid []bool
}

func (c *frameColumn) len() int {
	if c.isDate {
		return len(c.dates)
	}
	return len(c.floats)
}

// ReadFrameGroup walks block0, block1, ... under the layout group until a
// block is missing. Columns follow axis0 when it names every item, block
// order otherwise. Rows with a missing date (NaT) are dropped and counted.
func (r *Reader) ReadFrameGroup(path string, root api.Group) (*domain.Table, *domain.DecodeReport, error) {
	g, err := root.GetGroup(r.layout.Group)
	if err != nil {
		return nil, nil, &domain.FormatError{Path: path, Field: r.layout.Group, Reason: err.Error()}
	}
	defer g.Close()

	field := func(name string) string { return r.layout.Group + "/" + name }

	var columns []*frameColumn
	rows := -1
	for i := 0; ; i++ {
		itemsName, valuesName := fmt.Sprintf("block%d_items", i), fmt.Sprintf("block%d_values", i)
		items, err := g.GetVariable(itemsName)
		if err != nil || items == nil {
			if i == 0 {
				return nil, nil, &domain.FormatError{Path: path, Field: field(itemsName)}
			}
			break
		}
		values, err := g.GetVariable(valuesName)
		if err != nil || values == nil {
			return nil, nil, &domain.FormatError{Path: path, Field: field(valuesName)}
		}

		names, err := decodeNames(items.Values)
		if err != nil {
			return nil, nil, &domain.FormatError{Path: path, Field: field(itemsName), Reason: err.Error()}
		}
		block, err := readBlock(names, values)
		if err != nil {
			return nil, nil, &domain.FormatError{Path: path, Field: field(valuesName), Reason: err.Error()}
		}
		n := block[0].len()
		if rows >= 0 && n != rows {
			return nil, nil, &domain.SchemaMismatchError{
				Column: valuesName,
				Reason: fmt.Sprintf("block has %d rows, earlier blocks have %d", n, rows),
			}
		}
		rows = n
		columns = append(columns, block...)
	}

	// The row index is axis1 for a flat index, axis1_label0 for a MultiIndex.
	for _, name := range []string{"axis1", "axis1_label0"} {
		v, err := g.GetVariable(name)
		if err != nil || v == nil {
			continue
		}
		if n := length(v.Values); n != rows {
			return nil, nil, &domain.SchemaMismatchError{
				Column: name,
				Reason: fmt.Sprintf("index has %d labels, blocks have %d rows", n, rows),
			}
		}
		break
	}

	columns = orderColumns(g, columns)
	cols := make([]domain.Column, len(columns))
	for i, c := range columns {
		cols[i] = domain.Column{Name: c.name, Kind: domain.KindFloat}
		if c.isDate {
			cols[i].Kind = domain.KindDate
		}
	}
	table, err := domain.NewTable(cols...)
	if err != nil {
		return nil, nil, err
	}

	report := &domain.DecodeReport{Source: frameSource, Path: path, RowsRead: rows}
	cells := make([]domain.Cell, len(columns))
rowLoop:
	for i := 0; i < rows; i++ {
		for j, c := range columns {
			if !c.isDate {
				cells[j] = domain.Float(c.floats[i])
				continue
			}
			if !c.valid[i] {
				report.RowsDropped++
				continue rowLoop
			}
			cells[j] = domain.DateCell(c.dates[i])
		}
		if err := table.Append(cells...); err != nil {
			return nil, nil, err
		}
	}
	if report.RowsDropped > 0 {
		r.logger.Warn("dropped rows with a missing date",
			"path", path, "dropped", report.RowsDropped, "read", report.RowsRead)
	}
	return table, report, nil
}

// readBlock splits a values array into one column per item. Values are
// stored row-major with one row per record.
func readBlock(names []string, v *api.Variable) ([]*frameColumn, error) {
	toTime, isDate, err := datetimeUnit(v.Attributes)
	if err != nil {
		return nil, err
	}

	columns := make([]*frameColumn, len(names))
	for j, name := range names {
		columns[j] = &frameColumn{name: name, isDate: isDate}
	}

	if !isDate {
		rows, err := toFloatRows(v.Values)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			if len(row) != len(names) {
				return nil, fmt.Errorf("row %d has %d values, block has %d columns", i, len(row), len(names))
			}
			for j, f := range row {
				columns[j].floats = append(columns[j].floats, f)
			}
		}
		return columns, nil
	}

	stamps, err := toInt64s(v.Values)
	if err != nil {
		return nil, err
	}
	if len(stamps)%len(names) != 0 {
		return nil, fmt.Errorf("%d values do not fill %d columns", len(stamps), len(names))
	}
	for k, s := range stamps {
		c := columns[k%len(names)]
		if s == nat {
			c.dates = append(c.dates, civil.Date{})
			c.valid = append(c.valid, false)
			continue
		}
		c.dates = append(c.dates, civil.DateOf(toTime(s).UTC()))
		c.valid = append(c.valid, true)
	}
	return columns, nil
}

// datetimeUnit reads the value_type attribute. It reports whether the block
// holds datetimes and, if so, how to turn a stored integer into a time.
// pandas writes "datetime64", newer versions append the unit and time zone,
// as in "datetime64[ns, UTC]".
func datetimeUnit(attrs api.AttributeMap) (func(int64) time.Time, bool, error) {
	if attrs == nil {
		return nil, false, nil
	}
	raw, ok := attrs.Get(valueTypeAttr)
	if !ok {
		return nil, false, nil
	}
	var vt string
	switch v := raw.(type) {
	case string:
		vt = v
	case []byte:
		vt = string(v)
	case []string:
		if len(v) == 1 {
			vt = v[0]
		}
	}
	vt = trimName(vt)
	if !strings.HasPrefix(vt, "datetime64") {
		return nil, false, nil
	}

	unit := "ns"
	if rest := strings.TrimPrefix(vt, "datetime64"); rest != "" {
		rest = strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
		unit, _, _ = strings.Cut(rest, ",")
		unit = strings.TrimSpace(unit)
	}
	switch unit {
	case "ns":
		return func(v int64) time.Time { return time.Unix(0, v) }, true, nil
	case "us":
		return time.UnixMicro, true, nil
	case "ms":
		return time.UnixMilli, true, nil
	case "s":
		return func(v int64) time.Time { return time.Unix(v, 0) }, true, nil
	case "D":
		return func(v int64) time.Time { return time.Unix(0, 0).AddDate(0, 0, int(v)) }, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported datetime unit %q", unit)
	}
}

// orderColumns reorders block columns to the frame's axis0 when it lists
// exactly the block items.
func orderColumns(g api.Group, columns []*frameColumn) []*frameColumn {
	v, err := g.GetVariable("axis0")
	if err != nil || v == nil {
		return columns
	}
	order, err := decodeNames(v.Values)
	if err != nil || len(order) != len(columns) {
		return columns
	}
	byName := make(map[string]*frameColumn, len(columns))
	for _, c := range columns {
		byName[c.name] = c
	}
	out := make([]*frameColumn, 0, len(columns))
	for _, name := range order {
		c, ok := byName[name]
		if !ok {
			return columns
		}
		out = append(out, c)
	}
	return out
}

// length returns the number of rows of an array of any depth.
func length(values any) int {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 1
	}
	return rv.Len()
}
