// Package blocks reconstructs tables from pandas-style block HDF5 files.
//
// Such a file stores a table under a top-level group as separate blocks: each
// block has an items array (column names, fixed-length byte strings) and a
// values array (one row per record). Read understands the two-block layout
// used by forecast submodel files: block0 holds a single start date shared by
// every row, block1 holds the numeric columns. ReadFrame reads any number of
// numeric and datetime blocks.
package blocks

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"go.ngs.io/metnorm/internal/domain"
	"go.ngs.io/metnorm/internal/observability"
)

const source = "blocks"

// nat is pandas' missing datetime (NaT) as stored in an int64 block.
const nat = math.MinInt64

// Layout names the group and arrays the reader expects.
type Layout struct {
	Group        string
	Block0Items  string
	Block0Values string
	Block1Items  string
	Block1Values string

	// DateColumn is the name of the broadcast block0 date column.
	DateColumn string
}

// DefaultLayout returns the layout written by pandas' fixed HDF format.
func DefaultLayout() Layout {
	return Layout{
		Group:        "data",
		Block0Items:  "block0_items",
		Block0Values: "block0_values",
		Block1Items:  "block1_items",
		Block1Values: "block1_values",
		DateColumn:   domain.ColStartDate,
	}
}

// Reader reads block HDF5 files. It holds no per-file state.
type Reader struct {
	layout  Layout
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReader creates a new block file reader.
func NewReader(layout Layout, logger *slog.Logger, metrics *observability.Metrics) *Reader {
	return &Reader{
		layout:  layout,
		logger:  logger,
		metrics: metrics,
	}
}

// Read opens a block file and returns its table: the block1 columns plus the
// block0 date broadcast onto every row.
func (r *Reader) Read(path string) (*domain.Table, *domain.DecodeReport, error) {
	return r.open(path, source, r.ReadGroup)
}

type groupReader func(path string, root api.Group) (*domain.Table, *domain.DecodeReport, error)

// open runs read on the file's root group and records metrics under src.
func (r *Reader) open(path, src string, read groupReader) (*domain.Table, *domain.DecodeReport, error) {
	start := time.Now()
	defer func() {
		r.metrics.DecodeDuration.WithLabelValues(src).Observe(time.Since(start).Seconds())
	}()

	root, err := netcdf.Open(path)
	if err != nil {
		err = fmt.Errorf("failed to open block file %s: %w", path, err)
		r.metrics.RecordError(src, err)
		return nil, nil, err
	}
	defer root.Close()

	table, report, err := read(path, root)
	if err != nil {
		r.metrics.RecordError(src, err)
		return nil, nil, err
	}
	r.metrics.RecordReport(report, table.Len())
	return table, report, nil
}

// ReadGroup reconstructs the table from an already opened root group. path is
// only used in errors and diagnostics.
func (r *Reader) ReadGroup(path string, root api.Group) (*domain.Table, *domain.DecodeReport, error) {
	l := r.layout
	g, err := root.GetGroup(l.Group)
	if err != nil {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Group, Reason: err.Error()}
	}
	defer g.Close()

	// Check the whole layout before decoding anything.
	vars := make(map[string]*api.Variable, 4)
	for _, name := range []string{l.Block0Items, l.Block0Values, l.Block1Items, l.Block1Values} {
		v, err := g.GetVariable(name)
		if err != nil || v == nil {
			return nil, nil, &domain.FormatError{Path: path, Field: l.Group + "/" + name}
		}
		vars[name] = v
	}

	// block1: column names and the row matrix.
	names, err := decodeNames(vars[l.Block1Items].Values)
	if err != nil {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Block1Items, Reason: err.Error()}
	}
	rows, err := toFloatRows(vars[l.Block1Values].Values)
	if err != nil {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Block1Values, Reason: err.Error()}
	}
	if len(rows) == 0 {
		return nil, nil, &domain.SchemaMismatchError{Column: l.Block1Values, Reason: "block1 has no rows"}
	}

	// block0: a single start date shared by every row.
	if _, err := decodeNames(vars[l.Block0Items].Values); err != nil {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Block0Items, Reason: err.Error()}
	}
	stamps, err := toInt64s(vars[l.Block0Values].Values)
	if err != nil {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Block0Values, Reason: err.Error()}
	}
	if len(stamps) == 0 {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Block0Values, Reason: "block0 has no value"}
	}

	report := &domain.DecodeReport{
		Source:               source,
		Path:                 path,
		RowsRead:             len(rows),
		DistinctBlock0Values: distinct(stamps),
	}
	if report.DistinctBlock0Values > 1 {
		report.Narrowed = true
		r.logger.Warn("block0 holds more than one value, using the first",
			"path", path, "distinct", report.DistinctBlock0Values)
	}
	startDate, ok := nanosToDate(stamps[0])
	if !ok {
		return nil, nil, &domain.FormatError{Path: path, Field: l.Block0Values, Reason: "start date is NaT"}
	}

	cols := make([]domain.Column, 0, len(names)+1)
	for _, name := range names {
		cols = append(cols, domain.Column{Name: name, Kind: domain.KindFloat})
	}
	cols = append(cols, domain.Column{Name: l.DateColumn, Kind: domain.KindDate})
	table, err := domain.NewTable(cols...)
	if err != nil {
		return nil, nil, err
	}

	cells := make([]domain.Cell, len(cols))
	for i, row := range rows {
		if len(row) != len(names) {
			return nil, nil, &domain.SchemaMismatchError{
				Column: l.Block1Values,
				Reason: fmt.Sprintf("row %d has %d values, block1 has %d columns", i, len(row), len(names)),
			}
		}
		for j, v := range row {
			cells[j] = domain.Float(v)
		}
		cells[len(names)] = domain.DateCell(startDate)
		if err := table.Append(cells...); err != nil {
			return nil, nil, err
		}
	}
	return table, report, nil
}

// nanosToDate converts nanoseconds since the Unix epoch to a UTC calendar
// date. It reports false for NaT.
func nanosToDate(ns int64) (civil.Date, bool) {
	if ns == nat {
		return civil.Date{}, false
	}
	return civil.DateOf(time.Unix(0, ns).UTC()), true
}

func distinct(values []int64) int {
	seen := make(map[int64]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}
