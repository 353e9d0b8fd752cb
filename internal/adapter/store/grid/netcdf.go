// Package grid decodes gridded NetCDF datasets (ERA5-style 2 m temperature)
// into flat observation tables.
package grid

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/metnorm/internal/domain"
	"go.ngs.io/metnorm/internal/observability"
)

const source = "grid"

// FileConfig defines the expected NetCDF file structure.
type FileConfig struct {
	// Variable names in NetCDF files, tried in order.
	MeasurementVarNames []string // E.g., "t2m".
	LatVarNames         []string // E.g., "latitude", "lat".
	LonVarNames         []string // E.g., "longitude", "lon".
	ValidTimeVarName    string   // Valid (observation) time.
	IssueTimeVarName    string   // Issuance time in raw forecast files.

	// ValueColumn is the output column name of the converted measurement.
	ValueColumn string
}

// DefaultConfig returns the default ERA5 2 m temperature file configuration.
func DefaultConfig() FileConfig {
	return FileConfig{
		MeasurementVarNames: []string{"t2m", "2t", "VAR_2T"},
		LatVarNames:         []string{"latitude", "lat"},
		LonVarNames:         []string{"longitude", "lon"},
		ValidTimeVarName:    "valid_time",
		IssueTimeVarName:    "time",
		ValueColumn:         domain.ColTemperature,
	}
}

// Decoder turns gridded NetCDF files into observation tables.
// A Decoder holds no per-file state and may be used concurrently.
type Decoder struct {
	config  FileConfig
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDecoder creates a new grid decoder.
func NewDecoder(config FileConfig, logger *slog.Logger, metrics *observability.Metrics) *Decoder {
	return &Decoder{
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Decode reads a gridded file and returns one row per (time, latitude,
// longitude) combination with a valid measurement.
//
// Accepted format hints are "", "netcdf" and "nc". Rows whose measurement is
// missing are dropped; the count is returned in the report.
func (d *Decoder) Decode(path, formatHint string) (*domain.Table, *domain.DecodeReport, error) {
	start := time.Now()
	table, report, err := d.decode(path, formatHint)
	d.metrics.DecodeDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		d.metrics.RecordError(source, err)
		return nil, nil, err
	}
	d.metrics.RecordReport(report, table.Len())
	if report.RowsDropped > 0 {
		d.logger.Debug("dropped rows with missing measurement",
			"path", path, "dropped", report.RowsDropped, "read", report.RowsRead)
	}
	return table, report, nil
}

func (d *Decoder) decode(path, formatHint string) (*domain.Table, *domain.DecodeReport, error) {
	switch strings.ToLower(formatHint) {
	case "", "netcdf", "nc":
	default:
		return nil, nil, &domain.FormatError{Path: path, Field: "format", Reason: fmt.Sprintf("unsupported format hint %q", formatHint)}
	}

	// Open NetCDF file.
	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open NetCDF file %s: %w", path, err)
	}
	defer func() { _ = nc.Close() }()

	// Locate the measurement variable.
	measVar, measName, ok := firstVar(nc, d.config.MeasurementVarNames)
	if !ok {
		return nil, nil, &domain.FormatError{Path: path, Field: d.config.MeasurementVarNames[0]}
	}
	measDims, err := dimNames(measVar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dimensions of %s: %w", measName, err)
	}
	measLens, err := dimLens(measVar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get dimension lengths of %s: %w", measName, err)
	}
	if len(measDims) < 2 {
		return nil, nil, &domain.FormatError{Path: path, Field: measName, Reason: fmt.Sprintf("expected at least 2D data, got %dD", len(measDims))}
	}

	// The last two dimensions must be latitude and longitude.
	nd := len(measDims)
	if !contains(d.config.LatVarNames, measDims[nd-2]) {
		return nil, nil, &domain.FormatError{Path: path, Field: "latitude", Reason: fmt.Sprintf("dimension %d of %s is %q", nd-2, measName, measDims[nd-2])}
	}
	if !contains(d.config.LonVarNames, measDims[nd-1]) {
		return nil, nil, &domain.FormatError{Path: path, Field: "longitude", Reason: fmt.Sprintf("dimension %d of %s is %q", nd-1, measName, measDims[nd-1])}
	}
	lats, err := readCoordinate(nc, path, measDims[nd-2])
	if err != nil {
		return nil, nil, err
	}
	lons, err := readCoordinate(nc, path, measDims[nd-1])
	if err != nil {
		return nil, nil, err
	}

	// Detect the file shape from the time variables present.
	lead := measDims[:nd-2]
	leadLens := measLens[:nd-2]
	validAxis, issueAxis, err := d.timeAxes(nc, path, lead, leadLens)
	if err != nil {
		return nil, nil, err
	}

	// Read and unpack the measurement.
	values, err := readFloat64Var(measVar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", measName, err)
	}
	unpack(measVar, values)

	nLead := 1
	for _, n := range leadLens {
		nLead *= n
	}
	nCell := len(lats) * len(lons)
	if len(values) != nLead*nCell {
		return nil, nil, &domain.SchemaMismatchError{Column: measName, Reason: fmt.Sprintf("got %d values, expected %d", len(values), nLead*nCell)}
	}

	report := &domain.DecodeReport{Source: source, Path: path, RowsRead: len(values)}
	obs := make([]domain.Observation, 0, len(values))
	for li := 0; li < nLead; li++ {
		validDate := validAxis.dateAt(li)
		var issued *civil.Date
		if issueAxis != nil {
			dd := issueAxis.dateAt(li)
			issued = &dd
		}
		base := li * nCell
		for i, lat := range lats {
			for j, lon := range lons {
				v := domain.KelvinToCelsius(values[base+i*len(lons)+j])
				if math.IsNaN(v) {
					report.RowsDropped++
					continue
				}
				obs = append(obs, domain.Observation{
					Latitude:    lat,
					Longitude:   lon,
					Date:        validDate,
					PredictedAt: issued,
					Value:       v,
				})
			}
		}
	}

	table, err := domain.ObservationTable(obs, d.config.ValueColumn, issueAxis != nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build table for %s: %w", path, err)
	}
	return table, report, nil
}

// timeAxes resolves the valid and issuance time axes. A raw forecast file has
// both valid_time and time; a post-processed file has only one of them, which
// is then the valid time.
func (d *Decoder) timeAxes(nc netcdf.Dataset, path string, lead []string, leadLens []int) (*timeAxis, *timeAxis, error) {
	validVar, hasValid := lookupVar(nc, d.config.ValidTimeVarName)
	issueVar, hasIssue := lookupVar(nc, d.config.IssueTimeVarName)

	switch {
	case hasValid && hasIssue:
		valid, err := newTimeAxis(path, d.config.ValidTimeVarName, validVar, lead, leadLens)
		if err != nil {
			return nil, nil, err
		}
		issue, err := newTimeAxis(path, d.config.IssueTimeVarName, issueVar, lead, leadLens)
		if err != nil {
			return nil, nil, err
		}
		return valid, issue, nil
	case hasValid:
		valid, err := newTimeAxis(path, d.config.ValidTimeVarName, validVar, lead, leadLens)
		return valid, nil, err
	case hasIssue:
		valid, err := newTimeAxis(path, d.config.IssueTimeVarName, issueVar, lead, leadLens)
		return valid, nil, err
	default:
		return nil, nil, &domain.FormatError{Path: path, Field: d.config.IssueTimeVarName, Reason: "no time or valid_time variable"}
	}
}

func firstVar(nc netcdf.Dataset, names []string) (netcdf.Var, string, bool) {
	for _, name := range names {
		if v, ok := lookupVar(nc, name); ok {
			return v, name, true
		}
	}
	return netcdf.Var{}, "", false
}

func lookupVar(nc netcdf.Dataset, name string) (netcdf.Var, bool) {
	if name == "" {
		return netcdf.Var{}, false
	}
	v, err := nc.Var(name)
	if err != nil {
		return netcdf.Var{}, false
	}
	return v, true
}

func readCoordinate(nc netcdf.Dataset, path, name string) ([]float64, error) {
	v, ok := lookupVar(nc, name)
	if !ok {
		return nil, &domain.FormatError{Path: path, Field: name, Reason: "coordinate variable not found"}
	}
	dims, err := v.Dims()
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
	}
	if len(dims) != 1 {
		return nil, &domain.FormatError{Path: path, Field: name, Reason: fmt.Sprintf("expected 1D coordinate, got %dD", len(dims))}
	}
	data, err := readFloat64Var(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func dimNames(v netcdf.Var) ([]string, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(dims))
	for i, dim := range dims {
		if names[i], err = dim.Name(); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func dimLens(v netcdf.Var) ([]int, error) {
	dims, err := v.Dims()
	if err != nil {
		return nil, err
	}
	lens := make([]int, len(dims))
	for i, dim := range dims {
		n, err := dim.Len()
		if err != nil {
			return nil, err
		}
		lens[i] = int(n)
	}
	return lens, nil
}
