package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"go.ngs.io/metnorm/internal/adapter/interp"
	"go.ngs.io/metnorm/internal/adapter/store"
	"go.ngs.io/metnorm/internal/adapter/store/csv"
	"go.ngs.io/metnorm/internal/domain"
	"go.ngs.io/metnorm/internal/observability"
	"go.ngs.io/metnorm/internal/retrieval"
)

var validate = validator.New()

// ErrInvalidRequest wraps request validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Source kinds a LoadRequest can resolve to.
const (
	SourceGrid   = "grid"
	SourceBlocks = "blocks"
	SourceFrame  = "frame"
	SourceCSV    = "csv"
)

// LoadRequest names one input file and the optional year filter.
type LoadRequest struct {
	Path string

	// Format overrides detection by file extension: netcdf, nc, hdf5, h5,
	// blocks, frame or csv. HDF5 files default to the two-block predictions
	// layout; frame reads any pandas frame with per-row dates.
	Format string

	// Years keeps only rows whose date falls in one of these years.
	Years []int

	// DateColumn is the column Years applies to. Defaults to Date, then start_date.
	DateColumn string
}

// Validate checks if the request is valid.
func (r *LoadRequest) Validate() error {
	if strings.TrimSpace(r.Path) == "" {
		return fmt.Errorf("path is required")
	}
	for _, y := range r.Years {
		if y < 1 || y > 9999 {
			return fmt.Errorf("year %d is out of range", y)
		}
	}
	return nil
}

// ParseYears parses a comma-separated list of years.
func ParseYears(s string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		years = append(years, y)
	}
	if len(years) == 0 {
		return nil, fmt.Errorf("no years given")
	}
	return years, nil
}

// LoadResult is a decoded table with the policy decisions taken on the way.
type LoadResult struct {
	Table  *domain.Table
	Report *domain.DecodeReport
}

// NormalizeUseCase loads supported input files into flat tables and derives
// matrices, frames and retrieval requests from them.
type NormalizeUseCase struct {
	grid        store.GridDecoder
	blocks      store.BlockReader
	requests    *retrieval.Builder
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxParallel int
}

// NewNormalizeUseCase creates a new normalization use case. maxParallel bounds
// the files LoadMany decodes at once.
func NewNormalizeUseCase(
	grid store.GridDecoder,
	blocks store.BlockReader,
	requests *retrieval.Builder,
	logger *slog.Logger,
	metrics *observability.Metrics,
	maxParallel int,
) *NormalizeUseCase {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &NormalizeUseCase{
		grid:        grid,
		blocks:      blocks,
		requests:    requests,
		logger:      logger,
		metrics:     metrics,
		maxParallel: maxParallel,
	}
}

// DetectSource resolves the decoder for a path and optional format. The
// returned hint is passed on to the grid decoder.
func DetectSource(path, format string) (source, hint string, err error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch f {
	case "nc", "netcdf", "nc4", "cdf":
		if f == "nc4" || f == "cdf" {
			f = "nc"
		}
		return SourceGrid, f, nil
	case "grib", "grb", "grib2":
		// The grid decoder rejects the hint with a FormatError.
		return SourceGrid, f, nil
	case "h5", "hdf5", "hdf", "blocks":
		return SourceBlocks, "", nil
	case "frame", "pandas":
		return SourceFrame, "", nil
	case "csv":
		return SourceCSV, "", nil
	default:
		return "", "", &domain.FormatError{Path: path, Field: "format", Reason: fmt.Sprintf("unsupported input format %q", f)}
	}
}

// Load decodes one file and applies the year filter.
func (uc *NormalizeUseCase) Load(req LoadRequest) (*LoadResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	source, hint, err := DetectSource(req.Path, req.Format)
	if err != nil {
		return nil, err
	}

	var (
		table  *domain.Table
		report *domain.DecodeReport
	)
	switch source {
	case SourceGrid:
		table, report, err = uc.grid.Decode(req.Path, hint)
	case SourceBlocks:
		table, report, err = uc.blocks.Read(req.Path)
	case SourceFrame:
		table, report, err = uc.blocks.ReadFrame(req.Path)
	case SourceCSV:
		table, report, err = uc.loadCSV(req.Path)
	}
	if err != nil {
		return nil, err
	}

	if len(req.Years) > 0 {
		column := req.DateColumn
		if column == "" {
			if column, err = table.FindColumn(domain.ColDate, domain.ColStartDate); err != nil {
				return nil, err
			}
		}
		if table, err = table.FilterYears(column, req.Years); err != nil {
			return nil, err
		}
	}

	uc.logger.Info("loaded table",
		"path", req.Path, "source", source, "rows", table.Len(), "dropped", report.RowsDropped)
	return &LoadResult{Table: table, Report: report}, nil
}

func (uc *NormalizeUseCase) loadCSV(path string) (*domain.Table, *domain.DecodeReport, error) {
	start := time.Now()
	table, report, err := csv.Load(path)
	uc.metrics.DecodeDuration.WithLabelValues(SourceCSV).Observe(time.Since(start).Seconds())
	if err != nil {
		uc.metrics.RecordError(SourceCSV, err)
		return nil, nil, err
	}
	uc.metrics.RecordReport(report, table.Len())
	return table, report, nil
}

// LoadMany decodes files concurrently. Results are in request order; the
// first failure cancels the files not yet started.
func (uc *NormalizeUseCase) LoadMany(ctx context.Context, reqs []LoadRequest) ([]*LoadResult, error) {
	results := make([]*LoadResult, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.maxParallel)

	for i, req := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := uc.Load(req)
			if err != nil {
				return fmt.Errorf("%s: %w", req.Path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Export loads a file and writes it as CSV.
func (uc *NormalizeUseCase) Export(req LoadRequest, w io.Writer) (*LoadResult, error) {
	res, err := uc.Load(req)
	if err != nil {
		return nil, err
	}
	if err := csv.Write(w, res.Table); err != nil {
		return nil, err
	}
	return res, nil
}

// MatrixRequest selects the value column averaged onto the spatial grid.
type MatrixRequest struct {
	LoadRequest

	// ValueColumn defaults to Temperature, then pred.
	ValueColumn string
}

// Matrix loads a file and builds its spatial matrix.
func (uc *NormalizeUseCase) Matrix(req MatrixRequest) (*domain.SpatialMatrix, error) {
	res, err := uc.Load(req.LoadRequest)
	if err != nil {
		return nil, err
	}
	column, err := valueColumn(res.Table, req.ValueColumn)
	if err != nil {
		return nil, err
	}
	return domain.BuildSpatialMatrix(res.Table, column)
}

// FramesRequest splits a table into one matrix per period.
type FramesRequest struct {
	MatrixRequest
	Period domain.Period
}

// Frames loads a file and builds one matrix per period, sharing axes.
func (uc *NormalizeUseCase) Frames(req FramesRequest) ([]domain.Frame, error) {
	res, err := uc.Load(req.LoadRequest)
	if err != nil {
		return nil, err
	}
	column, err := valueColumn(res.Table, req.ValueColumn)
	if err != nil {
		return nil, err
	}
	dateColumn := req.DateColumn
	if dateColumn == "" {
		if dateColumn, err = res.Table.FindColumn(domain.ColDate, domain.ColStartDate); err != nil {
			return nil, err
		}
	}
	period := req.Period
	if period == "" {
		period = domain.PeriodMonth
	}
	return domain.BuildFrames(res.Table, dateColumn, column, period)
}

// SampleRequest asks for the matrix value at a point.
type SampleRequest struct {
	MatrixRequest
	Lat float64
	Lon float64
}

// Sample returns the matrix value at (Lat, Lon): the cell value on grid
// points, bilinear interpolation between them.
func (uc *NormalizeUseCase) Sample(req SampleRequest) (float64, error) {
	if req.Lat < -90 || req.Lat > 90 {
		return 0, fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidRequest)
	}
	m, err := uc.Matrix(req.MatrixRequest)
	if err != nil {
		return 0, err
	}
	if v, ok := m.At(req.Lat, req.Lon); ok {
		return v, nil
	}
	v, err := interp.Sample(m, req.Lat, req.Lon)
	if err != nil && !errors.Is(err, interp.ErrMasked) {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return v, err
}

// DateTokens expands an inclusive date range into retrieval tokens.
func (uc *NormalizeUseCase) DateTokens(from, to civil.Date) domain.DateTokenSet {
	return domain.ExpandDateRange(from, to)
}

// Era5Request describes an ERA5-Land retrieval.
type Era5Request struct {
	Kind     retrieval.Kind
	From     civil.Date
	To       civil.Date
	Area     retrieval.Area
	TimeZone string // Daily statistics only; empty uses the configured zone.
}

// Validate checks if the request is valid.
func (r *Era5Request) Validate() error {
	if _, err := retrieval.ParseKind(string(r.Kind)); err != nil {
		return err
	}
	if !r.From.IsValid() || !r.To.IsValid() {
		return fmt.Errorf("from and to must be valid dates")
	}
	if r.To.Before(r.From) {
		return fmt.Errorf("from must not be after to")
	}
	if err := validate.Struct(r.Area); err != nil {
		return fmt.Errorf("invalid area: %w", err)
	}
	if r.TimeZone != "" && !strings.HasPrefix(strings.ToLower(r.TimeZone), "utc") {
		return fmt.Errorf("time zone must look like utc+02:00")
	}
	return nil
}

// Era5Request builds the retrieval payload for a date range and area.
func (uc *NormalizeUseCase) Era5Request(req Era5Request) (*retrieval.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	tokens := domain.ExpandDateRange(req.From, req.To)
	return uc.requests.Build(req.Kind, tokens, req.Area, strings.ToLower(req.TimeZone))
}

func valueColumn(t *domain.Table, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	return t.FindColumn(domain.ColTemperature, "pred")
}
