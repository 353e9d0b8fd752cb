package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.ngs.io/metnorm/internal/adapter/store"
	"go.ngs.io/metnorm/internal/domain"
	"go.ngs.io/metnorm/internal/observability"
	"go.ngs.io/metnorm/internal/retrieval"
)

type fakeGrid struct {
	mu    sync.Mutex
	hints []string
	table func(path string) (*domain.Table, error)
	err   error
}

func (f *fakeGrid) Decode(path, hint string) (*domain.Table, *domain.DecodeReport, error) {
	f.mu.Lock()
	f.hints = append(f.hints, hint)
	f.mu.Unlock()
	if hint == "grib" {
		return nil, nil, &domain.FormatError{Path: path, Field: "format", Reason: "grib"}
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	t, err := f.table(path)
	if err != nil {
		return nil, nil, err
	}
	return t, &domain.DecodeReport{Source: "grid", Path: path, RowsRead: t.Len() + 1, RowsDropped: 1}, nil
}

type fakeBlocks struct {
	table *domain.Table
	frame *domain.Table
}

func (f *fakeBlocks) Read(path string) (*domain.Table, *domain.DecodeReport, error) {
	return f.table, &domain.DecodeReport{Source: "blocks", Path: path, RowsRead: f.table.Len()}, nil
}

func (f *fakeBlocks) ReadFrame(path string) (*domain.Table, *domain.DecodeReport, error) {
	return f.frame, &domain.DecodeReport{Source: "frame", Path: path, RowsRead: f.frame.Len()}, nil
}

func date(y, m, d int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: d}
}

func gridObservations() (*domain.Table, error) {
	return domain.ObservationTable([]domain.Observation{
		{Latitude: 30, Longitude: 35, Date: date(2015, 1, 1), Value: 10},
		{Latitude: 30, Longitude: 35, Date: date(2016, 1, 1), Value: 20},
		{Latitude: 30, Longitude: 36, Date: date(2016, 2, 1), Value: 17},
		{Latitude: 31, Longitude: 35, Date: date(2017, 1, 1), Value: 19},
		{Latitude: 31, Longitude: 36, Date: date(2017, 1, 1), Value: 21},
	}, domain.ColTemperature, false)
}

func blockPredictions(t *testing.T) *domain.Table {
	t.Helper()
	table, err := domain.NewTable(
		domain.Column{Name: "lat", Kind: domain.KindFloat},
		domain.Column{Name: "lon", Kind: domain.KindFloat},
		domain.Column{Name: "pred", Kind: domain.KindFloat},
		domain.Column{Name: domain.ColStartDate, Kind: domain.KindDate},
	)
	require.NoError(t, err)
	require.NoError(t, table.Append(domain.Float(27), domain.Float(-124), domain.Float(0.5), domain.DateCell(date(2021, 1, 1))))
	return table
}

func newUseCase(t *testing.T, grid store.GridDecoder, blocks store.BlockReader) (*NormalizeUseCase, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	uc := NewNormalizeUseCase(grid, blocks, retrieval.NewBuilder("utc+02:00", "1_hourly"), logger, metrics, 2)
	return uc, metrics
}

func TestDetectSource(t *testing.T) {
	tests := []struct {
		path, format  string
		source, hint  string
		wantFormatErr bool
	}{
		{path: "era5.nc", source: SourceGrid, hint: "nc"},
		{path: "era5.NC", source: SourceGrid, hint: "nc"},
		{path: "era5.bin", format: "netcdf", source: SourceGrid, hint: "netcdf"},
		{path: "era5.grib", source: SourceGrid, hint: "grib"},
		{path: "us_tmp2m.h5", source: SourceBlocks},
		{path: "us_tmp2m.hdf5", source: SourceBlocks},
		{path: "us_tmp2m.h5", format: "frame", source: SourceFrame},
		{path: "history.h5", format: "Pandas", source: SourceFrame},
		{path: "out.csv", source: SourceCSV},
		{path: "notes.txt", wantFormatErr: true},
		{path: "noext", wantFormatErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path+"/"+tt.format, func(t *testing.T) {
			source, hint, err := DetectSource(tt.path, tt.format)
			if tt.wantFormatErr {
				var fe *domain.FormatError
				assert.ErrorAs(t, err, &fe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.source, source)
			assert.Equal(t, tt.hint, hint)
		})
	}
}

func TestLoad_YearFilter(t *testing.T) {
	uc, _ := newUseCase(t, &fakeGrid{table: func(string) (*domain.Table, error) { return gridObservations() }}, nil)

	res, err := uc.Load(LoadRequest{Path: "era5.nc", Years: []int{2015, 2016}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Table.Len())
	assert.Equal(t, 1, res.Report.RowsDropped)

	dates, err := res.Table.Dates(domain.ColDate)
	require.NoError(t, err)
	for _, d := range dates {
		assert.Contains(t, []int{2015, 2016}, d.Year)
	}
}

func TestLoad_BlockYearFilterUsesStartDate(t *testing.T) {
	uc, _ := newUseCase(t, nil, &fakeBlocks{table: blockPredictions(t)})

	res, err := uc.Load(LoadRequest{Path: "us_tmp2m.h5", Years: []int{2020}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Table.Len())

	res, err = uc.Load(LoadRequest{Path: "us_tmp2m.h5", Years: []int{2021}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Table.Len())
}

// frameHistory is a frame whose start_date differs per row.
func frameHistory(t *testing.T) *domain.Table {
	t.Helper()
	table, err := domain.NewTable(
		domain.Column{Name: "lat", Kind: domain.KindFloat},
		domain.Column{Name: "lon", Kind: domain.KindFloat},
		domain.Column{Name: "tmp2m", Kind: domain.KindFloat},
		domain.Column{Name: domain.ColStartDate, Kind: domain.KindDate},
	)
	require.NoError(t, err)
	require.NoError(t, table.Append(domain.Float(27), domain.Float(-124), domain.Float(1), domain.DateCell(date(2015, 6, 1))))
	require.NoError(t, table.Append(domain.Float(27), domain.Float(-124), domain.Float(2), domain.DateCell(date(2016, 6, 1))))
	return table
}

func TestLoad_FrameFormatUsesFrameReader(t *testing.T) {
	blocks := &fakeBlocks{table: blockPredictions(t), frame: frameHistory(t)}
	uc, _ := newUseCase(t, nil, blocks)

	res, err := uc.Load(LoadRequest{Path: "history.h5", Format: "frame", Years: []int{2016}})
	require.NoError(t, err)
	assert.Equal(t, "frame", res.Report.Source)
	require.Equal(t, 1, res.Table.Len())

	values, err := res.Table.Floats("tmp2m")
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, values)

	res, err = uc.Load(LoadRequest{Path: "history.h5"})
	require.NoError(t, err)
	assert.Equal(t, "blocks", res.Report.Source)
}

func TestLoad_Errors(t *testing.T) {
	uc, _ := newUseCase(t, &fakeGrid{table: func(string) (*domain.Table, error) { return gridObservations() }}, nil)

	_, err := uc.Load(LoadRequest{})
	assert.Error(t, err)

	_, err = uc.Load(LoadRequest{Path: "era5.grib"})
	var fe *domain.FormatError
	assert.ErrorAs(t, err, &fe)

	_, err = uc.Load(LoadRequest{Path: "era5.nc", Years: []int{2015}, DateColumn: "nope"})
	var sm *domain.SchemaMismatchError
	assert.ErrorAs(t, err, &sm)
}

func TestLoad_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("lat,lon,pred,start_date\n27,-124,0.5,2021-01-01\n"), 0o600))

	uc, metrics := newUseCase(t, nil, nil)
	res, err := uc.Load(LoadRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Table.Len())
	assert.Equal(t, "csv", res.Report.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowsDecoded.WithLabelValues("csv")))

	_, err = uc.Load(LoadRequest{Path: filepath.Join(t.TempDir(), "absent.csv")})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecodeErrors.WithLabelValues("csv", "io")))
}

func TestLoadMany_KeepsOrder(t *testing.T) {
	grid := &fakeGrid{table: func(path string) (*domain.Table, error) {
		obs := []domain.Observation{{Latitude: 1, Longitude: 1, Date: date(2021, 1, 1), Value: float64(len(path))}}
		return domain.ObservationTable(obs, domain.ColTemperature, false)
	}}
	uc, _ := newUseCase(t, grid, nil)

	reqs := []LoadRequest{{Path: "a.nc"}, {Path: "bbbb.nc"}, {Path: "cc.nc"}, {Path: "ddddddd.nc"}}
	results, err := uc.LoadMany(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, res := range results {
		values, err := res.Table.Floats(domain.ColTemperature)
		require.NoError(t, err)
		assert.Equal(t, float64(len(reqs[i].Path)), values[0])
	}
}

func TestLoadMany_FirstErrorWins(t *testing.T) {
	grid := &fakeGrid{err: errors.New("disk on fire")}
	uc, _ := newUseCase(t, grid, nil)

	_, err := uc.LoadMany(context.Background(), []LoadRequest{{Path: "a.nc"}, {Path: "b.nc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestLoadMany_CanceledContext(t *testing.T) {
	uc, _ := newUseCase(t, &fakeGrid{table: func(string) (*domain.Table, error) { return gridObservations() }}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uc.LoadMany(ctx, []LoadRequest{{Path: "a.nc"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExport(t *testing.T) {
	uc, _ := newUseCase(t, nil, &fakeBlocks{table: blockPredictions(t)})

	var buf bytes.Buffer
	_, err := uc.Export(LoadRequest{Path: "us_tmp2m.h5"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "lat,lon,pred,start_date\n27,-124,0.5,2021-01-01\n", buf.String())
}

func TestMatrixAndSample(t *testing.T) {
	uc, _ := newUseCase(t, &fakeGrid{table: func(string) (*domain.Table, error) { return gridObservations() }}, nil)

	m, err := uc.Matrix(MatrixRequest{LoadRequest: LoadRequest{Path: "era5.nc"}})
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 31}, m.Lats)
	assert.Equal(t, []float64{35, 36}, m.Lons)
	assert.InDelta(t, 15.0, m.Values[0][0], 1e-9)
	assert.Equal(t, 0, m.Masked())

	v, err := uc.Sample(SampleRequest{MatrixRequest: MatrixRequest{LoadRequest: LoadRequest{Path: "era5.nc"}}, Lat: 30, Lon: 35})
	require.NoError(t, err)
	assert.InDelta(t, 15.0, v, 1e-9)

	v, err = uc.Sample(SampleRequest{MatrixRequest: MatrixRequest{LoadRequest: LoadRequest{Path: "era5.nc"}}, Lat: 30.5, Lon: 35.5})
	require.NoError(t, err)
	assert.InDelta(t, (15.0+17+19+21)/4, v, 1e-9)

	_, err = uc.Sample(SampleRequest{MatrixRequest: MatrixRequest{LoadRequest: LoadRequest{Path: "era5.nc"}}, Lat: 40, Lon: 35})
	assert.Error(t, err)
}

func TestFrames(t *testing.T) {
	uc, _ := newUseCase(t, &fakeGrid{table: func(string) (*domain.Table, error) { return gridObservations() }}, nil)

	frames, err := uc.Frames(FramesRequest{
		MatrixRequest: MatrixRequest{LoadRequest: LoadRequest{Path: "era5.nc"}},
		Period:        domain.PeriodYear,
	})
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "2015", frames[0].Title)
	for _, f := range frames {
		assert.Equal(t, []float64{30, 31}, f.Matrix.Lats)
	}
}

func TestEra5Request(t *testing.T) {
	uc, _ := newUseCase(t, nil, nil)
	area := retrieval.Area{North: 35, West: 34, South: 29, East: 36}

	req, err := uc.Era5Request(Era5Request{
		Kind: retrieval.KindDailyMean,
		From: date(2021, 1, 1),
		To:   date(2021, 1, 2),
		Area: area,
	})
	require.NoError(t, err)
	assert.Equal(t, "utc+02:00", req.TimeZone)
	assert.Equal(t, []string{"01", "02"}, req.Day)

	_, err = uc.Era5Request(Era5Request{Kind: retrieval.KindHourly, From: date(2021, 1, 2), To: date(2021, 1, 1), Area: area})
	assert.Error(t, err)

	_, err = uc.Era5Request(Era5Request{
		Kind: retrieval.KindHourly,
		From: date(2021, 1, 1),
		To:   date(2021, 1, 1),
		Area: retrieval.Area{North: 10, South: 20},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "area"))
}

func TestDateTokens(t *testing.T) {
	uc, _ := newUseCase(t, nil, nil)
	tokens := uc.DateTokens(date(2021, 1, 30), date(2021, 2, 2))
	assert.Equal(t, []string{"01", "02"}, tokens.SortedMonths())
	assert.Equal(t, []string{"01", "02", "30", "31"}, tokens.SortedDays())
}

func TestParseYears(t *testing.T) {
	years, err := ParseYears("2015, 2016,,2017")
	require.NoError(t, err)
	assert.Equal(t, []int{2015, 2016, 2017}, years)

	_, err = ParseYears(",")
	assert.Error(t, err)
}
