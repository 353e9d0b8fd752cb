package grid

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/metnorm/internal/domain"
	"go.ngs.io/metnorm/internal/observability"
)

type dimSpec struct {
	name string
	len  int
}

type timeVarSpec struct {
	name   string
	dims   []string
	units  string
	values []int32
}

// gridSpec describes a synthetic 2 m temperature file. The measurement has
// dimensions lead..., latitude, longitude.
type gridSpec struct {
	lead  []dimSpec
	lats  []float64
	lons  []float64
	times []timeVarSpec
	t2m   []float32
	skipT bool // Omit the measurement variable.
}

func hoursSince1900(y int, m time.Month, d int) int32 {
	ref := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	return int32(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Sub(ref).Hours())
}

func createGridNC(t *testing.T, path string, spec gridSpec) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	defer func() { _ = f.Close() }()

	dims := make(map[string]netcdf.Dim)
	var measDims []netcdf.Dim
	for _, d := range spec.lead {
		dim, err := f.AddDim(d.name, uint64(d.len))
		if err != nil {
			t.Fatalf("add dim %s: %v", d.name, err)
		}
		dims[d.name] = dim
		measDims = append(measDims, dim)
	}
	latDim, _ := f.AddDim("latitude", uint64(len(spec.lats)))
	lonDim, _ := f.AddDim("longitude", uint64(len(spec.lons)))
	measDims = append(measDims, latDim, lonDim)

	vlat, _ := f.AddVar("latitude", netcdf.DOUBLE, []netcdf.Dim{latDim})
	vlon, _ := f.AddVar("longitude", netcdf.DOUBLE, []netcdf.Dim{lonDim})

	timeVars := make([]netcdf.Var, len(spec.times))
	for i, tv := range spec.times {
		var tdims []netcdf.Dim
		for _, name := range tv.dims {
			tdims = append(tdims, dims[name])
		}
		v, err := f.AddVar(tv.name, netcdf.INT, tdims)
		if err != nil {
			t.Fatalf("add var %s: %v", tv.name, err)
		}
		if err := v.Attr("units").WriteBytes([]byte(tv.units)); err != nil {
			t.Fatalf("write units: %v", err)
		}
		timeVars[i] = v
	}

	var vt2m netcdf.Var
	if !spec.skipT {
		vt2m, err = f.AddVar("t2m", netcdf.FLOAT, measDims)
		if err != nil {
			t.Fatalf("add t2m: %v", err)
		}
	}

	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}
	if err := vlat.WriteFloat64s(spec.lats); err != nil {
		t.Fatalf("write lat: %v", err)
	}
	if err := vlon.WriteFloat64s(spec.lons); err != nil {
		t.Fatalf("write lon: %v", err)
	}
	for i, tv := range spec.times {
		if err := timeVars[i].WriteInt32s(tv.values); err != nil {
			t.Fatalf("write %s: %v", tv.name, err)
		}
	}
	if !spec.skipT {
		if err := vt2m.WriteFloat32s(spec.t2m); err != nil {
			t.Fatalf("write t2m: %v", err)
		}
	}
}

func newTestDecoder() *Decoder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDecoder(DefaultConfig(), logger, observability.NewMetricsForTesting())
}

func dailySpec() gridSpec {
	nan := float32(math.NaN())
	return gridSpec{
		lead: []dimSpec{{"time", 2}},
		lats: []float64{30.0, 29.9},
		lons: []float64{34.0, 34.1},
		times: []timeVarSpec{{
			name:   "time",
			dims:   []string{"time"},
			units:  "hours since 1900-01-01 00:00:00.0",
			values: []int32{hoursSince1900(2021, 1, 1), hoursSince1900(2021, 1, 2) + 12},
		}},
		t2m: []float32{
			283.15, 284.15, 285.15, 286.15,
			273.15, nan, 263.15, 293.15,
		},
	}
}

func TestDecode_DropsMissingMeasurements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "era5-daily.nc")
	createGridNC(t, path, dailySpec())

	table, report, err := newTestDecoder().Decode(path, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if table.Len() != 7 {
		t.Fatalf("expected 7 rows (8 minus one NaN), got %d", table.Len())
	}
	if report.RowsRead != 8 || report.RowsDropped != 1 {
		t.Errorf("report: expected read=8 dropped=1, got read=%d dropped=%d", report.RowsRead, report.RowsDropped)
	}

	want := []string{domain.ColLatitude, domain.ColLongitude, domain.ColDate, domain.ColTemperature}
	if got := table.ColumnNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("columns: expected %v, got %v", want, got)
	}

	temps, _ := table.Floats(domain.ColTemperature)
	for i, v := range temps {
		if math.IsNaN(v) {
			t.Fatalf("row %d holds NaN", i)
		}
	}
	wantTemps := []float64{10, 11, 12, 13, 0, -10, 20}
	for i, w := range wantTemps {
		if math.Abs(temps[i]-w) > 1e-4 {
			t.Errorf("row %d: expected %.2f °C, got %.6f", i, w, temps[i])
		}
	}

	dates, _ := table.Dates(domain.ColDate)
	if dates[0] != (civil.Date{Year: 2021, Month: 1, Day: 1}) {
		t.Errorf("row 0 date: got %s", dates[0])
	}
	if dates[6] != (civil.Date{Year: 2021, Month: 1, Day: 2}) {
		t.Errorf("row 6 date: got %s", dates[6])
	}

	lats, _ := table.Floats(domain.ColLatitude)
	lons, _ := table.Floats(domain.ColLongitude)
	if lats[5] != 29.9 || lons[5] != 34.0 {
		t.Errorf("row 5: expected (29.9, 34.0), got (%v, %v)", lats[5], lons[5])
	}
}

func TestDecode_ForecastShapeHasIssuanceDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecast.nc")
	spec := gridSpec{
		lead: []dimSpec{{"time", 2}, {"step", 2}},
		lats: []float64{30},
		lons: []float64{35},
		times: []timeVarSpec{
			{
				name:   "time",
				dims:   []string{"time"},
				units:  "hours since 1900-01-01",
				values: []int32{hoursSince1900(2021, 1, 1), hoursSince1900(2021, 1, 8)},
			},
			{
				name:  "valid_time",
				dims:  []string{"time", "step"},
				units: "hours since 1900-01-01",
				values: []int32{
					hoursSince1900(2021, 1, 15), hoursSince1900(2021, 1, 29),
					hoursSince1900(2021, 1, 22), hoursSince1900(2021, 2, 5),
				},
			},
		},
		t2m: []float32{273.15, 274.15, 275.15, 276.15},
	}
	createGridNC(t, path, spec)

	table, _, err := newTestDecoder().Decode(path, "netcdf")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !table.Has(domain.ColPredictedAt) {
		t.Fatalf("expected %s column, got %v", domain.ColPredictedAt, table.ColumnNames())
	}

	valid, _ := table.Dates(domain.ColDate)
	issued, _ := table.Dates(domain.ColPredictedAt)
	wantValid := []civil.Date{
		{Year: 2021, Month: 1, Day: 15}, {Year: 2021, Month: 1, Day: 29},
		{Year: 2021, Month: 1, Day: 22}, {Year: 2021, Month: 2, Day: 5},
	}
	wantIssued := []civil.Date{
		{Year: 2021, Month: 1, Day: 1}, {Year: 2021, Month: 1, Day: 1},
		{Year: 2021, Month: 1, Day: 8}, {Year: 2021, Month: 1, Day: 8},
	}
	if !reflect.DeepEqual(valid, wantValid) {
		t.Errorf("valid dates: expected %v, got %v", wantValid, valid)
	}
	if !reflect.DeepEqual(issued, wantIssued) {
		t.Errorf("issuance dates: expected %v, got %v", wantIssued, issued)
	}
}

func TestDecode_PackedShortWithFillValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packed.nc")
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	timeDim, _ := f.AddDim("valid_time", 1)
	latDim, _ := f.AddDim("latitude", 1)
	lonDim, _ := f.AddDim("longitude", 2)
	vtime, _ := f.AddVar("valid_time", netcdf.INT, []netcdf.Dim{timeDim})
	vlat, _ := f.AddVar("latitude", netcdf.DOUBLE, []netcdf.Dim{latDim})
	vlon, _ := f.AddVar("longitude", netcdf.DOUBLE, []netcdf.Dim{lonDim})
	vt2m, _ := f.AddVar("t2m", netcdf.SHORT, []netcdf.Dim{timeDim, latDim, lonDim})
	if err := vtime.Attr("units").WriteBytes([]byte("seconds since 1970-01-01")); err != nil {
		t.Fatalf("units: %v", err)
	}
	if err := vt2m.Attr("scale_factor").WriteFloat64s([]float64{0.01}); err != nil {
		t.Fatalf("scale_factor: %v", err)
	}
	if err := vt2m.Attr("add_offset").WriteFloat64s([]float64{273.15}); err != nil {
		t.Fatalf("add_offset: %v", err)
	}
	if err := vt2m.Attr("_FillValue").WriteInt16s([]int16{-32767}); err != nil {
		t.Fatalf("_FillValue: %v", err)
	}
	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}
	_ = vtime.WriteInt32s([]int32{int32(time.Date(2021, 1, 1, 23, 0, 0, 0, time.UTC).Unix())})
	_ = vlat.WriteFloat64s([]float64{30})
	_ = vlon.WriteFloat64s([]float64{34, 35})
	_ = vt2m.WriteInt16s([]int16{1000, -32767})
	_ = f.Close()

	table, report, err := newTestDecoder().Decode(path, "nc")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if table.Len() != 1 || report.RowsDropped != 1 {
		t.Fatalf("expected 1 row and 1 drop, got %d rows and %d drops", table.Len(), report.RowsDropped)
	}
	temps, _ := table.Floats(domain.ColTemperature)
	if math.Abs(temps[0]-10.0) > 1e-9 {
		t.Errorf("expected 10 °C, got %v", temps[0])
	}
	dates, _ := table.Dates(domain.ColDate)
	if dates[0] != (civil.Date{Year: 2021, Month: 1, Day: 1}) {
		t.Errorf("expected 2021-01-01, got %s", dates[0])
	}
}

func TestDecode_FormatErrors(t *testing.T) {
	noMeasurement := dailySpec()
	noMeasurement.skipT = true

	noTime := dailySpec()
	noTime.times = nil

	badUnits := dailySpec()
	badUnits.times[0].units = "fortnights"

	tests := []struct {
		name  string
		spec  gridSpec
		field string
	}{
		{"missing measurement", noMeasurement, "t2m"},
		{"missing time", noTime, "time"},
		{"bad time units", badUnits, "time.units"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.nc")
			createGridNC(t, path, tt.spec)

			_, _, err := newTestDecoder().Decode(path, "")
			var fe *domain.FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if fe.Field != tt.field || fe.Path != path {
				t.Errorf("expected field %q at %s, got %q at %s", tt.field, path, fe.Field, fe.Path)
			}
		})
	}
}

func TestDecode_UnsupportedFormatHint(t *testing.T) {
	_, _, err := newTestDecoder().Decode("download.grib", "grib")
	var fe *domain.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestDecode_ValueColumnCollidesWithCanonicalName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "era5-daily.nc")
	createGridNC(t, path, dailySpec())

	config := DefaultConfig()
	config.ValueColumn = domain.ColDate
	d := NewDecoder(config, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())

	table, _, err := d.Decode(path, "")
	var sm *domain.SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if sm.Column != domain.ColDate || table != nil {
		t.Errorf("expected a rejected %s column and no table, got %q", domain.ColDate, sm.Column)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "era5-daily.nc")
	createGridNC(t, path, dailySpec())

	d := newTestDecoder()
	first, _, err := d.Decode(path, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	second, _, err := d.Decode(path, "")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("decoding the same file twice produced different tables")
	}
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units   string
		seconds float64
		ref     time.Time
	}{
		{"hours since 1900-01-01 00:00:00.0", 3600, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01", 1, time.Unix(0, 0).UTC()},
		{"days since 2021-1-1 6:0:0", 86400, time.Date(2021, 1, 1, 6, 0, 0, 0, time.UTC)},
		{"minutes since 2020-02-29T12:30:00Z", 60, time.Date(2020, 2, 29, 12, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		secs, ref, err := parseTimeUnits(tt.units)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.units, err)
		}
		if secs != tt.seconds || !ref.Equal(tt.ref) {
			t.Errorf("%q: expected (%v, %v), got (%v, %v)", tt.units, tt.seconds, tt.ref, secs, ref)
		}
	}

	for _, bad := range []string{"hours", "weeks since 2000-01-01", "hours since yesterday"} {
		if _, _, err := parseTimeUnits(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
