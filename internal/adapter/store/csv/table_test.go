package csv

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"cloud.google.com/go/civil"

	"go.ngs.io/metnorm/internal/domain"
)

func gridTable(t *testing.T) *domain.Table {
	t.Helper()
	d := civil.Date{Year: 2021, Month: 1, Day: 1}
	issued := civil.Date{Year: 2020, Month: 12, Day: 31}
	table, err := domain.ObservationTable([]domain.Observation{
		{Latitude: 30, Longitude: 35, Date: d, PredictedAt: &issued, Value: 15.5},
		{Latitude: 30, Longitude: 35.25, Date: d.AddDays(1), PredictedAt: &issued, Value: -2},
	}, domain.ColTemperature, true)
	if err != nil {
		t.Fatalf("ObservationTable: %v", err)
	}
	return table
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, gridTable(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := "Latitude,Longitude,Date,Predicted_at_time,Temperature\n" +
		"30,35,2021-01-01,2020-12-31,15.5\n" +
		"30,35.25,2021-01-02,2020-12-31,-2\n"
	if buf.String() != want {
		t.Errorf("unexpected CSV:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := WriteFile(path, gridTable(t)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	table, report, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Source != "csv" || report.RowsRead != 2 {
		t.Errorf("unexpected report: %+v", report)
	}

	cols := table.Columns()
	kinds := []domain.Kind{domain.KindFloat, domain.KindFloat, domain.KindDate, domain.KindDate, domain.KindFloat}
	for i, c := range cols {
		if c.Kind != kinds[i] {
			t.Errorf("column %s: expected %s, got %s", c.Name, kinds[i], c.Kind)
		}
	}

	temps, _ := table.Floats(domain.ColTemperature)
	if !reflect.DeepEqual(temps, []float64{15.5, -2}) {
		t.Errorf("Temperature: got %v", temps)
	}
	dates, _ := table.Dates(domain.ColDate)
	if dates[1] != (civil.Date{Year: 2021, Month: 1, Day: 2}) {
		t.Errorf("Date: got %v", dates)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{
			name:  "empty input",
			input: "",
			check: func(err error) bool { var fe *domain.FormatError; return errors.As(err, &fe) },
		},
		{
			name:  "invalid number",
			input: "lat,lon,pred\n1,2,abc\n",
			check: func(err error) bool { var fe *domain.FormatError; return errors.As(err, &fe) },
		},
		{
			name:  "ragged record",
			input: "lat,lon,pred\n1,2,3\n1,2\n",
			check: func(err error) bool { var sm *domain.SchemaMismatchError; return errors.As(err, &sm) },
		},
		{
			name:  "duplicate header",
			input: "lat,lat\n1,2\n",
			check: func(err error) bool { var sm *domain.SchemaMismatchError; return errors.As(err, &sm) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRead_MixedColumnStaysNumeric(t *testing.T) {
	_, err := Read(strings.NewReader("start_date,pred\n2021-01-01,1\n7,2\n"))
	var fe *domain.FormatError
	if !errors.As(err, &fe) || fe.Field != "start_date" {
		t.Fatalf("expected FormatError on start_date, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
