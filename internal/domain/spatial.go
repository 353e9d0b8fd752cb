package domain

import (
	"fmt"
	"math"
	"sort"
)

// Candidate coordinate column names, tried in order.
var (
	LatitudeColumns  = []string{"lat", "latitude", ColLatitude}
	LongitudeColumns = []string{"lon", "longitude", ColLongitude}
)

// SpatialMatrix is a dense latitude x longitude grid of averaged values.
//
// Values[i][j] is the mean of the observations at (Lats[i], Lons[j]).
// Mask[i][j] is true when no observation contributed to the cell, in which
// case Values[i][j] is NaN.
type SpatialMatrix struct {
	Lats   []float64 // Sorted ascending.
	Lons   []float64 // Sorted ascending.
	Values [][]float64
	Mask   [][]bool
}

// Rows returns the number of latitude rows.
func (m *SpatialMatrix) Rows() int { return len(m.Lats) }

// Cols returns the number of longitude columns.
func (m *SpatialMatrix) Cols() int { return len(m.Lons) }

// At returns the cell value at an exact grid coordinate. ok is false when the
// coordinate is not on the grid or the cell is masked.
func (m *SpatialMatrix) At(lat, lon float64) (v float64, ok bool) {
	i := sort.SearchFloat64s(m.Lats, lat)
	j := sort.SearchFloat64s(m.Lons, lon)
	if i >= len(m.Lats) || m.Lats[i] != lat || j >= len(m.Lons) || m.Lons[j] != lon {
		return 0, false
	}
	if m.Mask[i][j] {
		return 0, false
	}
	return m.Values[i][j], true
}

// Masked returns the number of masked cells.
func (m *SpatialMatrix) Masked() int {
	n := 0
	for _, row := range m.Mask {
		for _, masked := range row {
			if masked {
				n++
			}
		}
	}
	return n
}

// BuildSpatialMatrix averages valueColumn per (latitude, longitude) cell and
// pivots the result onto the sorted distinct coordinates of the table.
// Coordinate combinations with no observation are masked, not zero. An empty
// table yields a 0x0 matrix.
func BuildSpatialMatrix(t *Table, valueColumn string) (*SpatialMatrix, error) {
	latCol, lonCol, err := coordinateColumns(t)
	if err != nil {
		return nil, err
	}
	grouped, err := t.GroupMean([]string{latCol, lonCol}, valueColumn)
	if err != nil {
		return nil, err
	}
	lats, lons := axes(grouped)
	return pivot(grouped, lats, lons), nil
}

// Period selects how BuildFrames splits a table over time.
type Period string

// Supported frame periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// ParsePeriod validates a period name. An empty name selects PeriodMonth.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "":
		return PeriodMonth, nil
	case PeriodDay, PeriodMonth, PeriodYear:
		return Period(s), nil
	default:
		return "", fmt.Errorf("unknown period %q (use day, month or year)", s)
	}
}

// Frame is one titled matrix of an animation sequence.
type Frame struct {
	Title  string
	Matrix *SpatialMatrix
}

// BuildFrames builds one averaged matrix per period of dateColumn, ordered by
// period. Every frame shares the axes of the whole table so that frames can be
// drawn on the same mesh.
func BuildFrames(t *Table, dateColumn, valueColumn string, period Period) ([]Frame, error) {
	latCol, lonCol, err := coordinateColumns(t)
	if err != nil {
		return nil, err
	}
	di, err := t.lookupKind(dateColumn, KindDate)
	if err != nil {
		return nil, err
	}
	if _, err := t.lookupKind(valueColumn, KindFloat); err != nil {
		return nil, err
	}

	all, err := t.GroupMean([]string{latCol, lonCol}, valueColumn)
	if err != nil {
		return nil, err
	}
	lats, lons := axes(all)

	parts := make(map[string]*Table)
	for _, row := range t.rows {
		title := periodTitle(row[di].Date.Year, int(row[di].Date.Month), row[di].Date.Day, period)
		part, ok := parts[title]
		if !ok {
			part, _ = NewTable(t.columns...)
			parts[title] = part
		}
		part.rows = append(part.rows, row)
	}

	titles := make([]string, 0, len(parts))
	for title := range parts {
		titles = append(titles, title)
	}
	sort.Strings(titles)

	frames := make([]Frame, 0, len(titles))
	for _, title := range titles {
		grouped, err := parts[title].GroupMean([]string{latCol, lonCol}, valueColumn)
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Title: title, Matrix: pivot(grouped, lats, lons)})
	}
	return frames, nil
}

func periodTitle(year, month, day int, p Period) string {
	switch p {
	case PeriodYear:
		return fmt.Sprintf("%04d", year)
	case PeriodDay:
		return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	default:
		return fmt.Sprintf("%04d-%02d", year, month)
	}
}

func coordinateColumns(t *Table) (string, string, error) {
	latCol, err := t.FindColumn(LatitudeColumns...)
	if err != nil {
		return "", "", err
	}
	lonCol, err := t.FindColumn(LongitudeColumns...)
	if err != nil {
		return "", "", err
	}
	return latCol, lonCol, nil
}

// axes returns the sorted distinct coordinates of a (lat, lon, value) table.
func axes(grouped *Table) ([]float64, []float64) {
	latSet := make(map[float64]struct{})
	lonSet := make(map[float64]struct{})
	for _, row := range grouped.rows {
		lat, lon := row[0].Num, row[1].Num
		if math.IsNaN(lat) || math.IsNaN(lon) {
			continue
		}
		latSet[lat] = struct{}{}
		lonSet[lon] = struct{}{}
	}
	return sortedFloats(latSet), sortedFloats(lonSet)
}

// pivot places a (lat, lon, value) table onto the given axes.
func pivot(grouped *Table, lats, lons []float64) *SpatialMatrix {
	m := &SpatialMatrix{
		Lats:   lats,
		Lons:   lons,
		Values: make([][]float64, len(lats)),
		Mask:   make([][]bool, len(lats)),
	}
	for i := range lats {
		m.Values[i] = make([]float64, len(lons))
		m.Mask[i] = make([]bool, len(lons))
		for j := range lons {
			m.Values[i][j] = math.NaN()
			m.Mask[i][j] = true
		}
	}

	latPos := positions(lats)
	lonPos := positions(lons)
	for _, row := range grouped.rows {
		i, okLat := latPos[row[0].Num]
		j, okLon := lonPos[row[1].Num]
		v := row[2].Num
		if !okLat || !okLon || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		m.Values[i][j] = v
		m.Mask[i][j] = false
	}
	return m
}

func positions(axis []float64) map[float64]int {
	pos := make(map[float64]int, len(axis))
	for i, v := range axis {
		pos[v] = i
	}
	return pos
}

func sortedFloats(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
