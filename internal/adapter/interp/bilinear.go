// Package interp samples spatial matrices between grid points.
package interp

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.ngs.io/metnorm/internal/domain"
)

// ErrMasked is returned when a corner of the enclosing cell has no value.
var ErrMasked = errors.New("grid cell touches a masked value")

// Sample estimates the value of m at (lat, lon) by bilinear interpolation
// between the four grid points around it. Points on the outer edge use the
// last cell. It fails with ErrMasked when any of the four corners is masked
// or NaN, so a gap in the matrix is never blended into a value.
func Sample(m *domain.SpatialMatrix, lat, lon float64) (float64, error) {
	if err := checkMatrix(m); err != nil {
		return 0, fmt.Errorf("invalid matrix: %w", err)
	}

	i, ok := cellIndex(m.Lats, lat)
	if !ok {
		return 0, fmt.Errorf("latitude %.6f is outside the matrix [%.6f, %.6f]", lat, m.Lats[0], m.Lats[len(m.Lats)-1])
	}
	j, ok := cellIndex(m.Lons, lon)
	if !ok {
		return 0, fmt.Errorf("longitude %.6f is outside the matrix [%.6f, %.6f]", lon, m.Lons[0], m.Lons[len(m.Lons)-1])
	}

	c := cell{
		south: m.Lats[i], north: m.Lats[i+1],
		west: m.Lons[j], east: m.Lons[j+1],
	}
	corners := [4]*float64{&c.sw, &c.se, &c.nw, &c.ne}
	for k, p := range [4][2]int{{i, j}, {i, j + 1}, {i + 1, j}, {i + 1, j + 1}} {
		v := m.Values[p[0]][p[1]]
		if m.Mask[p[0]][p[1]] || math.IsNaN(v) {
			return 0, fmt.Errorf("at (%.6f, %.6f): %w", lat, lon, ErrMasked)
		}
		*corners[k] = v
	}
	return c.blend(lat, lon), nil
}

// cell is the rectangle between two adjacent latitudes and longitudes.
type cell struct {
	south, north float64
	west, east   float64

	sw, se, nw, ne float64
}

// blend interpolates along longitude on both edges, then along latitude.
func (c cell) blend(lat, lon float64) float64 {
	fx := clamp01((lon - c.west) / (c.east - c.west))
	fy := clamp01((lat - c.south) / (c.north - c.south))
	south := c.sw + fx*(c.se-c.sw)
	north := c.nw + fx*(c.ne-c.nw)
	return south + fy*(north-south)
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// checkMatrix verifies the shape Sample relies on: at least a 2x2 grid,
// strictly increasing axes, and values and mask matching the axes.
func checkMatrix(m *domain.SpatialMatrix) error {
	if m.Rows() < 2 || m.Cols() < 2 {
		return fmt.Errorf("need at least 2x2 grid points, have %dx%d", m.Rows(), m.Cols())
	}
	if len(m.Values) != m.Rows() || len(m.Mask) != m.Rows() {
		return fmt.Errorf("values have %d rows and mask %d, expected %d", len(m.Values), len(m.Mask), m.Rows())
	}
	for i := range m.Values {
		if len(m.Values[i]) != m.Cols() || len(m.Mask[i]) != m.Cols() {
			return fmt.Errorf("row %d does not have %d columns", i, m.Cols())
		}
	}
	if !increasing(m.Lats) {
		return fmt.Errorf("latitudes must be strictly increasing")
	}
	if !increasing(m.Lons) {
		return fmt.Errorf("longitudes must be strictly increasing")
	}
	return nil
}

func increasing(axis []float64) bool {
	for i := 1; i < len(axis); i++ {
		if axis[i] <= axis[i-1] {
			return false
		}
	}
	return true
}

// cellIndex returns the index of the lower bound of the interval holding v.
func cellIndex(axis []float64, v float64) (int, bool) {
	if v < axis[0] || v > axis[len(axis)-1] || math.IsNaN(v) {
		return 0, false
	}
	i := sort.SearchFloat64s(axis, v)
	if i > 0 && (i == len(axis) || axis[i] != v) {
		i--
	}
	if i == len(axis)-1 {
		i--
	}
	return i, true
}
