package grid

import (
	"fmt"
	"math"
	"strings"

	"github.com/fhs/go-netcdf/netcdf"
)

// readFloat64Var reads every value of a NetCDF variable, in storage order, as float64.
func readFloat64Var(v netcdf.Var) ([]float64, error) {
	length, err := v.Len()
	if err != nil {
		return nil, fmt.Errorf("failed to get length: %w", err)
	}

	t, err := v.Type()
	if err != nil {
		return nil, fmt.Errorf("failed to get var type: %w", err)
	}

	switch t {
	case netcdf.DOUBLE:
		data := make([]float64, length)
		if err := v.ReadFloat64s(data); err != nil {
			return nil, err
		}
		return data, nil
	case netcdf.FLOAT:
		tmp := make([]float32, length)
		if err := v.ReadFloat32s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.INT64:
		tmp := make([]int64, length)
		if err := v.ReadInt64s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.INT:
		tmp := make([]int32, length)
		if err := v.ReadInt32s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	case netcdf.SHORT:
		tmp := make([]int16, length)
		if err := v.ReadInt16s(tmp); err != nil {
			return nil, err
		}
		return widen(tmp), nil
	default:
		return nil, fmt.Errorf("unsupported var type: %v", t)
	}
}

func widen[T float32 | int64 | int32 | int16](in []T) []float64 {
	out := make([]float64, len(in))
	for i, val := range in {
		out[i] = float64(val)
	}
	return out
}

// unpack replaces _FillValue and missing_value entries with NaN and applies
// the scale_factor/add_offset packing attributes, in place.
func unpack(v netcdf.Var, values []float64) {
	var fills []float64
	for _, name := range []string{"_FillValue", "missing_value"} {
		if fv, ok := readAttrFloat(v, name); ok {
			fills = append(fills, fv)
		}
	}
	scale, hasScale := readAttrFloat(v, "scale_factor")
	offset, hasOffset := readAttrFloat(v, "add_offset")
	if !hasScale {
		scale = 1
	}

	for i, val := range values {
		for _, fv := range fills {
			if val == fv {
				val = math.NaN()
				break
			}
		}
		if hasScale || hasOffset {
			val = val*scale + offset
		}
		values[i] = val
	}
}

// readAttrFloat returns the first value of a numeric attribute as float64.
func readAttrFloat(v netcdf.Var, name string) (float64, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return 0, false
	}
	t, err := a.Type()
	if err != nil {
		return 0, false
	}

	switch t {
	case netcdf.DOUBLE:
		buf := make([]float64, n)
		if err := a.ReadFloat64s(buf); err == nil {
			return buf[0], true
		}
	case netcdf.FLOAT:
		buf := make([]float32, n)
		if err := a.ReadFloat32s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.INT:
		buf := make([]int32, n)
		if err := a.ReadInt32s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.SHORT:
		buf := make([]int16, n)
		if err := a.ReadInt16s(buf); err == nil {
			return float64(buf[0]), true
		}
	case netcdf.INT64:
		buf := make([]int64, n)
		if err := a.ReadInt64s(buf); err == nil {
			return float64(buf[0]), true
		}
	}
	return 0, false
}

// readAttrString returns a text attribute.
func readAttrString(v netcdf.Var, name string) (string, bool) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil || n == 0 {
		return "", false
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", false
	}
	return strings.TrimRight(string(buf), "\x00"), true
}
