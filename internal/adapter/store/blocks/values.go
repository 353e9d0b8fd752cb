package blocks

import (
	"fmt"
	"reflect"
	"strings"
)

// The HDF5 reader returns variable values as nested Go slices whose element
// type follows the stored type. These helpers normalize the shapes the block
// layout uses.

// decodeNames converts an items array (fixed-length byte strings) to column names.
func decodeNames(values any) ([]string, error) {
	var names []string
	switch vs := values.(type) {
	case []string:
		names = make([]string, len(vs))
		for i, s := range vs {
			names[i] = trimName(s)
		}
	case [][]byte:
		names = make([]string, len(vs))
		for i, b := range vs {
			names[i] = trimName(string(b))
		}
	case string:
		names = []string{trimName(vs)}
	case []any:
		for _, v := range vs {
			sub, err := decodeNames(v)
			if err != nil {
				return nil, err
			}
			names = append(names, sub...)
		}
	default:
		return nil, fmt.Errorf("unsupported items type %T", values)
	}

	if len(names) == 0 {
		return nil, fmt.Errorf("no column names")
	}
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("column %d has an empty name", i)
		}
	}
	return names, nil
}

func trimName(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// toFloatRows converts a 2D numeric array to rows. A 1D array is read as a
// single column.
func toFloatRows(values any) ([][]float64, error) {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected an array, got %T", values)
	}

	rows := make([][]float64, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		el := rv.Index(i)
		if el.Kind() == reflect.Interface {
			el = el.Elem()
		}
		if el.Kind() != reflect.Slice {
			f, ok := number(el)
			if !ok {
				return nil, fmt.Errorf("row %d: unsupported value %v", i, el)
			}
			rows[i] = []float64{f}
			continue
		}
		row := make([]float64, el.Len())
		for j := range row {
			f, ok := number(el.Index(j))
			if !ok {
				return nil, fmt.Errorf("row %d column %d: unsupported value %v", i, j, el.Index(j))
			}
			row[j] = f
		}
		rows[i] = row
	}
	return rows, nil
}

// toInt64s flattens a numeric array of any depth in row-major order.
func toInt64s(values any) ([]int64, error) {
	var out []int64
	var walk func(v reflect.Value) error
	walk = func(v reflect.Value) error {
		if v.Kind() == reflect.Interface {
			v = v.Elem()
		}
		if !v.IsValid() {
			return fmt.Errorf("missing value")
		}
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < v.Len(); i++ {
				if err := walk(v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out = append(out, v.Int())
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out = append(out, int64(v.Uint()))
			return nil
		case reflect.Float32, reflect.Float64:
			out = append(out, int64(v.Float()))
			return nil
		default:
			return fmt.Errorf("unsupported value type %s", v.Type())
		}
	}
	if err := walk(reflect.ValueOf(values)); err != nil {
		return nil, err
	}
	return out, nil
}

func number(v reflect.Value) (float64, bool) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}
