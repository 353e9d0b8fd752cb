package grid

import (
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/fhs/go-netcdf/netcdf"

	"go.ngs.io/metnorm/internal/domain"
)

// timeAxis maps a flattened index over the leading (non-spatial) dimensions of
// the measurement to the UTC calendar date of a time variable. The time
// variable may span any subset of the leading dimensions, or none (a scalar).
type timeAxis struct {
	dates    []civil.Date
	strides  []int // Offset step in dates per leading dimension, 0 if not spanned.
	leadLens []int
}

func newTimeAxis(path, name string, v netcdf.Var, lead []string, leadLens []int) (*timeAxis, error) {
	names, err := dimNames(v)
	if err != nil {
		return nil, fmt.Errorf("failed to get dimensions of %s: %w", name, err)
	}
	lens, err := dimLens(v)
	if err != nil {
		return nil, fmt.Errorf("failed to get dimension lengths of %s: %w", name, err)
	}

	axis := &timeAxis{
		strides:  make([]int, len(lead)),
		leadLens: leadLens,
	}
	stride := 1
	for k := len(names) - 1; k >= 0; k-- {
		pos := -1
		for i, l := range lead {
			if l == names[k] {
				pos = i
				break
			}
		}
		if pos < 0 {
			return nil, &domain.FormatError{Path: path, Field: name, Reason: fmt.Sprintf("dimension %q is not a dimension of the measurement", names[k])}
		}
		if lens[k] != leadLens[pos] {
			return nil, &domain.FormatError{Path: path, Field: name, Reason: fmt.Sprintf("dimension %q has length %d, measurement has %d", names[k], lens[k], leadLens[pos])}
		}
		axis.strides[pos] = stride
		stride *= lens[k]
	}

	units, ok := readAttrString(v, "units")
	if !ok {
		return nil, &domain.FormatError{Path: path, Field: name + ".units"}
	}
	unitSeconds, ref, err := parseTimeUnits(units)
	if err != nil {
		return nil, &domain.FormatError{Path: path, Field: name + ".units", Reason: err.Error()}
	}

	values, err := readFloat64Var(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	unpack(v, values)

	axis.dates = make([]civil.Date, len(values))
	for i, val := range values {
		if math.IsNaN(val) {
			return nil, &domain.FormatError{Path: path, Field: name, Reason: fmt.Sprintf("value %d is missing", i)}
		}
		axis.dates[i] = civil.DateOf(offsetTime(ref, val*unitSeconds))
	}
	return axis, nil
}

// dateAt returns the date for flattened leading index li (C order).
func (a *timeAxis) dateAt(li int) civil.Date {
	off := 0
	for k := len(a.leadLens) - 1; k >= 0; k-- {
		n := a.leadLens[k]
		off += (li % n) * a.strides[k]
		li /= n
	}
	return a.dates[off]
}

// offsetTime adds a possibly fractional number of seconds to ref without
// overflowing time.Duration for references centuries in the past.
func offsetTime(ref time.Time, seconds float64) time.Time {
	whole := math.Floor(seconds)
	nanos := int64(math.Round((seconds - whole) * 1e9))
	return time.Unix(ref.Unix()+int64(whole), int64(ref.Nanosecond())+nanos).UTC()
}

var unitSecondsByName = map[string]float64{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1, "s": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600, "h": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

var referenceLayouts = []string{
	"2006-1-2 15:4:5Z07:00",
	"2006-1-2T15:4:5Z07:00",
	"2006-1-2 15:4:5",
	"2006-1-2T15:4:5",
	"2006-1-2 15:4",
	"2006-1-2T15:4",
	"2006-1-2",
}

// parseTimeUnits parses a CF time units string such as
// "hours since 1900-01-01 00:00:00.0" into seconds per unit and the reference time.
func parseTimeUnits(units string) (float64, time.Time, error) {
	unit, refStr, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("expected '<unit> since <reference>', got %q", units)
	}
	secs, ok := unitSecondsByName[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}

	refStr = strings.TrimSpace(refStr)
	refStr = strings.TrimSuffix(refStr, " UTC")
	refStr = strings.TrimSuffix(refStr, " utc")
	for _, layout := range referenceLayouts {
		if ref, err := time.Parse(layout, refStr); err == nil {
			return secs, ref.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unparseable reference time %q", refStr)
}
