// Package retrieval builds batch retrieval requests for the ERA5-Land archive.
// It only produces request payloads; submitting them is left to the caller.
package retrieval

import (
	"fmt"

	"go.ngs.io/metnorm/internal/domain"
)

// Datasets served by the climate data store.
const (
	DatasetHourly     = "reanalysis-era5-land"
	DatasetDailyStats = "derived-era5-land-daily-statistics"
)

const variable2mTemperature = "2m_temperature"

// Kind selects the product a request is built for.
type Kind string

// Supported request kinds.
const (
	KindHourly    Kind = "hourly"
	KindDailyMean Kind = "daily_mean"
)

// ParseKind parses a request kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindHourly, KindDailyMean:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown request kind %q (expected hourly or daily_mean)", s)
	}
}

// Area is a bounding box in degrees.
type Area struct {
	North float64 `json:"north" validate:"gte=-90,lte=90,gtefield=South"`
	West  float64 `json:"west" validate:"gte=-180,lte=360"`
	South float64 `json:"south" validate:"gte=-90,lte=90"`
	East  float64 `json:"east" validate:"gte=-180,lte=360"`
}

// Bounds returns the area in the archive's north/west/south/east order.
func (a Area) Bounds() []float64 {
	return []float64{a.North, a.West, a.South, a.East}
}

// Request is a retrieval payload for one dataset.
type Request struct {
	Dataset        string    `json:"dataset"`
	Variable       []string  `json:"variable"`
	Year           []string  `json:"year"`
	Month          []string  `json:"month"`
	Day            []string  `json:"day"`
	Time           []string  `json:"time,omitempty"`
	DataFormat     string    `json:"data_format,omitempty"`
	DownloadFormat string    `json:"download_format,omitempty"`
	DailyStatistic string    `json:"daily_statistic,omitempty"`
	TimeZone       string    `json:"time_zone,omitempty"`
	Frequency      string    `json:"frequency,omitempty"`
	Area           []float64 `json:"area"`
}

// Builder builds requests with deployment defaults for daily statistics.
type Builder struct {
	timeZone  string
	frequency string
}

// NewBuilder creates a request builder. timeZone (e.g. "utc+02:00") and
// frequency (e.g. "1_hourly") apply to daily statistic requests.
func NewBuilder(timeZone, frequency string) *Builder {
	return &Builder{timeZone: timeZone, frequency: frequency}
}

// Hourly builds a request for every hour of the days covered by tokens. The
// archive takes the cross product of years, months and days, so the request
// may cover more days than the range the tokens were expanded from.
func (b *Builder) Hourly(tokens domain.DateTokenSet, area Area) (*Request, error) {
	if tokens.Empty() {
		return nil, fmt.Errorf("empty date range")
	}
	return &Request{
		Dataset:        DatasetHourly,
		Variable:       []string{variable2mTemperature},
		Year:           tokens.SortedYears(),
		Month:          tokens.SortedMonths(),
		Day:            tokens.SortedDays(),
		Time:           hours(),
		DataFormat:     "grib",
		DownloadFormat: "archive",
		Area:           area.Bounds(),
	}, nil
}

// DailyMean builds a daily mean statistics request. An empty timeZone uses the
// builder default.
func (b *Builder) DailyMean(tokens domain.DateTokenSet, area Area, timeZone string) (*Request, error) {
	if tokens.Empty() {
		return nil, fmt.Errorf("empty date range")
	}
	if timeZone == "" {
		timeZone = b.timeZone
	}
	return &Request{
		Dataset:        DatasetDailyStats,
		Variable:       []string{variable2mTemperature},
		Year:           tokens.SortedYears(),
		Month:          tokens.SortedMonths(),
		Day:            tokens.SortedDays(),
		DailyStatistic: string(KindDailyMean),
		TimeZone:       timeZone,
		Frequency:      b.frequency,
		Area:           area.Bounds(),
	}, nil
}

// Build dispatches on kind.
func (b *Builder) Build(kind Kind, tokens domain.DateTokenSet, area Area, timeZone string) (*Request, error) {
	switch kind {
	case KindHourly:
		return b.Hourly(tokens, area)
	case KindDailyMean:
		return b.DailyMean(tokens, area, timeZone)
	default:
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}
}

func hours() []string {
	out := make([]string, 24)
	for h := range out {
		out[h] = fmt.Sprintf("%02d:00", h)
	}
	return out
}
