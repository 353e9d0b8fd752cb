// Package observability holds the Prometheus metrics of the normalization service.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"go.ngs.io/metnorm/internal/domain"
)

// Metrics holds the Prometheus counters and histograms for file decoding.
type Metrics struct {
	RowsDecoded    *prometheus.CounterVec   // labels: source={grid,blocks,csv}
	RowsDropped    *prometheus.CounterVec   // labels: source
	DecodeErrors   *prometheus.CounterVec   // labels: source, kind={format,schema,io}
	DecodeDuration *prometheus.HistogramVec // labels: source
	BlockNarrowing prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RowsDecoded,
		m.RowsDropped,
		m.DecodeErrors,
		m.DecodeDuration,
		m.BlockNarrowing,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so that
// tests can create as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RowsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metnorm",
			Name:      "rows_decoded_total",
			Help:      "Rows emitted by the decoders.",
		}, []string{"source"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metnorm",
			Name:      "rows_dropped_total",
			Help:      "Rows dropped because the measurement was missing.",
		}, []string{"source"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "metnorm",
			Name:      "decode_errors_total",
			Help:      "Decode failures by source and error kind.",
		}, []string{"source", "kind"}),
		DecodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "metnorm",
			Name:      "decode_duration_seconds",
			Help:      "Time spent decoding one input file.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		BlockNarrowing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metnorm",
			Name:      "block_narrowing_total",
			Help:      "Block files whose block0 held more than one distinct value.",
		}),
	}
}

// RecordError increments DecodeErrors with the kind derived from err.
func (m *Metrics) RecordError(source string, err error) {
	var fe *domain.FormatError
	var se *domain.SchemaMismatchError
	kind := "io"
	switch {
	case errors.As(err, &fe):
		kind = "format"
	case errors.As(err, &se):
		kind = "schema"
	}
	m.DecodeErrors.WithLabelValues(source, kind).Inc()
}

// RecordReport adds the row counts of a finished decode.
func (m *Metrics) RecordReport(rep *domain.DecodeReport, rows int) {
	m.RowsDecoded.WithLabelValues(rep.Source).Add(float64(rows))
	if rep.RowsDropped > 0 {
		m.RowsDropped.WithLabelValues(rep.Source).Add(float64(rep.RowsDropped))
	}
	if rep.Narrowed {
		m.BlockNarrowing.Inc()
	}
}
