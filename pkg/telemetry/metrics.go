package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/prohmpiriya/ticket-rush"

// MetricOpts describes an instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

// Meter returns the process meter. It resolves against the global provider
// so instruments created before Init still export once Init runs.
func Meter() metric.Meter {
	return otel.Meter(meterName)
}

// NewCounter creates an Int64 counter
func NewCounter(opts MetricOpts) (metric.Int64Counter, error) {
	return Meter().Int64Counter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
}

// NewUpDownCounter creates an Int64 up/down counter
func NewUpDownCounter(opts MetricOpts) (metric.Int64UpDownCounter, error) {
	return Meter().Int64UpDownCounter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
}

// NewHistogramWithBuckets creates a Float64 histogram with explicit bucket bounds
func NewHistogramWithBuckets(opts MetricOpts, buckets []float64) (metric.Float64Histogram, error) {
	hopts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(buckets) > 0 {
		hopts = append(hopts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	return Meter().Float64Histogram(opts.Name, hopts...)
}
