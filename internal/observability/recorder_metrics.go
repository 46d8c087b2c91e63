package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecorderCollector exposes flight recorder metrics.
type RecorderCollector struct {
	gatherer prometheus.Gatherer

	FlushDuration prometheus.Histogram
	FramesPending prometheus.Gauge
	FramesWritten prometheus.Counter
	FlushErrors   prometheus.Counter
}

// NewRecorderCollector registers recorder metrics against the provided registerer.
func NewRecorderCollector(reg prometheus.Registerer) (*RecorderCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	flush, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kitesim_recorder_flush_duration_seconds",
		Help:    "Duration of one batched frame write.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "kitesim_recorder_flush_duration_seconds")
	if err != nil {
		return nil, err
	}
	pending, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitesim_recorder_frames_pending",
		Help: "Frames buffered and not yet written.",
	}), "kitesim_recorder_frames_pending")
	if err != nil {
		return nil, err
	}
	written, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitesim_recorder_frames_written_total",
		Help: "Frames committed to the recorder database.",
	}), "kitesim_recorder_frames_written_total")
	if err != nil {
		return nil, err
	}
	flushErrors, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitesim_recorder_flush_errors_total",
		Help: "Batched writes that were rolled back.",
	}), "kitesim_recorder_flush_errors_total")
	if err != nil {
		return nil, err
	}

	return &RecorderCollector{
		gatherer:      gatherer,
		FlushDuration: flush,
		FramesPending: pending,
		FramesWritten: written,
		FlushErrors:   flushErrors,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RecorderCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveFlush records one batched write of n frames.
func (c *RecorderCollector) ObserveFlush(n int, d time.Duration, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.FlushErrors.Inc()
		return
	}
	c.FlushDuration.Observe(d.Seconds())
	c.FramesWritten.Add(float64(n))
}

// SetPending updates the buffered frame gauge.
func (c *RecorderCollector) SetPending(n int) {
	if c == nil || c.FramesPending == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	c.FramesPending.Set(float64(n))
}
