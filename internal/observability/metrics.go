package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/kitesim/core"
	"github.com/signalsfoundry/kitesim/model"
)

// SimCollector bundles Prometheus metrics for the flight loop. It satisfies
// core.MetricsRecorder and diag.Recorder so the simulation and the fault
// sink can drive it directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	StepDuration  prometheus.Histogram
	Steps         prometheus.Counter
	PausedSteps   prometheus.Counter
	Faults        *prometheus.CounterVec
	LineTension   *prometheus.GaugeVec
	Altitude      prometheus.Gauge
	ApparentWind  prometheus.Gauge
	GroundContact prometheus.Gauge
}

// NewSimCollector registers flight metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	stepDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kitesim_step_duration_seconds",
		Help:    "Wall time spent in one simulation step.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
	}), "kitesim_step_duration_seconds")
	if err != nil {
		return nil, err
	}
	steps, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitesim_steps_total",
		Help: "Number of integrated simulation steps.",
	}), "kitesim_steps_total")
	if err != nil {
		return nil, err
	}
	paused, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kitesim_paused_steps_total",
		Help: "Number of steps skipped while paused.",
	}), "kitesim_paused_steps_total")
	if err != nil {
		return nil, err
	}
	faults, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitesim_faults_total",
		Help: "Faults reported by the physics components, labeled by kind and component.",
	}, []string{"kind", "component"}), "kitesim_faults_total")
	if err != nil {
		return nil, err
	}
	tension, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kitesim_line_tension_newtons",
		Help: "Estimated control line tension, labeled by side.",
	}, []string{"side"}), "kitesim_line_tension_newtons")
	if err != nil {
		return nil, err
	}
	altitude, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitesim_altitude_meters",
		Help: "Height of the kite centroid above the ground plane.",
	}), "kitesim_altitude_meters")
	if err != nil {
		return nil, err
	}
	apparent, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitesim_apparent_wind_speed_mps",
		Help: "Apparent wind speed at the kite centroid.",
	}), "kitesim_apparent_wind_speed_mps")
	if err != nil {
		return nil, err
	}
	contact, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kitesim_ground_contact",
		Help: "1 while any sail anchor rests on the ground.",
	}), "kitesim_ground_contact")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:      gatherer,
		StepDuration:  stepDuration,
		Steps:         steps,
		PausedSteps:   paused,
		Faults:        faults,
		LineTension:   tension,
		Altitude:      altitude,
		ApparentWind:  apparent,
		GroundContact: contact,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveStep implements core.MetricsRecorder.
func (c *SimCollector) ObserveStep(f core.Frame, took time.Duration) {
	if c == nil {
		return
	}
	if f.Paused {
		c.PausedSteps.Inc()
		return
	}
	c.Steps.Inc()
	c.StepDuration.Observe(took.Seconds())
	for _, side := range model.Sides {
		c.LineTension.WithLabelValues(side.String()).Set(f.Lines[side].Tension)
	}
	c.Altitude.Set(f.Position.Y())
	c.ApparentWind.Set(f.Wind.Speed)
	if f.GroundContact {
		c.GroundContact.Set(1)
	} else {
		c.GroundContact.Set(0)
	}
}

// RecordFault implements diag.Recorder.
func (c *SimCollector) RecordFault(kind, component string) {
	if c == nil || c.Faults == nil {
		return
	}
	c.Faults.WithLabelValues(kind, component).Inc()
}

// register adds a collector to reg, reusing an already registered collector
// of the same type so repeated construction against one registry works.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, name string) (C, error) {
	if err := reg.Register(c); err != nil {
		var zero C
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return zero, err
	}
	return c, nil
}
