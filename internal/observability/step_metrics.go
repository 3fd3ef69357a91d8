package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/animat-simulator/model"
)

// SimulationCollector exposes per-step simulation metrics.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	StepDuration       prometheus.Histogram
	StepsTotal         prometheus.Counter
	StepIndex          prometheus.Gauge
	Populations        prometheus.Gauge
	Animals            prometheus.Gauge
	MissingDataRatio   prometheus.Gauge
	OutOfCoverageRatio prometheus.Gauge
}

// NewSimulationCollector registers simulation metrics against the provided
// registerer.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	stepHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simulation_step_duration_seconds",
		Help:    "Wall-clock duration of one simulation step, movement and observation included.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	stepHistogram, err := registerHistogram(reg, stepHistogram, "simulation_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_steps_total",
		Help: "Cumulative number of simulation steps executed.",
	}), "simulation_steps_total")
	if err != nil {
		return nil, err
	}

	gauges := make([]prometheus.Gauge, 0, 5)
	for _, opts := range []prometheus.GaugeOpts{
		{Name: "simulation_step_index", Help: "Index of the current simulation step."},
		{Name: "simulation_populations", Help: "Current number of live populations."},
		{Name: "simulation_animals", Help: "Current number of live animals."},
		{Name: "simulation_missing_data_ratio", Help: "Weighted fraction of missing observations in the last completed step."},
		{Name: "simulation_out_of_coverage_ratio", Help: "Fraction of sampled points outside data coverage in the last completed step."},
	} {
		g, err := registerGauge(reg, prometheus.NewGauge(opts), opts.Name)
		if err != nil {
			return nil, err
		}
		gauges = append(gauges, g)
	}

	return &SimulationCollector{
		gatherer:           gatherer,
		StepDuration:       stepHistogram,
		StepsTotal:         steps,
		StepIndex:          gauges[0],
		Populations:        gauges[1],
		Animals:            gauges[2],
		MissingDataRatio:   gauges[3],
		OutOfCoverageRatio: gauges[4],
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// RecordStep records a completed step. report is the environment's report for
// the step just entered, as observed right after the transition.
func (c *SimulationCollector) RecordStep(step int, elapsed time.Duration, populations int, report model.Report) {
	if c == nil {
		return
	}
	if c.StepDuration != nil {
		c.StepDuration.Observe(elapsed.Seconds())
	}
	if c.StepsTotal != nil {
		c.StepsTotal.Inc()
	}
	if c.StepIndex != nil {
		c.StepIndex.Set(float64(step))
	}
	if c.Populations != nil {
		c.Populations.Set(float64(populations))
	}
	if c.Animals != nil {
		c.Animals.Set(float64(report.NumAnimals))
	}
	if c.MissingDataRatio != nil {
		c.MissingDataRatio.Set(report.PercentMissingData())
	}
	if c.OutOfCoverageRatio != nil {
		c.OutOfCoverageRatio.Set(report.PercentOutsideSpatialBounds())
	}
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
