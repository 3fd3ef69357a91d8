// Package config loads the simulator configuration: embedded defaults, an
// optional YAML file on top, then environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/internal/observability"
	"github.com/signalsfoundry/animat-simulator/model"
	"github.com/signalsfoundry/animat-simulator/timectrl"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every simulator setting.
type Config struct {
	Simulation  SimulationConfig   `yaml:"simulation"`
	Remote      RemoteConfig       `yaml:"remote"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Logging     LoggingConfig      `yaml:"logging"`
	Tracing     TracingConfig      `yaml:"tracing"`
	Data        DataConfig         `yaml:"data"`
	Parameters  []ParameterConfig  `yaml:"parameters"`
	Species     []SpeciesConfig    `yaml:"species"`
	Populations []PopulationConfig `yaml:"populations"`
}

// SimulationConfig sets up the clock and the step loop.
type SimulationConfig struct {
	Start    string        `yaml:"start"`     // RFC 3339 or YYYY-MM-DD
	TimeZone string        `yaml:"time_zone"` // IANA name
	Step     time.Duration `yaml:"step"`
	Delay    time.Duration `yaml:"delay"` // minimum wall time per step
	Seed     uint64        `yaml:"seed"`
}

// RemoteConfig configures the object server.
type RemoteConfig struct {
	Address         string        `yaml:"address"`
	Name            string        `yaml:"name"`
	UnexportTimeout time.Duration `yaml:"unexport_timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig mirrors observability.TracingConfig.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DataConfig points at the environmental layers and the catch samples.
type DataConfig struct {
	Coverage []CoverageFile `yaml:"coverage"`
	Samples  string         `yaml:"samples"` // SQLite database path
}

// CoverageFile is one CSV file of grid layers for a parameter.
type CoverageFile struct {
	Parameter string `yaml:"parameter"`
	Path      string `yaml:"path"`
}

// ParameterConfig declares an environmental parameter.
type ParameterConfig struct {
	Name          string  `yaml:"name"`
	Units         string  `yaml:"units"`
	Min           float64 `yaml:"min"`
	Max           float64 `yaml:"max"`
	Dimensions    int     `yaml:"dimensions"`
	DefaultWeight float64 `yaml:"default_weight"`
}

// SpeciesConfig declares a species and what it observes.
type SpeciesConfig struct {
	Name             string             `yaml:"name"`
	MaxDailyDistance float64            `yaml:"max_daily_distance"` // nautical miles
	PerceptionRadius float64            `yaml:"perception_radius"`  // nautical miles
	Parameters       []string           `yaml:"parameters"`
	Weights          map[string]float64 `yaml:"weights"`
}

// PopulationConfig seeds a population with animals at fixed positions.
type PopulationConfig struct {
	Species   string     `yaml:"species"`
	Positions []Position `yaml:"positions"`
}

// Position is a longitude/latitude pair in degrees.
type Position struct {
	Lon float64 `yaml:"lon"`
	Lat float64 `yaml:"lat"`
}

// Load reads the embedded defaults and, when path is set, merges the file at
// path over them. Lists in the file replace the default lists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides addresses and logging from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("ANIMAT_GRPC_ADDR"); v != "" {
		c.Remote.Address = v
	}
	if v := os.Getenv("ANIMAT_METRICS_ADDR"); v != "" {
		c.Metrics.Address = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks the configuration for values the simulator cannot run
// with. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Simulation.Step <= 0 {
		bad("simulation.step must be positive, got %s", c.Simulation.Step)
	}
	if c.Simulation.Delay < 0 {
		bad("simulation.delay must not be negative, got %s", c.Simulation.Delay)
	}
	if _, err := c.Location(); err != nil {
		bad("simulation.time_zone: %v", err)
	}
	if _, err := c.StartTime(); err != nil {
		bad("simulation.start: %v", err)
	}
	if c.Remote.UnexportTimeout <= 0 {
		bad("remote.unexport_timeout must be positive, got %s", c.Remote.UnexportTimeout)
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		bad("tracing.sample_ratio must be within [0, 1], got %v", r)
	}

	params := map[string]bool{model.Heading.Name: true}
	for _, p := range c.Parameters {
		switch {
		case p.Name == "":
			bad("parameter without a name")
		case params[p.Name]:
			bad("duplicate parameter %q", p.Name)
		case p.Max < p.Min:
			bad("parameter %q: max %v below min %v", p.Name, p.Max, p.Min)
		}
		params[p.Name] = true
	}
	for _, f := range c.Data.Coverage {
		if !params[f.Parameter] {
			bad("coverage file %q: unknown parameter %q", f.Path, f.Parameter)
		}
	}

	species := map[string]bool{}
	for _, s := range c.Species {
		if s.Name == "" {
			bad("species without a name")
			continue
		}
		if species[s.Name] {
			bad("duplicate species %q", s.Name)
		}
		species[s.Name] = true
		if s.MaxDailyDistance < 0 || s.PerceptionRadius < 0 {
			bad("species %q: distances must not be negative", s.Name)
		}
		for _, name := range s.Parameters {
			if !params[name] {
				bad("species %q: unknown parameter %q", s.Name, name)
			}
		}
	}
	for i, p := range c.Populations {
		if !species[p.Species] {
			bad("populations[%d]: unknown species %q", i, p.Species)
		}
	}
	return errors.Join(errs...)
}

// Location resolves the configured time zone, UTC when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Simulation.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Simulation.TimeZone)
}

// StartTime parses the configured start, interpreting a bare date in the
// configured time zone.
func (c *Config) StartTime() (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	raw := strings.TrimSpace(c.Simulation.Start)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

// Clock builds the simulation clock.
func (c *Config) Clock() (*timectrl.Clock, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	start, err := c.StartTime()
	if err != nil {
		return nil, err
	}
	return timectrl.NewClock(start, c.Simulation.Step, loc), nil
}

// Catalog builds the parameter catalog. It always holds model.Heading.
func (c *Config) Catalog() (*model.Catalog, error) {
	cat := model.NewCatalog()
	for _, pc := range c.Parameters {
		p := model.NewParameter(pc.Name, pc.Units, model.Range{Min: pc.Min, Max: pc.Max})
		if pc.Dimensions > 0 {
			p.Dimensions = pc.Dimensions
		}
		p.DefaultWeight = pc.DefaultWeight
		if err := cat.Add(p); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

// BuildSpecies resolves the species against cat.
func (c *Config) BuildSpecies(cat *model.Catalog) ([]*model.Species, error) {
	out := make([]*model.Species, 0, len(c.Species))
	for _, sc := range c.Species {
		s := &model.Species{
			Name:             sc.Name,
			MaxDailyDistance: sc.MaxDailyDistance,
			PerceptionRadius: sc.PerceptionRadius,
			Weights:          sc.Weights,
		}
		for _, name := range sc.Parameters {
			p := cat.Get(name)
			if p == nil {
				return nil, fmt.Errorf("species %q: %w: %s", sc.Name, model.ErrNoSuchParameter, name)
			}
			s.Parameters = append(s.Parameters, p)
		}
		out = append(out, s)
	}
	return out, nil
}

// LoggerConfig returns the logging settings.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		AddSource: true,
	}
}

// TracerConfig returns the tracing settings.
func (c *Config) TracerConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
