package coverage

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

// record is one CSV row. Value stays a string so empty cells read as NaN.
type record struct {
	Step  int     `csv:"step"`
	Lon   float64 `csv:"lon"`
	Lat   float64 `csv:"lat"`
	Value string  `csv:"value"`
}

// Catalog holds grids per parameter name and step. It is safe for concurrent
// use.
type Catalog struct {
	mu       sync.RWMutex
	layers   map[string]map[int]*Grid
	lastStep int

	readLimit int64
	reads     atomic.Int64
}

// CatalogOption customises a Catalog.
type CatalogOption func(*Catalog)

// WithReadLimit makes every sampler fail with model.ErrResourceExhausted once
// n points have been read through the catalog.
func WithReadLimit(n int64) CatalogOption {
	return func(c *Catalog) {
		c.readLimit = n
	}
}

// NewCatalog returns an empty catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{layers: make(map[string]map[int]*Grid), lastStep: -1}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Add stores g as the layer for parameter name at step.
func (c *Catalog) Add(name string, step int, g *Grid) error {
	if name == "" || g == nil || step < 0 {
		return fmt.Errorf("coverage layer needs a name, a grid and a non-negative step")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	steps, ok := c.layers[name]
	if !ok {
		steps = make(map[int]*Grid)
		c.layers[name] = steps
	}
	steps[step] = g
	c.lastStep = max(c.lastStep, step)
	return nil
}

// LoadCSV reads layers for parameter name from r. The CSV has a header row
// with step, lon, lat and value columns; one grid is built per step. Empty
// or NaN values are missing data.
func (c *Catalog) LoadCSV(name string, r io.Reader) error {
	var rows []*record
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return fmt.Errorf("parse coverage %q: %w", name, err)
	}
	byStep := make(map[int][]Cell)
	for i, row := range rows {
		if row.Step < 0 {
			return fmt.Errorf("coverage %q row %d: negative step %d", name, i+1, row.Step)
		}
		v, err := parseValue(row.Value)
		if err != nil {
			return fmt.Errorf("coverage %q row %d: %w", name, i+1, err)
		}
		byStep[row.Step] = append(byStep[row.Step], Cell{Lon: row.Lon, Lat: row.Lat, Value: v})
	}
	for step, cells := range byStep {
		g, err := NewGrid(cells)
		if err != nil {
			return fmt.Errorf("coverage %q step %d: %w", name, step, err)
		}
		if err := c.Add(name, step, g); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile is LoadCSV on the file at path.
func (c *Catalog) LoadFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open coverage %q: %w", name, err)
	}
	defer f.Close()
	return c.LoadCSV(name, f)
}

func parseValue(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q: %w", raw, err)
	}
	return v, nil
}

// Coverage returns the grid for p at step, or nil when p has layers but none
// for this step. Parameters without any layer yield model.ErrNoSuchParameter.
func (c *Catalog) Coverage(p *model.Parameter, step int, _ time.Time) (model.Sampler, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	steps, ok := c.layers[p.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNoSuchParameter, p.Name)
	}
	g, ok := steps[step]
	if !ok {
		return nil, nil
	}
	if c.readLimit > 0 {
		return c.metered(g), nil
	}
	return g, nil
}

func (c *Catalog) metered(g *Grid) model.Sampler {
	return model.SamplerFunc(func(p core.Point) ([]float64, error) {
		if c.reads.Add(1) > c.readLimit {
			return nil, model.ErrResourceExhausted
		}
		return g.Evaluate(p)
	})
}

// CoverageNames lists, sorted, the parameters with a layer at step.
func (c *Catalog) CoverageNames(step int, _ time.Time) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for name, steps := range c.layers {
		if _, ok := steps[step]; ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// HasStep reports whether any layer exists at or after step. An empty
// catalog never runs out.
func (c *Catalog) HasStep(step int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastStep < 0 || step <= c.lastStep
}

// LastStep returns the highest step with a layer, -1 when empty.
func (c *Catalog) LastStep() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastStep
}
