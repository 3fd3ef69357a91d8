package model

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// Range is the expected interval of a parameter value.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Normalize maps v onto [0, 1] relative to the range. Values outside the range
// are clamped; a degenerate range yields 0.
func (r Range) Normalize(v float64) float64 {
	span := r.Max - r.Min
	if span <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, (v-r.Min)/span))
}

// Parameter describes an environmental quantity animals observe, e.g. sea
// surface temperature or chlorophyll concentration. Parameters are immutable
// and may be shared by many species.
type Parameter struct {
	Name  string
	Units string
	Range Range

	// Dimensions is the number of values a sample of this parameter yields.
	Dimensions int

	// DefaultWeight applies to species that carry no explicit weight.
	DefaultWeight float64

	// Intrinsic parameters are read from the animal itself rather than from a
	// coverage layer. See Heading.
	Intrinsic bool
}

// NewParameter builds a single-valued parameter with a default weight of 1.
func NewParameter(name, units string, r Range) *Parameter {
	return &Parameter{
		Name:          name,
		Units:         units,
		Range:         r,
		Dimensions:    1,
		DefaultWeight: 1,
	}
}

// Weight returns the weight of this parameter for an animal of species s.
func (p *Parameter) Weight(s *Species) float64 {
	if s != nil {
		if w, ok := s.Weights[p.Name]; ok {
			return w
		}
	}
	return p.DefaultWeight
}

// MissingValues returns a vector of Dimensions NaN values.
func (p *Parameter) MissingValues() []float64 {
	n := p.Dimensions
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func (p *Parameter) String() string {
	return p.Name
}

// Heading is the built-in intrinsic parameter reporting the animal's current
// heading in degrees. It carries no weight: it is observed, not steered to.
var Heading = &Parameter{
	Name:       "heading",
	Units:      "degrees",
	Range:      Range{Min: 0, Max: 360},
	Dimensions: 1,
	Intrinsic:  true,
}

// Catalog is a registry of named parameters shared across species.
type Catalog struct {
	mu     sync.RWMutex
	params map[string]*Parameter
}

// NewCatalog returns a catalog that already holds Heading.
func NewCatalog() *Catalog {
	return &Catalog{params: map[string]*Parameter{Heading.Name: Heading}}
}

// Add registers p. Names are unique.
func (c *Catalog) Add(p *Parameter) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.params[p.Name]; exists {
		return fmt.Errorf("parameter %q already registered", p.Name)
	}
	c.params[p.Name] = p
	return nil
}

// Get returns the parameter with the given name, or nil.
func (c *Catalog) Get(name string) *Parameter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params[name]
}

// List returns every parameter sorted by name.
func (c *Catalog) List() []*Parameter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Parameter, 0, len(c.params))
	for _, p := range c.params {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
