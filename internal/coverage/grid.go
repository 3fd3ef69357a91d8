// Package coverage serves gridded environmental layers to an Environment.
//
// A Grid is one layer on a regular lon/lat lattice. A Catalog holds the grids
// of every parameter per step and is the Environment's data source.
package coverage

import (
	"fmt"
	"math"
	"slices"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

// Cell is one lattice value.
type Cell struct {
	Lon   float64
	Lat   float64
	Value float64
}

// Grid is a lon/lat lattice sampled by nearest cell. Cells absent from the
// input are NaN.
type Grid struct {
	lons   []float64
	lats   []float64
	values []float64 // row-major, one row per latitude
	extent core.Rect
}

// NewGrid builds a grid from cells. Cell coordinates become the lattice axes;
// a duplicate coordinate keeps the last value.
func NewGrid(cells []Cell) (*Grid, error) {
	if len(cells) == 0 {
		return nil, fmt.Errorf("grid has no cells")
	}
	lons := make([]float64, 0, len(cells))
	lats := make([]float64, 0, len(cells))
	for _, c := range cells {
		if math.IsNaN(c.Lon) || math.IsNaN(c.Lat) {
			return nil, fmt.Errorf("cell with NaN coordinate")
		}
		lons = append(lons, c.Lon)
		lats = append(lats, c.Lat)
	}
	slices.Sort(lons)
	slices.Sort(lats)
	lons = slices.Compact(lons)
	lats = slices.Compact(lats)

	g := &Grid{lons: lons, lats: lats, values: make([]float64, len(lons)*len(lats))}
	for i := range g.values {
		g.values[i] = math.NaN()
	}
	for _, c := range cells {
		x, _ := slices.BinarySearch(lons, c.Lon)
		y, _ := slices.BinarySearch(lats, c.Lat)
		g.values[y*len(lons)+x] = c.Value
	}

	halfLon, halfLat := halfSpacing(lons), halfSpacing(lats)
	g.extent = core.RectFromBounds(lons[0]-halfLon, lats[0]-halfLat, lons[len(lons)-1]+halfLon, lats[len(lats)-1]+halfLat)
	return g, nil
}

// halfSpacing is half the smallest gap between axis values, or zero for a
// single value.
func halfSpacing(axis []float64) float64 {
	gap := math.Inf(1)
	for i := 1; i < len(axis); i++ {
		gap = math.Min(gap, axis[i]-axis[i-1])
	}
	if math.IsInf(gap, 1) {
		return 0
	}
	return gap / 2
}

// Extent is the area the grid covers, half a cell beyond the outer axes.
func (g *Grid) Extent() core.Rect { return g.extent }

// Size returns the lattice dimensions.
func (g *Grid) Size() (lons, lats int) { return len(g.lons), len(g.lats) }

// Evaluate returns the value of the cell nearest p, or ErrOutsideCoverage
// when p lies beyond the grid extent.
func (g *Grid) Evaluate(p core.Point) ([]float64, error) {
	if !g.extent.Contains(p) {
		return nil, model.ErrOutsideCoverage
	}
	x := nearest(g.lons, p.Lon)
	y := nearest(g.lats, p.Lat)
	return []float64{g.values[y*len(g.lons)+x]}, nil
}

func nearest(axis []float64, v float64) int {
	i, _ := slices.BinarySearch(axis, v)
	switch {
	case i == 0:
		return 0
	case i == len(axis):
		return len(axis) - 1
	case v-axis[i-1] <= axis[i]-v:
		return i - 1
	default:
		return i
	}
}
