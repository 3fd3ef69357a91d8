package coverage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

const sstCSV = `step,lon,lat,value
0,150,-10,28.5
0,151,-10,29.0
0,150,-9,27.5
0,151,-9,
1,150,-10,28.0
1,151,-10,28.2
`

var sst = model.NewParameter("sst", "degC", model.Range{Min: 10, Max: 35})

func loadSST(t *testing.T, opts ...CatalogOption) *Catalog {
	t.Helper()
	c := NewCatalog(opts...)
	if err := c.LoadCSV("sst", strings.NewReader(sstCSV)); err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	return c
}

func TestGridNearestCell(t *testing.T) {
	t.Parallel()

	g, err := NewGrid([]Cell{
		{Lon: 150, Lat: -10, Value: 1},
		{Lon: 151, Lat: -10, Value: 2},
		{Lon: 150, Lat: -9, Value: 3},
	})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if lons, lats := g.Size(); lons != 2 || lats != 2 {
		t.Fatalf("Size() = %d, %d, want 2, 2", lons, lats)
	}

	tests := []struct {
		name string
		at   core.Point
		want float64
	}{
		{name: "on cell", at: core.Point{Lon: 150, Lat: -10}, want: 1},
		{name: "nearer east", at: core.Point{Lon: 150.7, Lat: -10.2}, want: 2},
		{name: "nearer north", at: core.Point{Lon: 149.8, Lat: -9.4}, want: 3},
		{name: "absent cell", at: core.Point{Lon: 151, Lat: -9}, want: math.NaN()},
	}
	for _, tc := range tests {
		got, err := g.Evaluate(tc.at)
		if err != nil {
			t.Fatalf("%s: Evaluate: %v", tc.name, err)
		}
		if len(got) != 1 || !(got[0] == tc.want || math.IsNaN(got[0]) && math.IsNaN(tc.want)) {
			t.Fatalf("%s: Evaluate(%v) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}

func TestGridOutsideExtent(t *testing.T) {
	t.Parallel()

	g, err := NewGrid([]Cell{{Lon: 150, Lat: -10, Value: 1}, {Lon: 151, Lat: -9, Value: 2}})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	ext := g.Extent()
	if ext.West != 149.5 || ext.East != 151.5 || ext.South != -10.5 || ext.North != -8.5 {
		t.Fatalf("Extent() = %+v, want half a cell beyond the axes", ext)
	}
	if _, err := g.Evaluate(core.Point{Lon: 151.6, Lat: -9}); !errors.Is(err, model.ErrOutsideCoverage) {
		t.Fatalf("Evaluate outside error = %v, want ErrOutsideCoverage", err)
	}
}

func TestNewGridRejectsEmpty(t *testing.T) {
	t.Parallel()

	if _, err := NewGrid(nil); err == nil {
		t.Fatalf("NewGrid(nil) succeeded, want error")
	}
}

func TestCatalogServesLayersPerStep(t *testing.T) {
	t.Parallel()

	c := loadSST(t)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s0, err := c.Coverage(sst, 0, at)
	if err != nil || s0 == nil {
		t.Fatalf("Coverage(step 0) = %v, %v, want a layer", s0, err)
	}
	v, err := s0.Evaluate(core.Point{Lon: 151, Lat: -9})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !math.IsNaN(v[0]) {
		t.Fatalf("empty CSV value = %v, want NaN", v[0])
	}

	s1, err := c.Coverage(sst, 1, at)
	if err != nil {
		t.Fatalf("Coverage(step 1): %v", err)
	}
	if v, _ := s1.Evaluate(core.Point{Lon: 151, Lat: -10}); v[0] != 28.2 {
		t.Fatalf("step 1 value = %v, want 28.2", v[0])
	}

	if s, err := c.Coverage(sst, 2, at); s != nil || err != nil {
		t.Fatalf("Coverage(step 2) = %v, %v, want no layer and no error", s, err)
	}
	chl := model.NewParameter("chlorophyll", "mg/m3", model.Range{Max: 5})
	if _, err := c.Coverage(chl, 0, at); !errors.Is(err, model.ErrNoSuchParameter) {
		t.Fatalf("Coverage(chlorophyll) error = %v, want ErrNoSuchParameter", err)
	}

	if got := c.CoverageNames(1, at); len(got) != 1 || got[0] != "sst" {
		t.Fatalf("CoverageNames(1) = %v, want [sst]", got)
	}
	if got := c.CoverageNames(5, at); len(got) != 0 {
		t.Fatalf("CoverageNames(5) = %v, want none", got)
	}
}

func TestCatalogHasStep(t *testing.T) {
	t.Parallel()

	if !NewCatalog().HasStep(1000) {
		t.Fatalf("empty catalog ran out of steps")
	}
	c := loadSST(t)
	if c.LastStep() != 1 {
		t.Fatalf("LastStep() = %d, want 1", c.LastStep())
	}
	if !c.HasStep(1) || c.HasStep(2) {
		t.Fatalf("HasStep(1), HasStep(2) = %v, %v, want true, false", c.HasStep(1), c.HasStep(2))
	}
}

func TestCatalogReadLimit(t *testing.T) {
	t.Parallel()

	c := loadSST(t, WithReadLimit(2))
	s, err := c.Coverage(sst, 0, time.Time{})
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	pt := core.Point{Lon: 150, Lat: -10}
	for i := 0; i < 2; i++ {
		if _, err := s.Evaluate(pt); err != nil {
			t.Fatalf("read %d: %v", i+1, err)
		}
	}
	if _, err := s.Evaluate(pt); !errors.Is(err, model.ErrResourceExhausted) {
		t.Fatalf("read past limit error = %v, want ErrResourceExhausted", err)
	}
}

func TestLoadFileReportsBadRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(path, []byte("step,lon,lat,value\n0,150,-10,warm\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := NewCatalog().LoadFile("sst", path); err == nil {
		t.Fatalf("LoadFile with a non-numeric value succeeded, want error")
	}
	if err := NewCatalog().LoadFile("sst", filepath.Join(dir, "missing.csv")); err == nil {
		t.Fatalf("LoadFile on a missing file succeeded, want error")
	}
}
