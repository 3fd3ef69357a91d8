package model

import (
	"math"
	"testing"
	"time"
)

func TestParameterWeightFallsBackToDefault(t *testing.T) {
	sst := NewParameter("sst", "degC", Range{Min: 10, Max: 32})
	sst.DefaultWeight = 0.5

	tuna := &Species{Name: "skipjack", Weights: map[string]float64{"chl": 2}}
	if got := sst.Weight(tuna); got != 0.5 {
		t.Fatalf("Weight() = %v, want default 0.5", got)
	}

	tuna.Weights["sst"] = 3
	if got := tuna.Weight(sst); got != 3 {
		t.Fatalf("Weight() = %v, want species override 3", got)
	}
	if got := sst.Weight(nil); got != 0.5 {
		t.Fatalf("Weight(nil) = %v, want 0.5", got)
	}
}

func TestParameterMissingValues(t *testing.T) {
	p := &Parameter{Name: "current", Dimensions: 2}
	vals := p.MissingValues()
	if len(vals) != 2 || !math.IsNaN(vals[0]) || !math.IsNaN(vals[1]) {
		t.Fatalf("MissingValues() = %v, want two NaN", vals)
	}
	obs := Observation{Parameter: p, Values: vals}
	if !obs.Missing() {
		t.Fatalf("Missing() = false, want true")
	}
}

func TestRangeNormalize(t *testing.T) {
	r := Range{Min: 10, Max: 20}
	cases := map[float64]float64{5: 0, 10: 0, 15: 0.5, 20: 1, 30: 1}
	for in, want := range cases {
		if got := r.Normalize(in); got != want {
			t.Fatalf("Normalize(%v) = %v, want %v", in, got, want)
		}
	}
	if got := (Range{}).Normalize(1); got != 0 {
		t.Fatalf("degenerate Normalize = %v, want 0", got)
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	if c.Get("heading") != Heading {
		t.Fatalf("catalog does not hold the built-in heading parameter")
	}
	sst := NewParameter("sst", "degC", Range{Min: 0, Max: 35})
	if err := c.Add(sst); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Add(NewParameter("sst", "K", Range{})); err == nil {
		t.Fatalf("expected duplicate Add to fail")
	}
	list := c.List()
	if len(list) != 2 || list[0] != Heading || list[1] != sst {
		t.Fatalf("List() = %v", list)
	}
}

func TestSpeciesMaxDistance(t *testing.T) {
	s := &Species{MaxDailyDistance: 48}
	if got := s.MaxDistance(6 * time.Hour); got != 12 {
		t.Fatalf("MaxDistance(6h) = %v, want 12", got)
	}
}
