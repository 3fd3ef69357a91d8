package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/model"
)

func openTestStore(t *testing.T, catalog *model.Catalog) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "samples.db"), catalog)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testCatalog(t *testing.T) (*model.Catalog, *model.Parameter) {
	t.Helper()
	cat := model.NewCatalog()
	sst := model.NewParameter("sst", "degC", model.Range{Min: 10, Max: 35})
	if err := cat.Add(sst); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return cat, sst
}

func TestSpeciesRoundTripKeepsParameterOrderAndWeights(t *testing.T) {
	cat, sst := testCatalog(t)
	s := openTestStore(t, cat)
	ctx := context.Background()

	in := &model.Species{
		Name:             "yellowfin",
		MaxDailyDistance: 45,
		PerceptionRadius: 30,
		Parameters:       []*model.Parameter{sst, model.Heading},
		Weights:          map[string]float64{"sst": 2},
	}
	if err := s.SaveSpecies(ctx, in); err != nil {
		t.Fatalf("SaveSpecies: %v", err)
	}
	in.MaxDailyDistance = 50
	if err := s.SaveSpecies(ctx, in); err != nil {
		t.Fatalf("SaveSpecies update: %v", err)
	}

	got, err := s.Species(ctx)
	if err != nil {
		t.Fatalf("Species: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(Species) = %d, want 1", len(got))
	}
	sp := got[0]
	if sp.MaxDailyDistance != 50 || sp.PerceptionRadius != 30 {
		t.Fatalf("species = %+v, want updated distances", sp)
	}
	if len(sp.Parameters) != 2 || sp.Parameters[0] != sst || sp.Parameters[1] != model.Heading {
		t.Fatalf("Parameters = %v, want [sst heading] as catalog instances", sp.Parameters)
	}
	if w, ok := sp.Weights["sst"]; !ok || w != 2 {
		t.Fatalf("Weights = %v, want sst:2", sp.Weights)
	}
	if _, ok := sp.Weights["heading"]; ok {
		t.Fatalf("Weights carries heading, want only explicit weights")
	}
}

func TestSpeciesWithUnknownParameter(t *testing.T) {
	cat, sst := testCatalog(t)
	writer := openTestStore(t, cat)
	ctx := context.Background()
	if err := writer.SaveSpecies(ctx, &model.Species{Name: "bigeye", Parameters: []*model.Parameter{sst}}); err != nil {
		t.Fatalf("SaveSpecies: %v", err)
	}

	reader := &Store{conn: writer.conn, catalog: model.NewCatalog()}
	if _, err := reader.Species(ctx); !errors.Is(err, model.ErrNoSuchParameter) {
		t.Fatalf("Species error = %v, want ErrNoSuchParameter", err)
	}
}

func TestSamplesOrderedAndFiltered(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	if err := s.SaveSpecies(ctx, &model.Species{Name: "skipjack"}); err != nil {
		t.Fatalf("SaveSpecies: %v", err)
	}

	day := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ids, err := s.SaveSamples(ctx,
		model.SampleEntry{Species: "skipjack", Time: day.AddDate(0, 0, 2), Position: core.Point{Lon: 152, Lat: -8}, Value: 3},
		model.SampleEntry{ID: "first", Species: "skipjack", Time: day, Position: core.Point{Lon: 150, Lat: -10}, Value: 1.5},
	)
	if err != nil {
		t.Fatalf("SaveSamples: %v", err)
	}
	if ids[0] == "" || ids[1] != "first" {
		t.Fatalf("SaveSamples ids = %v, want a generated id then first", ids)
	}

	all, err := s.Samples(ctx)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(all) != 2 || all[0].ID != "first" {
		t.Fatalf("Samples = %+v, want first ordered first", all)
	}
	if !all[0].Time.Equal(day) || all[0].Position != (core.Point{Lon: 150, Lat: -10}) || all[0].Value != 1.5 {
		t.Fatalf("Samples[0] = %+v, want stored fields back", all[0])
	}

	window, err := s.SamplesBetween(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("SamplesBetween: %v", err)
	}
	if len(window) != 1 || window[0].ID != ids[0] {
		t.Fatalf("SamplesBetween = %+v, want only the later sample", window)
	}

	if _, err := s.SaveSamples(ctx, model.SampleEntry{ID: "first", Species: "skipjack"}); err == nil {
		t.Fatalf("SaveSamples with a duplicate id succeeded")
	}
}
