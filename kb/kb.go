// Package kb is an in-memory knowledge base of species and catch samples. It
// is the model.SampleSource the server seeds environments from.
package kb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/animat-simulator/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSpeciesAdded EventType = iota
	EventSampleAdded
	EventSampleRemoved
)

// Event is emitted to subscribers when something changes in the KB.
type Event struct {
	Type    EventType
	Species *model.Species
	Sample  model.SampleEntry
}

// KnowledgeBase is an in-memory, thread-safe store for species and samples.
type KnowledgeBase struct {
	mu sync.RWMutex

	species map[string]*model.Species
	samples map[string]model.SampleEntry

	subs   map[int]func(Event)
	nextID int
}

var _ model.SampleSource = (*KnowledgeBase)(nil)

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		species: make(map[string]*model.Species),
		samples: make(map[string]model.SampleEntry),
		subs:    make(map[int]func(Event)),
	}
}

// AddSpecies adds a species. It returns an error if the name already exists.
func (kb *KnowledgeBase) AddSpecies(s *model.Species) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("species name is required")
	}
	kb.mu.Lock()
	if _, exists := kb.species[s.Name]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("species %q already exists", s.Name)
	}
	kb.species[s.Name] = s
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventSpeciesAdded, Species: s})
	return nil
}

// AddSample stores a catch sample and returns its ID, generated when the
// sample has none. The species must already be known.
func (kb *KnowledgeBase) AddSample(e model.SampleEntry) (string, error) {
	kb.mu.Lock()
	if _, ok := kb.species[e.Species]; !ok {
		kb.mu.Unlock()
		return "", fmt.Errorf("species %q not found for sample", e.Species)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := kb.samples[e.ID]; exists {
		kb.mu.Unlock()
		return "", fmt.Errorf("sample with ID %q already exists", e.ID)
	}
	kb.samples[e.ID] = e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventSampleAdded, Sample: e})
	return e.ID, nil
}

// RemoveSample deletes a sample.
func (kb *KnowledgeBase) RemoveSample(id string) error {
	kb.mu.Lock()
	e, ok := kb.samples[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("sample with ID %q not found", id)
	}
	delete(kb.samples, id)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventSampleRemoved, Sample: e})
	return nil
}

// GetSpecies returns the species with the given name, or nil if not found.
func (kb *KnowledgeBase) GetSpecies(name string) *model.Species {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.species[name]
}

// GetSample returns the sample with the given ID.
func (kb *KnowledgeBase) GetSample(id string) (model.SampleEntry, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	e, ok := kb.samples[id]
	return e, ok
}

// ListSpecies returns every species sorted by name.
func (kb *KnowledgeBase) ListSpecies() []*model.Species {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.Species, 0, len(kb.species))
	for _, s := range kb.species {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// ListSamples returns every sample ordered by time, then ID.
func (kb *KnowledgeBase) ListSamples() []model.SampleEntry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.SampleEntry, 0, len(kb.samples))
	for _, e := range kb.samples {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Time.Equal(res[j].Time) {
			return res[i].Time.Before(res[j].Time)
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// Species implements model.SampleSource.
func (kb *KnowledgeBase) Species(ctx context.Context) ([]*model.Species, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return kb.ListSpecies(), nil
}

// Samples implements model.SampleSource.
func (kb *KnowledgeBase) Samples(ctx context.Context) ([]model.SampleEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return kb.ListSamples(), nil
}

// Import copies every species and sample of src into the KB. Species already
// present are kept.
func (kb *KnowledgeBase) Import(ctx context.Context, src model.SampleSource) error {
	species, err := src.Species(ctx)
	if err != nil {
		return fmt.Errorf("import species: %w", err)
	}
	for _, s := range species {
		if kb.GetSpecies(s.Name) != nil {
			continue
		}
		if err := kb.AddSpecies(s); err != nil {
			return err
		}
	}
	samples, err := src.Samples(ctx)
	if err != nil {
		return fmt.Errorf("import samples: %w", err)
	}
	for _, e := range samples {
		if _, err := kb.AddSample(e); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function. Callbacks run on the mutating goroutine, outside the KB lock.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), len(ids))
	for i, id := range ids {
		subs[i] = kb.subs[id]
	}
	return subs
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
