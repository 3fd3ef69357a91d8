package model

import (
	"context"
	"time"

	"github.com/signalsfoundry/animat-simulator/core"
)

// SampleEntry is one catch record: where and when a species was caught.
type SampleEntry struct {
	ID       string
	Species  string
	Time     time.Time
	Position core.Point
	// Value is the catch amount, in units defined by the data provider.
	Value float64
}

// SampleSource supplies species descriptors and catch records, typically from
// a database outside the simulation core.
type SampleSource interface {
	Species(ctx context.Context) ([]*Species, error)
	Samples(ctx context.Context) ([]SampleEntry, error)
}
