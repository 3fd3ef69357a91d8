package state

import (
	"context"
	"errors"
	"math"

	"github.com/signalsfoundry/animat-simulator/core"
	"github.com/signalsfoundry/animat-simulator/internal/logging"
	"github.com/signalsfoundry/animat-simulator/model"
)

// ringPoints is the number of samples taken on the perception circle in
// addition to the animal's own position.
const ringPoints = 8

// perceptionPoints returns the animal's position followed by ringPoints
// evenly spaced points at radius nautical miles.
func perceptionPoints(center core.Point, radius float64) []core.Point {
	if radius <= 0 {
		return []core.Point{center}
	}
	frame := core.NewLocalFrame(center)
	points := make([]core.Point, 0, ringPoints+1)
	points = append(points, center)
	for i := range ringPoints {
		points = append(points, frame.Offset(float64(i)*360/ringPoints, radius))
	}
	return points
}

// evaluateLocked observes p for animal a and updates the current report.
//
// Every sampled point counts toward TotalPoints; points outside the layer's
// extent also count toward OutOfSpatialCoverage. The weight of p is added to
// SumWeight, and the weighted fraction of missing points to SumMissingData.
// A step without a layer for p counts as fully missing but not out of
// coverage. Intrinsic parameters never touch the report.
func (e *Environment) evaluateLocked(p *model.Parameter, a *Animal) model.Observation {
	obs := model.Observation{Parameter: p}
	if p.Intrinsic {
		obs.Values = intrinsicValues(p, a)
		return obs
	}

	w := p.Weight(a.species)
	report := &e.current
	report.SumWeight += w

	if e.readErr != nil {
		obs.Values = p.MissingValues()
		report.SumMissingData += w
		return obs
	}

	sampler, err := e.coverageLocked(p)
	if err != nil && !errors.Is(err, model.ErrNoSuchParameter) {
		e.log.Warn(context.Background(), "coverage lookup failed",
			logging.String("parameter", p.Name),
			logging.Step(e.clock.Step()),
			logging.Err(err),
		)
	}
	if sampler == nil {
		obs.Values = p.MissingValues()
		report.SumMissingData += w
		return obs
	}

	points := perceptionPoints(a.path.Position(), a.species.PerceptionRadius)
	missing := 0
	best := math.Inf(-1)

sampling:
	for i, pt := range points {
		report.TotalPoints++
		values, err := sampler.Evaluate(pt)
		switch {
		case errors.Is(err, model.ErrOutsideCoverage):
			report.OutOfSpatialCoverage++
			missing++
			continue
		case errors.Is(err, model.ErrResourceExhausted):
			e.abortReadsLocked(err)
			missing += len(points) - i
			break sampling
		case err != nil:
			e.log.Warn(context.Background(), "coverage read failed",
				logging.String("parameter", p.Name),
				logging.Err(err),
			)
			missing++
			continue
		}
		if len(values) == 0 || math.IsNaN(values[0]) {
			missing++
			continue
		}
		if i == 0 {
			obs.Values = fitDimensions(values, p.Dimensions)
		}
		if values[0] > best {
			best = values[0]
			obs.Location = pt
			obs.HasLocation = true
		}
	}

	if obs.Values == nil {
		obs.Values = p.MissingValues()
	}
	report.SumMissingData += w * float64(missing) / float64(len(points))
	return obs
}

func intrinsicValues(p *model.Parameter, a *Animal) []float64 {
	if p == model.Heading || p.Name == model.Heading.Name {
		return []float64{a.path.Heading()}
	}
	return p.MissingValues()
}

// fitDimensions pads with NaN or truncates values to n entries.
func fitDimensions(values []float64, n int) []float64 {
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	for i := range out {
		if i < len(values) {
			out[i] = values[i]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}
