package model

// Report accumulates observation statistics, either for the current step or
// for the whole run.
type Report struct {
	// NumAnimals is the live animal count. For a cumulative report it is the
	// largest count seen so far.
	NumAnimals int

	// OutOfSpatialCoverage counts samples that fell outside a layer's extent.
	OutOfSpatialCoverage int
	// TotalPoints counts every sample attempt.
	TotalPoints int

	// SumMissingData and SumWeight are weighted by each parameter's weight
	// for the observing animal.
	SumMissingData float64
	SumWeight      float64
}

// Add folds other into r. Every counter only grows.
func (r *Report) Add(other Report) {
	if other.NumAnimals > r.NumAnimals {
		r.NumAnimals = other.NumAnimals
	}
	r.OutOfSpatialCoverage += other.OutOfSpatialCoverage
	r.TotalPoints += other.TotalPoints
	r.SumMissingData += other.SumMissingData
	r.SumWeight += other.SumWeight
}

// Reset zeroes every counter.
func (r *Report) Reset() {
	*r = Report{}
}

// PercentOutsideSpatialBounds is the fraction of samples outside coverage,
// 0 when nothing was sampled.
func (r Report) PercentOutsideSpatialBounds() float64 {
	if r.TotalPoints == 0 {
		return 0
	}
	return float64(r.OutOfSpatialCoverage) / float64(r.TotalPoints)
}

// PercentMissingData is the weighted fraction of missing observations, 0 when
// no weight was accumulated.
func (r Report) PercentMissingData() float64 {
	if r.SumWeight == 0 {
		return 0
	}
	return r.SumMissingData / r.SumWeight
}

// ReportSummary is the externally visible view of a Report.
type ReportSummary struct {
	NumAnimals                  int     `json:"num_animals"`
	PercentOutsideSpatialBounds float64 `json:"percent_outside_spatial_bounds"`
	PercentMissingData          float64 `json:"percent_missing_data"`
}

// Summary returns the externally visible view of r.
func (r Report) Summary() ReportSummary {
	return ReportSummary{
		NumAnimals:                  r.NumAnimals,
		PercentOutsideSpatialBounds: r.PercentOutsideSpatialBounds(),
		PercentMissingData:          r.PercentMissingData(),
	}
}
