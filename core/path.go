package core

import "math"

// Path is the trajectory of one animal: one position per simulation step,
// plus the current heading and a running bounding box.
//
// Positions are stored as consecutive (longitude, latitude) pairs in radians,
// so the buffer length is always twice the point count. Points already written
// are never modified; the tail is only appended to or trimmed when the
// current step is reconciled by SetPointCount.
//
// Path is not safe for concurrent use. It is owned by an Animal and guarded by
// the Environment lock.
type Path struct {
	coords  []float64
	heading float64 // degrees, clockwise from north
	bounds  Rect
}

// NewPath starts a path at origin with the given heading in degrees.
func NewPath(origin Point, heading float64) *Path {
	p := &Path{
		coords:  make([]float64, 0, 64),
		heading: NormalizeHeading(heading),
	}
	p.append(origin)
	return p
}

// PointCount returns the number of recorded positions.
func (p *Path) PointCount() int {
	return len(p.coords) / 2
}

// Point returns the i-th recorded position.
func (p *Path) Point(i int) Point {
	return pointFromRadians(p.coords[2*i], p.coords[2*i+1])
}

// Points returns a copy of every recorded position.
func (p *Path) Points() []Point {
	out := make([]Point, 0, p.PointCount())
	for i := 0; i < p.PointCount(); i++ {
		out = append(out, p.Point(i))
	}
	return out
}

// Position returns the last recorded position.
func (p *Path) Position() Point {
	return p.Point(p.PointCount() - 1)
}

// Heading returns the current heading in degrees, clockwise from north.
func (p *Path) Heading() float64 {
	return p.heading
}

// SetHeading replaces the current heading.
func (p *Path) SetHeading(deg float64) {
	p.heading = NormalizeHeading(deg)
}

// Rotate turns the heading by delta degrees (positive is clockwise).
func (p *Path) Rotate(delta float64) {
	p.heading = NormalizeHeading(p.heading + delta)
}

// Bounds returns the bounding box of every recorded position.
func (p *Path) Bounds() Rect {
	return p.bounds
}

// MoveForward moves distance nautical miles along the current heading and
// records the new position. The heading is kept as is; a zero distance still
// records a (stationary) point. The great-circle distance travelled never
// exceeds distance.
func (p *Path) MoveForward(distance float64) {
	origin := p.Position()
	if distance <= 0 {
		p.append(origin)
		return
	}
	h := p.heading * math.Pi / 180
	frame := NewLocalFrame(origin)
	p.append(clampStep(frame, origin, distance*math.Sin(h), distance*math.Cos(h), distance))
}

// MoveToward moves toward target by at most maxDistance nautical miles and
// records the new position. It reports whether the target was reached, in
// which case the recorded position is target itself; otherwise the animal
// stops no more than maxDistance away along a great circle. The heading
// follows the bearing to the target in the local frame; it is left untouched
// when the animal already stands on the target.
func (p *Path) MoveToward(target Point, maxDistance float64) bool {
	if maxDistance < 0 {
		maxDistance = 0
	}
	origin := p.Position()
	frame := NewLocalFrame(origin)
	x, y := frame.Project(target)
	dist := math.Hypot(x, y)
	if dist > 0 {
		p.heading = NormalizeHeading(math.Atan2(x, y) * 180 / math.Pi)
	}
	if Distance(origin, target) <= maxDistance {
		p.append(target)
		return true
	}
	if maxDistance == 0 || dist == 0 {
		p.append(origin)
		return false
	}
	k := math.Min(1, maxDistance/dist)
	p.append(clampStep(frame, origin, x*k, y*k, maxDistance))
	return false
}

// clampStep unprojects the planar step (x, y) taken from origin and shortens
// it along the same planar direction until the great-circle distance from
// origin is at most limit. The local plane stretches distances away from the
// origin latitude, so a step of planar length limit may land a little too far.
func clampStep(frame LocalFrame, origin Point, x, y, limit float64) Point {
	dest := frame.Unproject(x, y)
	if Distance(origin, dest) <= limit {
		return dest
	}
	// Aim slightly inside limit so the position still fits once stored in
	// radians.
	target := limit * (1 - 1e-9)
	lo, hi := 0.0, 1.0
	for range 48 {
		mid := (lo + hi) / 2
		if Distance(origin, frame.Unproject(x*mid, y*mid)) <= target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return frame.Unproject(x*lo, y*lo)
}

// SetPointCount reconciles the tail of the path with the expected number of
// points, normally step+1. If the animal moved more than once during the step
// the intermediate points are dropped and the last position kept; if it did
// not move at all the last position is replicated. The heading is unchanged.
func (p *Path) SetPointCount(n int) {
	if n < 1 {
		n = 1
	}
	count := p.PointCount()
	switch {
	case count > n:
		last := len(p.coords) - 2
		lon, lat := p.coords[last], p.coords[last+1]
		p.coords = p.coords[:2*n]
		p.coords[2*n-2] = lon
		p.coords[2*n-1] = lat
		p.recomputeBounds()
	case count < n:
		last := p.Position()
		for i := count; i < n; i++ {
			p.append(last)
		}
	}
}

func (p *Path) append(pt Point) {
	lon, lat := pt.radians()
	p.coords = append(p.coords, lon, lat)
	p.bounds = p.bounds.Add(pt)
}

func (p *Path) recomputeBounds() {
	p.bounds = Rect{}
	for i := 0; i < p.PointCount(); i++ {
		p.bounds = p.bounds.Add(p.Point(i))
	}
}
