package core

import "math"

// EarthRadiusKm is the mean Earth radius used for all simple geometry
// calculations (kilometres).
const EarthRadiusKm = 6371.0

// KmPerNauticalMile converts nautical miles to kilometres.
const KmPerNauticalMile = 1.852

// EarthRadiusNM is the mean Earth radius in nautical miles. Distances in this
// package are expressed in nautical miles.
const EarthRadiusNM = EarthRadiusKm / KmPerNauticalMile

// maxLatitude keeps the Mercator projection finite.
const maxLatitude = 89.999

// Point is a geographic position in decimal degrees.
type Point struct {
	Lon float64
	Lat float64
}

// radians returns the point as (longitude, latitude) in radians.
func (p Point) radians() (float64, float64) {
	return p.Lon * math.Pi / 180, p.Lat * math.Pi / 180
}

func pointFromRadians(lon, lat float64) Point {
	return Point{Lon: lon * 180 / math.Pi, Lat: lat * 180 / math.Pi}
}

// Equal reports whether two points coincide within tol degrees.
func (p Point) Equal(other Point, tol float64) bool {
	return math.Abs(p.Lon-other.Lon) <= tol && math.Abs(p.Lat-other.Lat) <= tol
}

// Distance returns the great-circle distance between a and b in nautical
// miles (haversine formula).
func Distance(a, b Point) float64 {
	lon1, lat1 := a.radians()
	lon2, lat2 := b.radians()
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusNM * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// clockwise from north, in [0, 360).
func Bearing(a, b Point) float64 {
	lon1, lat1 := a.radians()
	lon2, lat2 := b.radians()
	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeHeading(math.Atan2(y, x) * 180 / math.Pi)
}

// NormalizeHeading folds a heading in degrees into [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Rect is a longitude/latitude bounding box in degrees. The zero value is an
// empty rectangle.
//
// Longitudes run eastward from West to East, so a rectangle crossing the
// antimeridian has West > East. Longitudes are expected in [-180, 180].
type Rect struct {
	West, South, East, North float64
	valid                    bool
}

// NewRect returns the degenerate rectangle holding a single point.
func NewRect(p Point) Rect {
	return Rect{West: p.Lon, South: p.Lat, East: p.Lon, North: p.Lat, valid: true}
}

// RectFromBounds returns the rectangle spanning eastward from west to east
// and from south to north. Pass west > east for one crossing the
// antimeridian.
func RectFromBounds(west, south, east, north float64) Rect {
	return Rect{West: west, South: math.Min(south, north), East: east, North: math.Max(south, north), valid: true}
}

// Empty reports whether the rectangle holds no point.
func (r Rect) Empty() bool { return !r.valid }

// CrossesAntimeridian reports whether the rectangle wraps past 180 degrees.
func (r Rect) CrossesAntimeridian() bool { return r.valid && r.West > r.East }

// Add returns r grown to include p. Longitude grows in whichever direction,
// east or west, adds the narrower band.
func (r Rect) Add(p Point) Rect {
	return r.Union(NewRect(p))
}

// Union returns the smallest rectangle containing r and other.
func (r Rect) Union(other Rect) Rect {
	switch {
	case !other.valid:
		return r
	case !r.valid:
		return other
	}
	lon := r.lon().union(other.lon())
	return Rect{
		West:  lon.west,
		South: math.Min(r.South, other.South),
		East:  lon.east,
		North: math.Max(r.North, other.North),
		valid: true,
	}
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return r.valid && p.Lat >= r.South && p.Lat <= r.North && r.lon().contains(p.Lon)
}

func (r Rect) lon() lonSpan { return lonSpan{west: r.West, east: r.East} }

// lonSpan is a longitude interval walked eastward from west to east.
type lonSpan struct {
	west, east float64
}

var fullSpan = lonSpan{west: -180, east: 180}

func (s lonSpan) width() float64 {
	if s.west <= s.east {
		return s.east - s.west
	}
	return s.east - s.west + 360
}

func (s lonSpan) contains(lon float64) bool {
	w := s.width()
	return w >= 360 || eastward(s.west, lon) <= w
}

func (s lonSpan) covers(o lonSpan) bool {
	if s.width() >= 360 {
		return true
	}
	return s.contains(o.west) && s.contains(o.east) &&
		eastward(s.west, o.west) <= eastward(s.west, o.east)
}

func (s lonSpan) union(o lonSpan) lonSpan {
	switch {
	case s.covers(o):
		return s
	case o.covers(s):
		return o
	case s.contains(o.west) && s.contains(o.east):
		return fullSpan
	case s.contains(o.west):
		return lonSpan{west: s.west, east: o.east}
	case s.contains(o.east):
		return lonSpan{west: o.west, east: s.east}
	}
	if eastward(s.east, o.west) <= eastward(o.east, s.west) {
		return lonSpan{west: s.west, east: o.east}
	}
	return lonSpan{west: o.west, east: s.east}
}

// eastward is the distance in degrees travelled east from a to b, in [0, 360).
func eastward(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// LocalFrame is a Mercator projection centred on an origin point, scaled so
// that planar units are nautical miles at the origin. Every move of an animal
// re-projects around its current position, so distortion stays negligible over
// a single displacement.
type LocalFrame struct {
	lon0     float64 // radians
	northing float64 // Mercator ordinate of the origin latitude
	scale    float64 // cos(lat0) * EarthRadiusNM
}

// NewLocalFrame builds a frame centred on origin.
func NewLocalFrame(origin Point) LocalFrame {
	lon, lat := origin.radians()
	lat = clampLatitude(lat)
	scale := math.Cos(lat) * EarthRadiusNM
	return LocalFrame{
		lon0:     lon,
		northing: mercatorY(lat),
		scale:    scale,
	}
}

// Project maps p to planar (x, y) nautical miles, x towards east and y towards
// north, relative to the frame origin.
func (f LocalFrame) Project(p Point) (float64, float64) {
	lon, lat := p.radians()
	dLon := math.Remainder(lon-f.lon0, 2*math.Pi)
	x := f.scale * dLon
	y := f.scale * (mercatorY(clampLatitude(lat)) - f.northing)
	return x, y
}

// Unproject is the inverse of Project.
func (f LocalFrame) Unproject(x, y float64) Point {
	lon := f.lon0 + x/f.scale
	lat := 2*math.Atan(math.Exp(y/f.scale+f.northing)) - math.Pi/2
	lon = math.Remainder(lon, 2*math.Pi)
	return pointFromRadians(lon, lat)
}

// Offset returns the point reached from the frame origin after travelling
// distance nautical miles along heading degrees in the local plane.
func (f LocalFrame) Offset(heading, distance float64) Point {
	h := heading * math.Pi / 180
	return f.Unproject(distance*math.Sin(h), distance*math.Cos(h))
}

func mercatorY(lat float64) float64 {
	return math.Log(math.Tan(math.Pi/4 + lat/2))
}

func clampLatitude(lat float64) float64 {
	limit := maxLatitude * math.Pi / 180
	return math.Max(-limit, math.Min(limit, lat))
}
