// Package cpr implements Compact Position Reporting as used by ADS-B
// airborne and surface position messages.
package cpr

import (
	"math"
)

const (
	// NZ is the number of latitude zones between the equator and a pole
	NZ = 15

	cprScale = 131072.0 // 2^17
)

// Coordinate is an encoded 17 bit latitude/longitude pair
type Coordinate struct {
	Lat     uint32
	Lon     uint32
	Odd     bool
	Surface bool
}

// Position is a resolved position in degrees
type Position struct {
	Lat float64
	Lon float64
}

func (c Coordinate) zoneSize() float64 {
	if c.Surface {
		return 90
	}
	return 360
}

// NL returns the number of longitude zones at a latitude
func NL(lat float64) int {
	lat = math.Abs(lat)
	switch {
	case lat == 0:
		return 59
	case lat == 87:
		return 2
	case lat > 87:
		return 1
	}
	a := 1 - math.Cos(math.Pi/(2*NZ))
	b := math.Pow(math.Cos(math.Pi/180*lat), 2)
	return int(math.Floor(2 * math.Pi / math.Acos(1-a/b)))
}

func mod(a, b float64) float64 {
	r := math.Mod(a, b)
	if r < 0 {
		r += b
	}
	return r
}

// Encode produces the CPR encoding of a position
func Encode(lat, lon float64, odd, surface bool) Coordinate {
	c := Coordinate{Odd: odd, Surface: surface}
	i := 0.0
	if odd {
		i = 1
	}

	dLat := c.zoneSize() / (4*NZ - i)
	yz := math.Floor(cprScale*mod(lat, dLat)/dLat + 0.5)
	rLat := dLat * (yz/cprScale + math.Floor(lat/dLat))

	ni := float64(NL(rLat)) - i
	if ni < 1 {
		ni = 1
	}
	dLon := c.zoneSize() / ni
	xz := math.Floor(cprScale*mod(lon, dLon)/dLon + 0.5)

	c.Lat = uint32(int64(yz)) & 0x1FFFF
	c.Lon = uint32(int64(xz)) & 0x1FFFF
	return c
}

// DecodeGlobal resolves a position from an even and an odd coordinate. The
// result takes the latitude band of the most recent of the two. Surface
// pairs need a reference position to pick the quadrant.
func DecodeGlobal(even, odd Coordinate, latestIsOdd bool, ref *Position) (Position, bool) {
	if even.Odd || !odd.Odd || even.Surface != odd.Surface {
		return Position{}, false
	}
	surface := even.Surface
	if surface && ref == nil {
		return Position{}, false
	}

	zone := even.zoneSize()
	dLatEven := zone / (4 * NZ)
	dLatOdd := zone / (4*NZ - 1)

	latEven := float64(even.Lat) / cprScale
	latOdd := float64(odd.Lat) / cprScale
	lonEven := float64(even.Lon) / cprScale
	lonOdd := float64(odd.Lon) / cprScale

	j := math.Floor(59*latEven - 60*latOdd + 0.5)
	rLatEven := dLatEven * (mod(j, 60) + latEven)
	rLatOdd := dLatOdd * (mod(j, 59) + latOdd)

	if surface {
		rLatEven = nearestLatitude(rLatEven, ref.Lat)
		rLatOdd = nearestLatitude(rLatOdd, ref.Lat)
	} else {
		if rLatEven >= 270 {
			rLatEven -= 360
		}
		if rLatOdd >= 270 {
			rLatOdd -= 360
		}
	}

	if rLatEven < -90 || rLatEven > 90 || rLatOdd < -90 || rLatOdd > 90 {
		return Position{}, false
	}
	if NL(rLatEven) != NL(rLatOdd) {
		// Straddles a longitude zone boundary
		return Position{}, false
	}

	lat := rLatEven
	if latestIsOdd {
		lat = rLatOdd
	}

	nl := float64(NL(lat))
	m := math.Floor(lonEven*(nl-1) - lonOdd*nl + 0.5)

	var ni, lonCpr float64
	if latestIsOdd {
		ni, lonCpr = math.Max(nl-1, 1), lonOdd
	} else {
		ni, lonCpr = math.Max(nl, 1), lonEven
	}
	lon := (zone / ni) * (mod(m, ni) + lonCpr)

	if surface {
		lon = nearestLongitude(lon, ref.Lon)
	}
	lon = normaliseLongitude(lon)

	return Position{Lat: lat, Lon: lon}, true
}

// DecodeLocal resolves a position from a single coordinate relative to a
// reference that is known to lie within half a zone of the target.
func DecodeLocal(c Coordinate, ref Position) (Position, bool) {
	i := 0.0
	if c.Odd {
		i = 1
	}
	zone := c.zoneSize()
	latCpr := float64(c.Lat) / cprScale
	lonCpr := float64(c.Lon) / cprScale

	dLat := zone / (4*NZ - i)
	j := math.Floor(ref.Lat/dLat) + math.Floor(0.5+mod(ref.Lat, dLat)/dLat-latCpr)
	lat := dLat * (j + latCpr)
	if lat < -90 || lat > 90 {
		return Position{}, false
	}

	ni := math.Max(float64(NL(lat))-i, 1)
	dLon := zone / ni
	m := math.Floor(ref.Lon/dLon) + math.Floor(0.5+mod(ref.Lon, dLon)/dLon-lonCpr)
	lon := normaliseLongitude(dLon * (m + lonCpr))

	return Position{Lat: lat, Lon: lon}, true
}

// nearestLatitude picks the northern or southern surface solution
func nearestLatitude(lat, refLat float64) float64 {
	south := lat - 90
	if math.Abs(south-refLat) < math.Abs(lat-refLat) {
		return south
	}
	return lat
}

// nearestLongitude picks the surface solution closest to the reference
func nearestLongitude(lon, refLon float64) float64 {
	best := lon
	bestDiff := math.Inf(1)
	for k := 0; k < 4; k++ {
		candidate := normaliseLongitude(lon + float64(k)*90)
		diff := math.Abs(normaliseLongitude(candidate - refLon))
		if diff < bestDiff {
			best, bestDiff = candidate, diff
		}
	}
	return best
}

func normaliseLongitude(lon float64) float64 {
	lon = mod(lon+180, 360) - 180
	return lon
}
