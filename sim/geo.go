package sim

import (
	"fmt"
	"math"
)

// earthRadiusKm is the mean Earth radius used by Haversine.
const earthRadiusKm = 6371.0

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lon float64 `yaml:"lon" json:"lon"`
	Lat float64 `yaml:"lat" json:"lat"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lon, p.Lat)
}

// Valid reports whether the point lies within longitude/latitude bounds.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lon) && !math.IsNaN(p.Lat) &&
		p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Haversine returns the great-circle distance between two points in kilometres.
func Haversine(a, b Point) float64 {
	lon1, lat1 := a.Lon*math.Pi/180, a.Lat*math.Pi/180
	lon2, lat2 := b.Lon*math.Pi/180, b.Lat*math.Pi/180
	dlon, dlat := lon2-lon1, lat2-lat1
	h := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	return earthRadiusKm * 2 * math.Asin(math.Sqrt(h))
}

// TravelSeconds converts a distance at a speed into whole simulated seconds.
// Non-positive speeds yield zero.
func TravelSeconds(distanceKm, speedKmph float64) int64 {
	if speedKmph <= 0 || distanceKm <= 0 {
		return 0
	}
	return int64(math.Round(distanceKm / speedKmph * 3600))
}
