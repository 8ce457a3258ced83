package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

const metersPerDegreeLat = 111320.0

// GenerateTrips creates a trip stream from a DemandSpec.
// Deterministic given the same spec and seed.
// Returns trips in non-decreasing departure order with sequential IDs.
//
// Arrivals follow a non-homogeneous process: the rate in force is the one of
// the wall-clock hour at the current time. An hour with zero trips is skipped
// entirely. Trips whose POI types cannot be resolved are dropped.
func GenerateTrips(spec *DemandSpec, horizon int64) ([]*sim.Trip, error) {
	if horizon <= 0 {
		return nil, nil
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	streams := newDemandStreams(spec.Seed)
	arrivalRNG := streams.get(streamArrivals)
	originRNG := streams.get(streamOrigins)
	destRNG := streams.get(streamDestinations)

	var samplers [HoursPerDay]ArrivalSampler
	names := spec.typeNames()

	var trips []*sim.Trip
	skipped := 0
	currentTime := int64(0)
	for currentTime < horizon {
		if spec.MaxTrips > 0 && len(trips) >= spec.MaxTrips {
			break
		}
		hour := spec.hourOf(currentTime)
		rate := spec.HourlyTrips[hour] / 3600
		if rate <= 0 {
			currentTime = (currentTime/3600 + 1) * 3600
			continue
		}
		if samplers[hour] == nil {
			samplers[hour] = NewArrivalSampler(spec.Arrival, rate)
		}
		currentTime += samplers[hour].SampleIAT(arrivalRNG)
		if currentTime >= horizon {
			break
		}

		hour = spec.hourOf(currentTime)
		originType := spec.resolveType(pickType(spec, names, hour, originRNG))
		destType := spec.resolveType(pickType(spec, names, hour, destRNG))
		if originType == "" || destType == "" {
			skipped++
			continue
		}
		trips = append(trips, &sim.Trip{
			ID:              fmt.Sprintf("trip_%d", len(trips)),
			Departure:       currentTime,
			Origin:          samplePoint(spec.PoiTypes[originType].Points, originRNG),
			Destination:     samplePoint(spec.PoiTypes[destType].Points, destRNG),
			OriginType:      originType,
			DestinationType: destType,
		})
	}
	if skipped > 0 {
		logrus.Warnf("Dropped %d trips whose POI type has no points", skipped)
	}
	logrus.Infof("Generated %d trips over %d s", len(trips), horizon)
	return trips, nil
}

func (s *DemandSpec) hourOf(t int64) int {
	return int((int64(s.StartHour) + t/3600) % HoursPerDay)
}

// pickType draws a POI type with the hour's weights, or uniformly when the
// hour has no positive weight.
func pickType(spec *DemandSpec, names []string, hour int, rng *rand.Rand) string {
	total := 0.0
	for _, name := range names {
		if w, ok := spec.PoiWeights[name]; ok {
			total += w[hour]
		}
	}
	if total <= 0 {
		return names[rng.Intn(len(names))]
	}
	u := rng.Float64() * total
	last := ""
	for _, name := range names {
		w, ok := spec.PoiWeights[name]
		if !ok || w[hour] <= 0 {
			continue
		}
		last = name
		u -= w[hour]
		if u < 0 {
			return name
		}
	}
	return last
}

// samplePoint picks a POI uniformly and jitters it uniformly within its radius.
func samplePoint(points []PoiSpec, rng *rand.Rand) sim.Point {
	p := points[rng.Intn(len(points))]
	if p.RadiusM <= 0 {
		return p.Point()
	}
	r := p.RadiusM * math.Sqrt(rng.Float64())
	theta := 2 * math.Pi * rng.Float64()
	dLat := r * math.Sin(theta) / metersPerDegreeLat
	dLon := r * math.Cos(theta) / (metersPerDegreeLat * math.Max(math.Cos(p.Lat*math.Pi/180), 1e-6))
	return sim.Point{Lon: p.Lon + dLon, Lat: p.Lat + dLat}
}
