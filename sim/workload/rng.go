package workload

import (
	"hash/fnv"
	"math/rand"
)

// stream names one independent random source of trip generation. Each stream
// has its own generator, so extra draws on one never shift another: changing
// the POI tables does not move departure times.
type stream string

const (
	// streamArrivals seeds directly from the demand seed.
	streamArrivals     stream = "arrivals"
	streamOrigins      stream = "origins"
	streamDestinations stream = "destinations"
)

// demandStreams lazily derives one *rand.Rand per stream from a demand seed.
// Not safe for concurrent use.
type demandStreams struct {
	seed    int64
	sources map[stream]*rand.Rand
}

func newDemandStreams(seed int64) *demandStreams {
	return &demandStreams{seed: seed, sources: make(map[stream]*rand.Rand)}
}

// get returns the cached generator for s.
func (d *demandStreams) get(s stream) *rand.Rand {
	if rng, ok := d.sources[s]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(streamSeed(d.seed, s)))
	d.sources[s] = rng
	return rng
}

// streamSeed is the demand seed for arrivals and the seed XOR fnv1a64(name) otherwise.
func streamSeed(seed int64, s stream) int64 {
	if s == streamArrivals {
		return seed
	}
	h := fnv.New64a()
	h.Write([]byte(s))
	return seed ^ int64(h.Sum64())
}
