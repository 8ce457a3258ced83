package workload

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// TripFile is a recorded trip stream, replayed instead of generated demand.
type TripFile struct {
	Trips []*sim.Trip `yaml:"trips" json:"trips"`
}

// LoadTrips reads a YAML trip stream. Trips must be listed in non-decreasing
// departure order with unique ids and valid coordinates.
func LoadTrips(path string) ([]*sim.Trip, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trips: %w", err)
	}
	var f TripFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing trips: %w", err)
	}
	if err := ValidateTrips(f.Trips); err != nil {
		return nil, err
	}
	return f.Trips, nil
}

// ValidateTrips checks ordering, id uniqueness and coordinates of a trip stream.
func ValidateTrips(trips []*sim.Trip) error {
	seen := make(map[string]bool, len(trips))
	for i, t := range trips {
		if t == nil {
			return fmt.Errorf("%w: trips[%d] is empty", ErrInvalidDemand, i)
		}
		if t.ID == "" {
			return fmt.Errorf("%w: trips[%d] has no id", ErrInvalidDemand, i)
		}
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate trip id %q", ErrInvalidDemand, t.ID)
		}
		seen[t.ID] = true
		if t.Departure < 0 {
			return fmt.Errorf("%w: trip %s departs before t=0", ErrInvalidDemand, t.ID)
		}
		if i > 0 && t.Departure < trips[i-1].Departure {
			return fmt.Errorf("%w: trip %s departs at %d, before %s at %d",
				ErrInvalidDemand, t.ID, t.Departure, trips[i-1].ID, trips[i-1].Departure)
		}
		if !t.Origin.Valid() || !t.Destination.Valid() {
			return fmt.Errorf("%w: trip %s has an invalid coordinate", ErrInvalidDemand, t.ID)
		}
	}
	return nil
}
