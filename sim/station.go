// Implements the station resource: two finite pools per station (bikes, docks)
// mutated only through TryTakeBike and TryPutBike.

package sim

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoBikeAvailable is returned by TryTakeBike when the station has no bikes.
	ErrNoBikeAvailable = errors.New("no bike available")
	// ErrStationFull is returned by TryPutBike when the station has no free dock.
	ErrStationFull = errors.New("station full")
	// ErrUnknownStation is returned for operations on an id that is not in the set.
	ErrUnknownStation = errors.New("unknown station")
	// ErrInvalidStation marks malformed station configuration.
	ErrInvalidStation = errors.New("invalid station configuration")
)

// StationID identifies a station.
type StationID string

// StationConfig describes one station as supplied by the placement input.
type StationConfig struct {
	ID           StationID `yaml:"id" json:"id"`
	Name         string    `yaml:"name,omitempty" json:"name,omitempty"`
	Location     Point     `yaml:"location" json:"location"`
	BikeCapacity int       `yaml:"bike_capacity" json:"bike_capacity"`
	DockCapacity int       `yaml:"dock_capacity" json:"dock_capacity"`
	Bikes        int       `yaml:"bikes" json:"bikes"`
	// Docks is the initial number of free docks. Nil means DockCapacity - Bikes.
	Docks *int `yaml:"docks,omitempty" json:"docks,omitempty"`
}

// Validate checks a single station record.
func (c *StationConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: empty station id", ErrInvalidStation)
	}
	if !c.Location.Valid() {
		return fmt.Errorf("%w: station %s: location %s out of range", ErrInvalidStation, c.ID, c.Location)
	}
	if c.BikeCapacity <= 0 {
		return fmt.Errorf("%w: station %s: bike_capacity must be positive, got %d", ErrInvalidStation, c.ID, c.BikeCapacity)
	}
	if c.DockCapacity <= 0 {
		return fmt.Errorf("%w: station %s: dock_capacity must be positive, got %d", ErrInvalidStation, c.ID, c.DockCapacity)
	}
	if c.Bikes < 0 || c.Bikes > c.BikeCapacity {
		return fmt.Errorf("%w: station %s: bikes must be in [0, %d], got %d", ErrInvalidStation, c.ID, c.BikeCapacity, c.Bikes)
	}
	docks := c.initialDocks()
	if docks < 0 || docks > c.DockCapacity {
		return fmt.Errorf("%w: station %s: docks must be in [0, %d], got %d", ErrInvalidStation, c.ID, c.DockCapacity, docks)
	}
	return nil
}

func (c *StationConfig) initialDocks() int {
	if c.Docks != nil {
		return *c.Docks
	}
	return max(c.DockCapacity-c.Bikes, 0)
}

// Station is one station's live state. Fields are unexported; all mutation
// goes through StationSet.TryTakeBike and StationSet.TryPutBike.
type Station struct {
	mu           sync.Mutex
	id           StationID
	name         string
	location     Point
	bikeCapacity int
	dockCapacity int
	bikes        int
	docks        int
}

// ID returns the station id.
func (s *Station) ID() StationID { return s.id }

// Location returns the station coordinate.
func (s *Station) Location() Point { return s.location }

// Level returns a consistent point-in-time view of the station.
func (s *Station) Level() StationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelLocked()
}

func (s *Station) levelLocked() StationLevel {
	return StationLevel{
		ID:           s.id,
		Location:     s.location,
		BikeCapacity: s.bikeCapacity,
		DockCapacity: s.dockCapacity,
		Bikes:        s.bikes,
		Docks:        s.docks,
	}
}

func (s *Station) takeBike() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bikes <= 0 {
		return ErrNoBikeAvailable
	}
	s.bikes--
	// A departing bike frees the dock it occupied.
	if s.docks < s.dockCapacity {
		s.docks++
	}
	return nil
}

func (s *Station) putBike() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docks <= 0 || s.bikes >= s.bikeCapacity {
		return ErrStationFull
	}
	s.bikes++
	s.docks--
	return nil
}

// StationLevel is an immutable snapshot of one station.
type StationLevel struct {
	ID           StationID `json:"id" yaml:"id"`
	Location     Point     `json:"location" yaml:"location"`
	BikeCapacity int       `json:"bike_capacity" yaml:"bike_capacity"`
	DockCapacity int       `json:"dock_capacity" yaml:"dock_capacity"`
	Bikes        int       `json:"bikes" yaml:"bikes"`
	Docks        int       `json:"docks" yaml:"docks"`
}

// FillRatio returns bikes ÷ bike capacity.
func (l StationLevel) FillRatio() float64 {
	if l.BikeCapacity <= 0 {
		return 0
	}
	return float64(l.Bikes) / float64(l.BikeCapacity)
}

// StationSet is the arena of stations indexed by id. Iteration order is the
// placement order, which keeps every derived output deterministic.
type StationSet struct {
	order []*Station
	byID  map[StationID]*Station
}

// NewStationSet validates the placement input and builds the arena.
// Duplicate ids or malformed records abort construction.
func NewStationSet(configs []StationConfig) (*StationSet, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no stations configured", ErrInvalidStation)
	}
	set := &StationSet{
		order: make([]*Station, 0, len(configs)),
		byID:  make(map[StationID]*Station, len(configs)),
	}
	for i := range configs {
		c := &configs[i]
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate station id %q", ErrInvalidStation, c.ID)
		}
		st := &Station{
			id:           c.ID,
			name:         c.Name,
			location:     c.Location,
			bikeCapacity: c.BikeCapacity,
			dockCapacity: c.DockCapacity,
			bikes:        c.Bikes,
			docks:        c.initialDocks(),
		}
		set.order = append(set.order, st)
		set.byID[c.ID] = st
	}
	return set, nil
}

// Len returns the number of stations.
func (ss *StationSet) Len() int { return len(ss.order) }

// Get returns the station with the given id.
func (ss *StationSet) Get(id StationID) (*Station, bool) {
	st, ok := ss.byID[id]
	return st, ok
}

// Stations returns the stations in placement order. Callers must not modify the slice.
func (ss *StationSet) Stations() []*Station { return ss.order }

// IDs returns station ids in placement order.
func (ss *StationSet) IDs() []StationID {
	ids := make([]StationID, len(ss.order))
	for i, st := range ss.order {
		ids[i] = st.id
	}
	return ids
}

// TryTakeBike removes one bike from the station if one is available.
// On failure nothing is mutated.
func (ss *StationSet) TryTakeBike(id StationID) error {
	st, ok := ss.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStation, id)
	}
	return st.takeBike()
}

// TryPutBike docks one bike at the station if a free dock is available.
// On failure nothing is mutated.
func (ss *StationSet) TryPutBike(id StationID) error {
	st, ok := ss.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStation, id)
	}
	return st.putBike()
}

// Snapshot returns a copy of every station level in placement order.
func (ss *StationSet) Snapshot() []StationLevel {
	out := make([]StationLevel, len(ss.order))
	for i, st := range ss.order {
		out[i] = st.Level()
	}
	return out
}

// TotalBikes returns the number of bikes docked across all stations.
func (ss *StationSet) TotalBikes() int {
	total := 0
	for _, st := range ss.order {
		total += st.Level().Bikes
	}
	return total
}
