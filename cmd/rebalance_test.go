package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshare-sim/bikeshare-sim/sim/rebalance"
	"github.com/bikeshare-sim/bikeshare-sim/sim/routing"
)

const imbalancedSnapshot = `
clock: 43200
stations:
  - {id: S0, location: {lon: 13.400, lat: 52.50}, bike_capacity: 10, dock_capacity: 10, bikes: 9, docks: 1}
  - {id: S1, location: {lon: 13.401, lat: 52.50}, bike_capacity: 10, dock_capacity: 10, bikes: 9, docks: 1}
  - {id: S2, location: {lon: 13.420, lat: 52.50}, bike_capacity: 10, dock_capacity: 10, bikes: 1, docks: 9}
  - {id: S3, location: {lon: 13.410, lat: 52.51}, bike_capacity: 10, dock_capacity: 10, bikes: 5, docks: 5}
`

func TestRunRebalance_WritesPlan(t *testing.T) {
	// GIVEN two full stations, an empty one and a balanced one
	dir := t.TempDir()
	snap := writeFile(t, dir, "snap.yaml", imbalancedSnapshot)
	out := filepath.Join(dir, "plan.json")
	var buf bytes.Buffer

	// WHEN a plan is requested for a 10-bike vehicle
	err := runRebalance(snap, "", routeInputs{Options: routing.DefaultOptions()}, rebalance.DefaultConfig(), out, &buf)
	require.NoError(t, err)

	// THEN the plan fills S2 and never visits S3
	var got PlanOutput
	decodeJSON(t, out, &got)
	require.NotNil(t, got.Plan)
	assert.Equal(t, 4, got.Plan.Delivered)
	for _, v := range got.Plan.Visits {
		assert.NotEqual(t, "S3", string(v.Station))
	}
	after := map[string]int{}
	for _, l := range got.After {
		after[string(l.ID)] = l.Bikes
	}
	// the four bikes left on the vehicle are not docked anywhere
	assert.Equal(t, map[string]int{"S0": 5, "S1": 5, "S2": 5, "S3": 5}, after)
	assert.Contains(t, buf.String(), "Delivered            : 4 bikes")
}

func TestRunRebalance_Balanced(t *testing.T) {
	dir := t.TempDir()
	snap := writeFile(t, dir, "snap.yaml", `
stations:
  - {id: S0, location: {lon: 13.40, lat: 52.50}, bike_capacity: 10, dock_capacity: 10, bikes: 5, docks: 5}
`)
	var buf bytes.Buffer
	require.NoError(t, runRebalance(snap, "", routeInputs{}, rebalance.DefaultConfig(), "", &buf))
	assert.Contains(t, buf.String(), "nothing to move")
}

func TestRunRebalance_CapacityTooSmall(t *testing.T) {
	dir := t.TempDir()
	snap := writeFile(t, dir, "snap.yaml", imbalancedSnapshot)
	cfg := rebalance.DefaultConfig()
	cfg.VehicleCapacity = 2
	err := runRebalance(snap, "", routeInputs{}, cfg, "", &bytes.Buffer{})
	assert.ErrorIs(t, err, rebalance.ErrNoFeasibleRoute)
}
