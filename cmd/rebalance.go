package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
	"github.com/bikeshare-sim/bikeshare-sim/sim/rebalance"
	"github.com/bikeshare-sim/bikeshare-sim/sim/routing"
)

var (
	snapshotPath     string
	planOutPath      string
	vehicleCapacity  int
	targetFill       float64
	fillSlack        float64
	depot            string
	maxRouteDuration float64
)

// PlanOutput is the written form of a plan with the levels it leads to.
type PlanOutput struct {
	Plan  *rebalance.Plan    `json:"plan" yaml:"plan"`
	After []sim.StationLevel `json:"after" yaml:"after"`
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Plan a vehicle route that evens out station fill levels",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadRebalanceConfig(rebalanceConfigPath)
		if err != nil {
			logrus.Fatalf("Failed to load rebalance config: %v", err)
		}
		// flags win over the file only when given
		if cmd.Flags().Changed("vehicle-capacity") {
			cfg.VehicleCapacity = vehicleCapacity
		}
		if cmd.Flags().Changed("target-fill") {
			cfg.TargetFill = targetFill
		}
		if cmd.Flags().Changed("slack") {
			cfg.Slack = fillSlack
		}
		if cmd.Flags().Changed("depot") {
			cfg.Depot = sim.StationID(depot)
		}
		if cmd.Flags().Changed("max-duration") {
			cfg.MaxDurationSec = maxRouteDuration
		}
		in := routeInputs{
			GraphPath: graphPath, MatrixPath: matrixPath, CachePath: routesCachePath,
			Options: routing.Options{CyclingSpeedKmph: cyclingSpeed, DetourFactor: detourFactor},
		}
		if err := runRebalance(snapshotPath, stationsPath, in, cfg, planOutPath, os.Stdout); err != nil {
			logrus.Fatalf("Rebalancing failed: %v", err)
		}
	},
}

// runRebalance plans on a snapshot. The snapshot carries locations, so the
// stations file is only needed to share a route cache with simulation runs.
func runRebalance(snapshot, stationsFile string, in routeInputs, cfg rebalance.Config, out string, w io.Writer) error {
	snap, err := loadSnapshot(snapshot)
	if err != nil {
		return err
	}
	stations := stationsFromLevels(snap.Stations)
	if stationsFile != "" {
		if stations, err = loadStations(stationsFile); err != nil {
			return err
		}
	}
	routes, err := loadRoutes(stations, in)
	if err != nil {
		return err
	}
	plan, err := rebalance.Optimize(snap.Stations, routes, cfg)
	if errors.Is(err, rebalance.ErrNoImbalance) {
		fmt.Fprintln(w, "All stations are within the target fill; nothing to move.")
		return nil
	}
	if err != nil {
		return err
	}
	printPlan(w, plan)
	return writeOutput(out, w, PlanOutput{Plan: plan, After: plan.Apply(snap.Stations)})
}

func init() {
	defaults := rebalance.DefaultConfig()
	rebalanceCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Station level snapshot YAML")
	rebalanceCmd.Flags().StringVar(&stationsPath, "stations", "", "Station placement YAML (shares the route cache with runs)")
	rebalanceCmd.Flags().StringVar(&rebalanceConfigPath, "config", "", "Rebalancing tunables YAML")
	rebalanceCmd.Flags().StringVar(&planOutPath, "out", "", "Write the plan to this file (.json or .yaml); stdout when empty")
	rebalanceCmd.Flags().IntVar(&vehicleCapacity, "vehicle-capacity", defaults.VehicleCapacity, "Bikes the vehicle can carry")
	rebalanceCmd.Flags().Float64Var(&targetFill, "target-fill", defaults.TargetFill, "Target fill ratio per station")
	rebalanceCmd.Flags().Float64Var(&fillSlack, "slack", defaults.Slack, "Allowed deviation from the target fill")
	rebalanceCmd.Flags().StringVar(&depot, "depot", "", "Station the vehicle starts from")
	rebalanceCmd.Flags().Float64Var(&maxRouteDuration, "max-duration", 0, "Route duration bound in seconds (0 = unbounded)")
	addRouteFlags(rebalanceCmd)
	_ = rebalanceCmd.MarkFlagRequired("snapshot")

	rootCmd.AddCommand(rebalanceCmd)
}
