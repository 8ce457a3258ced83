package cmd

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bikeshare-sim/bikeshare-sim/sim/workload"
)

var (
	tripsOutPath string
	tripsHorizon int64
)

var tripsCmd = &cobra.Command{
	Use:   "trips",
	Short: "Generate a trip stream from a demand spec",
	Long:  "Generate the trips a demand spec produces and write them as YAML, replayable with `run --trips`. Output is written to stdout unless --out is given.",
	Run: func(cmd *cobra.Command, args []string) {
		var override *int64
		if cmd.Flags().Changed("seed") {
			override = &seed
		}
		if err := runTrips(demandPath, override, tripsHorizon, tripsOutPath, os.Stdout); err != nil {
			logrus.Fatalf("Trip generation failed: %v", err)
		}
	},
}

// runTrips generates the trip stream of a demand spec and writes it as a TripFile.
func runTrips(demand string, seedOverride *int64, horizon int64, out string, w io.Writer) error {
	spec, err := workload.LoadDemandSpec(demand)
	if err != nil {
		return err
	}
	if seedOverride != nil {
		spec.Seed = *seedOverride
	}
	trips, err := workload.GenerateTrips(spec, horizon)
	if err != nil {
		return err
	}
	logrus.Infof("Writing %d trips (seed %d)", len(trips), spec.Seed)
	return writeOutput(out, w, workload.TripFile{Trips: trips})
}

func init() {
	tripsCmd.Flags().StringVar(&demandPath, "demand", "", "Demand spec YAML")
	tripsCmd.Flags().Int64Var(&seed, "seed", 42, "Override the demand spec seed")
	tripsCmd.Flags().Int64Var(&tripsHorizon, "horizon", 24*3600, "Generation horizon in seconds")
	tripsCmd.Flags().StringVar(&tripsOutPath, "out", "", "Write the trips to this file (.json or .yaml)")
	_ = tripsCmd.MarkFlagRequired("demand")

	rootCmd.AddCommand(tripsCmd)
}
