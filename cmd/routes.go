package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bikeshare-sim/bikeshare-sim/sim/routing"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Precompute the station route cache",
	Run: func(cmd *cobra.Command, args []string) {
		in := routeInputs{
			GraphPath: graphPath, MatrixPath: matrixPath, CachePath: routesCachePath,
			Options: routing.Options{CyclingSpeedKmph: cyclingSpeed, DetourFactor: detourFactor},
		}
		if err := runRoutes(stationsPath, in, os.Stdout); err != nil {
			logrus.Fatalf("Route precomputation failed: %v", err)
		}
	},
}

// runRoutes always rebuilds, replacing any cache file at the path.
func runRoutes(stationsFile string, in routeInputs, w io.Writer) error {
	stations, err := loadStations(stationsFile)
	if err != nil {
		return err
	}
	path := in.CachePath
	in.CachePath = ""
	c, err := loadRoutes(stations, in)
	if err != nil {
		return err
	}
	reachable := 0
	ids := c.Stations()
	for _, from := range ids {
		for _, to := range ids {
			if from == to {
				continue
			}
			if _, err := c.Route(from, to); err == nil {
				reachable++
			}
		}
	}
	fmt.Fprintf(w, "%d stations, %d/%d reachable pairs\n", len(ids), reachable, len(ids)*(len(ids)-1))
	if path == "" {
		return nil
	}
	return c.Save(path)
}

func init() {
	routesCmd.Flags().StringVar(&stationsPath, "stations", "", "Station placement YAML")
	addRouteFlags(routesCmd)
	_ = routesCmd.MarkFlagRequired("stations")
	_ = routesCmd.MarkFlagRequired("routes-cache")

	rootCmd.AddCommand(routesCmd)
}
