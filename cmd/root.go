package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bikeshare-sim/bikeshare-sim/internal/config"
	"github.com/bikeshare-sim/bikeshare-sim/internal/publisher"
	"github.com/bikeshare-sim/bikeshare-sim/internal/store"
	"github.com/bikeshare-sim/bikeshare-sim/internal/telemetry"
	"github.com/bikeshare-sim/bikeshare-sim/sim"
	"github.com/bikeshare-sim/bikeshare-sim/sim/rebalance"
	"github.com/bikeshare-sim/bikeshare-sim/sim/routing"
	"github.com/bikeshare-sim/bikeshare-sim/sim/workload"
)

var (
	logLevel string // Log verbosity level

	// CLI flags for the run command
	stationsPath        string     // Station placement YAML
	demandPath          string     // Demand spec YAML
	tripsPath           string     // Recorded trip stream YAML (replaces --demand)
	graphPath           string     // Street graph YAML/JSON
	matrixPath          string     // External route matrix YAML
	routesCachePath     string     // Route cache file, reused when stations are unchanged
	outPath             string     // JSON report output
	seed                int64      // Overrides the demand spec seed when set
	simCfg              sim.Config // Engine configuration
	cyclingSpeed        float64    // km/h
	detourFactor        float64    // straight-line distance multiplier without a graph
	rebalanceAfter      bool       // Plan a rebalancing pass on the end state
	rebalanceConfigPath string     // Optimizer tunables YAML
	persistRun          bool       // Store the run in Postgres (DATABASE_URL)
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "bikeshare-sim",
	Short: "Discrete-event simulator for bike-sharing systems",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runOptions collects everything a run needs besides the environment.
type runOptions struct {
	StationsPath    string
	DemandPath      string
	TripsPath       string
	Routes          routeInputs
	OutPath         string
	Seed            *int64 // nil keeps the demand spec seed
	StartHour       *int   // nil keeps the demand spec start hour
	Config          sim.Config
	Rebalance       bool
	RebalanceConfig string
	Persist         bool
}

// runResult is what a finished run hands back to the command.
type runResult struct {
	Simulator *sim.Simulator
	Plan      *rebalance.Plan
	RunID     string
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bike-share simulation",
	Run: func(cmd *cobra.Command, args []string) {
		opts := runOptions{
			StationsPath: stationsPath,
			DemandPath:   demandPath,
			TripsPath:    tripsPath,
			Routes: routeInputs{
				GraphPath: graphPath, MatrixPath: matrixPath, CachePath: routesCachePath,
				Options: routing.Options{CyclingSpeedKmph: cyclingSpeed, DetourFactor: detourFactor},
			},
			OutPath:         outPath,
			Config:          simCfg,
			Rebalance:       rebalanceAfter,
			RebalanceConfig: rebalanceConfigPath,
			Persist:         persistRun,
		}
		if cmd.Flags().Changed("seed") {
			opts.Seed = &seed
		}
		if cmd.Flags().Changed("start-hour") {
			opts.StartHour = &simCfg.StartHour
		}

		env, err := config.Load()
		if err != nil {
			logrus.Fatalf("Invalid environment: %v", err)
		}

		startTime := time.Now()
		res, err := runSimulation(cmd.Context(), opts, env, os.Stdout)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Infof("Simulation %s complete in %s.", res.RunID, time.Since(startTime).Round(time.Millisecond))
	},
}

// runSimulation loads the inputs, runs the engine to completion and emits the
// report, the optional rebalancing plan and the optional integrations.
func runSimulation(ctx context.Context, opts runOptions, env *config.Env, w io.Writer) (*runResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	stations, err := loadStations(opts.StationsPath)
	if err != nil {
		return nil, err
	}
	cfg := opts.Config

	var trips []*sim.Trip
	var runSeed int64
	switch {
	case opts.TripsPath != "":
		if trips, err = workload.LoadTrips(opts.TripsPath); err != nil {
			return nil, err
		}
		if opts.StartHour != nil {
			cfg.StartHour = *opts.StartHour
		}
	case opts.DemandPath != "":
		spec, err := workload.LoadDemandSpec(opts.DemandPath)
		if err != nil {
			return nil, err
		}
		if opts.Seed != nil {
			spec.Seed = *opts.Seed
		}
		if opts.StartHour != nil {
			spec.StartHour = *opts.StartHour
		}
		cfg.StartHour = spec.StartHour
		runSeed = spec.Seed
		if trips, err = workload.GenerateTrips(spec, cfg.Horizon); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("either --demand or --trips is required")
	}

	routes, err := loadRoutes(stations, opts.Routes)
	if err != nil {
		return nil, err
	}
	set, err := sim.NewStationSet(stations)
	if err != nil {
		return nil, err
	}
	s, err := sim.NewSimulator(cfg, set, routes)
	if err != nil {
		return nil, err
	}

	run := store.NewRun(runSeed, cfg.Horizon, sim.Report{})
	res := &runResult{Simulator: s, RunID: run.ID.String()}
	in, err := attachIntegrations(s, env, res.RunID)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	logrus.Infof("Starting run %s: %d stations, %d trips, horizon=%ds", res.RunID, set.Len(), len(trips), cfg.Horizon)
	if _, err := s.InjectTrips(trips); err != nil {
		return nil, err
	}
	s.Run()

	s.Recorder.Print(w)
	if opts.OutPath != "" {
		if err := s.Recorder.SaveToFile(opts.OutPath); err != nil {
			return nil, err
		}
	}

	if opts.Rebalance {
		rcfg, err := loadRebalanceConfig(opts.RebalanceConfig)
		if err != nil {
			return nil, err
		}
		plan, err := rebalance.Optimize(s.Stations.Snapshot(), routes, rcfg)
		switch {
		case errors.Is(err, rebalance.ErrNoImbalance):
			logrus.Infof("End state is balanced; no rebalancing needed")
		case err != nil:
			return nil, err
		default:
			res.Plan = plan
			printPlan(w, plan)
		}
	}

	if opts.Persist {
		if env == nil || env.DatabaseURL == "" {
			return nil, errors.New("--persist needs DATABASE_URL or PGDATABASE")
		}
		run.Report = s.Recorder.Report()
		if err := persist(ctx, env.DatabaseURL, run); err != nil {
			return nil, err
		}
		if in.collector != nil {
			in.collector.RunPersistedInc()
		}
	}
	return res, nil
}

// integrations are the optional observers attached from the environment.
type integrations struct {
	collector *telemetry.Collector
	publisher *publisher.NATSPublisher
	closers   []func()
}

func attachIntegrations(s *sim.Simulator, env *config.Env, runID string) (*integrations, error) {
	in := &integrations{}
	if env == nil {
		return in, nil
	}
	if env.MetricsAddr != "" {
		in.collector = telemetry.NewCollector()
		s.AddObserver(in.collector)
		srv := in.collector.Serve(env.MetricsAddr)
		in.closers = append(in.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}
	if env.NATSURL != "" {
		var m publisher.Metrics
		if in.collector != nil {
			m = in.collector
		}
		p, err := publisher.NewNATSPublisher(env.NATSURL, env.NATSSubject, runID, env.LogNATSSubjects, m)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.publisher = p
		s.AddObserver(p)
		in.closers = append(in.closers, p.Close)
	}
	return in, nil
}

// Close releases integrations in reverse order of attachment.
func (in *integrations) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
	in.closers = nil
}

func persist(ctx context.Context, dsn string, run store.Run) error {
	st, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	return st.SaveRun(ctx, run)
}

func printPlan(w io.Writer, plan *rebalance.Plan) {
	fmt.Fprintln(w, "=== Rebalancing Plan ===")
	if plan.Depot != "" {
		fmt.Fprintf(w, "Depot                : %s\n", plan.Depot)
	}
	for i, v := range plan.Visits {
		fmt.Fprintf(w, "  %2d. %-16s %+4d  load=%-3d t=%.0fs\n", i+1, v.Station, v.Transfer, v.Load, v.ArrivalSec)
	}
	fmt.Fprintf(w, "Delivered            : %d bikes\n", plan.Delivered)
	fmt.Fprintf(w, "Moved                : %d bikes\n", plan.Moved)
	fmt.Fprintf(w, "Route Duration       : %.0f s\n", plan.DurationSec)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addRouteFlags registers the routing inputs shared by run, rebalance and routes.
func addRouteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&graphPath, "graph", "", "Street graph YAML/JSON (nodes and edges)")
	cmd.Flags().StringVar(&matrixPath, "matrix", "", "External route matrix YAML; overrides graph legs where present")
	cmd.Flags().StringVar(&routesCachePath, "routes-cache", "", "Route cache file, reused while stations are unchanged")
	cmd.Flags().Float64Var(&cyclingSpeed, "cycling-speed", 15, "Cycling speed in km/h")
	cmd.Flags().Float64Var(&detourFactor, "detour-factor", 1.3, "Straight-line distance multiplier when no graph is given")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	defaults := sim.DefaultConfig()
	runCmd.Flags().StringVar(&stationsPath, "stations", "", "Station placement YAML")
	runCmd.Flags().StringVar(&demandPath, "demand", "", "Demand spec YAML")
	runCmd.Flags().StringVar(&tripsPath, "trips", "", "Recorded trip stream YAML (instead of --demand)")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write the JSON report to this file")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Override the demand spec seed")
	runCmd.Flags().Int64Var(&simCfg.Horizon, "horizon", defaults.Horizon, "Simulation horizon in seconds")
	runCmd.Flags().IntVar(&simCfg.StartHour, "start-hour", defaults.StartHour, "Wall-clock hour at t=0 (overrides the demand spec)")
	runCmd.Flags().Float64Var(&simCfg.WalkingSpeedKmph, "walking-speed", defaults.WalkingSpeedKmph, "Walking speed in km/h")
	runCmd.Flags().Float64Var(&simCfg.MaxWalkKm, "max-walk-km", defaults.MaxWalkKm, "Per-leg walking limit in km")
	runCmd.Flags().Float64Var(&simCfg.MaxTotalWalkKm, "max-total-walk-km", defaults.MaxTotalWalkKm, "Combined walking limit in km (0 = disabled)")
	runCmd.Flags().Int64Var(&simCfg.SnapshotInterval, "snapshot-interval", defaults.SnapshotInterval, "Seconds between availability snapshots (0 = disabled)")
	runCmd.Flags().BoolVar(&simCfg.TraceTransitions, "trace", false, "Keep a global journey transition trace")
	runCmd.Flags().BoolVar(&rebalanceAfter, "rebalance", false, "Plan a rebalancing pass on the end state")
	runCmd.Flags().StringVar(&rebalanceConfigPath, "rebalance-config", "", "Rebalancing tunables YAML")
	runCmd.Flags().BoolVar(&persistRun, "persist", false, "Store the run in Postgres (DATABASE_URL)")
	addRouteFlags(runCmd)
	_ = runCmd.MarkFlagRequired("stations")

	rootCmd.AddCommand(runCmd)
}
