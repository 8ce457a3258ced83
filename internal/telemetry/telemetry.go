// Package telemetry exposes simulation outcomes as Prometheus metrics.
package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// Collector is a sim.Observer backed by a private registry.
type Collector struct {
	reg *prometheus.Registry

	Trips        *prometheus.CounterVec // outcome label
	TripDuration prometheus.Histogram
	WalkKm       prometheus.Counter
	CycleKm      prometheus.Counter

	StationBikes *prometheus.GaugeVec // station label
	StationDocks *prometheus.GaugeVec
	Clock        prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	RunsPersisted prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bikeshare_trips_total",
			Help: "Finished trips by outcome.",
		}, []string{"outcome"}),
		TripDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bikeshare_trip_duration_seconds",
			Help:    "Simulated time from departure to terminal state.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		}),
		WalkKm: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_walk_km_total",
			Help: "Walking distance of completed trips.",
		}),
		CycleKm: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_cycle_km_total",
			Help: "Cycling distance of trips that took a bike.",
		}),
		StationBikes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bikeshare_station_bikes",
			Help: "Bikes available at the last snapshot.",
		}, []string{"station"}),
		StationDocks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bikeshare_station_docks",
			Help: "Free docks at the last snapshot.",
		}, []string{"station"}),
		Clock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_sim_clock_seconds",
			Help: "Simulated clock at the last snapshot.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bikeshare_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		RunsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bikeshare_runs_persisted_total",
			Help: "Runs written to the database.",
		}),
	}

	reg.MustRegister(
		c.Trips, c.TripDuration, c.WalkKm, c.CycleKm,
		c.StationBikes, c.StationDocks, c.Clock,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.RunsPersisted,
	)
	return c
}

// ObserveTrip implements sim.Observer.
func (c *Collector) ObserveTrip(rec sim.TripRecord) {
	c.Trips.WithLabelValues(string(rec.Outcome)).Inc()
	c.TripDuration.Observe(float64(rec.EndTime - rec.Departure))
	if rec.Outcome == sim.OutcomeSuccess {
		c.WalkKm.Add(rec.WalkToKm + rec.WalkFromKm)
	}
	if rec.BikeTaken {
		c.CycleKm.Add(rec.CycleKm)
	}
}

// ObserveSnapshot implements sim.Observer.
func (c *Collector) ObserveSnapshot(clock int64, levels []sim.StationLevel) {
	c.Clock.Set(float64(clock))
	for _, l := range levels {
		c.StationBikes.WithLabelValues(string(l.ID)).Set(float64(l.Bikes))
		c.StationDocks.WithLabelValues(string(l.ID)).Set(float64(l.Docks))
	}
}

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }

func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

func (c *Collector) RunPersistedInc() { c.RunsPersisted.Inc() }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server error: %v", err)
		}
	}()
	logrus.Infof("Metrics listening on %s", addr)
	return srv
}

var _ sim.Observer = (*Collector)(nil)
