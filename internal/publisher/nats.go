// Package publisher streams trip records and availability snapshots to NATS.
package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

// Metrics is the subset of the telemetry collector the publisher reports to.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher is a sim.Observer. Publish errors are logged and counted;
// they never stop the simulation.
type NATSPublisher struct {
	nc          conn
	prefix      string
	runID       string
	logSubjects bool
	metrics     Metrics
}

func NewNATSPublisher(url, prefix, runID string, logSubjects bool, m Metrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bikeshare-sim"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logrus.Infof("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logrus.Infof("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, prefix, runID, logSubjects, m), nil
}

func newPublisher(nc conn, prefix, runID string, logSubjects bool, m Metrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: prefix, runID: runID, logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logrus.Warnf("nats drain: %v", err)
		}
		p.nc.Close()
	}
}

// TripMessage is the wire form of a finished trip.
type TripMessage struct {
	RunID              string        `json:"runId"`
	TripID             string        `json:"tripId"`
	Outcome            sim.Outcome   `json:"outcome"`
	Departure          int64         `json:"departure"`
	EndTime            int64         `json:"endTime"`
	OriginStation      sim.StationID `json:"originStation,omitempty"`
	DestinationStation sim.StationID `json:"destinationStation,omitempty"`
	WalkKm             float64       `json:"walkKm"`
	CycleKm            float64       `json:"cycleKm"`
}

// SnapshotMessage is the wire form of an availability snapshot.
type SnapshotMessage struct {
	RunID  string             `json:"runId"`
	Clock  int64              `json:"clock"`
	Levels []sim.StationLevel `json:"levels"`
}

// ObserveTrip publishes on <prefix>.<outcome>.<origin station>.
func (p *NATSPublisher) ObserveTrip(rec sim.TripRecord) {
	origin := string(rec.OriginStation)
	if origin == "" {
		origin = "unresolved"
	}
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(string(rec.Outcome)), subjectToken(origin))
	p.publish(subject, TripMessage{
		RunID:              p.runID,
		TripID:             rec.TripID,
		Outcome:            rec.Outcome,
		Departure:          rec.Departure,
		EndTime:            rec.EndTime,
		OriginStation:      rec.OriginStation,
		DestinationStation: rec.DestinationStation,
		WalkKm:             rec.WalkToKm + rec.WalkFromKm,
		CycleKm:            rec.CycleKm,
	})
}

// ObserveSnapshot publishes on <prefix>.snapshot.
func (p *NATSPublisher) ObserveSnapshot(clock int64, levels []sim.StationLevel) {
	p.publish(p.prefix+".snapshot", SnapshotMessage{RunID: p.runID, Clock: clock, Levels: levels})
}

func (p *NATSPublisher) publish(subject string, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("encoding %s: %v", subject, err)
		return
	}
	if p.logSubjects {
		logrus.Infof("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		logrus.Warnf("nats publish %s: %v", subject, err)
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

var _ sim.Observer = (*NATSPublisher)(nil)
