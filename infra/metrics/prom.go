package metrics

import (
	coremetrics "github.com/fleetglide/dispatchd/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records dispatch-core events in Prometheus metrics.
type PromSink struct {
	ingest      *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	assignments *prometheus.CounterVec
	ackLatency  *prometheus.HistogramVec
	subDrops    prometheus.Counter
	fleet       prometheus.Gauge
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ingest := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_ingest_total",
		Help: "Total telemetry events by ingest outcome",
	}, []string{"outcome"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_transitions_total",
		Help: "Total alert lifecycle transitions",
	}, []string{"severity", "state"})
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_outcomes_total",
		Help: "Total assignment attempts by outcome",
	}, []string{"outcome"})
	ackLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alert_ack_latency_seconds",
		Help:    "Time between alert raise and acknowledgment",
		Buckets: prometheus.DefBuckets,
	}, []string{"severity"})
	subDrops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_subscribers_dropped_total",
		Help: "Fan-out subscribers disconnected for backlog overflow",
	})
	fleet := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_vehicles_total",
		Help: "Number of vehicles known to the live state store",
	})

	if err := reg.Register(ingest); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ingest = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(alerts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			alerts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(ackLatency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			ackLatency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(subDrops); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			subDrops = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(fleet); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			fleet = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		ingest:      ingest,
		alerts:      alerts,
		assignments: assignments,
		ackLatency:  ackLatency,
		subDrops:    subDrops,
		fleet:       fleet,
	}, nil
}

// RecordIngest increments the outcome counter for one telemetry event.
func (s *PromSink) RecordIngest(ev coremetrics.IngestEvent) error {
	s.ingest.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordAlert increments the transition counter.
func (s *PromSink) RecordAlert(ev coremetrics.AlertEvent) error {
	s.alerts.WithLabelValues(string(ev.Severity), string(ev.State)).Inc()
	return nil
}

// RecordAssignment increments the outcome counter.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordAckLatency observes the raise-to-ack latency histogram.
func (s *PromSink) RecordAckLatency(rec coremetrics.AckLatency) error {
	s.ackLatency.WithLabelValues(string(rec.Severity)).Observe(rec.Latency.Seconds())
	return nil
}

// RecordSubscriberDrop counts a fan-out subscriber disconnect.
func (s *PromSink) RecordSubscriberDrop() error {
	s.subDrops.Inc()
	return nil
}

// RecordFleetSize sets the gauge to the number of known vehicles.
func (s *PromSink) RecordFleetSize(size int) error {
	if s.fleet != nil {
		s.fleet.Set(float64(size))
	}
	return nil
}
