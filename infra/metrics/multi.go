package metrics

import coremetrics "github.com/fleetglide/dispatchd/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordIngest forwards the record to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordIngest(ev coremetrics.IngestEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordIngest(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordAlert forwards alert transitions.
func (m *MultiSink) RecordAlert(ev coremetrics.AlertEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAlert(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordAssignment forwards assignment outcomes.
func (m *MultiSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordAckLatency forwards latency samples to sinks that support them.
func (m *MultiSink) RecordAckLatency(rec coremetrics.AckLatency) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(coremetrics.AckLatencyRecorder); ok {
			if err := lr.RecordAckLatency(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordFleetSize forwards fleet size to sinks that support it.
func (m *MultiSink) RecordFleetSize(size int) error {
	for _, s := range m.Sinks {
		if fr, ok := s.(coremetrics.FleetSizeRecorder); ok {
			if err := fr.RecordFleetSize(size); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSubscriberDrop forwards subscriber disconnects to sinks that count
// them.
func (m *MultiSink) RecordSubscriberDrop() error {
	for _, s := range m.Sinks {
		if dr, ok := s.(coremetrics.SubscriberDropRecorder); ok {
			if err := dr.RecordSubscriberDrop(); err != nil {
				return err
			}
		}
	}
	return nil
}
