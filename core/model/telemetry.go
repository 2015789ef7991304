package model

import "time"

// StatusCode is the raw status reported by the telematics feed.
type StatusCode string

const (
	StatusMoving  StatusCode = "moving"
	StatusStopped StatusCode = "stopped"
	StatusFault   StatusCode = "fault"
	StatusPanic   StatusCode = "panic"
)

// TelemetryEvent is one normalized position/status/fault report from a
// vehicle. Events are deduplicated by (VehicleID, Timestamp).
type TelemetryEvent struct {
	VehicleID  string     `json:"vehicle_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	AccuracyM  float64    `json:"accuracy_m"`
	SpeedMPH   float64    `json:"speed_mph"`
	StatusCode StatusCode `json:"status_code"`
	FaultCodes []string   `json:"fault_codes,omitempty"`
}
