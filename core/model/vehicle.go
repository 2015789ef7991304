package model

import "time"

// VehicleStatus enumerates the operational states a vehicle reports.
type VehicleStatus string

const (
	VehicleActive       VehicleStatus = "active"
	VehicleIdle         VehicleStatus = "idle"
	VehicleMaintenance  VehicleStatus = "maintenance"
	VehicleOutOfService VehicleStatus = "out_of_service"
	VehicleEmergency    VehicleStatus = "emergency"
)

// Equipment identifies special capabilities a vehicle carries.
type Equipment string

const (
	EquipClimateControl Equipment = "climate_control"
	EquipHazmat         Equipment = "hazmat"
	EquipLiftgate       Equipment = "liftgate"
	EquipTeamSleeper    Equipment = "team_sleeper"
)

// Position is a GPS fix as reported by the telematics feed.
type Position struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AccuracyM float64   `json:"accuracy_m"`
	Timestamp time.Time `json:"timestamp"`
}

// Capacity describes the load limits of a vehicle.
type Capacity struct {
	WeightLb   float64     `json:"weight_lb"`
	VolumeCuFt float64     `json:"volume_cu_ft"`
	Pallets    int         `json:"pallets"`
	Equipment  []Equipment `json:"equipment,omitempty"`
}

// Has reports whether the capacity includes the given equipment flag.
func (c Capacity) Has(e Equipment) bool {
	for _, eq := range c.Equipment {
		if eq == e {
			return true
		}
	}
	return false
}

// Load tracks the cargo currently assigned to a vehicle.
type Load struct {
	WeightLb   float64 `json:"weight_lb"`
	VolumeCuFt float64 `json:"volume_cu_ft"`
	Pallets    int     `json:"pallets"`
}

// Vehicle is the authoritative record for one fleet vehicle. Position and
// status are mutated only by telemetry ingest; load totals only by the
// assignment engine. Vehicles are deactivated, never deleted.
type Vehicle struct {
	ID                 string        `json:"id"`
	Position           Position      `json:"position"`
	Status             VehicleStatus `json:"status"`
	Capacity           Capacity      `json:"capacity"`
	Load               Load          `json:"load"`
	LastMaintenanceDue time.Time     `json:"last_maintenance_due"`
	Deactivated        bool          `json:"deactivated"`
	LastSeen           time.Time     `json:"last_seen"`
}

// CanCarry reports whether the vehicle's remaining capacity covers the cargo
// in every dimension.
func (v Vehicle) CanCarry(c Cargo) bool {
	return v.Load.WeightLb+c.WeightLb <= v.Capacity.WeightLb &&
		v.Load.VolumeCuFt+c.VolumeCuFt <= v.Capacity.VolumeCuFt &&
		v.Load.Pallets+c.Pallets <= v.Capacity.Pallets
}

// HasEquipment reports whether the vehicle carries every flag the cargo needs.
func (v Vehicle) HasEquipment(required []Equipment) bool {
	for _, e := range required {
		if !v.Capacity.Has(e) {
			return false
		}
	}
	return true
}
