package alert

import (
	"strings"

	"github.com/fleetglide/dispatchd/core/model"
	"github.com/fleetglide/dispatchd/core/travel"
)

// Rule classifies telemetry events into alerts. Severity is assigned when
// the rule matches and is immutable for the life of the alert.
type Rule struct {
	Name     string
	Severity model.Severity
	Match    func(ev model.TelemetryEvent) bool
}

// Geofence is a circular operating area; leaving it raises a warning.
type Geofence struct {
	Center   model.Geo
	RadiusKm float64
}

// Contains reports whether the point lies inside the fence.
func (g Geofence) Contains(p model.Geo) bool {
	return travel.HaversineKm(g.Center, p) <= g.RadiusKm
}

// RuleSet builds the classification rules from configuration. The panic
// signal is always critical; fault codes match by prefix; speeding and
// geofence exit are warnings.
func RuleSet(cfg RulesConfig) []Rule {
	rules := []Rule{
		{
			Name:     "panic_signal",
			Severity: model.SeverityCritical,
			Match: func(ev model.TelemetryEvent) bool {
				return ev.StatusCode == model.StatusPanic
			},
		},
		{
			Name:     "critical_fault",
			Severity: model.SeverityCritical,
			Match:    faultMatcher(cfg.CriticalFaultPrefixes),
		},
		{
			Name:     "fault_code",
			Severity: model.SeverityWarning,
			Match: func(ev model.TelemetryEvent) bool {
				return ev.StatusCode == model.StatusFault && len(ev.FaultCodes) > 0 &&
					!faultMatcher(cfg.CriticalFaultPrefixes)(ev)
			},
		},
	}
	if cfg.SpeedLimitMPH > 0 {
		limit := cfg.SpeedLimitMPH
		rules = append(rules, Rule{
			Name:     "speeding",
			Severity: model.SeverityWarning,
			Match: func(ev model.TelemetryEvent) bool {
				return ev.SpeedMPH > limit
			},
		})
	}
	if cfg.Geofence != nil {
		fence := *cfg.Geofence
		rules = append(rules, Rule{
			Name:     "geofence_exit",
			Severity: model.SeverityWarning,
			Match: func(ev model.TelemetryEvent) bool {
				return !fence.Contains(model.Geo{Lat: ev.Lat, Lon: ev.Lon})
			},
		})
	}
	return rules
}

func faultMatcher(prefixes []string) func(model.TelemetryEvent) bool {
	return func(ev model.TelemetryEvent) bool {
		if ev.StatusCode != model.StatusFault {
			return false
		}
		for _, code := range ev.FaultCodes {
			for _, p := range prefixes {
				if p != "" && strings.HasPrefix(code, p) {
					return true
				}
			}
		}
		return false
	}
}
