package assign

import "time"

// Config defines assignment engine settings.
type Config struct {
	// AcceptWindowSeconds is how long an offer stays open before the job
	// reverts to pending. Default 600 (10 minutes).
	AcceptWindowSeconds int `json:"accept_window_seconds"`
	// RankEpsilonSeconds bounds the near-tie band for drive-time impact
	// ranking: candidates within epsilon are considered equally ranked and
	// ordered by the secondary keys. Default 60.
	RankEpsilonSeconds float64 `json:"rank_epsilon_seconds"`
	// DefaultServiceMinutes is assumed per-stop service time when the job
	// does not carry one. Default 15.
	DefaultServiceMinutes int `json:"default_service_minutes"`
	// DutyLimitHours is the driving allowance inside the rolling compliance
	// window. Default 11.
	DutyLimitHours float64 `json:"duty_limit_hours"`
	// DutyWindowHours is the rolling window the allowance is computed over.
	// Default 24.
	DutyWindowHours float64 `json:"duty_window_hours"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.AcceptWindowSeconds <= 0 {
		c.AcceptWindowSeconds = 600
	}
	if c.RankEpsilonSeconds <= 0 {
		c.RankEpsilonSeconds = 60
	}
	if c.DefaultServiceMinutes <= 0 {
		c.DefaultServiceMinutes = 15
	}
	if c.DutyLimitHours <= 0 {
		c.DutyLimitHours = 11
	}
	if c.DutyWindowHours <= 0 {
		c.DutyWindowHours = 24
	}
}

// AcceptWindow returns the offer acceptance window as a duration.
func (c Config) AcceptWindow() time.Duration {
	return time.Duration(c.AcceptWindowSeconds) * time.Second
}

// DutyLimit returns the duty allowance as a duration.
func (c Config) DutyLimit() time.Duration {
	return time.Duration(c.DutyLimitHours * float64(time.Hour))
}

// DutyWindow returns the rolling compliance window as a duration.
func (c Config) DutyWindow() time.Duration {
	return time.Duration(c.DutyWindowHours * float64(time.Hour))
}
