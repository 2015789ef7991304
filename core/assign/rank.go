package assign

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/fleetglide/dispatchd/core/model"
)

// rank orders candidates best-first: minimized fleet drive-time impact,
// then driver idle time (idle preferred over busy), then maintenance-due
// proximity (freshly serviced preferred). Impacts within the configured
// epsilon are treated as equally ranked so measurement noise cannot flip
// the ordering; IDs break any remaining tie deterministically.
func (e *Engine) rank(cands []Candidate) {
	eps := e.cfg.RankEpsilonSeconds
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		ai, bi := a.Impact.Seconds(), b.Impact.Seconds()
		if !scalar.EqualWithinAbs(ai, bi, eps) {
			return ai < bi
		}
		if a.Idle != b.Idle {
			return a.Idle > b.Idle
		}
		if a.DueIn != b.DueIn {
			return a.DueIn > b.DueIn
		}
		if a.DriverID != b.DriverID {
			return a.DriverID < b.DriverID
		}
		return a.VehicleID < b.VehicleID
	})
}

func tallyString(tally map[model.Reason]int) string {
	if len(tally) == 0 {
		return "no drivers or vehicles registered"
	}
	parts := make([]string, 0, len(tally))
	for r, n := range tally {
		parts = append(parts, fmt.Sprintf("%s=%d", r, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
