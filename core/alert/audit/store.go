// Package audit persists the append-only alert transition trail. Transitions
// are appended, never rewritten; resolved alerts keep their full history.
package audit

import (
	"context"
	"time"

	"github.com/fleetglide/dispatchd/core/model"
)

// Query defines filters for retrieving transitions.
type Query struct {
	Start   time.Time
	End     time.Time
	AlertID string
}

func (q Query) matches(tr model.AlertTransition) bool {
	if !q.Start.IsZero() && tr.At.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && tr.At.After(q.End) {
		return false
	}
	if q.AlertID != "" && tr.AlertID != q.AlertID {
		return false
	}
	return true
}

// Store persists alert transitions and supports querying.
type Store interface {
	Append(ctx context.Context, tr model.AlertTransition) error
	Query(ctx context.Context, q Query) ([]model.AlertTransition, error)
	Close() error
}
