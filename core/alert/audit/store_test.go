package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetglide/dispatchd/core/model"
)

func sampleTrail(base time.Time) []model.AlertTransition {
	return []model.AlertTransition{
		{AlertID: "a1", To: model.AlertRaised, At: base},
		{AlertID: "a1", From: model.AlertRaised, To: model.AlertAcknowledged, At: base.Add(30 * time.Second), Note: "on it"},
		{AlertID: "a2", To: model.AlertRaised, At: base.Add(time.Minute)},
	}
}

func runStoreTests(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for _, tr := range sampleTrail(base) {
		require.NoError(t, s.Append(ctx, tr))
	}

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byAlert, err := s.Query(ctx, Query{AlertID: "a1"})
	require.NoError(t, err)
	require.Len(t, byAlert, 2)
	assert.Equal(t, model.AlertAcknowledged, byAlert[1].To)
	assert.Equal(t, "on it", byAlert[1].Note)

	ranged, err := s.Query(ctx, Query{Start: base.Add(45 * time.Second)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "a2", ranged[0].AlertID)
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore())
}

func TestJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewJSONLStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	runStoreTests(t, s)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	runStoreTests(t, s)
}
