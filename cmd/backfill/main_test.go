package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/traffic-bridge/internal/model"
)

type recordingWriter struct {
	updates []model.Snapshot
}

func (w *recordingWriter) UpdateSummary(_ context.Context, snap model.Snapshot) (bool, error) {
	w.updates = append(w.updates, snap)
	return true, nil
}

const rawPayload = `{"block_name":"Ponce","data":{"movement_category_stats":[[{"number":4},{"number":1}]]}}`

func TestRecompute_WritesDerivedSummary(t *testing.T) {
	w := &recordingWriter{}
	changed, err := recompute(context.Background(), w, model.Snapshot{ID: 7, RawJSON: []byte(rawPayload)}, false)
	require.NoError(t, err)
	assert.True(t, changed)

	require.Len(t, w.updates, 1)
	got := w.updates[0]
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, int64(5), got.TotalVehicles)
	require.NotNil(t, got.BlockName)
	assert.Equal(t, "Ponce", *got.BlockName)
}

func TestRecompute_DryRunComparesWithoutWriting(t *testing.T) {
	w := &recordingWriter{}
	name := "Ponce"

	stale := model.Snapshot{ID: 1, RawJSON: []byte(rawPayload), BlockName: &name, TotalVehicles: 2}
	changed, err := recompute(context.Background(), w, stale, true)
	require.NoError(t, err)
	assert.True(t, changed)

	current := model.Snapshot{ID: 2, RawJSON: []byte(rawPayload), BlockName: &name, TotalVehicles: 5}
	changed, err = recompute(context.Background(), w, current, true)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Empty(t, w.updates)
}

func TestRecompute_BadRows(t *testing.T) {
	w := &recordingWriter{}

	_, err := recompute(context.Background(), w, model.Snapshot{ID: 1}, false)
	assert.ErrorIs(t, err, errNoRawPayload)

	_, err = recompute(context.Background(), w, model.Snapshot{ID: 2, RawJSON: []byte(`{"a":`)}, false)
	assert.Error(t, err)
	assert.Empty(t, w.updates)
}
