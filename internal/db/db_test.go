package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/traffic-bridge/internal/model"
)

func TestIsInsufficientPrivilege(t *testing.T) {
	assert.True(t, IsInsufficientPrivilege(&pgconn.PgError{Code: "42501"}))
	assert.True(t, IsInsufficientPrivilege(fmt.Errorf("ensure schema: %w", &pgconn.PgError{Code: "42501"})))
	assert.False(t, IsInsufficientPrivilege(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsInsufficientPrivilege(errors.New("42501")))
	assert.False(t, IsInsufficientPrivilege(nil))
}

// openTestStore connects to TEST_DATABASE_URL or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestStore_InsertAndReadBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.UnixMilli(1700000000000).UTC()
	block := "integration-" + time.Now().Format("150405.000000")
	gran := int64(60000)
	id, err := s.InsertSnapshot(ctx, model.Snapshot{
		WindowStart:   &start,
		GranularityMs: &gran,
		BlockName:     &block,
		TotalVehicles: 6,
		RawJSON:       []byte(`{"block_name":"x"}`),
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	recent, err := s.RecentSnapshots(ctx, 200)
	require.NoError(t, err)
	var found *model.Snapshot
	for i := range recent {
		if recent[i].ID == id {
			found = &recent[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, int64(6), found.TotalVehicles)
	require.NotNil(t, found.WindowStart)
	assert.True(t, start.Equal(*found.WindowStart))
	assert.Nil(t, found.WindowEnd)
	assert.Empty(t, found.RawJSON)

	page, err := s.SnapshotsAfter(ctx, id-1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.JSONEq(t, `{"block_name":"x"}`, string(page[0].RawJSON))

	snap := page[0]
	snap.TotalVehicles = 9
	changed, err := s.UpdateSummary(ctx, snap)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.UpdateSummary(ctx, snap)
	require.NoError(t, err)
	assert.False(t, changed)
}
