package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/traffic-bridge/internal/model"
)

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

// IsInsufficientPrivilege reports whether err is Postgres error 42501, which
// a read-mostly role hits when it may not create tables.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS traffic_snapshots (
  id BIGSERIAL PRIMARY KEY,
  data_start TIMESTAMPTZ,
  data_end TIMESTAMPTZ,
  granularity_ms BIGINT,
  analytic_id TEXT,
  block_name TEXT,
  total_vehicles BIGINT NOT NULL DEFAULT 0 CHECK (total_vehicles >= 0),
  raw_json JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_traffic_snapshots_created ON traffic_snapshots (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_traffic_snapshots_block_start ON traffic_snapshots (block_name, data_start);
`)
	return err
}

// InsertSnapshot stores one summary and returns its id.
func (s *Store) InsertSnapshot(ctx context.Context, snap model.Snapshot) (int64, error) {
	raw := snap.RawJSON
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}
	var id int64
	// Cast to jsonb so the payload is stored as a document rather than bytea
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO traffic_snapshots
		  (data_start, data_end, granularity_ms, analytic_id, block_name, total_vehicles, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING id
	`, snap.WindowStart, snap.WindowEnd, snap.GranularityMs, snap.AnalyticID, snap.BlockName,
		snap.TotalVehicles, string(raw)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// RecentSnapshots returns the newest rows first, without raw payloads.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, data_start, data_end, granularity_ms, analytic_id, block_name, total_vehicles, created_at
		FROM traffic_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Snapshot, 0, limit)
	for rows.Next() {
		var snap model.Snapshot
		if err := rows.Scan(&snap.ID, &snap.WindowStart, &snap.WindowEnd, &snap.GranularityMs,
			&snap.AnalyticID, &snap.BlockName, &snap.TotalVehicles, &snap.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotsAfter pages through all rows in id order, raw payload included.
func (s *Store) SnapshotsAfter(ctx context.Context, afterID int64, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, data_start, data_end, granularity_ms, analytic_id, block_name, total_vehicles, raw_json::text, created_at
		FROM traffic_snapshots
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Snapshot, 0, limit)
	for rows.Next() {
		var (
			snap model.Snapshot
			raw  string
		)
		if err := rows.Scan(&snap.ID, &snap.WindowStart, &snap.WindowEnd, &snap.GranularityMs,
			&snap.AnalyticID, &snap.BlockName, &snap.TotalVehicles, &raw, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snap.RawJSON = []byte(raw)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSummary rewrites the derived columns of an existing row. It reports
// whether a row was changed.
func (s *Store) UpdateSummary(ctx context.Context, snap model.Snapshot) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE traffic_snapshots
		SET data_start=$2, data_end=$3, granularity_ms=$4, analytic_id=$5, block_name=$6, total_vehicles=$7
		WHERE id=$1
		  AND (data_start IS DISTINCT FROM $2
		    OR data_end IS DISTINCT FROM $3
		    OR granularity_ms IS DISTINCT FROM $4
		    OR analytic_id IS DISTINCT FROM $5
		    OR block_name IS DISTINCT FROM $6
		    OR total_vehicles IS DISTINCT FROM $7)
	`, snap.ID, snap.WindowStart, snap.WindowEnd, snap.GranularityMs, snap.AnalyticID, snap.BlockName, snap.TotalVehicles)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountSnapshots is used by the backfill command for progress output.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM traffic_snapshots`).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
