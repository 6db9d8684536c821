// Command backfill recomputes the summary columns of stored snapshots from
// their raw payloads. Rows whose summary already matches are left alone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/traffic-bridge/internal/config"
	"github.com/yourorg/traffic-bridge/internal/db"
	"github.com/yourorg/traffic-bridge/internal/jsonvalue"
	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/model"
)

type counts struct {
	processed, updated, failed int
}

func main() {
	var (
		batchSize = flag.Int("batch-size", 100, "number of rows to read per batch")
		maxRows   = flag.Int("max-rows", 0, "maximum rows to process (0 = unlimited)")
		dryRun    = flag.Bool("dry-run", false, "recompute without writing")
	)
	flag.Parse()

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !cfg.PersistenceEnabled() {
		log.Fatal("DATABASE_URL (or DB_NAME) must be set for backfill")
	}

	ctx := context.Background()
	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db open", "error", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		if !db.IsInsufficientPrivilege(err) {
			log.Fatal("ensure schema", "error", err)
		}
		log.Warn("Ensure schema skipped due to insufficient privilege", "error", err)
	}

	if total, err := store.CountSnapshots(ctx); err == nil {
		log.Info("Backfill starting", "rows", total, "batch_size", *batchSize, "dry_run", *dryRun)
	}

	limit := *batchSize
	if limit <= 0 {
		limit = 100
	}

	var (
		c      counts
		cursor int64
	)
	for {
		if *maxRows > 0 && c.processed >= *maxRows {
			break
		}
		n := limit
		if *maxRows > 0 && c.processed+n > *maxRows {
			n = *maxRows - c.processed
		}

		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		rows, err := store.SnapshotsAfter(listCtx, cursor, n)
		listCancel()
		if err != nil {
			log.Fatal("list snapshots", "after_id", cursor, "error", err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			cursor = row.ID
			c.processed++
			changed, err := recompute(ctx, store, row, *dryRun)
			if err != nil {
				c.failed++
				log.Warn("Backfill row failed", "id", row.ID, "error", err)
				continue
			}
			if changed {
				c.updated++
			}
		}
	}

	log.Info("Backfill complete", "processed", c.processed, "updated", c.updated, "failed", c.failed)
}

type summaryWriter interface {
	UpdateSummary(ctx context.Context, snap model.Snapshot) (bool, error)
}

var errNoRawPayload = errors.New("row has no raw payload")

// recompute re-derives the summary of one stored row. In dry-run mode it
// reports whether the summary differs without writing.
func recompute(ctx context.Context, w summaryWriter, row model.Snapshot, dryRun bool) (bool, error) {
	if len(row.RawJSON) == 0 {
		return false, errNoRawPayload
	}
	v, err := jsonvalue.Parse(row.RawJSON)
	if err != nil {
		return false, fmt.Errorf("parse raw payload: %w", err)
	}
	next := model.Summarize(v)
	next.ID = row.ID

	if dryRun {
		return !sameSummary(row, next), nil
	}

	updCtx, updCancel := context.WithTimeout(ctx, 10*time.Second)
	defer updCancel()
	return w.UpdateSummary(updCtx, next)
}

func sameSummary(a, b model.Snapshot) bool {
	return sameTime(a.WindowStart, b.WindowStart) &&
		sameTime(a.WindowEnd, b.WindowEnd) &&
		sameInt(a.GranularityMs, b.GranularityMs) &&
		sameString(a.AnalyticID, b.AnalyticID) &&
		sameString(a.BlockName, b.BlockName) &&
		a.TotalVehicles == b.TotalVehicles
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
