package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
)

var statCols = []any{"queryid", "query_norm", "calls", "total_time_ms", "mean_time_ms", "row_count",
	"shared_blks_hit", "shared_blks_read", "temp_blks_written", "wal_bytes"}

// statBatch bounds the number of rows per INSERT statement.
const statBatch = 50

// CreateSnapshot writes a snapshot and all of its stats in one transaction.
func (s *Store) CreateSnapshot(ctx context.Context, snap model.Snapshot) (err error) {
	defer observe("create_snapshot", time.Now(), &err)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := instanceExists(ctx, tx, s.dialect, snap.InstanceID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.NotFound, "store.CreateSnapshot", "instance "+snap.InstanceID+" not found")
		}
		if _, err := exec(ctx, tx, s.dialect.Insert("snapshots").Prepared(true).Rows(goqu.Record{
			"id":          snap.ID,
			"instance_id": snap.InstanceID,
			"captured_at": micros(snap.CapturedAt),
		})); err != nil {
			return err
		}

		for start := 0; start < len(snap.Stats); start += statBatch {
			end := min(start+statBatch, len(snap.Stats))
			records := make([]any, 0, end-start)
			for i := start; i < end; i++ {
				q := snap.Stats[i]
				records = append(records, goqu.Record{
					"snapshot_id":       snap.ID,
					"position":          i,
					"queryid":           q.QueryID,
					"query_norm":        q.Query,
					"calls":             q.Calls,
					"total_time_ms":     q.TotalTimeMs,
					"mean_time_ms":      q.MeanTimeMs,
					"row_count":         q.Rows,
					"shared_blks_hit":   q.SharedBlksHit,
					"shared_blks_read":  q.SharedBlksRead,
					"temp_blks_written": q.TempBlksWritten,
					"wal_bytes":         q.WALBytes,
				})
			}
			if _, err := exec(ctx, tx, s.dialect.Insert("query_stats").Prepared(true).Rows(records...)); err != nil {
				return err
			}
		}
		return nil
	})
	return storeErr("CreateSnapshot", err)
}

// LatestSnapshots returns up to n snapshots of an instance, newest first,
// with their stats in rank order.
func (s *Store) LatestSnapshots(ctx context.Context, instanceID string, n int) (_ []model.Snapshot, err error) {
	defer observe("latest_snapshots", time.Now(), &err)

	rows, err := query(ctx, s.db, s.dialect.From("snapshots").Prepared(true).
		Select("id", "instance_id", "captured_at").
		Where(goqu.Ex{"instance_id": instanceID}).
		Order(goqu.C("captured_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(n)))
	if err != nil {
		return nil, storeErr("LatestSnapshots", err)
	}
	var snaps []model.Snapshot
	for rows.Next() {
		var (
			snap     model.Snapshot
			captured int64
		)
		if err := rows.Scan(&snap.ID, &snap.InstanceID, &captured); err != nil {
			rows.Close()
			return nil, storeErr("LatestSnapshots", err)
		}
		snap.CapturedAt = fromMicros(captured)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("LatestSnapshots", err)
	}
	// Close before issuing more queries; SQLite runs on one connection.
	rows.Close()

	for i := range snaps {
		stats, err := s.snapshotStats(ctx, snaps[i].ID)
		if err != nil {
			return nil, storeErr("LatestSnapshots", err)
		}
		snaps[i].Stats = stats
	}
	return snaps, nil
}

// LatestSnapshot returns the current snapshot of an instance; found is false
// when none was captured yet.
func (s *Store) LatestSnapshot(ctx context.Context, instanceID string) (model.Snapshot, bool, error) {
	snaps, err := s.LatestSnapshots(ctx, instanceID, 1)
	if err != nil || len(snaps) == 0 {
		return model.Snapshot{}, false, err
	}
	return snaps[0], true, nil
}

// CountSnapshots returns how many snapshots an instance has.
func (s *Store) CountSnapshots(ctx context.Context, instanceID string) (_ int, err error) {
	defer observe("count_snapshots", time.Now(), &err)

	sqlText, args, err := s.dialect.From("snapshots").Prepared(true).
		Select(goqu.COUNT(goqu.Star())).Where(goqu.Ex{"instance_id": instanceID}).ToSQL()
	if err != nil {
		return 0, storeErr("CountSnapshots", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlText, args...).Scan(&n); err != nil {
		return 0, storeErr("CountSnapshots", err)
	}
	return n, nil
}

func (s *Store) snapshotStats(ctx context.Context, snapshotID string) ([]model.QueryStat, error) {
	rows, err := query(ctx, s.db, s.dialect.From("query_stats").Prepared(true).
		Select(statCols...).
		Where(goqu.Ex{"snapshot_id": snapshotID}).
		Order(goqu.C("position").Asc()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.QueryStat
	for rows.Next() {
		var q model.QueryStat
		if err := rows.Scan(&q.QueryID, &q.Query, &q.Calls, &q.TotalTimeMs, &q.MeanTimeMs, &q.Rows,
			&q.SharedBlksHit, &q.SharedBlksRead, &q.TempBlksWritten, &q.WALBytes); err != nil {
			return nil, err
		}
		stats = append(stats, q)
	}
	return stats, rows.Err()
}
