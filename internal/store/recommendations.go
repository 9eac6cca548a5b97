package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
)

var recCols = []any{"id", "instance_id", "rec_type", "queryid", "fingerprint", "title", "details", "sql_text",
	"confidence", "score", "evidence", "status", "created_at", "updated_at"}

// RecommendationFilter narrows ListRecommendations. Zero values match all.
type RecommendationFilter struct {
	InstanceID string
	Status     model.Status
	Limit      int
}

// Changes is a set of recommendation writes for one instance.
type Changes struct {
	Create []model.Recommendation
	Update []model.Recommendation
}

// Planner decides the writes given every existing recommendation of the
// instance. It runs inside the upsert transaction.
type Planner func(existing []model.Recommendation) Changes

// UpsertRecommendations loads the instance's recommendations, asks plan for
// the writes and applies them in one transaction. Concurrent upserts for the
// same instance are serialized.
func (s *Store) UpsertRecommendations(ctx context.Context, instanceID string, plan Planner) (_ Changes, err error) {
	defer observe("upsert_recommendations", time.Now(), &err)

	var changes Changes
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if s.backend == BackendPostgres {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "pgokache.recommend."+instanceID); err != nil {
				return err
			}
		}
		existing, err := s.recommendations(ctx, tx, s.dialect.From("recommendations").Prepared(true).
			Select(recCols...).Where(goqu.Ex{"instance_id": instanceID}).
			Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()))
		if err != nil {
			return err
		}

		changes = plan(existing)
		for _, r := range changes.Update {
			if _, err := exec(ctx, tx, s.dialect.Update("recommendations").Prepared(true).Set(goqu.Record{
				"title":       r.Title,
				"details":     r.Details,
				"sql_text":    r.SQL,
				"confidence":  string(r.Confidence),
				"score":       r.Score,
				"evidence":    r.Evidence,
				"updated_at":  micros(r.UpdatedAt),
				"fingerprint": r.Fingerprint,
			}).Where(goqu.Ex{"id": r.ID, "status": string(model.StatusPending)})); err != nil {
				return err
			}
		}
		for _, r := range changes.Create {
			if _, err := exec(ctx, tx, s.dialect.Insert("recommendations").Prepared(true).Rows(recRecord(r))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Changes{}, storeErr("UpsertRecommendations", err)
	}
	return changes, nil
}

func recRecord(r model.Recommendation) goqu.Record {
	return goqu.Record{
		"id":          r.ID,
		"instance_id": r.InstanceID,
		"rec_type":    string(r.Type),
		"queryid":     r.QueryID,
		"fingerprint": r.Fingerprint,
		"title":       r.Title,
		"details":     r.Details,
		"sql_text":    r.SQL,
		"confidence":  string(r.Confidence),
		"score":       r.Score,
		"evidence":    r.Evidence,
		"status":      string(r.Status),
		"created_at":  micros(r.CreatedAt),
		"updated_at":  micros(r.UpdatedAt),
	}
}

// ListRecommendations returns recommendations ranked by score, highest first.
func (s *Store) ListRecommendations(ctx context.Context, f RecommendationFilter) (_ []model.Recommendation, err error) {
	defer observe("list_recommendations", time.Now(), &err)

	where := goqu.Ex{}
	if f.InstanceID != "" {
		where["instance_id"] = f.InstanceID
	}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}
	ds := s.dialect.From("recommendations").Prepared(true).Select(recCols...).
		Order(goqu.C("score").Desc(), goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if len(where) > 0 {
		ds = ds.Where(where)
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}

	recs, err := s.recommendations(ctx, s.db, ds)
	if err != nil {
		return nil, storeErr("ListRecommendations", err)
	}
	return recs, nil
}

// GetRecommendation returns one recommendation by id.
func (s *Store) GetRecommendation(ctx context.Context, id string) (_ model.Recommendation, err error) {
	defer observe("get_recommendation", time.Now(), &err)

	recs, err := s.recommendations(ctx, s.db, s.dialect.From("recommendations").Prepared(true).
		Select(recCols...).Where(goqu.Ex{"id": id}))
	if err != nil {
		return model.Recommendation{}, storeErr("GetRecommendation", err)
	}
	if len(recs) == 0 {
		return model.Recommendation{}, apperr.New(apperr.NotFound, "store.GetRecommendation", "recommendation "+id+" not found")
	}
	return recs[0], nil
}

// SetRecommendationStatus moves a pending recommendation to a terminal status.
func (s *Store) SetRecommendationStatus(ctx context.Context, id string, next model.Status, now time.Time) (_ model.Recommendation, err error) {
	defer observe("set_recommendation_status", time.Now(), &err)

	var out model.Recommendation
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		recs, err := s.recommendations(ctx, tx, s.dialect.From("recommendations").Prepared(true).
			Select(recCols...).Where(goqu.Ex{"id": id}))
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return apperr.New(apperr.NotFound, "store.SetRecommendationStatus", "recommendation "+id+" not found")
		}
		rec := recs[0]
		if !rec.Status.CanTransition(next) {
			return apperr.New(apperr.Validation, "store.SetRecommendationStatus",
				"cannot move recommendation from "+string(rec.Status)+" to "+string(next))
		}
		if _, err := exec(ctx, tx, s.dialect.Update("recommendations").Prepared(true).Set(goqu.Record{
			"status":     string(next),
			"updated_at": micros(now),
		}).Where(goqu.Ex{"id": id, "status": string(rec.Status)})); err != nil {
			return err
		}
		rec.Status = next
		rec.UpdatedAt = fromMicros(micros(now))
		out = rec
		return nil
	})
	if err != nil {
		return model.Recommendation{}, storeErr("SetRecommendationStatus", err)
	}
	return out, nil
}

func (s *Store) recommendations(ctx context.Context, q querier, ds *goqu.SelectDataset) ([]model.Recommendation, error) {
	rows, err := query(ctx, q, ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		var (
			r                 model.Recommendation
			typ, conf, status string
			created, updated  int64
		)
		if err := rows.Scan(&r.ID, &r.InstanceID, &typ, &r.QueryID, &r.Fingerprint, &r.Title, &r.Details, &r.SQL,
			&conf, &r.Score, &r.Evidence, &status, &created, &updated); err != nil {
			return nil, err
		}
		r.Type = model.RecommendationType(typ)
		r.Confidence = model.Confidence(conf)
		r.Status = model.Status(status)
		r.CreatedAt = fromMicros(created)
		r.UpdatedAt = fromMicros(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}
