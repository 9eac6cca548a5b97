package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
)

var setupCols = []any{"instance_id", "pg_version_num", "preload_ok", "ext_created", "ready", "status", "last_checked_at"}

// SaveSetupState replaces the instance's setup state row as a whole.
func (s *Store) SaveSetupState(ctx context.Context, st model.SetupState) (err error) {
	defer observe("save_setup_state", time.Now(), &err)

	var version any
	if st.PGVersionNum != nil {
		version = *st.PGVersionNum
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := instanceExists(ctx, tx, s.dialect, st.InstanceID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.NotFound, "store.SaveSetupState", "instance "+st.InstanceID+" not found")
		}
		if _, err := exec(ctx, tx, s.dialect.Delete("setup_states").Prepared(true).
			Where(goqu.Ex{"instance_id": st.InstanceID})); err != nil {
			return err
		}
		_, err = exec(ctx, tx, s.dialect.Insert("setup_states").Prepared(true).Rows(goqu.Record{
			"instance_id":     st.InstanceID,
			"pg_version_num":  version,
			"preload_ok":      st.PreloadOK,
			"ext_created":     st.ExtCreated,
			"ready":           st.Ready,
			"status":          string(st.Status),
			"last_checked_at": micros(st.LastCheckedAt),
		}))
		return err
	})
	return storeErr("SaveSetupState", err)
}

// GetSetupState returns the stored state; found is false when the instance
// was never checked.
func (s *Store) GetSetupState(ctx context.Context, instanceID string) (_ model.SetupState, found bool, err error) {
	defer observe("get_setup_state", time.Now(), &err)

	states, err := s.setupStates(ctx, goqu.Ex{"instance_id": instanceID})
	if err != nil {
		return model.SetupState{}, false, storeErr("GetSetupState", err)
	}
	if len(states) == 0 {
		return model.SetupState{}, false, nil
	}
	return states[0], true, nil
}

// ListSetupStates returns the latest state of every checked instance.
func (s *Store) ListSetupStates(ctx context.Context) (_ []model.SetupState, err error) {
	defer observe("list_setup_states", time.Now(), &err)

	states, err := s.setupStates(ctx, nil)
	if err != nil {
		return nil, storeErr("ListSetupStates", err)
	}
	return states, nil
}

func (s *Store) setupStates(ctx context.Context, where goqu.Ex) ([]model.SetupState, error) {
	ds := s.dialect.From("setup_states").Prepared(true).Select(setupCols...).
		Order(goqu.C("last_checked_at").Desc(), goqu.C("instance_id").Asc())
	if where != nil {
		ds = ds.Where(where)
	}
	rows, err := query(ctx, s.db, ds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SetupState
	for rows.Next() {
		var (
			st      model.SetupState
			version sql.NullInt64
			status  string
			checked int64
		)
		if err := rows.Scan(&st.InstanceID, &version, &st.PreloadOK, &st.ExtCreated, &st.Ready, &status, &checked); err != nil {
			return nil, err
		}
		if version.Valid {
			v := int(version.Int64)
			st.PGVersionNum = &v
		}
		st.Status = model.SetupStatus(status)
		st.LastCheckedAt = fromMicros(checked)
		out = append(out, st)
	}
	return out, rows.Err()
}
