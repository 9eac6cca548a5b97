package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
)

var instanceCols = []any{"id", "name", "host", "port", "dbname", "username", "ssl_mode", "password_enc", "created_at"}

// InstanceRow is an instance with its encrypted password.
type InstanceRow struct {
	model.Instance
	PasswordEnc []byte
}

// InstanceUpdate lists the mutable fields; nil means unchanged.
type InstanceUpdate struct {
	Name        *string
	PasswordEnc []byte
}

// CreateInstance inserts a new instance row.
func (s *Store) CreateInstance(ctx context.Context, row InstanceRow) (err error) {
	defer observe("create_instance", time.Now(), &err)

	ins := s.dialect.Insert("instances").Prepared(true).Rows(goqu.Record{
		"id":           row.ID,
		"name":         row.Name,
		"host":         row.Host,
		"port":         row.Port,
		"dbname":       row.DBName,
		"username":     row.User,
		"ssl_mode":     row.SSLMode,
		"password_enc": row.PasswordEnc,
		"created_at":   micros(row.CreatedAt),
	})
	if _, err := exec(ctx, s.db, ins); err != nil {
		return storeErr("CreateInstance", err)
	}
	return nil
}

// GetInstance returns the instance with the given id.
func (s *Store) GetInstance(ctx context.Context, id string) (_ InstanceRow, err error) {
	defer observe("get_instance", time.Now(), &err)

	rows, err := query(ctx, s.db, s.dialect.From("instances").Prepared(true).
		Select(instanceCols...).Where(goqu.Ex{"id": id}))
	if err != nil {
		return InstanceRow{}, storeErr("GetInstance", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return InstanceRow{}, storeErr("GetInstance", err)
		}
		return InstanceRow{}, apperr.New(apperr.NotFound, "store.GetInstance", "instance "+id+" not found")
	}
	row, err := scanInstance(rows)
	if err != nil {
		return InstanceRow{}, storeErr("GetInstance", err)
	}
	return row, nil
}

// ListInstances returns all instances ordered by creation time.
func (s *Store) ListInstances(ctx context.Context) (_ []model.Instance, err error) {
	defer observe("list_instances", time.Now(), &err)

	rows, err := query(ctx, s.db, s.dialect.From("instances").Prepared(true).
		Select(instanceCols...).Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()))
	if err != nil {
		return nil, storeErr("ListInstances", err)
	}
	defer rows.Close()

	var out []model.Instance
	for rows.Next() {
		row, err := scanInstance(rows)
		if err != nil {
			return nil, storeErr("ListInstances", err)
		}
		out = append(out, row.Instance)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("ListInstances", err)
	}
	return out, nil
}

// UpdateInstance applies the non-nil fields of upd.
func (s *Store) UpdateInstance(ctx context.Context, id string, upd InstanceUpdate) (err error) {
	defer observe("update_instance", time.Now(), &err)

	rec := goqu.Record{}
	if upd.Name != nil {
		rec["name"] = *upd.Name
	}
	if upd.PasswordEnc != nil {
		rec["password_enc"] = upd.PasswordEnc
	}
	if len(rec) == 0 {
		_, err := s.GetInstance(ctx, id)
		return err
	}

	res, err := exec(ctx, s.db, s.dialect.Update("instances").Prepared(true).Set(rec).Where(goqu.Ex{"id": id}))
	if err != nil {
		return storeErr("UpdateInstance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("UpdateInstance", err)
	}
	if n == 0 {
		return apperr.New(apperr.NotFound, "store.UpdateInstance", "instance "+id+" not found")
	}
	return nil
}

func scanInstance(rows *sql.Rows) (InstanceRow, error) {
	var (
		row     InstanceRow
		created int64
	)
	err := rows.Scan(&row.ID, &row.Name, &row.Host, &row.Port, &row.DBName, &row.User, &row.SSLMode, &row.PasswordEnc, &created)
	if err != nil {
		return InstanceRow{}, err
	}
	row.CreatedAt = fromMicros(created)
	return row, nil
}

// instanceExists is used by writers that must report NOT_FOUND rather than a
// foreign key violation.
func instanceExists(ctx context.Context, q querier, d goqu.DialectWrapper, id string) (bool, error) {
	sqlText, args, err := d.From("instances").Prepared(true).Select("id").Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return false, err
	}
	var got string
	err = q.QueryRowContext(ctx, sqlText, args...).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
