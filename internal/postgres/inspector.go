package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ppiankov/pgokache/internal/model"
)

// Inspector runs read-only probes against one target database over a single
// short-lived connection. It is not safe for concurrent use.
type Inspector struct {
	conn         *pgx.Conn
	queryTimeout time.Duration
}

// Connect opens a connection to the target described by desc. Errors are
// classified (AUTH, CONNECTION, VALIDATION, ...).
func Connect(ctx context.Context, desc model.ConnDescriptor, cfg Config) (*Inspector, error) {
	connCfg, err := ConnConfig(desc, cfg)
	if err != nil {
		return nil, Classify("postgres.Connect", err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, Classify("postgres.Connect", fmt.Errorf("connect: %w", err))
	}
	slog.Debug("target connected", "target", desc)
	return &Inspector{conn: conn, queryTimeout: cfg.QueryTimeout}, nil
}

// ConnConfig builds a pgx config for desc. The password is set on the parsed
// config directly so it never appears in a connection string.
func ConnConfig(desc model.ConnDescriptor, cfg Config) (*pgx.ConnConfig, error) {
	sslmode := desc.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	port := desc.Port
	if port == 0 {
		port = 5432
	}
	dsn := strings.Join([]string{
		"host=" + quoteDSN(desc.Host),
		"port=" + strconv.Itoa(port),
		"dbname=" + quoteDSN(desc.DBName),
		"user=" + quoteDSN(desc.User),
		"sslmode=" + quoteDSN(sslmode),
	}, " ")

	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	connCfg.Password = desc.Password
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.QueryTimeout > 0 {
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.QueryTimeout.Milliseconds(), 10)
	}
	name := cfg.ApplicationName
	if name == "" {
		name = "pgokache"
	}
	connCfg.RuntimeParams["application_name"] = name
	return connCfg, nil
}

// quoteDSN quotes a keyword/value connection string value.
func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// Close releases the connection.
func (i *Inspector) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := i.conn.Close(ctx); err != nil {
		slog.Debug("target close", "error", err)
	}
}

func (i *Inspector) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, i.queryTimeout)
}

// Show returns the value of a run-time parameter.
func (i *Inspector) Show(ctx context.Context, name string) (string, error) {
	ctx, cancel := i.bounded(ctx)
	defer cancel()

	var value string
	// SHOW takes no bind parameters; quote each dotted part as an identifier.
	if err := i.conn.QueryRow(ctx, "SHOW "+pgx.Identifier(strings.Split(name, ".")).Sanitize()).Scan(&value); err != nil {
		return "", Classify("postgres.Show", fmt.Errorf("show %s: %w", name, err))
	}
	return value, nil
}

// ServerVersion returns the PostgreSQL server version string.
func (i *Inspector) ServerVersion(ctx context.Context) (string, error) {
	return i.Show(ctx, "server_version")
}

// ServerVersionNum returns server_version_num, e.g. 160002.
func (i *Inspector) ServerVersionNum(ctx context.Context) (int, error) {
	s, err := i.Show(ctx, "server_version_num")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, Classify("postgres.ServerVersionNum", fmt.Errorf("parse server_version_num %q: %w", s, err))
	}
	return n, nil
}

// ExtensionAvailable reports whether the extension is installable on the server.
func (i *Inspector) ExtensionAvailable(ctx context.Context, name string) (bool, error) {
	ctx, cancel := i.bounded(ctx)
	defer cancel()

	var ok bool
	err := i.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_available_extensions WHERE name = $1)`, name).Scan(&ok)
	if err != nil {
		return false, Classify("postgres.ExtensionAvailable", fmt.Errorf("available extensions: %w", err))
	}
	return ok, nil
}

// ExtensionCreated reports whether the extension exists in the current database.
func (i *Inspector) ExtensionCreated(ctx context.Context, name string) (bool, error) {
	ctx, cancel := i.bounded(ctx)
	defer cancel()

	var ok bool
	err := i.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_extension WHERE extname = $1)`, name).Scan(&ok)
	if err != nil {
		return false, Classify("postgres.ExtensionCreated", fmt.Errorf("extensions: %w", err))
	}
	return ok, nil
}

// CanReadAllStats reports whether the current role sees every backend's
// statistics (superuser or member of pg_read_all_stats).
func (i *Inspector) CanReadAllStats(ctx context.Context) (bool, error) {
	ctx, cancel := i.bounded(ctx)
	defer cancel()

	var ok bool
	err := i.conn.QueryRow(ctx, `
		SELECT r.rolsuper OR pg_catalog.pg_has_role(current_user, 'pg_read_all_stats', 'MEMBER')
		FROM pg_catalog.pg_roles r
		WHERE r.rolname = current_user`).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, Classify("postgres.CanReadAllStats", fmt.Errorf("role privileges: %w", err))
	}
	return ok, nil
}

// StatementStats reads pg_stat_statements for the current database ordered
// by total execution time, highest first.
func (i *Inspector) StatementStats(ctx context.Context, opts StatsOptions) ([]RawStat, error) {
	ctx, cancel := i.bounded(ctx)
	defer cancel()

	topN := opts.TopN
	if topN <= 0 {
		topN = 100
	}

	rows, err := i.conn.Query(ctx, StatsQuery(opts.MajorVersion), opts.MinCalls, opts.MinTotalTimeMs, topN)
	if err != nil {
		return nil, Classify("postgres.StatementStats", fmt.Errorf("statement stats: %w", err))
	}
	defer rows.Close()

	var stats []RawStat
	for rows.Next() {
		var s RawStat
		if err := rows.Scan(&s.QueryID, &s.Query, &s.Calls, &s.TotalTimeMs, &s.MeanTimeMs, &s.Rows,
			&s.SharedBlksHit, &s.SharedBlksRead, &s.TempBlksWritten, &s.WALBytes); err != nil {
			return nil, Classify("postgres.StatementStats", fmt.Errorf("scan statement stat: %w", err))
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify("postgres.StatementStats", fmt.Errorf("statement stats: %w", err))
	}
	return stats, nil
}

// StatsQuery returns the statistics query for a server major version.
// Servers before 13 name the timing columns total_time/mean_time and have no
// wal_bytes.
func StatsQuery(major int) string {
	total, mean, wal := "s.total_exec_time", "s.mean_exec_time", "COALESCE(s.wal_bytes, 0)::bigint"
	if major > 0 && major < 13 {
		total, mean, wal = "s.total_time", "s.mean_time", "0::bigint"
	}
	return `
		SELECT
			COALESCE(s.queryid::text, ''),
			COALESCE(s.query, ''),
			COALESCE(s.calls, 0),
			COALESCE(` + total + `, 0),
			COALESCE(` + mean + `, 0),
			COALESCE(s.rows, 0),
			COALESCE(s.shared_blks_hit, 0),
			COALESCE(s.shared_blks_read, 0),
			COALESCE(s.temp_blks_written, 0),
			` + wal + `
		FROM pg_stat_statements s
		WHERE s.dbid = (SELECT oid FROM pg_catalog.pg_database WHERE datname = current_database())
			AND COALESCE(s.calls, 0) >= $1
			AND COALESCE(` + total + `, 0) >= $2
		ORDER BY ` + total + ` DESC NULLS LAST
		LIMIT $3`
}
