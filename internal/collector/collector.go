// Package collector captures point-in-time snapshots of pg_stat_statements.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/config"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/postgres"
	"github.com/ppiankov/pgokache/internal/setup"
)

// StatsReader is the part of a target connection the collector uses.
type StatsReader interface {
	ServerVersionNum(ctx context.Context) (int, error)
	Show(ctx context.Context, name string) (string, error)
	ExtensionCreated(ctx context.Context, name string) (bool, error)
	StatementStats(ctx context.Context, opts postgres.StatsOptions) ([]postgres.RawStat, error)
	Close()
}

// Dialer opens a StatsReader for a target.
type Dialer func(ctx context.Context, desc model.ConnDescriptor) (StatsReader, error)

// PostgresDialer dials real targets with cfg.
func PostgresDialer(cfg postgres.Config) Dialer {
	return func(ctx context.Context, desc model.ConnDescriptor) (StatsReader, error) {
		insp, err := postgres.Connect(ctx, desc, cfg)
		if err != nil {
			return nil, err
		}
		return insp, nil
	}
}

// Store is the persistence the collector needs.
type Store interface {
	GetSetupState(ctx context.Context, instanceID string) (model.SetupState, bool, error)
	CreateSnapshot(ctx context.Context, snap model.Snapshot) error
}

// Options tune the capture.
type Options struct {
	TopN               int
	MinCalls           int64
	MinTotalTimeMs     float64
	QueryTextMax       int
	StoreFullQueryText bool
}

// OptionsFromConfig maps the collector config section.
func OptionsFromConfig(c config.Collector) Options {
	return Options{
		TopN:               c.TopN,
		MinCalls:           c.MinCalls,
		MinTotalTimeMs:     c.MinTotalTimeMs,
		QueryTextMax:       c.QueryTextMax,
		StoreFullQueryText: c.StoreFullQueryText,
	}
}

// Result describes a stored snapshot.
type Result struct {
	SnapshotID string         `json:"snapshot_id"`
	Rows       int            `json:"rows"`
	Snapshot   model.Snapshot `json:"-"`
}

// Collector captures snapshots.
type Collector struct {
	dial  Dialer
	store Store
	opts  Options
	now   func() time.Time
}

// New returns a Collector.
func New(dial Dialer, st Store, opts Options) *Collector {
	if opts.TopN <= 0 {
		opts.TopN = 100
	}
	return &Collector{dial: dial, store: st, opts: opts, now: time.Now}
}

// Collect reads the target's statement statistics and stores them as one
// snapshot. Nothing is stored unless every row was read.
func (c *Collector) Collect(ctx context.Context, desc model.ConnDescriptor) (Result, error) {
	const op = "collector.Collect"

	state, found, err := c.store.GetSetupState(ctx, desc.InstanceID)
	if err != nil {
		return Result{}, fmt.Errorf("load setup state: %w", err)
	}
	if !found || !state.Ready {
		return Result{}, apperr.New(apperr.NotReady, op, "setup not ready; run check_setup until the instance reports READY")
	}

	r, err := c.dial(ctx, desc)
	if err != nil {
		return Result{}, err
	}
	defer r.Close()

	num, err := r.ServerVersionNum(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := revalidate(ctx, r, desc); err != nil {
		return Result{}, err
	}

	raws, err := r.StatementStats(ctx, postgres.StatsOptions{
		MajorVersion:   num / 10000,
		TopN:           c.opts.TopN,
		MinCalls:       c.opts.MinCalls,
		MinTotalTimeMs: c.opts.MinTotalTimeMs,
	})
	if err != nil {
		return Result{}, err
	}

	snap := model.Snapshot{
		ID:         uuid.NewString(),
		InstanceID: desc.InstanceID,
		CapturedAt: c.now().UTC(),
		Stats:      make([]model.QueryStat, 0, len(raws)),
	}
	for _, raw := range raws {
		snap.Stats = append(snap.Stats, c.toStat(raw))
	}

	if err := c.store.CreateSnapshot(ctx, snap); err != nil {
		return Result{}, fmt.Errorf("store snapshot: %w", err)
	}
	slog.Debug("snapshot stored", "instance", desc.InstanceID, "snapshot", snap.ID, "rows", len(snap.Stats))
	return Result{SnapshotID: snap.ID, Rows: len(snap.Stats), Snapshot: snap}, nil
}

// revalidate confirms the extension is still loaded and created. A role
// that cannot read shared_preload_libraries relies on the stats query
// itself failing when the library is not loaded.
func revalidate(ctx context.Context, r StatsReader, desc model.ConnDescriptor) error {
	const op = "collector.revalidate"

	libs, err := r.Show(ctx, "shared_preload_libraries")
	switch {
	case err != nil && apperr.KindOf(err) == apperr.Permission:
		slog.Debug("shared_preload_libraries not readable, skipping live preload check", "instance", desc.InstanceID)
	case err != nil:
		return err
	case !setup.ContainsLibrary(libs, postgres.ExtensionName):
		return apperr.New(apperr.NotReady, op, "pg_stat_statements is no longer in shared_preload_libraries")
	}

	created, err := r.ExtensionCreated(ctx, postgres.ExtensionName)
	if err != nil {
		return err
	}
	if !created {
		return apperr.New(apperr.NotReady, op, "extension pg_stat_statements is not created in database "+desc.DBName)
	}
	return nil
}

func (c *Collector) toStat(raw postgres.RawStat) model.QueryStat {
	mean := raw.MeanTimeMs
	if mean == 0 && raw.Calls > 0 {
		mean = raw.TotalTimeMs / float64(raw.Calls)
	}
	return model.QueryStat{
		QueryID:         raw.QueryID,
		Query:           Normalize(raw.Query, c.opts.QueryTextMax, c.opts.StoreFullQueryText),
		Calls:           raw.Calls,
		TotalTimeMs:     raw.TotalTimeMs,
		MeanTimeMs:      mean,
		Rows:            raw.Rows,
		SharedBlksHit:   raw.SharedBlksHit,
		SharedBlksRead:  raw.SharedBlksRead,
		TempBlksWritten: raw.TempBlksWritten,
		WALBytes:        raw.WALBytes,
	}
}
