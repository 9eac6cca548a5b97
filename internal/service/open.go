package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ppiankov/pgokache/internal/advisor"
	"github.com/ppiankov/pgokache/internal/collector"
	"github.com/ppiankov/pgokache/internal/config"
	"github.com/ppiankov/pgokache/internal/lock"
	"github.com/ppiankov/pgokache/internal/postgres"
	"github.com/ppiankov/pgokache/internal/registry"
	"github.com/ppiankov/pgokache/internal/secret"
	"github.com/ppiankov/pgokache/internal/setup"
	"github.com/ppiankov/pgokache/internal/store"
	"github.com/ppiankov/pgokache/internal/suppress"
)

// Open wires a Service from configuration. ignoreDir is where
// .pgokache-ignore.yml is looked up. The caller must Close it.
func Open(ctx context.Context, cfg config.Config, ignoreDir string) (*Service, error) {
	box, err := secret.LoadOrCreate(cfg.KeyFile())
	if err != nil {
		return nil, err
	}
	rules, err := suppress.LoadRules(ignoreDir)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", suppress.FileName, err)
	}
	rules.WithExclude(cfg.Exclude)

	st, err := store.Open(ctx, cfg.Store.URL)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewLocal(cfg.LockWait())
	if st.Backend() == store.BackendPostgres {
		pl, err := lock.OpenPostgres(ctx, cfg.Store.URL, cfg.LockWait())
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		locker = pl
	}

	pgCfg := postgres.Config{
		ConnectTimeout:  cfg.ConnectTimeout(),
		QueryTimeout:    cfg.QueryTimeout(),
		ApplicationName: "pgokache",
	}
	return New(Deps{
		Store:     st,
		Registry:  registry.New(st, box),
		Checker:   setup.NewChecker(setup.PostgresDialer(pgCfg)),
		Collector: collector.New(collector.PostgresDialer(pgCfg), st, collector.OptionsFromConfig(cfg.Collector)),
		Engine:    advisor.NewEngine(st, advisor.OptionsFromConfig(cfg.Thresholds), rules.IsSuppressed),
		Locker:    locker,
	}), nil
}

// Close releases the store and the lock sessions, if any.
func (s *Service) Close() error {
	err := s.store.Close()
	if c, ok := s.locker.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
