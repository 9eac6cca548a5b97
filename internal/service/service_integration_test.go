//go:build integration

package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/pgokache/internal/advisor"
	"github.com/ppiankov/pgokache/internal/collector"
	"github.com/ppiankov/pgokache/internal/lock"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/postgres"
	"github.com/ppiankov/pgokache/internal/registry"
	"github.com/ppiankov/pgokache/internal/secret"
	"github.com/ppiankov/pgokache/internal/setup"
	"github.com/ppiankov/pgokache/internal/store"
	"github.com/ppiankov/pgokache/internal/testutil"
)

func TestIntegration_Workflow(t *testing.T) {
	connStr, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	tests := []struct {
		name     string
		storeURL string
	}{
		{"sqlite store", "sqlite://" + filepath.Join(t.TempDir(), "it.db")},
		{"postgres store", connStr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runWorkflow(t, connStr, tt.storeURL)
		})
	}
}

func newIntegrationService(ctx context.Context, t *testing.T, st *store.Store, storeURL string) *Service {
	t.Helper()
	box, err := secret.New(make([]byte, 32))
	if err != nil {
		t.Fatal(err)
	}

	var locker lock.Locker = lock.NewLocal(5 * time.Second)
	if st.Backend() == store.BackendPostgres {
		pl, err := lock.OpenPostgres(ctx, storeURL, 5*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = pl.Close() })
		locker = pl
	}
	pgCfg := postgres.Config{ConnectTimeout: 10 * time.Second, QueryTimeout: 10 * time.Second, ApplicationName: "pgokache-test"}
	return New(Deps{
		Store:     st,
		Registry:  registry.New(st, box),
		Checker:   setup.NewChecker(setup.PostgresDialer(pgCfg)),
		Collector: collector.New(collector.PostgresDialer(pgCfg), st, collector.Options{TopN: 50, QueryTextMax: 2048}),
		Engine:    advisor.NewEngine(st, advisor.DefaultOptions(), nil),
		Locker:    locker,
	})
}

func registerTarget(ctx context.Context, t *testing.T, svc *Service, connStr, name string) model.Instance {
	t.Helper()
	desc, err := testutil.Descriptor(connStr, "")
	if err != nil {
		t.Fatal(err)
	}
	inst, err := svc.CreateInstance(ctx, registry.CreateRequest{
		Name: name, Host: desc.Host, Port: desc.Port, DBName: desc.DBName,
		User: desc.User, Password: desc.Password, SSLMode: "disable",
	})
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func runWorkflow(t *testing.T, connStr, storeURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st, err := store.Open(ctx, storeURL)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	svc := newIntegrationService(ctx, t, st, storeURL)
	inst := registerTarget(ctx, t, svc, connStr, "it")

	info, err := svc.CheckSetup(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Ready || info.Status != model.StatusReady || info.MajorVersion < 16 {
		t.Fatalf("setup = %+v", info)
	}

	if err := testutil.Workload(ctx, connStr, 100); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Collect(ctx, inst.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rows == 0 || res.Recommendations == nil {
		t.Fatalf("collect = %+v", res)
	}

	if err := testutil.Workload(ctx, connStr, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Collect(ctx, inst.ID, true); err != nil {
		t.Fatal(err)
	}

	snaps, err := svc.Snapshots(ctx, inst.ID, 0)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("snapshots = %d, %v", len(snaps), err)
	}
	var found bool
	for _, s := range snaps[0].Stats {
		if strings.Contains(s.Query, "FROM orders WHERE customer_id = $1") {
			found = true
		}
	}
	if !found {
		t.Errorf("workload statement missing from latest snapshot")
	}

	if _, err := svc.Recommendations(ctx, store.RecommendationFilter{InstanceID: inst.ID}); err != nil {
		t.Fatal(err)
	}
}

// More concurrent collections than the store has connections, each holding
// its instance lock on a Postgres store.
func TestIntegration_ConcurrentCollectsPostgresStore(t *testing.T) {
	connStr, cleanup := testutil.SetupPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	st, err := store.Open(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	svc := newIntegrationService(ctx, t, st, connStr)

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		inst := registerTarget(ctx, t, svc, connStr, fmt.Sprintf("it-%d", i))
		if info, err := svc.CheckSetup(ctx, inst.ID); err != nil || !info.Ready {
			t.Fatalf("check %s: %+v, %v", inst.ID, info, err)
		}
		ids[i] = inst.ID
	}
	if err := testutil.Workload(ctx, connStr, 20); err != nil {
		t.Fatal(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			res, err := svc.Collect(gctx, id, true)
			if err != nil {
				return err
			}
			if res.RecommendError != nil {
				return fmt.Errorf("%s: recommend: %+v", id, *res.RecommendError)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent collect: %v", err)
	}

	snaps, err := svc.Snapshots(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != n {
		t.Errorf("snapshots = %d, want %d", len(snaps), n)
	}
}
