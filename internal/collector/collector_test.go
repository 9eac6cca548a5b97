package collector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/postgres"
	"github.com/ppiankov/pgokache/internal/store"
)

type fakeReader struct {
	versionNum int
	libs       string
	libsErr    error
	created    bool
	stats      []postgres.RawStat
	statsErr   error
	gotOpts    postgres.StatsOptions
	closed     bool
}

func (f *fakeReader) ServerVersionNum(context.Context) (int, error) { return f.versionNum, nil }
func (f *fakeReader) Show(context.Context, string) (string, error)  { return f.libs, f.libsErr }
func (f *fakeReader) ExtensionCreated(context.Context, string) (bool, error) {
	return f.created, nil
}
func (f *fakeReader) StatementStats(_ context.Context, opts postgres.StatsOptions) ([]postgres.RawStat, error) {
	f.gotOpts = opts
	return f.stats, f.statsErr
}
func (f *fakeReader) Close() { f.closed = true }

func newReader() *fakeReader {
	return &fakeReader{
		versionNum: 150004,
		libs:       "pg_stat_statements",
		created:    true,
		stats: []postgres.RawStat{
			{QueryID: "-8761", Query: "SELECT * FROM orders WHERE customer_id = 42", Calls: 5000, TotalTimeMs: 90000, Rows: 10, SharedBlksRead: 900000},
			{QueryID: "1234", Query: "UPDATE  users SET seen = now() WHERE id = $1", Calls: 100, TotalTimeMs: 50, MeanTimeMs: 0.5, Rows: 100},
		},
	}
}

var testDesc = model.ConnDescriptor{InstanceID: "i1", Host: "db", Port: 5432, DBName: "app", User: "monitor"}

func newStore(t *testing.T, ready bool) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	err = st.CreateInstance(ctx, store.InstanceRow{
		Instance:    model.Instance{ID: "i1", Name: "app", Host: "db", Port: 5432, DBName: "app", User: "monitor", SSLMode: "prefer", CreatedAt: time.Now()},
		PasswordEnc: []byte{0},
	})
	if err != nil {
		t.Fatal(err)
	}
	status := model.StatusPreloadMissing
	if ready {
		status = model.StatusReady
	}
	err = st.SaveSetupState(ctx, model.SetupState{
		InstanceID: "i1", PreloadOK: ready, ExtCreated: ready, Ready: ready, Status: status, LastCheckedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func newCollector(r *fakeReader, st Store, opts Options) *Collector {
	return New(func(context.Context, model.ConnDescriptor) (StatsReader, error) { return r, nil }, st, opts)
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, true)
	r := newReader()

	res, err := newCollector(r, st, Options{TopN: 50, QueryTextMax: 2048}).Collect(ctx, testDesc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rows != 2 || res.SnapshotID == "" {
		t.Fatalf("result = %+v", res)
	}
	if !r.closed {
		t.Error("reader not closed")
	}
	if r.gotOpts.MajorVersion != 15 || r.gotOpts.TopN != 50 {
		t.Errorf("stats options = %+v", r.gotOpts)
	}

	snap, found, err := st.LatestSnapshot(ctx, "i1")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if snap.ID != res.SnapshotID || len(snap.Stats) != 2 {
		t.Fatalf("stored snapshot = %s with %d stats", snap.ID, len(snap.Stats))
	}
	first := snap.Stats[0]
	if first.QueryID != "-8761" || first.Query != "SELECT * FROM orders WHERE customer_id = ?" {
		t.Errorf("first stat = %+v", first)
	}
	if first.MeanTimeMs != 18 {
		t.Errorf("mean recomputed = %v, want 18", first.MeanTimeMs)
	}
	if snap.Stats[1].Query != "UPDATE users SET seen = now() WHERE id = $1" || snap.Stats[1].MeanTimeMs != 0.5 {
		t.Errorf("second stat = %+v", snap.Stats[1])
	}
}

func TestCollect_NotReady(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, false)
	r := newReader()

	_, err := newCollector(r, st, Options{}).Collect(ctx, testDesc)
	if !errors.Is(err, apperr.NotReady) {
		t.Fatalf("err = %v, want NOT_READY", err)
	}
	if r.closed {
		t.Error("target should not be contacted when stored state is not ready")
	}
}

func TestCollect_LiveRevalidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeReader)
		want   apperr.Kind
	}{
		{"preload removed", func(r *fakeReader) { r.libs = "auto_explain" }, apperr.NotReady},
		{"extension dropped", func(r *fakeReader) { r.created = false }, apperr.NotReady},
		{"view permission", func(r *fakeReader) {
			r.statsErr = postgres.Classify("stats", &pgconn.PgError{Code: "42501", Message: "permission denied for view pg_stat_statements"})
		}, apperr.Permission},
		{"not loaded", func(r *fakeReader) {
			r.statsErr = postgres.Classify("stats", &pgconn.PgError{Code: "55000", Message: "pg_stat_statements must be loaded via shared_preload_libraries"})
		}, apperr.NotReady},
		{"timeout", func(r *fakeReader) {
			r.statsErr = postgres.Classify("stats", context.DeadlineExceeded)
		}, apperr.Connection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := newStore(t, true)
			r := newReader()
			tt.mutate(r)

			_, err := newCollector(r, st, Options{}).Collect(ctx, testDesc)
			if got := apperr.KindOf(err); got != tt.want {
				t.Fatalf("kind = %s, want %s (err=%v)", got, tt.want, err)
			}
			n, err := st.CountSnapshots(ctx, "i1")
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Errorf("failed collection stored %d snapshots", n)
			}
		})
	}
}

func TestCollect_PreloadUnreadable(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, true)
	r := newReader()
	r.libsErr = postgres.Classify("show", &pgconn.PgError{Code: "42501", Message: "must be superuser"})

	res, err := newCollector(r, st, Options{}).Collect(ctx, testDesc)
	if err != nil {
		t.Fatalf("unreadable preload list should not block collection: %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("rows = %d", res.Rows)
	}
}

func TestCollect_DialError(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, true)
	c := New(func(context.Context, model.ConnDescriptor) (StatsReader, error) {
		return nil, postgres.Classify("connect", &pgconn.PgError{Code: "28P01"})
	}, st, Options{})

	if _, err := c.Collect(ctx, testDesc); !errors.Is(err, apperr.Auth) {
		t.Errorf("err = %v, want AUTH", err)
	}
}

type failingStore struct {
	Store
}

func (failingStore) CreateSnapshot(context.Context, model.Snapshot) error {
	return apperr.New(apperr.Internal, "store.CreateSnapshot", "disk full")
}

func TestCollect_StoreFailure(t *testing.T) {
	ctx := context.Background()
	st := newStore(t, true)
	_, err := newCollector(newReader(), failingStore{Store: st}, Options{}).Collect(ctx, testDesc)
	if !errors.Is(err, apperr.Internal) {
		t.Errorf("err = %v, want INTERNAL", err)
	}
}
