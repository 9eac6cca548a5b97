package advisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "advisor.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	err = st.CreateInstance(ctx, store.InstanceRow{
		Instance:    model.Instance{ID: "i1", Name: "app", Host: "db", Port: 5432, DBName: "app", User: "monitor", SSLMode: "prefer", CreatedAt: t0},
		PasswordEnc: []byte{0},
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func addSnapshot(t *testing.T, st *store.Store, id string, at time.Time, stats ...model.QueryStat) {
	t.Helper()
	if err := st.CreateSnapshot(context.Background(), model.Snapshot{ID: id, InstanceID: "i1", CapturedAt: at, Stats: stats}); err != nil {
		t.Fatal(err)
	}
}

var hotQuery = model.QueryStat{
	QueryID: "42", Query: "SELECT * FROM orders WHERE customer_id = ?",
	Calls: 5000, TotalTimeMs: 90000, MeanTimeMs: 18, Rows: 10, SharedBlksRead: 900000,
}

func pending(t *testing.T, st *store.Store) []model.Recommendation {
	t.Helper()
	recs, err := st.ListRecommendations(context.Background(), store.RecommendationFilter{InstanceID: "i1", Status: model.StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestRecommend_NoSnapshot(t *testing.T) {
	st := openStore(t)
	sum, err := NewEngine(st, DefaultOptions(), nil).Recommend(context.Background(), "i1")
	if err != nil {
		t.Fatal(err)
	}
	if sum != (Summary{}) {
		t.Errorf("summary = %+v", sum)
	}

	addSnapshot(t, st, "s0", t0)
	sum, err = NewEngine(st, DefaultOptions(), nil).Recommend(context.Background(), "i1")
	if err != nil || sum != (Summary{}) {
		t.Errorf("empty snapshot: summary = %+v, err = %v", sum, err)
	}
}

func TestRecommend_CreateThenRefresh(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	addSnapshot(t, st, "s1", t0, hotQuery)
	e := NewEngine(st, DefaultOptions(), nil)

	sum, err := e.Recommend(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 2 || sum.Refreshed != 0 {
		t.Fatalf("first run = %+v", sum)
	}
	recs := pending(t, st)
	var idx *model.Recommendation
	for i := range recs {
		if recs[i].Type == model.TypeMissingIndex {
			idx = &recs[i]
		}
	}
	if idx == nil || idx.Confidence != model.ConfidenceHigh || idx.QueryID != "42" {
		t.Fatalf("missing_index = %+v", idx)
	}

	sum, err = e.Recommend(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 0 || sum.Refreshed != 2 {
		t.Errorf("second run = %+v", sum)
	}
	if n := len(pending(t, st)); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
}

func TestRecommend_DismissedNotResurrected(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	addSnapshot(t, st, "s1", t0, hotQuery)
	e := NewEngine(st, DefaultOptions(), nil)

	if _, err := e.Recommend(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	for _, r := range pending(t, st) {
		if _, err := st.SetRecommendationStatus(ctx, r.ID, model.StatusDismissed, t0.Add(time.Minute)); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := e.Recommend(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 0 || sum.Skipped != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if n := len(pending(t, st)); n != 0 {
		t.Errorf("pending = %d after dismissal", n)
	}
}

func TestRecommend_UsesDeltaAcrossSnapshots(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	addSnapshot(t, st, "s1", t0, hotQuery)

	// no new block reads since s1
	idle := hotQuery
	idle.Calls += 100
	idle.TotalTimeMs += 100
	idle.Rows += 100
	addSnapshot(t, st, "s2", t0.Add(time.Hour), idle)

	sum, err := NewEngine(st, DefaultOptions(), nil).Recommend(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range pending(t, st) {
		if r.Type == model.TypeMissingIndex {
			t.Errorf("delta has no block reads, got %+v (summary %+v)", r, sum)
		}
	}
}

func TestRecommend_Exclude(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	addSnapshot(t, st, "s1", t0, hotQuery)

	e := NewEngine(st, DefaultOptions(), func(c *Candidate) bool { return c.Type == model.TypeReadReplica })
	sum, err := e.Recommend(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 1 || sum.Suppressed != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

// steady returns cumulative counters for a statement running 1000 times an
// hour at 10 ms and 100 blocks read per call, after hours of load.
func steady(queryID string, hours float64) model.QueryStat {
	calls := int64(1000 * hours)
	return model.QueryStat{
		QueryID: queryID, Query: "SELECT * FROM orders WHERE customer_id = ?",
		Calls: calls, TotalTimeMs: 10 * float64(calls), MeanTimeMs: 10,
		Rows: calls, SharedBlksRead: 100 * calls,
	}
}

func dismissAll(t *testing.T, st *store.Store, at time.Time) {
	t.Helper()
	for _, r := range pending(t, st) {
		if _, err := st.SetRecommendationStatus(context.Background(), r.ID, model.StatusDismissed, at); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRecommend_DismissedStaysDismissedOnSteadyLoad(t *testing.T) {
	tests := []struct {
		name  string
		after []model.Snapshot
	}{
		{
			name: "longer window",
			after: []model.Snapshot{
				{ID: "s3", CapturedAt: t0.Add(270 * time.Minute), Stats: []model.QueryStat{steady("42", 4.5)}},
			},
		},
		{
			name: "query missing from previous snapshot",
			after: []model.Snapshot{
				{ID: "s3", CapturedAt: t0.Add(4 * time.Hour), Stats: []model.QueryStat{{QueryID: "43", Query: "SELECT ?", Calls: 1, TotalTimeMs: 1}}},
				{ID: "s4", CapturedAt: t0.Add(10 * time.Hour), Stats: []model.QueryStat{steady("42", 10)}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := openStore(t)
			e := NewEngine(st, DefaultOptions(), nil)

			addSnapshot(t, st, "s1", t0.Add(2*time.Hour), steady("42", 2))
			addSnapshot(t, st, "s2", t0.Add(3*time.Hour), steady("42", 3))
			sum, err := e.Recommend(ctx, "i1")
			if err != nil {
				t.Fatal(err)
			}
			if sum.Created != 2 {
				t.Fatalf("first run = %+v, want missing_index and read_replica", sum)
			}
			dismissAll(t, st, t0.Add(3*time.Hour+time.Minute))

			for _, s := range tt.after {
				addSnapshot(t, st, s.ID, s.CapturedAt, s.Stats...)
			}
			sum, err = e.Recommend(ctx, "i1")
			if err != nil {
				t.Fatal(err)
			}
			if sum.Created != 0 || sum.Skipped != 2 {
				t.Errorf("summary = %+v", sum)
			}
			if recs := pending(t, st); len(recs) != 0 {
				t.Errorf("resurrected %+v", recs)
			}
		})
	}
}

func TestRecommend_ResurrectsOnStrongerLoad(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := NewEngine(st, DefaultOptions(), nil)

	addSnapshot(t, st, "s1", t0.Add(2*time.Hour), steady("42", 2))
	addSnapshot(t, st, "s2", t0.Add(3*time.Hour), steady("42", 3))
	if _, err := e.Recommend(ctx, "i1"); err != nil {
		t.Fatal(err)
	}
	dismissAll(t, st, t0.Add(3*time.Hour+time.Minute))

	// ten times the block reads per call over the next hour
	heavy := steady("42", 4)
	heavy.SharedBlksRead = steady("42", 3).SharedBlksRead + 1000*1000
	addSnapshot(t, st, "s3", t0.Add(4*time.Hour), heavy)

	sum, err := e.Recommend(ctx, "i1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Created != 1 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	recs := pending(t, st)
	if len(recs) != 1 || recs[0].Type != model.TypeMissingIndex || recs[0].Evidence != 1000 {
		t.Errorf("pending = %+v", recs)
	}
}

func TestRecommend_ScoresOverGrowingCounters(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	e := NewEngine(st, DefaultOptions(), nil)

	// 43 runs a tenth as often as 42 with the same per-call cost.
	cold := func(hours float64) model.QueryStat {
		s := steady("43", hours/10)
		s.Query = "SELECT * FROM items WHERE sku = ?"
		return s
	}
	scores := func() (hot, slow float64) {
		for _, r := range pending(t, st) {
			if r.Type != model.TypeMissingIndex {
				continue
			}
			switch r.QueryID {
			case "42":
				hot = r.Score
			case "43":
				slow = r.Score
			}
		}
		return hot, slow
	}

	var prevHot, prevCold float64
	for i, h := range []float64{1, 2, 3, 4.5} {
		addSnapshot(t, st, "s"+string(rune('a'+i)), t0.Add(time.Duration(h*float64(time.Hour))), steady("42", h), cold(h))
		if _, err := e.Recommend(ctx, "i1"); err != nil {
			t.Fatal(err)
		}
		hot, slow := scores()
		if hot < slow || hot != 100 {
			t.Errorf("run %d: hot %.1f, cold %.1f", i, hot, slow)
		}
		// constant load over equal windows keeps the scores unchanged
		if i == 2 && (hot != prevHot || slow != prevCold) {
			t.Errorf("run %d: scores moved from %.1f/%.1f to %.1f/%.1f", i, prevHot, prevCold, hot, slow)
		}
		prevHot, prevCold = hot, slow
	}
	if n := len(pending(t, st)); n != 3 {
		t.Errorf("pending = %d, want one per key", n)
	}
}
