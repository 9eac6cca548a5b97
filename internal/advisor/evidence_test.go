package advisor

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/pgokache/internal/model"
)

func snapshot(stats ...model.QueryStat) *model.Snapshot {
	return &model.Snapshot{ID: "s", InstanceID: "i1", Stats: stats}
}

func TestBuildEvidence_Delta(t *testing.T) {
	prev := snapshot(model.QueryStat{QueryID: "1", Query: "SELECT ?", Calls: 100, TotalTimeMs: 1000, Rows: 100, SharedBlksRead: 50})
	latest := snapshot(model.QueryStat{QueryID: "1", Query: "SELECT ?", Calls: 300, TotalTimeMs: 4000, Rows: 300, SharedBlksRead: 450})

	got := BuildEvidence(latest, prev)
	want := []Evidence{{
		QueryStat: model.QueryStat{QueryID: "1", Query: "SELECT ?", Calls: 200, TotalTimeMs: 3000, MeanTimeMs: 15, Rows: 200, SharedBlksRead: 400},
		Delta:     true,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("evidence mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEvidence_ResetUsesAbsolute(t *testing.T) {
	prev := snapshot(model.QueryStat{QueryID: "1", Calls: 100, TotalTimeMs: 1000, Rows: 100})
	latest := snapshot(model.QueryStat{QueryID: "1", Calls: 3, TotalTimeMs: 30, MeanTimeMs: 10, Rows: 3})

	got := BuildEvidence(latest, prev)
	if len(got) != 1 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].Delta || got[0].Calls != 3 || got[0].TotalTimeMs != 30 {
		t.Errorf("reset should use absolute values, got %+v", got[0])
	}
}

func TestBuildEvidence_AnyCounterReset(t *testing.T) {
	prev := snapshot(model.QueryStat{QueryID: "1", Calls: 100, TotalTimeMs: 1000, TempBlksWritten: 500})
	latest := snapshot(model.QueryStat{QueryID: "1", Calls: 150, TotalTimeMs: 1500, TempBlksWritten: 10})

	got := BuildEvidence(latest, prev)
	if len(got) != 1 || got[0].Delta || got[0].Calls != 150 {
		t.Errorf("got %+v", got)
	}
}

func TestBuildEvidence_NewQueryAndIdle(t *testing.T) {
	prev := snapshot(model.QueryStat{QueryID: "idle", Calls: 10, TotalTimeMs: 5})
	latest := snapshot(
		model.QueryStat{QueryID: "idle", Calls: 10, TotalTimeMs: 5},
		model.QueryStat{QueryID: "new", Calls: 7, TotalTimeMs: 70},
	)

	got := BuildEvidence(latest, prev)
	if len(got) != 1 || got[0].QueryID != "new" || got[0].Delta {
		t.Errorf("got %+v", got)
	}
}

func TestBuildEvidence_NoPrevious(t *testing.T) {
	latest := snapshot(model.QueryStat{QueryID: "1", Calls: 5})
	if got := BuildEvidence(latest, nil); len(got) != 1 || got[0].Delta {
		t.Errorf("got %+v", got)
	}
	if got := BuildEvidence(nil, nil); got != nil {
		t.Errorf("nil snapshot gave %+v", got)
	}
}

func TestBuildEvidence_MergesDuplicateQueryIDs(t *testing.T) {
	latest := snapshot(
		model.QueryStat{QueryID: "1", Query: "SELECT ?", Calls: 10, TotalTimeMs: 100, Rows: 10},
		model.QueryStat{QueryID: "2", Calls: 1, TotalTimeMs: 1},
		model.QueryStat{QueryID: "1", Query: "SELECT ?", Calls: 30, TotalTimeMs: 100, Rows: 30},
	)
	got := BuildEvidence(latest, nil)
	if len(got) != 2 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].QueryID != "1" || got[0].Calls != 40 || got[0].Rows != 40 || got[0].MeanTimeMs != 5 {
		t.Errorf("merged = %+v", got[0])
	}
}

func TestBuildEvidence_Window(t *testing.T) {
	prev := snapshot(model.QueryStat{QueryID: "1", Calls: 100, TotalTimeMs: 1000})
	prev.CapturedAt = t0
	latest := snapshot(
		model.QueryStat{QueryID: "1", Calls: 250, TotalTimeMs: 2500},
		model.QueryStat{QueryID: "2", Calls: 10, TotalTimeMs: 10},
	)
	latest.CapturedAt = t0.Add(90 * time.Minute)

	got := BuildEvidence(latest, prev)
	if len(got) != 2 {
		t.Fatalf("got %d entries", len(got))
	}
	if !got[0].Delta || got[0].Window != 90*time.Minute {
		t.Errorf("delta entry = %+v", got[0])
	}
	if got[1].Delta || got[1].Window != 0 {
		t.Errorf("new query should carry no window: %+v", got[1])
	}

	// out of order capture times give no window
	latest.CapturedAt = t0.Add(-time.Minute)
	if got := BuildEvidence(latest, prev); got[0].Window != 0 {
		t.Errorf("window = %v, want 0", got[0].Window)
	}
}
