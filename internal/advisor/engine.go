package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/store"
)

// Store is the persistence the engine needs.
type Store interface {
	LatestSnapshots(ctx context.Context, instanceID string, n int) ([]model.Snapshot, error)
	UpsertRecommendations(ctx context.Context, instanceID string, plan store.Planner) (store.Changes, error)
}

// ExcludeFunc reports whether a candidate must be dropped before upsert.
type ExcludeFunc func(c *Candidate) bool

// Summary counts the outcome of one engine run.
type Summary struct {
	Created    int `json:"created"`
	Refreshed  int `json:"refreshed"`
	Skipped    int `json:"skipped"`
	Suppressed int `json:"suppressed"`
}

// Engine runs the rules over stored snapshots and upserts the result.
type Engine struct {
	store   Store
	opts    Options
	exclude ExcludeFunc
	now     func() time.Time
}

// NewEngine returns an Engine. exclude may be nil.
func NewEngine(st Store, opts Options, exclude ExcludeFunc) *Engine {
	if opts.ResurrectFactor <= 0 {
		opts.ResurrectFactor = DefaultOptions().ResurrectFactor
	}
	return &Engine{store: st, opts: opts, exclude: exclude, now: time.Now}
}

// Recommend evaluates the latest snapshot of an instance against the one
// before it. No snapshot, or an empty one, is a no-op.
func (e *Engine) Recommend(ctx context.Context, instanceID string) (Summary, error) {
	snaps, err := e.store.LatestSnapshots(ctx, instanceID, 2)
	if err != nil {
		return Summary{}, fmt.Errorf("load snapshots: %w", err)
	}
	if len(snaps) == 0 || len(snaps[0].Stats) == 0 {
		slog.Debug("no snapshot to evaluate", "instance", instanceID)
		return Summary{}, nil
	}
	var prev *model.Snapshot
	if len(snaps) > 1 {
		prev = &snaps[1]
	}

	cands := Analyze(BuildEvidence(&snaps[0], prev), e.opts)

	var sum Summary
	if e.exclude != nil {
		kept := cands[:0]
		for i := range cands {
			if e.exclude(&cands[i]) {
				sum.Suppressed++
				continue
			}
			kept = append(kept, cands[i])
		}
		cands = kept
	}

	now := e.now().UTC()
	var res PlanResult
	_, err = e.store.UpsertRecommendations(ctx, instanceID, func(existing []model.Recommendation) store.Changes {
		res = Plan(instanceID, cands, existing, now, e.opts.ResurrectFactor)
		return res.Changes
	})
	if err != nil {
		return Summary{}, fmt.Errorf("upsert recommendations: %w", err)
	}

	sum.Created = len(res.Changes.Create)
	sum.Refreshed = len(res.Changes.Update)
	sum.Skipped = res.Skipped
	slog.Debug("recommendations upserted", "instance", instanceID, "snapshot", snaps[0].ID,
		"created", sum.Created, "refreshed", sum.Refreshed, "skipped", sum.Skipped, "suppressed", sum.Suppressed)
	return sum, nil
}
