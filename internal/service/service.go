// Package service orchestrates setup checks, collections and recommendation
// runs on top of the registry and store. Both the HTTP API and the CLI call
// into it.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/pgokache/internal/advisor"
	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/collector"
	"github.com/ppiankov/pgokache/internal/lock"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/registry"
	"github.com/ppiankov/pgokache/internal/setup"
	"github.com/ppiankov/pgokache/internal/store"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store     *store.Store
	Registry  *registry.Registry
	Checker   *setup.Checker
	Collector *collector.Collector
	Engine    *advisor.Engine
	Locker    lock.Locker
}

// Service is the application core.
type Service struct {
	store     *store.Store
	registry  *registry.Registry
	checker   *setup.Checker
	collector *collector.Collector
	engine    *advisor.Engine
	locker    lock.Locker
	checks    singleflight.Group
	now       func() time.Time
}

// New returns a Service over d.
func New(d Deps) *Service {
	return &Service{
		store:     d.Store,
		registry:  d.Registry,
		checker:   d.Checker,
		collector: d.Collector,
		engine:    d.Engine,
		locker:    d.Locker,
		now:       time.Now,
	}
}

// CollectResult describes a collection and the recommendation run after it.
// RecommendError is set when the snapshot was stored but the recommendation
// run failed.
type CollectResult struct {
	SnapshotID      string             `json:"snapshot_id"`
	Rows            int                `json:"rows"`
	Recommendations *advisor.Summary   `json:"recommendations,omitempty"`
	RecommendError  *model.ErrorDetail `json:"recommend_error,omitempty"`
}

// CreateInstance registers a new instance.
func (s *Service) CreateInstance(ctx context.Context, req registry.CreateRequest) (_ model.Instance, err error) {
	ctx, end := begin(ctx, "create_instance", "")
	defer end(&err)
	return s.registry.Create(ctx, req)
}

// ListInstances returns every registered instance.
func (s *Service) ListInstances(ctx context.Context) ([]model.Instance, error) {
	return s.registry.List(ctx)
}

// GetInstance returns one instance.
func (s *Service) GetInstance(ctx context.Context, id string) (model.Instance, error) {
	return s.registry.Get(ctx, id)
}

// PatchInstance changes an instance's name or password.
func (s *Service) PatchInstance(ctx context.Context, id string, req registry.PatchRequest) (_ model.Instance, err error) {
	ctx, end := begin(ctx, "patch_instance", id)
	defer end(&err)
	return s.registry.Patch(ctx, id, req)
}

// CheckSetup runs the setup checker against an instance and stores the
// resulting state. Concurrent calls for one instance share a single check.
// A check that fails against the target still returns its SetupInfo; only
// registry and store failures are errors.
func (s *Service) CheckSetup(ctx context.Context, id string) (_ model.SetupInfo, err error) {
	ctx, end := begin(ctx, "check_setup", id)
	defer end(&err)

	// The shared run outlives any single caller. Dial, probes and lock
	// waits carry their own timeouts.
	shared := context.WithoutCancel(ctx)
	ch := s.checks.DoChan(id, func() (any, error) {
		ctx := shared
		desc, err := s.registry.Descriptor(ctx, id)
		if err != nil {
			return model.SetupInfo{}, err
		}
		release, err := s.locker.Acquire(ctx, lock.InstanceKey(id))
		if err != nil {
			return model.SetupInfo{}, err
		}
		defer release()

		info := s.checker.Check(ctx, desc)
		if err := s.store.SaveSetupState(ctx, info.State()); err != nil {
			return model.SetupInfo{}, fmt.Errorf("save setup state: %w", err)
		}
		setupStatus.WithLabelValues(string(info.Status)).Inc()
		if info.Error != nil {
			slog.Warn("setup check failed", "instance", id, "status", info.Status, "kind", info.Error.Kind, "detail", info.Error.Detail)
		} else {
			slog.Debug("setup checked", "instance", id, "status", info.Status, "ready", info.Ready)
		}
		return info, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			slog.Debug("setup check shared with concurrent callers", "instance", id)
		}
		if res.Err != nil {
			return model.SetupInfo{}, res.Err
		}
		return res.Val.(model.SetupInfo), nil
	case <-ctx.Done():
		return model.SetupInfo{}, fmt.Errorf("check setup: %w", ctx.Err())
	}
}

// SetupStates returns the stored state of every checked instance.
func (s *Service) SetupStates(ctx context.Context) ([]model.SetupState, error) {
	return s.store.ListSetupStates(ctx)
}

// Collect captures a snapshot and, unless recommend is false, runs the
// recommendation engine on it.
func (s *Service) Collect(ctx context.Context, id string, recommend bool) (_ CollectResult, err error) {
	ctx, end := begin(ctx, "collect", id)
	defer end(&err)

	desc, err := s.registry.Descriptor(ctx, id)
	if err != nil {
		return CollectResult{}, err
	}
	release, err := s.locker.Acquire(ctx, lock.InstanceKey(id))
	if err != nil {
		return CollectResult{}, err
	}
	defer release()

	res, err := s.collector.Collect(ctx, desc)
	if err != nil {
		return CollectResult{}, err
	}
	snapshotRows.Observe(float64(res.Rows))
	out := CollectResult{SnapshotID: res.SnapshotID, Rows: res.Rows}

	if recommend {
		sum, err := s.recommend(ctx, id)
		if err != nil {
			slog.Warn("recommendation run after collect failed", "instance", id, "snapshot", out.SnapshotID, "error", err)
			out.RecommendError = errorDetail(err)
			return out, nil
		}
		out.Recommendations = &sum
	}
	return out, nil
}

// Recommend runs the engine over the stored snapshots of an instance.
func (s *Service) Recommend(ctx context.Context, id string) (_ advisor.Summary, err error) {
	ctx, end := begin(ctx, "recommend", id)
	defer end(&err)

	if _, err := s.registry.Get(ctx, id); err != nil {
		return advisor.Summary{}, err
	}
	release, err := s.locker.Acquire(ctx, lock.InstanceKey(id))
	if err != nil {
		return advisor.Summary{}, err
	}
	defer release()
	return s.recommend(ctx, id)
}

// errorDetail reports err without the details of internal failures.
func errorDetail(err error) *model.ErrorDetail {
	kind := apperr.KindOf(err)
	detail := apperr.Message(err)
	if kind == apperr.Internal {
		detail = "internal error"
	}
	return &model.ErrorDetail{Kind: string(kind), Detail: detail}
}

func (s *Service) recommend(ctx context.Context, id string) (advisor.Summary, error) {
	ctx, span := tracer.Start(ctx, "advisor.Recommend")
	defer span.End()
	return s.engine.Recommend(ctx, id)
}

// Snapshots returns the latest snapshot of one instance, or of every
// instance when id is empty. top > 0 limits the embedded stats.
func (s *Service) Snapshots(ctx context.Context, id string, top int) ([]model.Snapshot, error) {
	ids := []string{id}
	if id == "" {
		insts, err := s.registry.List(ctx)
		if err != nil {
			return nil, err
		}
		ids = ids[:0]
		for _, in := range insts {
			ids = append(ids, in.ID)
		}
	} else if _, err := s.registry.Get(ctx, id); err != nil {
		return nil, err
	}

	out := []model.Snapshot{}
	for _, instanceID := range ids {
		snap, found, err := s.store.LatestSnapshot(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if top > 0 && len(snap.Stats) > top {
			snap.Stats = snap.Stats[:top]
		}
		out = append(out, snap)
	}
	return out, nil
}

// Recommendations lists recommendations ranked by score.
func (s *Service) Recommendations(ctx context.Context, f store.RecommendationFilter) ([]model.Recommendation, error) {
	switch f.Status {
	case "", model.StatusPending, model.StatusApplied, model.StatusDismissed:
	default:
		return nil, apperr.New(apperr.Validation, "service.Recommendations", "unknown status "+string(f.Status))
	}
	recs, err := s.store.ListRecommendations(ctx, f)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}
	return recs, nil
}

// SetRecommendationStatus records an operator decision on a pending
// recommendation.
func (s *Service) SetRecommendationStatus(ctx context.Context, id string, next model.Status) (_ model.Recommendation, err error) {
	ctx, end := begin(ctx, "set_recommendation_status", "")
	defer end(&err)

	if !next.Terminal() {
		return model.Recommendation{}, apperr.New(apperr.Validation, "service.SetRecommendationStatus",
			"status must be applied or dismissed")
	}
	return s.store.SetRecommendationStatus(ctx, id, next, s.now().UTC())
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
