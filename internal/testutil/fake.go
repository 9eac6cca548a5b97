package testutil

import (
	"context"
	"sync"

	"github.com/ppiankov/pgokache/internal/collector"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/postgres"
	"github.com/ppiankov/pgokache/internal/setup"
)

// FakeTarget answers setup probes and statistics reads from fixed values.
// It is safe for concurrent use.
type FakeTarget struct {
	mu sync.Mutex

	Version    string
	VersionNum int
	Settings   map[string]string
	Available  bool
	Created    bool
	AllStats   bool
	Stats      []postgres.RawStat
	StatsErr   error
	DialErr    error
	// Gate, when set, holds every dial until it is closed or the dial's
	// context ends.
	Gate chan struct{}

	dials int
}

// NewReadyTarget returns a fake Postgres 16 with pg_stat_statements
// preloaded and created.
func NewReadyTarget() *FakeTarget {
	return &FakeTarget{
		Version:    "16.2",
		VersionNum: 160002,
		Settings: map[string]string{
			"shared_preload_libraries": "pg_stat_statements",
			"pg_stat_statements.track": "top",
			"pg_stat_statements.max":   "5000",
		},
		Available: true,
		Created:   true,
		AllStats:  true,
	}
}

// Update mutates the target under its lock.
func (f *FakeTarget) Update(fn func(f *FakeTarget)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Dials returns how many connections were opened.
func (f *FakeTarget) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *FakeTarget) dial(ctx context.Context) error {
	f.mu.Lock()
	f.dials++
	gate, err := f.Gate, f.DialErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return postgres.Classify("connect", ctx.Err())
		}
	}
	return err
}

// SetupDialer returns a setup.Dialer connecting to f.
func (f *FakeTarget) SetupDialer() setup.Dialer {
	return func(ctx context.Context, _ model.ConnDescriptor) (setup.Prober, error) {
		if err := f.dial(ctx); err != nil {
			return nil, err
		}
		return f, nil
	}
}

// CollectorDialer returns a collector.Dialer connecting to f.
func (f *FakeTarget) CollectorDialer() collector.Dialer {
	return func(ctx context.Context, _ model.ConnDescriptor) (collector.StatsReader, error) {
		if err := f.dial(ctx); err != nil {
			return nil, err
		}
		return f, nil
	}
}

func (f *FakeTarget) ServerVersion(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Version, nil
}

func (f *FakeTarget) ServerVersionNum(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.VersionNum, nil
}

func (f *FakeTarget) Show(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Settings[name], nil
}

func (f *FakeTarget) ExtensionAvailable(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Available, nil
}

func (f *FakeTarget) ExtensionCreated(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Created, nil
}

func (f *FakeTarget) CanReadAllStats(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AllStats, nil
}

func (f *FakeTarget) StatementStats(context.Context, postgres.StatsOptions) ([]postgres.RawStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postgres.RawStat(nil), f.Stats...), f.StatsErr
}

func (f *FakeTarget) Close() {}
