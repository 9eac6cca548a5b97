// Package baseline records the fingerprints of known recommendations so
// CI runs only report and fail on new ones.
package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/ppiankov/pgokache/internal/model"
)

// Baseline is a set of recommendation fingerprints.
type Baseline struct {
	Fingerprints []string `json:"fingerprints"`
	set          map[string]bool
}

// Load reads a baseline file. A missing file is an empty baseline.
func Load(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Baseline{set: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline: %w", err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse baseline %s: %w", path, err)
	}
	b.set = make(map[string]bool, len(b.Fingerprints))
	for _, fp := range b.Fingerprints {
		b.set[fp] = true
	}
	return &b, nil
}

// Save writes the sorted, de-duplicated fingerprints of recs to path.
func Save(path string, recs []model.Recommendation) error {
	fps := make([]string, 0, len(recs))
	for _, r := range recs {
		fps = append(fps, r.Fingerprint)
	}
	slices.Sort(fps)
	fps = slices.Compact(fps)

	data, err := json.MarshalIndent(Baseline{Fingerprints: fps}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Contains reports whether r was known when the baseline was saved.
func (b *Baseline) Contains(r *model.Recommendation) bool {
	return b.set[r.Fingerprint]
}

// Filter drops baselined recommendations, keeping order, and returns how
// many were dropped.
func (b *Baseline) Filter(recs []model.Recommendation) ([]model.Recommendation, int) {
	if len(b.set) == 0 {
		return recs, 0
	}
	kept := make([]model.Recommendation, 0, len(recs))
	for i := range recs {
		if !b.Contains(&recs[i]) {
			kept = append(kept, recs[i])
		}
	}
	return kept, len(recs) - len(kept)
}
