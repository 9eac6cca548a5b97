package advisor

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/store"
)

// PlanResult is the set of writes for one run plus what was left alone.
type PlanResult struct {
	Changes store.Changes
	// Skipped counts candidates held back by an applied or dismissed record.
	Skipped int
}

// Plan reconciles candidates with the instance's stored recommendations.
// A pending record is refreshed in place. When only applied or dismissed
// records exist, a new pending record is created only if the candidate's
// evidence is a delta, at least resurrectFactor times the latest terminal
// record's, and its confidence is not lower. Otherwise a pending record is
// created. Nothing is deleted.
func Plan(instanceID string, cands []Candidate, existing []model.Recommendation, now time.Time, resurrectFactor float64) PlanResult {
	type group struct {
		pending  *model.Recommendation
		terminal *model.Recommendation
	}
	groups := make(map[Key]*group)
	for i := range existing {
		r := &existing[i]
		k := Key{Type: r.Type, QueryID: r.QueryID}
		g := groups[k]
		if g == nil {
			g = &group{}
			groups[k] = g
		}
		switch {
		case r.Status == model.StatusPending:
			if g.pending == nil {
				g.pending = r
			}
		case r.Status.Terminal():
			if g.terminal == nil || newer(r, g.terminal) {
				g.terminal = r
			}
		}
	}

	var res PlanResult
	seen := make(map[Key]bool, len(cands))
	for i := range cands {
		c := &cands[i]
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true

		g := groups[k]
		switch {
		case g != nil && g.pending != nil:
			r := *g.pending
			r.Title = c.Title
			r.Details = c.Details
			r.SQL = c.SQL
			r.Confidence = c.Confidence
			r.Score = c.Score
			r.Evidence = c.Evidence
			r.UpdatedAt = now
			res.Changes.Update = append(res.Changes.Update, r)
		case g != nil && g.terminal != nil && !resurrects(c, g.terminal, resurrectFactor):
			res.Skipped++
		default:
			res.Changes.Create = append(res.Changes.Create, newRecommendation(instanceID, c, now))
		}
	}
	return res
}

func resurrects(c *Candidate, last *model.Recommendation, factor float64) bool {
	return c.Delta && c.Evidence >= factor*last.Evidence && c.Confidence.Rank() >= last.Confidence.Rank()
}

func newer(a, b *model.Recommendation) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func newRecommendation(instanceID string, c *Candidate, now time.Time) model.Recommendation {
	return model.Recommendation{
		ID:          uuid.NewString(),
		InstanceID:  instanceID,
		Type:        c.Type,
		QueryID:     c.QueryID,
		Fingerprint: Fingerprint(instanceID, c.Type, c.QueryID),
		Title:       c.Title,
		Details:     c.Details,
		SQL:         c.SQL,
		Confidence:  c.Confidence,
		Score:       c.Score,
		Evidence:    c.Evidence,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
