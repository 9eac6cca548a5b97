package advisor

import (
	"time"

	"github.com/ppiankov/pgokache/internal/model"
)

// Evidence is a statement's activity attributed to one engine run.
type Evidence struct {
	model.QueryStat
	// Delta is set when the values are the difference between two snapshots.
	Delta bool
	// Window is the time between the two snapshots of a delta, zero when
	// the capture times are unknown or out of order.
	Window time.Duration
}

// BuildEvidence returns the per-query evidence set for latest, using prev
// (may be nil) to compute deltas. A counter that went backwards means the
// statistics were reset; the latest absolute values are used then. Queries
// with no calls in the window are left out.
func BuildEvidence(latest, prev *model.Snapshot) []Evidence {
	if latest == nil {
		return nil
	}
	cur := merge(latest.Stats)

	var before map[string]model.QueryStat
	if prev != nil {
		before = make(map[string]model.QueryStat)
		for _, s := range merge(prev.Stats) {
			before[s.QueryID] = s
		}
	}

	var window time.Duration
	if prev != nil && latest.CapturedAt.After(prev.CapturedAt) {
		window = latest.CapturedAt.Sub(prev.CapturedAt)
	}

	out := make([]Evidence, 0, len(cur))
	for _, s := range cur {
		ev := Evidence{QueryStat: s}
		if p, ok := before[s.QueryID]; ok && !isReset(s, p) {
			ev = Evidence{QueryStat: subtract(s, p), Delta: true, Window: window}
		}
		if ev.Calls <= 0 {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// merge folds rows sharing a query id (one per role or nesting level) into
// one, keeping first-seen order.
func merge(stats []model.QueryStat) []model.QueryStat {
	idx := make(map[string]int, len(stats))
	out := make([]model.QueryStat, 0, len(stats))
	for _, s := range stats {
		i, ok := idx[s.QueryID]
		if !ok {
			idx[s.QueryID] = len(out)
			out = append(out, s)
			continue
		}
		m := &out[i]
		m.Calls += s.Calls
		m.TotalTimeMs += s.TotalTimeMs
		m.Rows += s.Rows
		m.SharedBlksHit += s.SharedBlksHit
		m.SharedBlksRead += s.SharedBlksRead
		m.TempBlksWritten += s.TempBlksWritten
		m.WALBytes += s.WALBytes
		m.MeanTimeMs = meanOf(m.TotalTimeMs, m.Calls)
	}
	return out
}

func isReset(cur, prev model.QueryStat) bool {
	return cur.Calls < prev.Calls ||
		cur.TotalTimeMs < prev.TotalTimeMs ||
		cur.Rows < prev.Rows ||
		cur.SharedBlksHit < prev.SharedBlksHit ||
		cur.SharedBlksRead < prev.SharedBlksRead ||
		cur.TempBlksWritten < prev.TempBlksWritten ||
		cur.WALBytes < prev.WALBytes
}

func subtract(cur, prev model.QueryStat) model.QueryStat {
	d := model.QueryStat{
		QueryID:         cur.QueryID,
		Query:           cur.Query,
		Calls:           cur.Calls - prev.Calls,
		TotalTimeMs:     cur.TotalTimeMs - prev.TotalTimeMs,
		Rows:            cur.Rows - prev.Rows,
		SharedBlksHit:   cur.SharedBlksHit - prev.SharedBlksHit,
		SharedBlksRead:  cur.SharedBlksRead - prev.SharedBlksRead,
		TempBlksWritten: cur.TempBlksWritten - prev.TempBlksWritten,
		WALBytes:        cur.WALBytes - prev.WALBytes,
	}
	d.MeanTimeMs = meanOf(d.TotalTimeMs, d.Calls)
	return d
}

func meanOf(total float64, calls int64) float64 {
	if calls <= 0 {
		return 0
	}
	return total / float64(calls)
}
