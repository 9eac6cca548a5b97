package advisor

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/sqlhint"
)

const (
	blockSize      = 8192
	minWorkMemMB   = 8
	detailQueryMax = 200
)

var (
	dmlVerb     = regexp.MustCompile(`(?i)\b(?:INSERT|UPDATE|DELETE|MERGE)\b`)
	lockingRead = regexp.MustCompile(`(?i)\bFOR\s+(?:NO\s+KEY\s+)?(?:UPDATE|SHARE|KEY\s+SHARE)\b`)
)

// Analyze applies every rule to the evidence set and returns candidates
// ranked by score, highest first.
func Analyze(evidence []Evidence, opts Options) []Candidate {
	if len(evidence) == 0 {
		return nil
	}
	wmax := 0.0
	for i := range evidence {
		wmax = math.Max(wmax, weight(&evidence[i]))
	}

	var cands []Candidate
	for i := range evidence {
		cands = append(cands, detectQuery(&evidence[i], wmax, opts)...)
	}
	if c, ok := detectReadReplica(evidence, opts); ok {
		cands = append(cands, c)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
	return cands
}

// detectQuery runs the per-statement rules. A temp spill on a statement that
// also reads many blocks per row is reported on its missing_index candidate.
func detectQuery(ev *Evidence, wmax float64, opts Options) []Candidate {
	if ev.Calls < opts.MinCalls {
		return nil
	}
	blocks := blocksPerRow(ev)
	temp := tempPerCall(ev)
	score := Score(weight(ev), wmax)

	indexHit := blocks >= opts.BlocksPerRow
	spill := temp >= opts.TempBlocksPerCall
	spillAsIndex := spill && blocks >= opts.BlocksPerRow/2

	var out []Candidate
	if indexHit || spillAsIndex {
		c := missingIndex(ev, blocks, opts)
		if spillAsIndex {
			c.Details += " " + spillDetail(temp)
			if !indexHit {
				c.Confidence = confidence(ev.Calls, temp, opts.TempBlocksPerCall, opts)
			}
		}
		c.Score = score
		out = append(out, c)
	}
	if spill && !spillAsIndex {
		c := workMem(ev, temp, opts)
		c.Score = score
		out = append(out, c)
	}
	return out
}

func missingIndex(ev *Evidence, blocks float64, opts Options) Candidate {
	c := Candidate{
		Type:       model.TypeMissingIndex,
		QueryID:    ev.QueryID,
		Query:      ev.Query,
		Title:      fmt.Sprintf("Possible missing index for query %s", ev.QueryID),
		Confidence: confidence(ev.Calls, blocks, opts.BlocksPerRow, opts),
		Evidence:   blocks,
		Delta:      ev.Delta,
	}
	if h, ok := sqlhint.Analyze(ev.Query); ok {
		c.Table = h.Table.String()
		c.Title = fmt.Sprintf("Possible missing index on %s (%s)", h.Table, strings.Join(h.Columns, ", "))
		c.SQL = h.DDL()
	}
	c.Details = fmt.Sprintf("%s: %d calls read %d shared blocks for %d rows (%.1f blocks per row), mean %.2f ms. Query: %s",
		window(ev), ev.Calls, ev.SharedBlksRead, ev.Rows, blocks, ev.MeanTimeMs, clip(ev.Query))
	return c
}

func workMem(ev *Evidence, temp float64, opts Options) Candidate {
	return Candidate{
		Type:       model.TypeWorkMem,
		QueryID:    ev.QueryID,
		Query:      ev.Query,
		Title:      fmt.Sprintf("Query %s spills to temporary files", ev.QueryID),
		Details:    fmt.Sprintf("%s: %d calls. %s Query: %s", window(ev), ev.Calls, spillDetail(temp), clip(ev.Query)),
		SQL:        fmt.Sprintf("SET work_mem = '%dMB';", WorkMemMB(temp)),
		Confidence: confidence(ev.Calls, temp, opts.TempBlocksPerCall, opts),
		Evidence:   temp,
		Delta:      ev.Delta,
	}
}

// detectReadReplica looks at the whole evidence set: a workload dominated by
// read-only statements can be offloaded to a replica. Its evidence is read
// time per hour when every statement is a delta over a known window, and
// the absolute read time otherwise.
func detectReadReplica(evidence []Evidence, opts Options) (Candidate, bool) {
	var total, read float64
	var readCalls int64
	delta := true
	for i := range evidence {
		ev := &evidence[i]
		delta = delta && ev.Delta && ev.Window > 0 && ev.Window == evidence[0].Window
		total += ev.TotalTimeMs
		if IsReadOnly(ev.Query) {
			read += ev.TotalTimeMs
			readCalls += ev.Calls
		}
	}
	if total <= 0 || total < opts.ReadReplicaMinTotalMs || readCalls < opts.MinCalls {
		return Candidate{}, false
	}
	share := read / total
	if share < opts.ReadShare {
		return Candidate{}, false
	}

	conf := model.ConfidenceLow
	switch {
	case readCalls >= opts.HighCalls && total >= 10*opts.ReadReplicaMinTotalMs && share >= 0.95:
		conf = model.ConfidenceHigh
	case readCalls >= opts.MediumCalls && total >= 3*opts.ReadReplicaMinTotalMs:
		conf = model.ConfidenceMedium
	}
	c := Candidate{
		Type:  model.TypeReadReplica,
		Title: "Read-heavy workload: consider a read replica",
		Details: fmt.Sprintf("Read-only statements account for %.1f%% of %.0f ms total execution time across %d calls.",
			100*share, total, readCalls),
		Confidence: conf,
		Score:      round1(100 * share),
		Evidence:   read,
	}
	if delta {
		c.Evidence = read / evidence[0].Window.Hours()
		c.Delta = true
	}
	return c, true
}

// IsReadOnly reports whether a normalized statement only reads: a SELECT
// without a locking clause, or a WITH query without data-modifying verbs.
func IsReadOnly(query string) bool {
	q := strings.TrimLeft(query, " (")
	head, _, _ := strings.Cut(q, " ")
	switch strings.ToUpper(head) {
	case "SELECT", "WITH":
		return !lockingRead.MatchString(q) && !dmlVerb.MatchString(q)
	default:
		return false
	}
}

// confidence buckets the evidence: high needs many calls and a ratio far
// above the threshold, medium fewer calls and a smaller margin.
func confidence(calls int64, ratio, threshold float64, opts Options) model.Confidence {
	switch {
	case calls >= opts.HighCalls && ratio >= 10*threshold:
		return model.ConfidenceHigh
	case calls >= opts.MediumCalls && ratio >= 3*threshold:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// WorkMemMB sizes a work_mem setting for a spill of tempBlocks 8 KiB blocks
// per call, rounded up to a power of two megabytes.
func WorkMemMB(tempBlocks float64) int {
	mb := int(math.Ceil(tempBlocks * blockSize / (1 << 20)))
	size := minWorkMemMB
	for size < mb {
		size *= 2
	}
	return size
}

func spillDetail(temp float64) string {
	return fmt.Sprintf("Writes %.0f temp blocks per call (%.1f MiB).", temp, temp*blockSize/(1<<20))
}

func blocksPerRow(ev *Evidence) float64 {
	return float64(ev.SharedBlksRead) / float64(max(ev.Rows, 1))
}

func tempPerCall(ev *Evidence) float64 {
	return float64(ev.TempBlksWritten) / float64(max(ev.Calls, 1))
}

func weight(ev *Evidence) float64 {
	return ev.TotalTimeMs * float64(ev.Calls)
}

func window(ev *Evidence) string {
	if ev.Delta {
		return "Since the previous snapshot"
	}
	return "Since the last statistics reset"
}

func clip(q string) string {
	r := []rune(q)
	if len(r) <= detailQueryMax {
		return q
	}
	return string(r[:detailQueryMax]) + "..."
}
