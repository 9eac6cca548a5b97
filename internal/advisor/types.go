// Package advisor derives ranked recommendations from statement snapshots.
package advisor

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ppiankov/pgokache/internal/config"
	"github.com/ppiankov/pgokache/internal/model"
)

// Candidate is a recommendation produced by one engine run, before it is
// reconciled with stored records.
type Candidate struct {
	Type       model.RecommendationType `json:"type"`
	QueryID    string                   `json:"queryid,omitempty"`
	Query      string                   `json:"query_norm,omitempty"`
	Table      string                   `json:"table,omitempty"`
	Title      string                   `json:"title"`
	Details    string                   `json:"details"`
	SQL        string                   `json:"sql"`
	Confidence model.Confidence         `json:"confidence"`
	Score      float64                  `json:"score"`
	// Evidence is the rule's intensity: blocks read per row, temp blocks
	// per call, or read-only milliseconds per hour. It does not grow with
	// the length of the window.
	Evidence float64 `json:"evidence"`
	// Delta is set when Evidence comes from the difference between two
	// snapshots rather than counters accumulated since a reset.
	Delta bool `json:"-"`
}

// Key identifies the recommendation a candidate maps onto.
type Key struct {
	Type    model.RecommendationType
	QueryID string
}

// Key returns the candidate's upsert key.
func (c *Candidate) Key() Key {
	return Key{Type: c.Type, QueryID: c.QueryID}
}

// Options are the rule thresholds.
type Options struct {
	BlocksPerRow          float64
	TempBlocksPerCall     float64
	MinCalls              int64
	ReadShare             float64
	ReadReplicaMinTotalMs float64
	HighCalls             int64
	MediumCalls           int64
	ResurrectFactor       float64
}

// DefaultOptions matches the config defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig().Thresholds)
}

// OptionsFromConfig maps the thresholds config section.
func OptionsFromConfig(t config.Thresholds) Options {
	return Options{
		BlocksPerRow:          t.BlocksPerRow,
		TempBlocksPerCall:     t.TempBlocksPerCall,
		MinCalls:              t.MinCalls,
		ReadShare:             t.ReadShare,
		ReadReplicaMinTotalMs: t.ReadReplicaMinTotalMs,
		HighCalls:             t.HighCalls,
		MediumCalls:           t.MediumCalls,
		ResurrectFactor:       t.ResurrectFactor,
	}
}

// Fingerprint returns a stable identifier for a recommendation key.
// SHA-256 of "instance|type|queryid", truncated to 16 bytes, hex-encoded.
func Fingerprint(instanceID string, typ model.RecommendationType, queryID string) string {
	h := sha256.Sum256([]byte(instanceID + "|" + string(typ) + "|" + queryID))
	return hex.EncodeToString(h[:16])
}
