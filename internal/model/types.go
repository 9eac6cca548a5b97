// Package model holds the domain types shared by the checker, collector,
// recommendation engine, store and transports.
package model

import (
	"fmt"
	"log/slog"
	"time"
)

// Instance is a monitored Postgres database.
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	DBName    string    `json:"dbname"`
	User      string    `json:"user"`
	SSLMode   string    `json:"ssl_mode"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnDescriptor carries what is needed to open a connection to an instance.
// Password is decrypted and must never be logged or persisted.
type ConnDescriptor struct {
	InstanceID string
	Host       string
	Port       int
	DBName     string
	User       string
	Password   string
	SSLMode    string
}

// String renders the descriptor without the password.
func (d ConnDescriptor) String() string {
	return fmt.Sprintf("%s@%s:%d/%s?sslmode=%s", d.User, d.Host, d.Port, d.DBName, d.SSLMode)
}

// LogValue implements slog.LogValuer so descriptors can be logged safely.
func (d ConnDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("instance", d.InstanceID),
		slog.String("host", d.Host),
		slog.Int("port", d.Port),
		slog.String("dbname", d.DBName),
		slog.String("user", d.User),
		slog.String("sslmode", d.SSLMode),
	)
}

// SetupStatus classifies the readiness of an instance.
type SetupStatus string

const (
	StatusReady            SetupStatus = "READY"
	StatusPreloadMissing   SetupStatus = "PRELOAD_MISSING"
	StatusExtensionMissing SetupStatus = "EXTENSION_MISSING"
	StatusConnectionFailed SetupStatus = "CONNECTION_FAILED"
	StatusAuthFailed       SetupStatus = "AUTH_FAILED"
	StatusPermissionDenied SetupStatus = "PERMISSION_DENIED"
	// StatusCheckFailed is a setup query failing on a live connection for a reason
	// other than credentials, privileges or the network.
	StatusCheckFailed SetupStatus = "CHECK_FAILED"
)

// SetupState is the latest stored readiness verdict for an instance.
type SetupState struct {
	InstanceID    string      `json:"instance"`
	PGVersionNum  *int        `json:"pg_version_num"`
	PreloadOK     bool        `json:"preload_ok"`
	ExtCreated    bool        `json:"ext_created"`
	Ready         bool        `json:"ready"`
	Status        SetupStatus `json:"status"`
	LastCheckedAt time.Time   `json:"last_checked_at"`
}

// ErrorDetail is the machine-classifiable part of a failed operation.
type ErrorDetail struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// SetupInfo is the full result of a setup check.
type SetupInfo struct {
	InstanceID   string            `json:"instance"`
	Status       SetupStatus       `json:"status"`
	Ready        bool              `json:"ready"`
	Version      string            `json:"version,omitempty"`
	PGVersionNum *int              `json:"pg_version_num"`
	MajorVersion int               `json:"major_version,omitempty"`
	PreloadOK    bool              `json:"preload_ok"`
	ExtCreated   bool              `json:"ext_created"`
	Checks       Checks            `json:"checks"`
	Params       map[string]string `json:"params"`
	Guide        []string          `json:"guide,omitempty"`
	Error        *ErrorDetail      `json:"error,omitempty"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// State projects the stored part of a check result.
func (s *SetupInfo) State() SetupState {
	return SetupState{
		InstanceID:    s.InstanceID,
		PGVersionNum:  s.PGVersionNum,
		PreloadOK:     s.PreloadOK,
		ExtCreated:    s.ExtCreated,
		Ready:         s.Ready,
		Status:        s.Status,
		LastCheckedAt: s.CheckedAt,
	}
}

// QueryStat is one normalized statement's cumulative statistics at capture time.
type QueryStat struct {
	QueryID         string  `json:"queryid"`
	Query           string  `json:"query_norm"`
	Calls           int64   `json:"calls"`
	TotalTimeMs     float64 `json:"total_time_ms"`
	MeanTimeMs      float64 `json:"mean_time_ms"`
	Rows            int64   `json:"rows"`
	SharedBlksHit   int64   `json:"shared_blks_hit"`
	SharedBlksRead  int64   `json:"shared_blks_read"`
	TempBlksWritten int64   `json:"temp_blks_written"`
	WALBytes        int64   `json:"wal_bytes"`
}

// Snapshot is an immutable point-in-time capture of statement statistics.
type Snapshot struct {
	ID         string      `json:"id"`
	InstanceID string      `json:"instance"`
	CapturedAt time.Time   `json:"captured_at"`
	Stats      []QueryStat `json:"query_stats"`
}

// RecommendationType identifies the rule that produced a recommendation.
type RecommendationType string

const (
	TypeMissingIndex RecommendationType = "missing_index"
	TypeWorkMem      RecommendationType = "work_mem"
	TypeReadReplica  RecommendationType = "read_replica"
)

// InstanceLevel reports whether the type is keyed without a query id.
func (t RecommendationType) InstanceLevel() bool {
	return t == TypeReadReplica
}

// Confidence is a coarse evidence bucket.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

// Rank orders confidence levels; unknown values rank lowest.
func (c Confidence) Rank() int {
	return confidenceRank[c]
}

// Status is the recommendation lifecycle state.
// pending -> applied | dismissed; applied and dismissed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApplied   Status = "applied"
	StatusDismissed Status = "dismissed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusDismissed
}

// CanTransition reports whether an operator may move from s to next.
func (s Status) CanTransition(next Status) bool {
	return s == StatusPending && next.Terminal()
}

// Recommendation is a scored, typed, explainable suggestion.
type Recommendation struct {
	ID          string             `json:"id"`
	InstanceID  string             `json:"instance"`
	Type        RecommendationType `json:"type"`
	QueryID     string             `json:"queryid,omitempty"`
	Fingerprint string             `json:"fingerprint"`
	Title       string             `json:"title"`
	Details     string             `json:"details"`
	SQL         string             `json:"sql"`
	Confidence  Confidence         `json:"confidence"`
	Score       float64            `json:"score"`
	Evidence    float64            `json:"evidence"`
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
