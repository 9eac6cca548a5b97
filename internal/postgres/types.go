package postgres

import "time"

// Config holds target connection settings shared by every probe.
type Config struct {
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration // context deadline and statement_timeout
	ApplicationName string
}

// StatsOptions shapes the pg_stat_statements read.
type StatsOptions struct {
	MajorVersion   int // selects column names; 0 means "assume current"
	TopN           int
	MinCalls       int64
	MinTotalTimeMs float64
}

// RawStat is one pg_stat_statements row with NULL numerics coerced to zero.
// Query is the raw text as reported by the server.
type RawStat struct {
	QueryID         string
	Query           string
	Calls           int64
	TotalTimeMs     float64
	MeanTimeMs      float64
	Rows            int64
	SharedBlksHit   int64
	SharedBlksRead  int64
	TempBlksWritten int64
	WALBytes        int64
}

// ExtensionName is the statistics extension every probe revolves around.
const ExtensionName = "pg_stat_statements"
