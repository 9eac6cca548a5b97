package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ppiankov/pgokache/internal/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"invalid password", &pgconn.PgError{Code: "28P01", Message: "password authentication failed for user \"x\""}, apperr.Auth},
		{"hba reject", &pgconn.PgError{Code: "28000", Message: "no pg_hba.conf entry"}, apperr.Auth},
		{"auth text only", fmt.Errorf("failed to connect: password authentication failed for user \"x\""), apperr.Auth},
		{"permission", &pgconn.PgError{Code: "42501", Message: "permission denied for view pg_stat_statements"}, apperr.Permission},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "relation \"pg_stat_statements\" does not exist"}, apperr.NotReady},
		{"not preloaded", &pgconn.PgError{Code: "55000", Message: "pg_stat_statements must be loaded via shared_preload_libraries"}, apperr.NotReady},
		{"statement timeout", &pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"}, apperr.Connection},
		{"unknown database", &pgconn.PgError{Code: "3D000", Message: "database \"nope\" does not exist"}, apperr.Connection},
		{"too many connections", &pgconn.PgError{Code: "53300"}, apperr.Connection},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, apperr.Connection},
		{"other pg error", &pgconn.PgError{Code: "22012", Message: "division by zero"}, apperr.Internal},
		{"deadline", context.DeadlineExceeded, apperr.Connection},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), apperr.Connection},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, apperr.Connection},
		{"refused text", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), apperr.Connection},
		{"unknown", errors.New("something odd"), apperr.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("test", tt.err)
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("Classify kind = %s, want %s (err=%v)", got, tt.want, err)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	if err := Classify("op", nil); err != nil {
		t.Errorf("Classify(nil) = %v", err)
	}
}

func TestClassify_PassThrough(t *testing.T) {
	orig := apperr.New(apperr.NotReady, "collector", "setup not ready")
	if got := Classify("op", orig); got != error(orig) {
		t.Errorf("expected already classified error to pass through, got %v", got)
	}
}

func TestIsPermission(t *testing.T) {
	if !IsPermission(fmt.Errorf("show: %w", &pgconn.PgError{Code: "42501"})) {
		t.Error("expected 42501 to be a permission error")
	}
	if IsPermission(&pgconn.PgError{Code: "42P01"}) {
		t.Error("42P01 is not a permission error")
	}
	if IsPermission(errors.New("permission denied")) {
		t.Error("plain errors are not classified by text")
	}
}
