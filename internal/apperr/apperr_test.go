package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("collect: %w", Wrap(errors.New("relation does not exist"), NotReady, "collector.Collect", "pg_stat_statements is not available"))

	if !errors.Is(err, NotReady) {
		t.Error("expected errors.Is(err, NotReady)")
	}
	if errors.Is(err, Connection) {
		t.Error("unexpected match on Connection")
	}
	if got := KindOf(err); got != NotReady {
		t.Errorf("KindOf = %s, want NOT_READY", got)
	}
}

func TestKindOf_Default(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("KindOf = %s, want INTERNAL", got)
	}
	if got := KindOf(fmt.Errorf("wrap: %w", Conflict)); got != Conflict {
		t.Errorf("KindOf bare kind = %s, want CONFLICT", got)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, Internal, "op", "msg"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: NotFound}, "[NOT_FOUND]"},
		{"op and message", &Error{Kind: Validation, Op: "registry.Create", Message: "port out of range"}, "registry.Create [VALIDATION]: port out of range"},
		{"inner", &Error{Kind: Internal, Message: "store", Inner: errors.New("disk full")}, "[INTERNAL]: store: disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	inner := New(Auth, "postgres.Connect", "authentication failed")
	outer := fmt.Errorf("check: %w", &Error{Kind: Auth, Inner: inner})
	if got := Message(outer); got != "authentication failed" {
		t.Errorf("Message = %q", got)
	}
	plain := errors.New("plain")
	if got := Message(plain); got != "plain" {
		t.Errorf("Message = %q", got)
	}
}
