package model

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusApplied, true},
		{StatusPending, StatusDismissed, true},
		{StatusPending, StatusPending, false},
		{StatusApplied, StatusDismissed, false},
		{StatusDismissed, StatusPending, false},
		{StatusDismissed, StatusApplied, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfidence_Rank(t *testing.T) {
	if !(ConfidenceHigh.Rank() > ConfidenceMedium.Rank() && ConfidenceMedium.Rank() > ConfidenceLow.Rank()) {
		t.Error("confidence ranks are not ordered")
	}
	if Confidence("bogus").Rank() != 0 {
		t.Error("unknown confidence should rank 0")
	}
}

func TestConnDescriptor_NeverPrintsPassword(t *testing.T) {
	d := ConnDescriptor{Host: "db", Port: 5432, DBName: "app", User: "u", Password: "hunter2", SSLMode: "prefer"}

	if s := d.String(); strings.Contains(s, "hunter2") {
		t.Errorf("String() leaks password: %s", s)
	}
	if s := fmt.Sprintf("%v", d); strings.Contains(s, "hunter2") {
		t.Errorf("%%v leaks password: %s", s)
	}

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("connect", "target", d)
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("slog leaks password: %s", buf.String())
	}
}

func TestSetupInfo_State(t *testing.T) {
	v := 160002
	info := SetupInfo{InstanceID: "i1", Status: StatusReady, Ready: true, PreloadOK: true, ExtCreated: true, PGVersionNum: &v}
	st := info.State()
	if st.InstanceID != "i1" || !st.Ready || st.Status != StatusReady || *st.PGVersionNum != v {
		t.Errorf("unexpected state: %+v", st)
	}
}
