package reporter

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteSARIF_ValidStructure(t *testing.T) {
	report := NewReport("recommendations", testRecs, "1.2.3")
	var buf bytes.Buffer
	if err := Write(&buf, &report, FormatSARIF); err != nil {
		t.Fatal(err)
	}

	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatalf("invalid SARIF JSON: %v\n%s", err, buf.String())
	}
	if log.Version != "2.1.0" {
		t.Errorf("version = %q, want 2.1.0", log.Version)
	}
	if len(log.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(log.Runs))
	}

	run := log.Runs[0]
	if run.Tool.Driver.Name != "pgokache" || run.Tool.Driver.Version != "1.2.3" {
		t.Errorf("driver = %+v", run.Tool.Driver)
	}
	if len(run.Tool.Driver.Rules) != 3 {
		t.Errorf("rules = %d, want 3", len(run.Tool.Driver.Rules))
	}
	if run.Tool.Driver.Rules[0].ID != "pgokache/missing_index" {
		t.Errorf("rules not sorted: %+v", run.Tool.Driver.Rules)
	}
	if len(run.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(run.Results))
	}

	r0 := run.Results[0]
	if r0.RuleID != "pgokache/missing_index" || r0.Level != "error" {
		t.Errorf("result 0 = %+v", r0)
	}
	loc := r0.Locations[0].LogicalLocations[0]
	if loc.FullyQualifiedName != "i1/42" || loc.Kind != "database/statement" {
		t.Errorf("location = %+v", loc)
	}
	if r0.PartialFingerprints["pgokache/v1"] != "fp1" {
		t.Errorf("fingerprints = %v", r0.PartialFingerprints)
	}

	r2 := run.Results[2]
	if r2.Level != "note" || r2.Locations[0].LogicalLocations[0].Kind != "database/instance" {
		t.Errorf("result 2 = %+v", r2)
	}
}

func TestWriteSARIF_Empty(t *testing.T) {
	report := NewReport("recommendations", nil, "test")
	var buf bytes.Buffer
	if err := Write(&buf, &report, FormatSARIF); err != nil {
		t.Fatal(err)
	}
	var log sarifLog
	if err := json.Unmarshal(buf.Bytes(), &log); err != nil {
		t.Fatal(err)
	}
	if log.Runs[0].Results == nil || len(log.Runs[0].Results) != 0 {
		t.Errorf("results = %v, want empty array", log.Runs[0].Results)
	}
}
