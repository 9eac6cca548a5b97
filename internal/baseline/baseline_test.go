package baseline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/pgokache/internal/model"
)

var recs = []model.Recommendation{
	{ID: "r1", Type: model.TypeMissingIndex, Fingerprint: "bbb"},
	{ID: "r2", Type: model.TypeWorkMem, Fingerprint: "aaa"},
	{ID: "r3", Type: model.TypeMissingIndex, Fingerprint: "bbb"},
}

func TestLoad_NoFile(t *testing.T) {
	b, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Fingerprints) != 0 {
		t.Errorf("expected empty baseline, got %d fingerprints", len(b.Fingerprints))
	}
	got, n := b.Filter(recs)
	if n != 0 || len(got) != 3 {
		t.Errorf("empty baseline filtered %d", n)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := Save(path, recs); err != nil {
		t.Fatal(err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"aaa", "bbb"}, b.Fingerprints); diff != "" {
		t.Errorf("fingerprints mismatch (-want +got):\n%s", diff)
	}
}

func TestFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := Save(path, recs[1:2]); err != nil {
		t.Fatal(err)
	}
	b, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	newRec := model.Recommendation{ID: "r4", Fingerprint: "ccc"}
	got, n := b.Filter(append(recs, newRec))
	if n != 1 {
		t.Errorf("suppressed = %d, want 1", n)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"r1", "r3", "r4"}, ids); diff != "" {
		t.Errorf("kept mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
