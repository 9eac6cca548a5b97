package model

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChecks_JSONKeepsOrder(t *testing.T) {
	var c Checks
	c.Set("connect", true)
	c.Set("server_version", "16.2")
	c.Set("shared_preload_libraries", nil)
	c.Set("extension_created", false)
	c.Set("server_version", "16.3")

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"connect":true,"server_version":"16.3","shared_preload_libraries":null,"extension_created":false}`
	if string(data) != want {
		t.Errorf("Marshal = %s\nwant      %s", data, want)
	}

	var back Checks
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if v, ok := back.Get("extension_created"); !ok || v != false {
		t.Errorf("Get(extension_created) = %v, %v", v, ok)
	}
	if _, ok := back.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
}

func TestChecks_Empty(t *testing.T) {
	data, err := json.Marshal(Checks(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("Marshal(nil) = %s, want {}", data)
	}
}
