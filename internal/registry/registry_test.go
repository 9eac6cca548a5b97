package registry

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/secret"
	"github.com/ppiankov/pgokache/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "reg.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	box, err := secret.New(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatal(err)
	}
	return New(st, box), st
}

func validRequest() CreateRequest {
	return CreateRequest{Name: "orders", Host: "db.local", DBName: "orders", User: "monitor", Password: "hunter2"}
}

func TestCreate_DefaultsAndEncryption(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)

	inst, err := reg.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	if inst.ID == "" {
		t.Error("expected generated id")
	}
	if inst.Port != 5432 || inst.SSLMode != "prefer" {
		t.Errorf("defaults not applied: port=%d ssl=%s", inst.Port, inst.SSLMode)
	}

	row, err := st.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(row.PasswordEnc, []byte("hunter2")) {
		t.Error("password stored in plaintext")
	}

	desc, err := reg.Descriptor(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Password != "hunter2" {
		t.Errorf("Descriptor password = %q", desc.Password)
	}
	if strings.Contains(desc.String(), "hunter2") {
		t.Error("descriptor string leaks password")
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   string
	}{
		{"missing name", func(r *CreateRequest) { r.Name = "  " }, "name is required"},
		{"missing host", func(r *CreateRequest) { r.Host = "" }, "host is required"},
		{"bad port", func(r *CreateRequest) { r.Port = 70000 }, "port must be"},
		{"missing dbname", func(r *CreateRequest) { r.DBName = "" }, "dbname is required"},
		{"missing user", func(r *CreateRequest) { r.User = "" }, "user is required"},
		{"bad ssl mode", func(r *CreateRequest) { r.SSLMode = "sometimes" }, "ssl_mode"},
	}

	reg, _ := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := reg.Create(context.Background(), req)
			if !errors.Is(err, apperr.Validation) {
				t.Fatalf("err = %v, want VALIDATION", err)
			}
			if !strings.Contains(apperr.Message(err), tt.want) {
				t.Errorf("message %q does not mention %q", apperr.Message(err), tt.want)
			}
		})
	}
}

func TestPatch(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	inst, err := reg.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	name, pw := "orders-primary", "correct horse"
	got, err := reg.Patch(ctx, inst.ID, PatchRequest{Name: &name, Password: &pw})
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != name || got.Host != inst.Host {
		t.Errorf("Patch = %+v", got)
	}
	desc, err := reg.Descriptor(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Password != pw {
		t.Error("password not rotated")
	}

	empty := ""
	if _, err := reg.Patch(ctx, inst.ID, PatchRequest{Name: &empty}); !errors.Is(err, apperr.Validation) {
		t.Errorf("empty name err = %v, want VALIDATION", err)
	}
	if _, err := reg.Patch(ctx, "nope", PatchRequest{Name: &name}); !errors.Is(err, apperr.NotFound) {
		t.Errorf("unknown id err = %v, want NOT_FOUND", err)
	}
}

func TestDescriptor_WrongKey(t *testing.T) {
	ctx := context.Background()
	reg, st := newTestRegistry(t)
	inst, err := reg.Create(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}

	other, _ := secret.New(bytes.Repeat([]byte{4}, 32))
	_, err = New(st, other).Descriptor(ctx, inst.ID)
	if !errors.Is(err, apperr.Internal) {
		t.Errorf("err = %v, want INTERNAL", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	for _, n := range []string{"a", "b", "c"} {
		req := validRequest()
		req.Name = n
		if _, err := reg.Create(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	list, err := reg.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Errorf("List len = %d, want 3", len(list))
	}
}
