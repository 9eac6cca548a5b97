// Package registry manages monitored instances and hands out connection
// descriptors with decrypted credentials.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/pgokache/internal/apperr"
	"github.com/ppiankov/pgokache/internal/model"
	"github.com/ppiankov/pgokache/internal/secret"
	"github.com/ppiankov/pgokache/internal/store"
)

var sslModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// CreateRequest describes a new instance.
type CreateRequest struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode"`
}

// PatchRequest changes the mutable fields; nil means unchanged.
type PatchRequest struct {
	Name     *string `json:"name"`
	Password *string `json:"password"`
}

// Registry is the instance registry.
type Registry struct {
	store *store.Store
	box   *secret.Box
	now   func() time.Time
}

// New returns a Registry over st encrypting passwords with box.
func New(st *store.Store, box *secret.Box) *Registry {
	return &Registry{store: st, box: box, now: time.Now}
}

// Create validates req and stores a new instance.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (model.Instance, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Host = strings.TrimSpace(req.Host)
	req.DBName = strings.TrimSpace(req.DBName)
	req.User = strings.TrimSpace(req.User)
	if req.Port == 0 {
		req.Port = 5432
	}
	if req.SSLMode == "" {
		req.SSLMode = "prefer"
	}
	if err := validate(req); err != nil {
		return model.Instance{}, err
	}

	enc, err := r.box.Seal(req.Password)
	if err != nil {
		return model.Instance{}, apperr.Wrap(err, apperr.Internal, "registry.Create", "encrypt password")
	}

	inst := model.Instance{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Host:      req.Host,
		Port:      req.Port,
		DBName:    req.DBName,
		User:      req.User,
		SSLMode:   req.SSLMode,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.CreateInstance(ctx, store.InstanceRow{Instance: inst, PasswordEnc: enc}); err != nil {
		return model.Instance{}, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

func validate(req CreateRequest) error {
	var problems []string
	if req.Name == "" {
		problems = append(problems, "name is required")
	}
	if req.Host == "" {
		problems = append(problems, "host is required")
	}
	if req.Port < 1 || req.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if req.DBName == "" {
		problems = append(problems, "dbname is required")
	}
	if req.User == "" {
		problems = append(problems, "user is required")
	}
	if !sslModes[req.SSLMode] {
		problems = append(problems, "ssl_mode must be one of disable, allow, prefer, require, verify-ca, verify-full")
	}
	if len(problems) > 0 {
		return apperr.New(apperr.Validation, "registry.Create", strings.Join(problems, "; "))
	}
	return nil
}

// List returns every instance.
func (r *Registry) List(ctx context.Context) ([]model.Instance, error) {
	return r.store.ListInstances(ctx)
}

// Get returns one instance.
func (r *Registry) Get(ctx context.Context, id string) (model.Instance, error) {
	row, err := r.store.GetInstance(ctx, id)
	if err != nil {
		return model.Instance{}, err
	}
	return row.Instance, nil
}

// Patch rotates the name and/or password of an instance.
func (r *Registry) Patch(ctx context.Context, id string, req PatchRequest) (model.Instance, error) {
	var upd store.InstanceUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return model.Instance{}, apperr.New(apperr.Validation, "registry.Patch", "name must not be empty")
		}
		upd.Name = &name
	}
	if req.Password != nil {
		enc, err := r.box.Seal(*req.Password)
		if err != nil {
			return model.Instance{}, apperr.Wrap(err, apperr.Internal, "registry.Patch", "encrypt password")
		}
		upd.PasswordEnc = enc
	}
	if err := r.store.UpdateInstance(ctx, id, upd); err != nil {
		return model.Instance{}, fmt.Errorf("patch instance: %w", err)
	}
	return r.Get(ctx, id)
}

// Descriptor returns the connection descriptor of an instance with its
// password decrypted. Callers hold it only for one connection attempt.
func (r *Registry) Descriptor(ctx context.Context, id string) (model.ConnDescriptor, error) {
	row, err := r.store.GetInstance(ctx, id)
	if err != nil {
		return model.ConnDescriptor{}, err
	}
	password, err := r.box.Open(row.PasswordEnc)
	if err != nil {
		return model.ConnDescriptor{}, apperr.Wrap(err, apperr.Internal, "registry.Descriptor",
			"stored password cannot be decrypted with the configured key")
	}
	return model.ConnDescriptor{
		InstanceID: row.ID,
		Host:       row.Host,
		Port:       row.Port,
		DBName:     row.DBName,
		User:       row.User,
		Password:   password,
		SSLMode:    row.SSLMode,
	}, nil
}
