// Package mock provides an in-memory adapter for engine and control tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/avelinecloud/compliancemgr/internal/providers"
)

// Adapter is a configurable in-memory providers.Adapter.
type Adapter struct {
	mu        sync.Mutex
	name      string
	resources map[providers.ResourceKind][]providers.Resource
	failures  map[providers.ResourceKind]error
	applyErr  error
	Mutations []providers.Mutation
}

// New creates an empty mock adapter
func New() *Adapter {
	return &Adapter{
		name:      "aws",
		resources: make(map[providers.ResourceKind][]providers.Resource),
		failures:  make(map[providers.ResourceKind]error),
	}
}

// WithProvider overrides the provider name.
func (a *Adapter) WithProvider(name string) *Adapter {
	a.name = name
	return a
}

// AddResource registers a resource under its kind.
func (a *Adapter) AddResource(r providers.Resource) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resources[r.Kind] = append(a.resources[r.Kind], r)
	return a
}

// FailKind makes listings of kind return err.
func (a *Adapter) FailKind(kind providers.ResourceKind, err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[kind] = err
	return a
}

// FailApply makes every Apply return err.
func (a *Adapter) FailApply(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyErr = err
	return a
}

// Provider returns the configured provider name
func (a *Adapter) Provider() string {
	return a.name
}

// ListResources returns the registered resources for a kind.
func (a *Adapter) ListResources(ctx context.Context, kind providers.ResourceKind) ([]providers.Resource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failures[kind]; err != nil {
		return nil, err
	}
	out := make([]providers.Resource, len(a.resources[kind]))
	copy(out, a.resources[kind])
	return out, nil
}

// Describe returns one resource by ID or name.
func (a *Adapter) Describe(ctx context.Context, kind providers.ResourceKind, id string) (*providers.Resource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failures[kind]; err != nil {
		return nil, err
	}
	for i := range a.resources[kind] {
		r := a.resources[kind][i]
		if r.ID == id || r.Name == id {
			copied := r
			copied.Attributes = copyAttrs(r.Attributes)
			return &copied, nil
		}
	}
	return nil, providers.NewError(providers.ErrNotFound, "describe", id, fmt.Errorf("%s %q not found", kind, id))
}

// Apply records the mutation and updates the targeted resource's
// attributes the way the real adapter's actions would.
func (a *Adapter) Apply(ctx context.Context, mutation providers.Mutation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.applyErr != nil {
		return a.applyErr
	}
	a.Mutations = append(a.Mutations, mutation)

	for i := range a.resources[mutation.Kind] {
		r := &a.resources[mutation.Kind][i]
		if r.ID != mutation.ResourceID && r.Name != mutation.ResourceID {
			continue
		}
		switch mutation.Action {
		case "put_public_access_block":
			for _, key := range []string{"block_public_acls", "block_public_policy", "ignore_public_acls", "restrict_public_buckets"} {
				if v, ok := mutation.Parameters[key].(bool); ok {
					r.Attributes[key] = v
				}
			}
			r.Attributes["public_access_block_configured"] = true
		case "put_bucket_encryption":
			r.Attributes["encryption_enabled"] = true
			if alg, ok := mutation.Parameters["sse_algorithm"].(string); ok && alg != "" {
				r.Attributes["sse_algorithm"] = alg
			}
		case "delete_bucket_encryption":
			r.Attributes["encryption_enabled"] = false
			delete(r.Attributes, "sse_algorithm")
		case "enable_key_rotation":
			r.Attributes["rotation_enabled"] = true
		case "disable_key_rotation":
			r.Attributes["rotation_enabled"] = false
		case "disable_public_blob_access":
			r.Attributes["public_blob_access"] = false
		case "enable_public_blob_access":
			r.Attributes["public_blob_access"] = true
		case "require_secure_transfer":
			r.Attributes["https_only"] = true
		}
		return nil
	}
	return nil
}

func copyAttrs(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
