package contracts

import (
	"context"
	"errors"

	"roadmapper/domain/tenant"
)

// ErrInstanceNotFound is returned when no instance matches a slug or host.
var ErrInstanceNotFound = errors.New("instance not found")

// InstanceRepository is the gateway's view of the external instance store.
// The gateway never writes configuration through it; the only write is
// appending a fresh health snapshot after a provisioning pass.
type InstanceRepository interface {
	GetBySlug(ctx context.Context, slug string) (*tenant.Config, error)
	GetByHost(ctx context.Context, host string) (*tenant.Config, error)
	List(ctx context.Context) ([]*tenant.Config, error)

	// Save upserts an instance definition. Used by the admin surface,
	// not by the gateway hot path.
	Save(ctx context.Context, cfg *tenant.Config) error

	// SaveHealth persists the latest health snapshot for an instance.
	SaveHealth(ctx context.Context, slug string, health *tenant.Health) error
}
