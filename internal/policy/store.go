// Package policy provides the tenant compliance policy lookup used by the
// get-policy activity. Lookups are read-only and naturally idempotent, so
// they are safe to re-run under at-least-once delivery.
package policy

import (
	"context"

	"github.com/copperline/txgate/model"
)

// Store resolves a tenant ID to its compliance policy.
type Store interface {
	// GetPolicy returns the policy snapshot for tenantID, or an
	// UNKNOWN_TENANT error when no policy is configured.
	GetPolicy(ctx context.Context, tenantID string) (model.TenantPolicy, error)
}
