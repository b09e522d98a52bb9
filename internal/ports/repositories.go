package ports

import (
	"context"
	"time"

	"servicegate/internal/domain"
)

type ResourceRepository interface {
	// Create persists a new resource together with its (owner, uri)
	// lookup row. Returns domain.ErrAlreadyExists if either exists.
	Create(ctx context.Context, res domain.Resource) error
	GetByID(ctx context.Context, resourceID string) (domain.Resource, error)
	GetByOwnerAndURI(ctx context.Context, ownerID, uri string) (domain.Resource, error)
	// Delete removes the resource and cascades deletion of its
	// permissions and pending shares.
	Delete(ctx context.Context, resourceID string) error
}

type PermissionRepository interface {
	// Put writes the permission conditioned on the resource still
	// existing; domain.ErrNotFound when the resource row is gone.
	Put(ctx context.Context, perm domain.Permission) error
	Get(ctx context.Context, resourceID, principalID string) (domain.Permission, error)
	Delete(ctx context.Context, resourceID, principalID string) error
	ListByResource(ctx context.Context, resourceID string) ([]domain.Permission, error)
}

type PendingShareRepository interface {
	Put(ctx context.Context, share domain.PendingShare) error
	Get(ctx context.Context, resourceID, recipientEmail string) (domain.PendingShare, error)
	Delete(ctx context.Context, resourceID, recipientEmail string) error
}

type PrincipalRepository interface {
	Create(ctx context.Context, principal domain.Principal) error
	GetByEmail(ctx context.Context, email string) (domain.Principal, error)
}

// ShareResolver commits the first-access resolution of a pending share
// as one transaction: optionally create the guest principal, write the
// permission, delete the share. Nothing is left behind on failure.
type ShareResolver interface {
	ResolveShare(ctx context.Context, share domain.PendingShare, principal domain.Principal, perm domain.Permission, createPrincipal bool) error
}

// DecisionCache holds recent permission-check outcomes. Entries expire
// on a short TTL; grant/revoke/delete invalidate eagerly.
type DecisionCache interface {
	Get(ctx context.Context, resourceID, principalID, scope string) (allowed, found bool, err error)
	Set(ctx context.Context, resourceID, principalID, scope string, allowed bool) error
	Invalidate(ctx context.Context, resourceID, principalID string) error
	InvalidateResource(ctx context.Context, resourceID string) error
}

// EndpointResolver maps a service name to its routing endpoint from the
// current manifest snapshot.
type EndpointResolver interface {
	Resolve(name string) (domain.ServiceEndpoint, error)
}

type TokenIssuer interface {
	Issue(subjectID, email string, audiences []string, lifetime time.Duration) (string, error)
}

// TokenValidator is implemented identically by every service holding the
// shared signing secret; validation is pure and needs no I/O.
type TokenValidator interface {
	Validate(token, expectedAudience string) (domain.Claims, error)
}
