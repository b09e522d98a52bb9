package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"servicegate/internal/domain"
	"servicegate/internal/ports"
)

// GuestProvisioner resolves a pending share the first time its recipient
// authenticates: create the guest principal if the email is unknown,
// convert the share into a permission, delete the share. The three
// writes commit as one transaction; partial state never survives.
type GuestProvisioner struct {
	shares     ports.PendingShareRepository
	principals ports.PrincipalRepository
	resolver   ports.ShareResolver
	cache      ports.DecisionCache
}

func NewGuestProvisioner(shares ports.PendingShareRepository, principals ports.PrincipalRepository, resolver ports.ShareResolver, cache ports.DecisionCache) *GuestProvisioner {
	return &GuestProvisioner{shares: shares, principals: principals, resolver: resolver, cache: cache}
}

// OnFirstAccess is invoked by the consuming application layer, not the
// gateway. resolved=false means there was nothing pending; calling again
// after a resolution is a no-op.
func (g *GuestProvisioner) OnFirstAccess(ctx context.Context, resourceID, principalEmail string) (principal domain.Principal, resolved bool, err error) {
	email := domain.NormalizeEmail(principalEmail)
	if resourceID == "" || email == "" {
		return domain.Principal{}, false, domain.ErrInvalidInput
	}
	share, err := g.shares.Get(ctx, resourceID, email)
	if errors.Is(err, domain.ErrNotFound) {
		return g.existingPrincipal(ctx, email)
	}
	if err != nil {
		return domain.Principal{}, false, err
	}

	createPrincipal := false
	principal, err = g.principals.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		principal = domain.Principal{ID: uuid.NewString(), Email: email, Origin: domain.OriginGuest}
		createPrincipal = true
	} else if err != nil {
		return domain.Principal{}, false, err
	}

	perm := domain.Permission{
		ResourceID:  share.ResourceID,
		PrincipalID: principal.ID,
		Scopes:      share.Scopes,
		GrantedBy:   share.CreatedBy,
		GrantedAt:   share.CreatedAt,
	}
	if err := g.resolver.ResolveShare(ctx, share, principal, perm, createPrincipal); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Another node resolved the share between our read and the
			// transaction; exactly-once still holds.
			return g.existingPrincipal(ctx, email)
		}
		return domain.Principal{}, false, fmt.Errorf("%w: %v", domain.ErrProvisioningFailed, err)
	}
	_ = g.cache.Invalidate(ctx, resourceID, principal.ID)
	return principal, true, nil
}

func (g *GuestProvisioner) existingPrincipal(ctx context.Context, email string) (domain.Principal, bool, error) {
	principal, err := g.principals.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, false, nil
	}
	if err != nil {
		return domain.Principal{}, false, err
	}
	return principal, false, nil
}
