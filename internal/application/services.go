package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"servicegate/internal/domain"
	"servicegate/internal/ports"
)

// AuthorizationService owns the resource/permission lifecycle:
// register, grant, check, revoke, delete. Checks are served through a
// short-TTL decision cache that grant/revoke/delete purge eagerly.
type AuthorizationService struct {
	resources ports.ResourceRepository
	perms     ports.PermissionRepository
	cache     ports.DecisionCache
}

func NewAuthorizationService(resources ports.ResourceRepository, perms ports.PermissionRepository, cache ports.DecisionCache) *AuthorizationService {
	return &AuthorizationService{resources: resources, perms: perms, cache: cache}
}

// RegisterResource is idempotent on (owner, uri): re-registering returns
// the existing resource unchanged.
func (s *AuthorizationService) RegisterResource(ctx context.Context, ownerID, uri string, scopes []string) (domain.Resource, error) {
	if ownerID == "" || uri == "" || len(scopes) == 0 {
		return domain.Resource{}, domain.ErrInvalidInput
	}
	existing, err := s.resources.GetByOwnerAndURI(ctx, ownerID, uri)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Resource{}, err
	}
	res := domain.Resource{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		URI:       uri,
		Scopes:    scopes,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.resources.Create(ctx, res); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a concurrent registration race; the winner's row is
			// the canonical one.
			return s.resources.GetByOwnerAndURI(ctx, ownerID, uri)
		}
		return domain.Resource{}, err
	}
	return res, nil
}

func (s *AuthorizationService) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	if resourceID == "" {
		return domain.Resource{}, domain.ErrInvalidInput
	}
	return s.resources.GetByID(ctx, resourceID)
}

// Grant binds principalID to a subset of the resource's declared scopes.
// Scopes outside the declaration fail with ErrInvalidScope and write
// nothing.
func (s *AuthorizationService) Grant(ctx context.Context, resourceID, principalID string, scopes []string, grantedBy string) (domain.Permission, error) {
	if resourceID == "" || principalID == "" || len(scopes) == 0 {
		return domain.Permission{}, domain.ErrInvalidInput
	}
	res, err := s.resources.GetByID(ctx, resourceID)
	if err != nil {
		return domain.Permission{}, err
	}
	if !res.HasScopes(scopes) {
		return domain.Permission{}, domain.ErrInvalidScope
	}
	perm := domain.Permission{
		ResourceID:  resourceID,
		PrincipalID: principalID,
		Scopes:      scopes,
		GrantedBy:   grantedBy,
		GrantedAt:   time.Now().UTC(),
	}
	if err := s.perms.Put(ctx, perm); err != nil {
		return domain.Permission{}, err
	}
	if err := s.cache.Invalidate(ctx, resourceID, principalID); err != nil {
		return domain.Permission{}, err
	}
	return perm, nil
}

// Check reports whether principalID may perform scope on the resource.
// The owner has implicit full access without a permission row.
func (s *AuthorizationService) Check(ctx context.Context, resourceID, principalID, scope string) (bool, error) {
	if resourceID == "" || principalID == "" || scope == "" {
		return false, domain.ErrInvalidInput
	}
	if allowed, found, err := s.cache.Get(ctx, resourceID, principalID, scope); err == nil && found {
		return allowed, nil
	}
	res, err := s.resources.GetByID(ctx, resourceID)
	if err != nil {
		return false, err
	}
	allowed := false
	if res.OwnerID == principalID {
		allowed = true
	} else {
		perm, err := s.perms.Get(ctx, resourceID, principalID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return false, err
		default:
			allowed = perm.HasScope(scope)
		}
	}
	// Best effort; a failed cache write only costs a re-read next time.
	_ = s.cache.Set(ctx, resourceID, principalID, scope, allowed)
	return allowed, nil
}

// Revoke removes the principal's permission. Revoking an absent
// permission is a no-op so the operation is safe to retry.
func (s *AuthorizationService) Revoke(ctx context.Context, resourceID, principalID string) error {
	if resourceID == "" || principalID == "" {
		return domain.ErrInvalidInput
	}
	if err := s.perms.Delete(ctx, resourceID, principalID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return s.cache.Invalidate(ctx, resourceID, principalID)
}

// DeleteResource removes the resource and cascades permission and
// pending-share deletion.
func (s *AuthorizationService) DeleteResource(ctx context.Context, resourceID string) error {
	if resourceID == "" {
		return domain.ErrInvalidInput
	}
	if err := s.resources.Delete(ctx, resourceID); err != nil {
		return err
	}
	return s.cache.InvalidateResource(ctx, resourceID)
}

// ShareService records shares. A recipient with an existing principal is
// granted directly; anyone else gets a pending share resolved on their
// first authenticated access.
type ShareService struct {
	principals ports.PrincipalRepository
	shares     ports.PendingShareRepository
	authz      *AuthorizationService
}

func NewShareService(principals ports.PrincipalRepository, shares ports.PendingShareRepository, authz *AuthorizationService) *ShareService {
	return &ShareService{principals: principals, shares: shares, authz: authz}
}

// Share returns pending=true when the grant was deferred to the
// recipient's first authentication.
func (s *ShareService) Share(ctx context.Context, resourceID, recipientEmail string, scopes []string, createdBy string) (pending bool, err error) {
	email := domain.NormalizeEmail(recipientEmail)
	if resourceID == "" || email == "" || len(scopes) == 0 {
		return false, domain.ErrInvalidInput
	}
	res, err := s.authz.GetResource(ctx, resourceID)
	if err != nil {
		return false, err
	}
	if !res.HasScopes(scopes) {
		return false, domain.ErrInvalidScope
	}
	principal, err := s.principals.GetByEmail(ctx, email)
	if err == nil {
		_, err = s.authz.Grant(ctx, resourceID, principal.ID, scopes, createdBy)
		return false, err
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	share := domain.PendingShare{
		ResourceID:     resourceID,
		RecipientEmail: email,
		Scopes:         scopes,
		CreatedBy:      createdBy,
		CreatedAt:      time.Now().UTC(),
	}
	return true, s.shares.Put(ctx, share)
}
