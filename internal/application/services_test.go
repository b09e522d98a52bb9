package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"servicegate/internal/domain"
)

type resourceRepoMock struct{ mock.Mock }

func (m *resourceRepoMock) Create(ctx context.Context, res domain.Resource) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *resourceRepoMock) GetByID(ctx context.Context, resourceID string) (domain.Resource, error) {
	args := m.Called(ctx, resourceID)
	return args.Get(0).(domain.Resource), args.Error(1)
}

func (m *resourceRepoMock) GetByOwnerAndURI(ctx context.Context, ownerID, uri string) (domain.Resource, error) {
	args := m.Called(ctx, ownerID, uri)
	return args.Get(0).(domain.Resource), args.Error(1)
}

func (m *resourceRepoMock) Delete(ctx context.Context, resourceID string) error {
	args := m.Called(ctx, resourceID)
	return args.Error(0)
}

type permRepoMock struct{ mock.Mock }

func (m *permRepoMock) Put(ctx context.Context, perm domain.Permission) error {
	args := m.Called(ctx, perm)
	return args.Error(0)
}

func (m *permRepoMock) Get(ctx context.Context, resourceID, principalID string) (domain.Permission, error) {
	args := m.Called(ctx, resourceID, principalID)
	return args.Get(0).(domain.Permission), args.Error(1)
}

func (m *permRepoMock) Delete(ctx context.Context, resourceID, principalID string) error {
	args := m.Called(ctx, resourceID, principalID)
	return args.Error(0)
}

func (m *permRepoMock) ListByResource(ctx context.Context, resourceID string) ([]domain.Permission, error) {
	args := m.Called(ctx, resourceID)
	return args.Get(0).([]domain.Permission), args.Error(1)
}

type shareRepoMock struct{ mock.Mock }

func (m *shareRepoMock) Put(ctx context.Context, share domain.PendingShare) error {
	args := m.Called(ctx, share)
	return args.Error(0)
}

func (m *shareRepoMock) Get(ctx context.Context, resourceID, recipientEmail string) (domain.PendingShare, error) {
	args := m.Called(ctx, resourceID, recipientEmail)
	return args.Get(0).(domain.PendingShare), args.Error(1)
}

func (m *shareRepoMock) Delete(ctx context.Context, resourceID, recipientEmail string) error {
	args := m.Called(ctx, resourceID, recipientEmail)
	return args.Error(0)
}

type principalRepoMock struct{ mock.Mock }

func (m *principalRepoMock) Create(ctx context.Context, principal domain.Principal) error {
	args := m.Called(ctx, principal)
	return args.Error(0)
}

func (m *principalRepoMock) GetByEmail(ctx context.Context, email string) (domain.Principal, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(domain.Principal), args.Error(1)
}

type cacheMock struct{ mock.Mock }

func (m *cacheMock) Get(ctx context.Context, resourceID, principalID, scope string) (bool, bool, error) {
	args := m.Called(ctx, resourceID, principalID, scope)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *cacheMock) Set(ctx context.Context, resourceID, principalID, scope string, allowed bool) error {
	args := m.Called(ctx, resourceID, principalID, scope, allowed)
	return args.Error(0)
}

func (m *cacheMock) Invalidate(ctx context.Context, resourceID, principalID string) error {
	args := m.Called(ctx, resourceID, principalID)
	return args.Error(0)
}

func (m *cacheMock) InvalidateResource(ctx context.Context, resourceID string) error {
	args := m.Called(ctx, resourceID)
	return args.Error(0)
}

// passthroughCache is a cache that never hits and accepts every write.
func passthroughCache() *cacheMock {
	cache := new(cacheMock)
	cache.On("Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, false, nil)
	cache.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	cache.On("InvalidateResource", mock.Anything, mock.Anything).Return(nil)
	return cache
}

func TestRegisterResource_Creates(t *testing.T) {
	resources := new(resourceRepoMock)
	svc := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())

	resources.On("GetByOwnerAndURI", mock.Anything, "alice", "file:///docs/doc-1").
		Return(domain.Resource{}, domain.ErrNotFound).Once()
	resources.On("Create", mock.Anything, mock.MatchedBy(func(res domain.Resource) bool {
		return res.ID != "" && res.OwnerID == "alice" && res.URI == "file:///docs/doc-1" && !res.CreatedAt.IsZero()
	})).Return(nil)

	res, err := svc.RegisterResource(context.Background(), "alice", "file:///docs/doc-1", []string{"view", "share"})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.OwnerID)
	resources.AssertExpectations(t)
}

func TestRegisterResource_IdempotentOnOwnerURI(t *testing.T) {
	resources := new(resourceRepoMock)
	svc := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())

	existing := domain.Resource{ID: "r-1", OwnerID: "alice", URI: "file:///docs/doc-1", Scopes: []string{"view"}}
	resources.On("GetByOwnerAndURI", mock.Anything, "alice", "file:///docs/doc-1").Return(existing, nil)

	res, err := svc.RegisterResource(context.Background(), "alice", "file:///docs/doc-1", []string{"view"})
	require.NoError(t, err)
	assert.Equal(t, existing, res)
	resources.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRegisterResource_LostRaceReturnsWinner(t *testing.T) {
	resources := new(resourceRepoMock)
	svc := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())

	winner := domain.Resource{ID: "r-9", OwnerID: "alice", URI: "file:///docs/doc-1", Scopes: []string{"view"}}
	resources.On("GetByOwnerAndURI", mock.Anything, "alice", "file:///docs/doc-1").
		Return(domain.Resource{}, domain.ErrNotFound).Once()
	resources.On("Create", mock.Anything, mock.Anything).Return(domain.ErrAlreadyExists)
	resources.On("GetByOwnerAndURI", mock.Anything, "alice", "file:///docs/doc-1").Return(winner, nil)

	res, err := svc.RegisterResource(context.Background(), "alice", "file:///docs/doc-1", []string{"view"})
	require.NoError(t, err)
	assert.Equal(t, "r-9", res.ID)
}

func TestRegisterResource_InvalidInput(t *testing.T) {
	svc := NewAuthorizationService(new(resourceRepoMock), new(permRepoMock), passthroughCache())

	_, err := svc.RegisterResource(context.Background(), "", "file:///x", []string{"view"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.RegisterResource(context.Background(), "alice", "file:///x", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGrant_ScopeSubsetEnforced(t *testing.T) {
	resources := new(resourceRepoMock)
	perms := new(permRepoMock)
	svc := NewAuthorizationService(resources, perms, passthroughCache())

	resources.On("GetByID", mock.Anything, "doc-1").
		Return(domain.Resource{ID: "doc-1", OwnerID: "alice", Scopes: []string{"view", "share", "delete"}}, nil)

	_, err := svc.Grant(context.Background(), "doc-1", "bob", []string{"view", "admin"}, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
	perms.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestGrant_ResourceDeletedMidGrant(t *testing.T) {
	resources := new(resourceRepoMock)
	perms := new(permRepoMock)
	cache := passthroughCache()
	svc := NewAuthorizationService(resources, perms, cache)

	resources.On("GetByID", mock.Anything, "doc-1").
		Return(domain.Resource{ID: "doc-1", OwnerID: "alice", Scopes: []string{"view"}}, nil)
	// The conditional write loses to a concurrent cascade delete.
	perms.On("Put", mock.Anything, mock.Anything).Return(domain.ErrNotFound)

	_, err := svc.Grant(context.Background(), "doc-1", "bob", []string{"view"}, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	cache.AssertNotCalled(t, "Invalidate", mock.Anything, "doc-1", "bob")
}

func TestGrantCheckRevokeRoundTrip(t *testing.T) {
	resources := new(resourceRepoMock)
	perms := new(permRepoMock)
	cache := passthroughCache()
	svc := NewAuthorizationService(resources, perms, cache)

	doc := domain.Resource{ID: "doc-1", OwnerID: "alice", Scopes: []string{"view", "share", "delete"}}
	resources.On("GetByID", mock.Anything, "doc-1").Return(doc, nil)
	perms.On("Put", mock.Anything, mock.MatchedBy(func(p domain.Permission) bool {
		return p.ResourceID == "doc-1" && p.PrincipalID == "bob" && p.GrantedBy == "alice" && !p.GrantedAt.IsZero()
	})).Return(nil)

	granted, err := svc.Grant(context.Background(), "doc-1", "bob", []string{"view"}, "alice")
	require.NoError(t, err)

	perms.On("Get", mock.Anything, "doc-1", "bob").Return(granted, nil)
	allowed, err := svc.Check(context.Background(), "doc-1", "bob", "view")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = svc.Check(context.Background(), "doc-1", "bob", "delete")
	require.NoError(t, err)
	assert.False(t, allowed)

	perms.On("Delete", mock.Anything, "doc-1", "bob").Return(nil)
	require.NoError(t, svc.Revoke(context.Background(), "doc-1", "bob"))
	cache.AssertCalled(t, "Invalidate", mock.Anything, "doc-1", "bob")

	perms.ExpectedCalls = nil
	perms.On("Get", mock.Anything, "doc-1", "bob").Return(domain.Permission{}, domain.ErrNotFound)
	allowed, err = svc.Check(context.Background(), "doc-1", "bob", "view")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheck_OwnerHasImplicitAccess(t *testing.T) {
	resources := new(resourceRepoMock)
	perms := new(permRepoMock)
	svc := NewAuthorizationService(resources, perms, passthroughCache())

	resources.On("GetByID", mock.Anything, "doc-1").
		Return(domain.Resource{ID: "doc-1", OwnerID: "alice", Scopes: []string{"view"}}, nil)

	allowed, err := svc.Check(context.Background(), "doc-1", "alice", "delete")
	require.NoError(t, err)
	assert.True(t, allowed)
	perms.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheck_ServedFromCache(t *testing.T) {
	resources := new(resourceRepoMock)
	cache := new(cacheMock)
	svc := NewAuthorizationService(resources, new(permRepoMock), cache)

	cache.On("Get", mock.Anything, "doc-1", "bob", "view").Return(true, true, nil)

	allowed, err := svc.Check(context.Background(), "doc-1", "bob", "view")
	require.NoError(t, err)
	assert.True(t, allowed)
	resources.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestCheck_UnknownResource(t *testing.T) {
	resources := new(resourceRepoMock)
	svc := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())

	resources.On("GetByID", mock.Anything, "ghost").Return(domain.Resource{}, domain.ErrNotFound)

	_, err := svc.Check(context.Background(), "ghost", "bob", "view")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteResource_InvalidatesWholeResource(t *testing.T) {
	resources := new(resourceRepoMock)
	cache := passthroughCache()
	svc := NewAuthorizationService(resources, new(permRepoMock), cache)

	resources.On("Delete", mock.Anything, "doc-1").Return(nil)

	require.NoError(t, svc.DeleteResource(context.Background(), "doc-1"))
	cache.AssertCalled(t, "InvalidateResource", mock.Anything, "doc-1")
}

func TestShare_ExistingPrincipalGrantsDirectly(t *testing.T) {
	resources := new(resourceRepoMock)
	perms := new(permRepoMock)
	principals := new(principalRepoMock)
	shares := new(shareRepoMock)
	authz := NewAuthorizationService(resources, perms, passthroughCache())
	svc := NewShareService(principals, shares, authz)

	doc := domain.Resource{ID: "doc-2", OwnerID: "alice", Scopes: []string{"view", "share"}}
	resources.On("GetByID", mock.Anything, "doc-2").Return(doc, nil)
	principals.On("GetByEmail", mock.Anything, "bob@example.com").
		Return(domain.Principal{ID: "bob", Email: "bob@example.com", Origin: domain.OriginNative}, nil)
	perms.On("Put", mock.Anything, mock.MatchedBy(func(p domain.Permission) bool {
		return p.PrincipalID == "bob" && p.GrantedBy == "alice"
	})).Return(nil)

	pending, err := svc.Share(context.Background(), "doc-2", "bob@example.com", []string{"view"}, "alice")
	require.NoError(t, err)
	assert.False(t, pending)
	shares.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestShare_UnknownRecipientGoesPending(t *testing.T) {
	resources := new(resourceRepoMock)
	principals := new(principalRepoMock)
	shares := new(shareRepoMock)
	authz := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())
	svc := NewShareService(principals, shares, authz)

	doc := domain.Resource{ID: "doc-2", OwnerID: "alice", Scopes: []string{"view", "share"}}
	resources.On("GetByID", mock.Anything, "doc-2").Return(doc, nil)
	principals.On("GetByEmail", mock.Anything, "carol@example.com").
		Return(domain.Principal{}, domain.ErrNotFound)
	shares.On("Put", mock.Anything, mock.MatchedBy(func(s domain.PendingShare) bool {
		return s.ResourceID == "doc-2" && s.RecipientEmail == "carol@example.com" && s.CreatedBy == "alice"
	})).Return(nil)

	pending, err := svc.Share(context.Background(), "doc-2", "  Carol@Example.COM ", []string{"view"}, "alice")
	require.NoError(t, err)
	assert.True(t, pending)
	shares.AssertExpectations(t)
}

func TestShare_ScopesOutsideResourceFail(t *testing.T) {
	resources := new(resourceRepoMock)
	shares := new(shareRepoMock)
	authz := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())
	svc := NewShareService(new(principalRepoMock), shares, authz)

	resources.On("GetByID", mock.Anything, "doc-2").
		Return(domain.Resource{ID: "doc-2", OwnerID: "alice", Scopes: []string{"view"}}, nil)

	_, err := svc.Share(context.Background(), "doc-2", "carol@example.com", []string{"delete"}, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
	shares.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestShare_PropagatesRepositoryErrors(t *testing.T) {
	resources := new(resourceRepoMock)
	authz := NewAuthorizationService(resources, new(permRepoMock), passthroughCache())
	svc := NewShareService(new(principalRepoMock), new(shareRepoMock), authz)

	expectedErr := errors.New("db down")
	resources.On("GetByID", mock.Anything, "doc-2").Return(domain.Resource{}, expectedErr)

	_, err := svc.Share(context.Background(), "doc-2", "carol@example.com", []string{"view"}, "alice")
	assert.ErrorIs(t, err, expectedErr)
}
