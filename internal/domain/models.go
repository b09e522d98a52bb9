package domain

import (
	"slices"
	"strings"
	"time"
)

// ServiceEndpoint is one entry of the routing snapshot. Port is the
// container-side port; routing never uses the host-side mapping.
type ServiceEndpoint struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Scheme  string `json:"scheme"`
}

// Claims is the validated content of a bearer token.
type Claims struct {
	SubjectID string    `json:"subject_id"`
	Email     string    `json:"email"`
	Audiences []string  `json:"audiences"`
	Issuer    string    `json:"issuer"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c Claims) HasAudience(audience string) bool {
	return slices.Contains(c.Audiences, audience)
}

// Resource is a protected object with exactly one owner and a declared
// scope set. Deleting a resource cascades deletion of its permissions.
type Resource struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	URI       string    `json:"uri"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Resource) HasScope(scope string) bool {
	return slices.Contains(r.Scopes, scope)
}

// HasScopes reports whether every requested scope is declared on the
// resource.
func (r Resource) HasScopes(scopes []string) bool {
	for _, s := range scopes {
		if !r.HasScope(s) {
			return false
		}
	}
	return true
}

// Permission binds a principal to a subset of a resource's scopes. The
// owner has implicit full access and never holds a permission row.
type Permission struct {
	ResourceID  string    `json:"resource_id"`
	PrincipalID string    `json:"principal_id"`
	Scopes      []string  `json:"scopes"`
	GrantedBy   string    `json:"granted_by"`
	GrantedAt   time.Time `json:"granted_at"`
}

func (p Permission) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// PendingShare is a deferred grant for a recipient who may not have a
// principal on this instance yet. RecipientEmail is stored normalized.
type PendingShare struct {
	ResourceID     string    `json:"resource_id"`
	RecipientEmail string    `json:"recipient_email"`
	Scopes         []string  `json:"scopes"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

type PrincipalOrigin string

const (
	OriginNative PrincipalOrigin = "native"
	OriginGuest  PrincipalOrigin = "guest"
)

type Principal struct {
	ID     string          `json:"id"`
	Email  string          `json:"email"`
	Origin PrincipalOrigin `json:"origin"`
}

// PairingPayload is the transferable document a device decodes to call
// the instance without an interactive login.
type PairingPayload struct {
	Type           string `json:"type"`
	Version        int    `json:"version"`
	HostIdentifier string `json:"host_identifier"`
	Address        string `json:"address"`
	Port           int    `json:"port"`
	APIBaseURL     string `json:"api_base_url"`
	AuthToken      string `json:"auth_token"`
}

// NormalizeEmail applies the matching rule for pending shares: trimmed,
// case-insensitive. Emails are normalized once at the boundary and
// stored normalized, so later comparisons are exact.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
