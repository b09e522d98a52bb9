package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyExists  = errors.New("already exists")
	ErrPermissionDeny = errors.New("permission denied")
	ErrInvalidScope   = errors.New("scope not declared on resource")
)

// Routing errors. Produced by the gateway and translated to HTTP status
// there; internal addresses stay in the logs, never in the response.
var (
	ErrUnknownService  = errors.New("unknown service")
	ErrUnreachable     = errors.New("upstream unreachable")
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// Token errors. Produced by whichever service validates the token; the
// gateway itself never inspects tokens.
var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidAudience  = errors.New("token audience mismatch")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformedToken   = errors.New("token malformed")
)

// ErrProvisioningFailed covers a guest-provisioning transaction that
// could not commit. The whole resolution rolls back, so retrying is safe.
var ErrProvisioningFailed = errors.New("guest provisioning failed")
