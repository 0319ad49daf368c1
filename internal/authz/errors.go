package authz

import "errors"

// Guard failures are terminal per-request outcomes, never retried.
var (
	// ErrUnauthenticated: token missing, malformed, expired, forged,
	// or the principal does not exist or is inactive.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnscoped: a valid token without a school scope was used on a
	// school-scoped operation.
	ErrUnscoped = errors.New("token not scoped to a school")

	// ErrTenantUnavailable: the school does not exist, is suspended,
	// or is manually blocked.
	ErrTenantUnavailable = errors.New("school inactive or does not exist")

	// ErrNotAMember: the principal has no active membership in the
	// target school.
	ErrNotAMember = errors.New("not a member of this school")

	// ErrForbidden: membership exists but the role or permission
	// requirement is not met.
	ErrForbidden = errors.New("forbidden")
)
