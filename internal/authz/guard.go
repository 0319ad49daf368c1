package authz

import (
	"context"

	"github.com/MagetoJ/EduKE/internal/auth"
	"github.com/MagetoJ/EduKE/internal/model"
)

// Store is the read-only storage the guard depends on. A nil result
// with a nil error means the record does not exist.
type Store interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindSchoolByID(ctx context.Context, id string) (*model.School, error)
	FindMembership(ctx context.Context, userID, schoolID string) (*model.Membership, error)
}

// Requirement describes an operation's access need. Zero value means
// membership alone is enough.
type Requirement struct {
	Role       Role
	Permission Permission
}

// Context is the resolved authorization context handed to business
// handlers. It is produced only by the guard; handlers never derive
// school scope themselves.
type Context struct {
	UserID     string
	SchoolID   string
	Role       Role
	SuperAdmin bool
}

type Guard struct {
	secret string
	issuer string
	store  Store
}

func NewGuard(secret, issuer string, store Store) *Guard {
	return &Guard{secret: secret, issuer: issuer, store: store}
}

// Authorize runs the five-step pipeline: decode token, load principal,
// require school scope, require an active school, require an active
// membership. The first failure wins and the guard performs no writes.
//
// Membership is resolved exactly once and must be active; a
// deactivated membership fails with ErrNotAMember before any role or
// permission logic runs.
func (g *Guard) Authorize(ctx context.Context, token string, req Requirement) (*Context, error) {
	user, claims, err := g.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	if claims.SchoolID == "" {
		return nil, ErrUnscoped
	}

	school, err := g.store.FindSchoolByID(ctx, claims.SchoolID)
	if err != nil {
		return nil, err
	}
	if school == nil || school.Blocked || school.Status != model.SchoolStatusActive {
		return nil, ErrTenantUnavailable
	}

	membership, err := g.store.FindMembership(ctx, user.ID, school.ID)
	if err != nil {
		return nil, err
	}
	if membership == nil || !membership.Active {
		return nil, ErrNotAMember
	}

	role, _ := ParseRole(membership.Role)
	authCtx := &Context{
		UserID:     user.ID,
		SchoolID:   school.ID,
		Role:       role,
		SuperAdmin: user.SuperAdmin,
	}

	if err := Evaluate(authCtx.Role, req); err != nil {
		return nil, err
	}
	return authCtx, nil
}

// AuthorizePlatform admits platform-administration requests. The token
// needs no school scope; instead the principal must carry the
// super-admin flag. School, membership and role checks are skipped.
func (g *Guard) AuthorizePlatform(ctx context.Context, token string) (*Context, error) {
	user, claims, err := g.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !user.SuperAdmin {
		return nil, ErrForbidden
	}
	return &Context{
		UserID:     user.ID,
		SchoolID:   claims.SchoolID,
		SuperAdmin: true,
	}, nil
}

func (g *Guard) authenticate(ctx context.Context, token string) (*model.User, *auth.Claims, error) {
	claims, err := auth.ParseToken(g.secret, g.issuer, token)
	if err != nil {
		return nil, nil, ErrUnauthenticated
	}

	user, err := g.store.FindUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !user.Active {
		return nil, nil, ErrUnauthenticated
	}
	return user, claims, nil
}

// Evaluate decides whether a role satisfies a requirement. The admin
// bypass runs before the grant table and satisfies everything within
// the admin's own school.
func Evaluate(role Role, req Requirement) error {
	if role == RoleAdmin {
		return nil
	}
	if req.Role != "" && role != req.Role {
		return ErrForbidden
	}
	if req.Permission != "" && !RoleHasPermission(role, req.Permission) {
		return ErrForbidden
	}
	return nil
}
