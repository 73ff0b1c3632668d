package auth

import "context"

// Store describes the persistence operations required by the identity core.
// Implementations map their backend errors into the package sentinels:
// ErrNotFound for lookup misses, ErrAlreadyExists for unique violations, and
// anything else passes through as-is.
type Store interface {
	FetchUser(ctx context.Context, username string) (User, error)
	FetchUsers(ctx context.Context) ([]User, error)
	InsertUser(ctx context.Context, user User) (int32, error)
	UpdatePassword(ctx context.Context, userID int32, passwordHash string) error

	FetchRole(ctx context.Context, roleID int32) (Role, error)
	FetchRoles(ctx context.Context) ([]Role, error)
	InsertRole(ctx context.Context, role Role) (int32, error)

	FetchPermissions(ctx context.Context) ([]Permission, error)
	InsertPermission(ctx context.Context, permission Permission) (int32, error)

	// FetchRolePermissions returns the permission names associated with the
	// role. A role with no associations yields an empty slice, not an error.
	FetchRolePermissions(ctx context.Context, roleID int32) ([]string, error)

	// InsertRolePermissions associates the permissions with the role as one
	// atomic batch: either every pair is inserted or none is.
	InsertRolePermissions(ctx context.Context, roleID int32, permissionIDs []int32) error
}
