package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"koois.id/internal/auth"
)

func (s *Store) FetchUser(ctx context.Context, username string) (auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		select user_id, username, password, email, provider, provider_id, role_id, created_at
		from users where username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.Provider, &u.ProviderID, &u.RoleID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) FetchUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, username, email, provider, role_id, created_at
		from users
		order by user_id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]auth.User, 0)
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Provider, &u.RoleID, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) InsertUser(ctx context.Context, user auth.User) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `
		insert into users (username, password, email, provider, provider_id, role_id)
		values ($1, $2, $3, $4, $5, $6)
		returning user_id
	`, user.Username, user.PasswordHash, user.Email, user.Provider, user.ProviderID, user.RoleID).Scan(&id)
	if err != nil {
		return 0, maybePgError(err)
	}
	return id, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID int32, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password = $2 where user_id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) FetchRole(ctx context.Context, roleID int32) (auth.Role, error) {
	var r auth.Role
	err := s.db.QueryRowContext(ctx, `
		select role_id, name, description, created_at
		from roles where role_id = $1
	`, roleID).Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Role{}, err
	}
	return r, nil
}

func (s *Store) FetchRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select role_id, name, description, created_at
		from roles
		order by role_id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]auth.Role, 0)
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *Store) InsertRole(ctx context.Context, role auth.Role) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `
		insert into roles (name, description)
		values ($1, $2)
		returning role_id
	`, role.Name, role.Description).Scan(&id)
	if err != nil {
		return 0, maybePgError(err)
	}
	return id, nil
}

func (s *Store) FetchPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission_id, name, description, created_at
		from permissions
		order by permission_id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := make([]auth.Permission, 0)
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) InsertPermission(ctx context.Context, permission auth.Permission) (int32, error) {
	var id int32
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (name, description)
		values ($1, $2)
		returning permission_id
	`, permission.Name, permission.Description).Scan(&id)
	if err != nil {
		return 0, maybePgError(err)
	}
	return id, nil
}

func (s *Store) FetchRolePermissions(ctx context.Context, roleID int32) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.name
		from role_permissions rp
		join permissions p on p.permission_id = rp.permission_id
		where rp.role_id = $1
		order by p.name asc
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// InsertRolePermissions associates permissions in a single statement so the
// batch is all-or-nothing: one conflicting pair rolls back every row.
func (s *Store) InsertRolePermissions(ctx context.Context, roleID int32, permissionIDs []int32) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id)
		select $1, unnest($2::int[])
	`, roleID, int32ArrayLiteral(permissionIDs))
	if err != nil {
		return maybePgError(err)
	}
	return nil
}

// int32ArrayLiteral renders ids as a Postgres array literal. The stdlib
// driver has no native array binding, so the parameter travels as text and
// the statement casts it.
func int32ArrayLiteral(ids []int32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(int64(id), 10)
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ","))
}
