package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used for deterministic testing of the
// core without a database. It honors the same error contract as the Postgres
// store, including all-or-nothing bulk association.
type MemoryStore struct {
	mu sync.RWMutex

	users           map[int32]User
	usersByName     map[string]int32
	roles           map[int32]Role
	rolesByName     map[string]int32
	permissions     map[int32]Permission
	permsByName     map[string]int32
	rolePermissions map[int32]map[int32]struct{}

	nextUserID int32
	nextRoleID int32
	nextPermID int32
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           make(map[int32]User),
		usersByName:     make(map[string]int32),
		roles:           make(map[int32]Role),
		rolesByName:     make(map[string]int32),
		permissions:     make(map[int32]Permission),
		permsByName:     make(map[string]int32),
		rolePermissions: make(map[int32]map[int32]struct{}),
	}
}

func (m *MemoryStore) FetchUser(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usersByName[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *MemoryStore) FetchUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.users))
	for _, u := range m.users {
		u.PasswordHash = nil
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertUser(_ context.Context, user User) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByName[user.Username]; exists {
		return 0, ErrAlreadyExists
	}
	m.nextUserID++
	user.ID = m.nextUserID
	m.users[user.ID] = user
	m.usersByName[user.Username] = user.ID
	return user.ID, nil
}

func (m *MemoryStore) UpdatePassword(_ context.Context, userID int32, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = &passwordHash
	m.users[userID] = user
	return nil
}

func (m *MemoryStore) FetchRole(_ context.Context, roleID int32) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (m *MemoryStore) FetchRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertRole(_ context.Context, role Role) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rolesByName[role.Name]; exists {
		return 0, ErrAlreadyExists
	}
	m.nextRoleID++
	role.ID = m.nextRoleID
	m.roles[role.ID] = role
	m.rolesByName[role.Name] = role.ID
	return role.ID, nil
}

func (m *MemoryStore) FetchPermissions(_ context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) InsertPermission(_ context.Context, permission Permission) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.permsByName[permission.Name]; exists {
		return 0, ErrAlreadyExists
	}
	m.nextPermID++
	permission.ID = m.nextPermID
	m.permissions[permission.ID] = permission
	m.permsByName[permission.Name] = permission.ID
	return permission.ID, nil
}

func (m *MemoryStore) FetchRolePermissions(_ context.Context, roleID int32) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assoc := m.rolePermissions[roleID]
	names := make([]string, 0, len(assoc))
	for permID := range assoc {
		names = append(names, m.permissions[permID].Name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) InsertRolePermissions(_ context.Context, roleID int32, permissionIDs []int32) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch first so a failure leaves nothing behind.
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %d", ErrNotFound, roleID)
	}
	assoc := m.rolePermissions[roleID]
	seen := make(map[int32]struct{}, len(permissionIDs))
	for _, permID := range permissionIDs {
		if _, ok := m.permissions[permID]; !ok {
			return fmt.Errorf("%w: permission %d", ErrNotFound, permID)
		}
		if _, dup := seen[permID]; dup {
			return ErrAlreadyExists
		}
		if _, exists := assoc[permID]; exists {
			return ErrAlreadyExists
		}
		seen[permID] = struct{}{}
	}

	if assoc == nil {
		assoc = make(map[int32]struct{}, len(permissionIDs))
		m.rolePermissions[roleID] = assoc
	}
	for _, permID := range permissionIDs {
		assoc[permID] = struct{}{}
	}
	return nil
}
