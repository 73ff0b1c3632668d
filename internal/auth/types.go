package auth

import (
	"fmt"
	"time"
)

// Identity providers.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// Purpose restricts where a session token may be used. It is a closed set;
// every verification site must switch over it exhaustively.
type Purpose string

const (
	PurposeLogin         Purpose = "Login"
	PurposePasswordReset Purpose = "PasswordReset"
)

// ParsePurpose maps a wire value back to a known purpose.
func ParsePurpose(raw string) (Purpose, error) {
	switch Purpose(raw) {
	case PurposeLogin:
		return PurposeLogin, nil
	case PurposePasswordReset:
		return PurposePasswordReset, nil
	default:
		return "", fmt.Errorf("unknown token purpose %q", raw)
	}
}

// User is a local or federated account. PasswordHash is set only for
// local-provider accounts; ProviderID only for federated ones. ID zero means
// the record has not been persisted yet.
type User struct {
	ID           int32     `json:"user_id"`
	Username     string    `json:"username"`
	PasswordHash *string   `json:"-"`
	Email        *string   `json:"email,omitempty"`
	Provider     string    `json:"provider"`
	ProviderID   *string   `json:"-"`
	RoleID       int32     `json:"role_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Role groups permissions.
type Role struct {
	ID          int32     `json:"role_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission is a fine-grained capability.
type Permission struct {
	ID          int32     `json:"permission_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
