package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"koois.id/internal/google"
	"koois.id/internal/obs"
)

// FederatedVerifier validates an external identity provider token and
// returns the identity it asserts.
type FederatedVerifier interface {
	Verify(ctx context.Context, token string) (*google.Identity, error)
}

// ResetMailer delivers a password reset token to a recipient.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, recipient, token string) error
}

const resetMailTimeout = 10 * time.Second

// Service implements the identity and access-control operations on top of a
// Store. Federated sign-in and reset mail delivery are optional; operations
// that need a missing collaborator fail with ErrInvalidInput.
type Service struct {
	store     Store
	tokens    *Authority
	federated FederatedVerifier
	mailer    ResetMailer
}

type ServiceOption func(*Service)

// WithFederatedVerifier enables the federated sign-in operations.
func WithFederatedVerifier(v FederatedVerifier) ServiceOption {
	return func(s *Service) { s.federated = v }
}

// WithResetMailer enables reset-token delivery on ForgotPassword.
func WithResetMailer(m ResetMailer) ServiceOption {
	return func(s *Service) { s.mailer = m }
}

func NewService(store Store, tokens *Authority, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: nil store")
	}
	if tokens == nil {
		return nil, errors.New("auth: nil token authority")
	}
	s := &Service{store: store, tokens: tokens}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies the credentials and issues a session token scoped to login.
// Unknown usernames, federated-only accounts, and wrong passwords are all
// reported as ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.FetchUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user.PasswordHash == nil || !VerifyPassword(password, *user.PasswordHash) {
		return "", ErrUnauthorized
	}
	return s.tokens.Issue(user, PurposeLogin)
}

// Register creates a local account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, username, password string, roleID int32) (int32, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return 0, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := s.store.InsertUser(ctx, User{
		Username:     username,
		PasswordHash: &hash,
		Provider:     ProviderLocal,
		RoleID:       roleID,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ForgotPassword issues a password-reset token for the account and hands it
// to the mailer. Delivery runs asynchronously; a delivery failure does not
// fail the request.
func (s *Service) ForgotPassword(ctx context.Context, username string) (string, error) {
	user, err := s.store.FetchUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user.Email == nil || *user.Email == "" {
		return "", ErrNoEmail
	}
	token, err := s.tokens.Issue(user, PurposePasswordReset)
	if err != nil {
		return "", err
	}
	if s.mailer != nil {
		recipient := *user.Email
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), resetMailTimeout)
			defer cancel()
			if err := s.mailer.SendPasswordReset(ctx, recipient, token); err != nil {
				obs.Error("reset mail delivery failed", err, map[string]any{"username": username})
			}
		}()
	}
	return token, nil
}

// ResetPassword verifies a password-reset token and replaces the account
// password. Tokens issued for login are rejected.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return err
	}
	switch claims.Purpose {
	case PurposePasswordReset:
	case PurposeLogin:
		return ErrUnauthorized
	default:
		return ErrUnauthorized
	}
	userID, err := claims.UserID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdatePassword(ctx, userID, hash)
}

// SigninGoogle validates a Google ID token. When the asserted email matches
// a registered account it returns a login token; otherwise it reports that
// the identity is not registered so the caller can offer registration.
func (s *Service) SigninGoogle(ctx context.Context, idToken string) (string, bool, error) {
	identity, err := s.verifyFederated(ctx, idToken)
	if err != nil {
		return "", false, err
	}
	user, err := s.store.FetchUser(ctx, identity.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fetch user: %w", err)
	}
	token, err := s.tokens.Issue(user, PurposeLogin)
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

// RegisterGoogle validates a Google ID token and creates an account for the
// asserted identity. The email doubles as the username and no password is
// stored.
func (s *Service) RegisterGoogle(ctx context.Context, idToken string, roleID int32) (int32, error) {
	identity, err := s.verifyFederated(ctx, idToken)
	if err != nil {
		return 0, err
	}
	email := identity.Email
	subject := identity.Subject
	id, err := s.store.InsertUser(ctx, User{
		Username:   email,
		Email:      &email,
		Provider:   ProviderGoogle,
		ProviderID: &subject,
		RoleID:     roleID,
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) verifyFederated(ctx context.Context, idToken string) (*google.Identity, error) {
	if s.federated == nil {
		return nil, fmt.Errorf("%w: federated sign-in is not configured", ErrInvalidInput)
	}
	identity, err := s.federated.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: federated token rejected", ErrInvalidInput)
	}
	return identity, nil
}

// VerifyToken checks a session token and returns its claims. Only login
// tokens pass; reset tokens cannot act as sessions.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != PurposeLogin {
		return nil, fmt.Errorf("%w: not a session token", ErrInvalidToken)
	}
	return claims, nil
}

func (s *Service) Users(ctx context.Context) ([]User, error) {
	return s.store.FetchUsers(ctx)
}

func (s *Service) Roles(ctx context.Context) ([]Role, error) {
	return s.store.FetchRoles(ctx)
}

// CreateRole inserts a role and, when permission IDs are given, associates
// them in a single batch. Duplicate IDs in the request are collapsed.
func (s *Service) CreateRole(ctx context.Context, name, description string, permissionIDs []int32) (int32, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	id, err := s.store.InsertRole(ctx, Role{Name: name, Description: description})
	if err != nil {
		return 0, err
	}
	if len(permissionIDs) > 0 {
		if err := s.store.InsertRolePermissions(ctx, id, dedupeIDs(permissionIDs)); err != nil {
			return 0, fmt.Errorf("associate permissions: %w", err)
		}
	}
	return id, nil
}

func (s *Service) Permissions(ctx context.Context) ([]Permission, error) {
	return s.store.FetchPermissions(ctx)
}

func (s *Service) CreatePermission(ctx context.Context, name, description string) (int32, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	return s.store.InsertPermission(ctx, Permission{Name: name, Description: description})
}

// RolePermissions lists the permission names granted to a role. An empty
// result is checked against the role catalogue so a missing role reports
// ErrNotFound instead of an empty grant set.
func (s *Service) RolePermissions(ctx context.Context, roleID int32) ([]string, error) {
	names, err := s.store.FetchRolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if _, err := s.store.FetchRole(ctx, roleID); err != nil {
			return nil, err
		}
		return []string{}, nil
	}
	return names, nil
}

func dedupeIDs(ids []int32) []int32 {
	seen := make(map[int32]struct{}, len(ids))
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
