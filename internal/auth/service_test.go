package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"koois.id/internal/google"
)

type fakeVerifier struct {
	identity *google.Identity
	err      error
}

func (f *fakeVerifier) Verify(context.Context, string) (*google.Identity, error) {
	return f.identity, f.err
}

type fakeMailer struct {
	mu        sync.Mutex
	recipient string
	token     string
	sent      chan struct{}
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{sent: make(chan struct{}, 1)}
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, recipient, token string) error {
	f.mu.Lock()
	f.recipient = recipient
	f.token = token
	f.mu.Unlock()
	f.sent <- struct{}{}
	return nil
}

func testService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, testAuthority(t), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestRegisterThenLogin(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	roleID, err := store.InsertRole(ctx, Role{Name: "user"})
	if err != nil {
		t.Fatalf("InsertRole: %v", err)
	}

	id, err := svc.Register(ctx, "alice", "secret", roleID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == 0 {
		t.Fatal("register returned zero id")
	}

	token, err := svc.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Purpose != PurposeLogin {
		t.Errorf("purpose = %q, want %q", claims.Purpose, PurposeLogin)
	}
	if claims.RoleID != roleID {
		t.Errorf("role id = %d, want %d", claims.RoleID, roleID)
	}
	if claims.Username != "alice" {
		t.Errorf("username = %q, want alice", claims.Username)
	}
}

func TestLoginFailures(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "secret", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Login(ctx, "nobody", "secret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: err = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong password: err = %v, want ErrUnauthorized", err)
	}

	// Federated accounts have no password; password login must fail.
	email := "fed@example.com"
	sub := "google-sub"
	if _, err := store.InsertUser(ctx, User{Username: email, Email: &email, Provider: ProviderGoogle, ProviderID: &sub, RoleID: 1}); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if _, err := svc.Login(ctx, email, "anything"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("federated account: err = %v, want ErrUnauthorized", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "secret", 1); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other", 1); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	users, err := svc.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("%d users after duplicate register, want 1", len(users))
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "", "secret", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty username: err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.Register(ctx, "alice", "", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty password: err = %v, want ErrInvalidInput", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	mailer := newFakeMailer()
	svc, store := testService(t, WithResetMailer(mailer))
	ctx := context.Background()

	hash, _ := HashPassword("old-pass")
	email := "alice@example.com"
	if _, err := store.InsertUser(ctx, User{Username: "alice", PasswordHash: &hash, Email: &email, Provider: ProviderLocal, RoleID: 1}); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}

	token, err := svc.ForgotPassword(ctx, "alice")
	if err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	<-mailer.sent
	mailer.mu.Lock()
	if mailer.recipient != email {
		t.Errorf("mail recipient = %q, want %q", mailer.recipient, email)
	}
	if mailer.token != token {
		t.Error("mailed token differs from issued token")
	}
	mailer.mu.Unlock()

	if err := svc.ResetPassword(ctx, token, "new-pass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "old-pass"); !errors.Is(err, ErrUnauthorized) {
		t.Fatal("old password still valid after reset")
	}
	if _, err := svc.Login(ctx, "alice", "new-pass"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestForgotPasswordFailures(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	if _, err := svc.ForgotPassword(ctx, "nobody"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown user: err = %v, want ErrUnauthorized", err)
	}

	hash, _ := HashPassword("pass")
	if _, err := store.InsertUser(ctx, User{Username: "mailless", PasswordHash: &hash, Provider: ProviderLocal, RoleID: 1}); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if _, err := svc.ForgotPassword(ctx, "mailless"); !errors.Is(err, ErrNoEmail) {
		t.Fatalf("no email: err = %v, want ErrNoEmail", err)
	}
}

func TestResetPasswordRejectsLoginToken(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "alice", "secret", 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	loginToken, err := svc.Login(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.ResetPassword(ctx, loginToken, "new-pass"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyTokenRejectsResetToken(t *testing.T) {
	mailer := newFakeMailer()
	svc, store := testService(t, WithResetMailer(mailer))
	ctx := context.Background()

	hash, _ := HashPassword("pass")
	email := "bob@example.com"
	if _, err := store.InsertUser(ctx, User{Username: "bob", PasswordHash: &hash, Email: &email, Provider: ProviderLocal, RoleID: 1}); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	resetToken, err := svc.ForgotPassword(ctx, "bob")
	if err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if _, err := svc.VerifyToken(resetToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSigninGoogle(t *testing.T) {
	email := "fed@example.com"
	verifier := &fakeVerifier{identity: &google.Identity{Subject: "sub-1", Email: email}}
	svc, _ := testService(t, WithFederatedVerifier(verifier))
	ctx := context.Background()

	// Unknown identity: not an error, just not registered.
	token, registered, err := svc.SigninGoogle(ctx, "id-token")
	if err != nil {
		t.Fatalf("SigninGoogle: %v", err)
	}
	if registered || token != "" {
		t.Fatalf("unknown identity: registered=%v token=%q", registered, token)
	}

	if _, err := svc.RegisterGoogle(ctx, "id-token", 3); err != nil {
		t.Fatalf("RegisterGoogle: %v", err)
	}
	token, registered, err = svc.SigninGoogle(ctx, "id-token")
	if err != nil {
		t.Fatalf("SigninGoogle after register: %v", err)
	}
	if !registered || token == "" {
		t.Fatalf("registered identity: registered=%v token=%q", registered, token)
	}
	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Username != email {
		t.Errorf("username = %q, want %q", claims.Username, email)
	}
	if claims.RoleID != 3 {
		t.Errorf("role id = %d, want 3", claims.RoleID)
	}
}

func TestSigninGoogleRejectedToken(t *testing.T) {
	verifier := &fakeVerifier{err: google.ErrVerification}
	svc, _ := testService(t, WithFederatedVerifier(verifier))
	if _, _, err := svc.SigninGoogle(context.Background(), "bad"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestSigninGoogleUnconfigured(t *testing.T) {
	svc, _ := testService(t)
	if _, _, err := svc.SigninGoogle(context.Background(), "tok"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRegisterGoogleDuplicate(t *testing.T) {
	verifier := &fakeVerifier{identity: &google.Identity{Subject: "sub-1", Email: "fed@example.com"}}
	svc, _ := testService(t, WithFederatedVerifier(verifier))
	ctx := context.Background()
	if _, err := svc.RegisterGoogle(ctx, "tok", 1); err != nil {
		t.Fatalf("first RegisterGoogle: %v", err)
	}
	if _, err := svc.RegisterGoogle(ctx, "tok", 1); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateRoleWithPermissions(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	readID, err := svc.CreatePermission(ctx, "users.read", "list users")
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	writeID, err := svc.CreatePermission(ctx, "users.write", "manage users")
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}

	roleID, err := svc.CreateRole(ctx, "admin", "full access", []int32{readID, writeID, readID})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	names, err := svc.RolePermissions(ctx, roleID)
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(names) != 2 || names[0] != "users.read" || names[1] != "users.write" {
		t.Fatalf("permissions = %v", names)
	}
}

func TestRolePermissionsDistinguishesEmptyFromMissing(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	roleID, err := svc.CreateRole(ctx, "empty", "", nil)
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	names, err := svc.RolePermissions(ctx, roleID)
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("empty role permissions = %v, want []", names)
	}

	if _, err := svc.RolePermissions(ctx, roleID+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing role: err = %v, want ErrNotFound", err)
	}
}

func TestCreateRoleDuplicate(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.CreateRole(ctx, "admin", "", nil); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := svc.CreateRole(ctx, "admin", "", nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}
