package httpapi

import (
	"context"
	"encoding/json"
	"errors"

	"koois.id/internal/audit"
	"koois.id/internal/auth"
	"koois.id/internal/obs"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	RoleID   int32  `json:"role_id"`
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

type googleTokenRequest struct {
	Token string `json:"token"`
}

type registerGoogleRequest struct {
	Token  string `json:"token"`
	RoleID int32  `json:"role_id"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createRoleRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Permissions []int32 `json:"permissions"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type googleSigninResponse struct {
	Token        *string `json:"token"`
	IsRegistered bool    `json:"is_registered"`
}

func decodeBody(req *request, into any) bool {
	if len(req.body) == 0 {
		return false
	}
	return json.Unmarshal(req.body, into) == nil
}

func respondJSON(v any) (string, string) {
	data, err := json.Marshal(v)
	if err != nil {
		obs.Error("response encoding failed", err, nil)
		return statusInternalError, ""
	}
	return statusOK, string(data)
}

// serviceStatus folds a service error into the status taxonomy the wire
// protocol exposes.
func serviceStatus(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrAlreadyExists),
		errors.Is(err, auth.ErrNoEmail):
		return statusBadRequest
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		return statusUnauthorized
	case errors.Is(err, auth.ErrNotFound):
		return statusNotFound
	default:
		return statusInternalError
	}
}

// failure maps an error to a response, logging only internal failures with
// their cause. Client errors keep the detail server-side.
func (s *Server) failure(op string, err error, fields map[string]any) (string, string) {
	status := serviceStatus(err)
	if status == statusInternalError {
		obs.Error(op+" failed", err, fields)
	}
	return status, ""
}

func (s *Server) handleLogin(ctx context.Context, req *request) (string, string) {
	var body credentialsRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	token, err := s.svc.Login(ctx, body.Username, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			return statusUnauthorized, "Username or password is incorrect"
		}
		return s.failure("login", err, map[string]any{"username": body.Username})
	}
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"username": body.Username})
	return respondJSON(tokenResponse{Token: token})
}

func (s *Server) handleRegister(ctx context.Context, req *request) (string, string) {
	var body registerRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	id, err := s.svc.Register(ctx, body.Username, body.Password, body.RoleID)
	if err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return statusBadRequest, "Already registered"
		}
		return s.failure("register", err, map[string]any{"username": body.Username})
	}
	_ = audit.LogEvent(ctx, "auth.register", map[string]any{"username": body.Username, "user_id": id})
	return statusNoContent, ""
}

func (s *Server) handleForgotPassword(ctx context.Context, req *request) (string, string) {
	var body forgotPasswordRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	token, err := s.svc.ForgotPassword(ctx, body.Username)
	if err != nil {
		if errors.Is(err, auth.ErrNoEmail) {
			return statusBadRequest, "You have no email"
		}
		return s.failure("forgot-password", err, map[string]any{"username": body.Username})
	}
	_ = audit.LogEvent(ctx, "auth.forgot_password", map[string]any{"username": body.Username})
	return respondJSON(tokenResponse{Token: token})
}

func (s *Server) handleResetPassword(ctx context.Context, req *request) (string, string) {
	var body resetPasswordRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	if err := s.svc.ResetPassword(ctx, body.Token, body.Password); err != nil {
		return s.failure("reset-password", err, nil)
	}
	_ = audit.LogEvent(ctx, "auth.reset_password", nil)
	return statusOK, ""
}

func (s *Server) handleSigninGoogle(ctx context.Context, req *request) (string, string) {
	var body googleTokenRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	token, registered, err := s.svc.SigninGoogle(ctx, body.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			return statusBadRequest, "token invalid"
		}
		return s.failure("signin-google", err, nil)
	}
	resp := googleSigninResponse{IsRegistered: registered}
	if registered {
		resp.Token = &token
		_ = audit.LogEvent(ctx, "auth.signin_google", nil)
	}
	return respondJSON(resp)
}

func (s *Server) handleRegisterGoogle(ctx context.Context, req *request) (string, string) {
	var body registerGoogleRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	id, err := s.svc.RegisterGoogle(ctx, body.Token, body.RoleID)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAlreadyExists):
			return statusBadRequest, "Already registered"
		case errors.Is(err, auth.ErrInvalidInput):
			return statusBadRequest, "token invalid"
		}
		return s.failure("register-google", err, nil)
	}
	_ = audit.LogEvent(ctx, "auth.register_google", map[string]any{"user_id": id})
	return statusNoContent, ""
}

// handleValidate answers 200 for any request that passed the gate.
func (s *Server) handleValidate(context.Context, *request) (string, string) {
	return statusOK, ""
}

func (s *Server) handleRolePermissions(ctx context.Context, _ *request) (string, string) {
	claims, ok := auth.ClaimsFromContext(ctx)
	if !ok {
		return statusUnauthorized, ""
	}
	names, err := s.svc.RolePermissions(ctx, claims.RoleID)
	if err != nil {
		return s.failure("role-permissions", err, map[string]any{"role_id": claims.RoleID})
	}
	return respondJSON(names)
}

func (s *Server) handleListPermissions(ctx context.Context, _ *request) (string, string) {
	perms, err := s.svc.Permissions(ctx)
	if err != nil {
		return s.failure("list-permissions", err, nil)
	}
	return respondJSON(perms)
}

func (s *Server) handleCreatePermission(ctx context.Context, req *request) (string, string) {
	var body createPermissionRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	id, err := s.svc.CreatePermission(ctx, body.Name, body.Description)
	if err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return statusBadRequest, "Already registered"
		}
		return s.failure("create-permission", err, map[string]any{"name": body.Name})
	}
	_ = audit.LogEvent(ctx, "rbac.permission_created", map[string]any{"permission_id": id, "name": body.Name})
	return statusNoContent, ""
}

func (s *Server) handleListRoles(ctx context.Context, _ *request) (string, string) {
	roles, err := s.svc.Roles(ctx)
	if err != nil {
		return s.failure("list-roles", err, nil)
	}
	return respondJSON(roles)
}

func (s *Server) handleCreateRole(ctx context.Context, req *request) (string, string) {
	var body createRoleRequest
	if !decodeBody(req, &body) {
		return statusBadRequest, ""
	}
	id, err := s.svc.CreateRole(ctx, body.Name, body.Description, body.Permissions)
	if err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return statusBadRequest, "Already registered"
		}
		return s.failure("create-role", err, map[string]any{"name": body.Name})
	}
	_ = audit.LogEvent(ctx, "rbac.role_created", map[string]any{"role_id": id, "name": body.Name})
	return statusNoContent, ""
}

func (s *Server) handleListUsers(ctx context.Context, _ *request) (string, string) {
	users, err := s.svc.Users(ctx)
	if err != nil {
		return s.failure("list-users", err, nil)
	}
	return respondJSON(users)
}
