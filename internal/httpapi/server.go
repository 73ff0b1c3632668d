package httpapi

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"koois.id/internal/audit"
	"koois.id/internal/auth"
	"koois.id/internal/obs"
)

const defaultMaxRequestBytes = 2048

type routeKey struct {
	method string
	path   string
}

type handlerFunc func(ctx context.Context, req *request) (status string, body string)

// Server serves one request per accepted connection: read once, gate, route,
// respond, close.
type Server struct {
	svc             *auth.Service
	maxRequestBytes int
	routes          map[routeKey]handlerFunc
}

type Config struct {
	MaxRequestBytes int
}

func NewServer(svc *auth.Service, cfg Config) *Server {
	max := cfg.MaxRequestBytes
	if max <= 0 {
		max = defaultMaxRequestBytes
	}
	s := &Server{svc: svc, maxRequestBytes: max}
	s.routes = map[routeKey]handlerFunc{
		{http.MethodPost, "/login"}:           s.handleLogin,
		{http.MethodPost, "/register"}:        s.handleRegister,
		{http.MethodPost, "/forgot-password"}: s.handleForgotPassword,
		{http.MethodPost, "/reset-password"}:  s.handleResetPassword,
		{http.MethodPost, "/signin-google"}:   s.handleSigninGoogle,
		{http.MethodPost, "/register-google"}: s.handleRegisterGoogle,

		{http.MethodGet, "/protected/validate"}:              s.handleValidate,
		{http.MethodGet, "/protected/user/role-permissions"}: s.handleRolePermissions,
		{http.MethodGet, "/protected/user/permissions"}:      s.handleListPermissions,
		{http.MethodPost, "/protected/user/permissions"}:     s.handleCreatePermission,
		{http.MethodGet, "/protected/user/roles"}:            s.handleListRoles,
		{http.MethodPost, "/protected/user/roles"}:           s.handleCreateRole,
		{http.MethodGet, "/protected/user/users"}:            s.handleListUsers,
	}
	return s
}

// Serve accepts connections until the shutdown channel closes, handling each
// on its own goroutine.
func (s *Server) Serve(ln net.Listener, shutdown <-chan struct{}) error {
	go func() {
		<-shutdown
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			obs.Error("accept failed", err, nil)
			continue
		}
		go func() {
			defer conn.Close()
			done := obs.TrackConnection()
			defer done()
			s.HandleConn(context.Background(), conn)
		}()
	}
}

// HandleConn reads a single request from t, writes a single response, and
// returns. Exported so tests can drive it with in-memory buffers.
func (s *Server) HandleConn(ctx context.Context, t io.ReadWriter) {
	connID := uuid.NewString()
	start := time.Now()

	buf := make([]byte, s.maxRequestBytes)
	n, err := t.Read(buf)
	if err != nil && n == 0 {
		if !errors.Is(err, io.EOF) {
			obs.Error("read failed", err, map[string]any{"conn_id": connID})
		}
		return
	}
	if n >= s.maxRequestBytes {
		s.respond(t, connID, "", "", statusBadRequest, "Request too large", start)
		return
	}

	req, err := parseRequest(buf[:n])
	if err != nil {
		s.respond(t, connID, "", "", statusBadRequest, "", start)
		return
	}

	claims, ok := s.authenticate(req)
	if !ok {
		s.respond(t, connID, req.method, req.path, statusUnauthorized, "", start)
		return
	}
	ctx = audit.WithRequestID(ctx, connID)
	if claims != nil {
		ctx = auth.ContextWithClaims(ctx, claims)
	}

	handler, found := s.routes[routeKey{req.method, req.path}]
	if !found {
		if req.method == http.MethodOptions {
			s.respond(t, connID, req.method, req.path, statusOK, "", start)
			return
		}
		s.respond(t, connID, req.method, req.path, statusNotFound, "404 Not Found", start)
		return
	}

	status, body := handler(ctx, req)
	s.respond(t, connID, req.method, req.path, status, body, start)
}

func (s *Server) respond(w io.Writer, connID, method, path, status, body string, start time.Time) {
	if _, err := io.WriteString(w, status+body); err != nil {
		obs.Error("write response failed", err, map[string]any{"conn_id": connID})
	}
	code := statusCode(status)
	elapsed := time.Since(start)
	if method == "" {
		method = "-"
	}
	if path == "" {
		path = "-"
	}
	obs.LogRequest(map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"level":       "info",
		"msg":         "request",
		"conn_id":     connID,
		"method":      method,
		"path":        path,
		"status":      code,
		"duration_ms": elapsed.Milliseconds(),
	})
	obs.ObserveRequest(method, strings.SplitN(path, "?", 2)[0], code, elapsed)
}
