package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"promptpix/internal/app"
	"promptpix/internal/imagefetch"
	"promptpix/internal/ratelimit"
	"promptpix/internal/util"
	"promptpix/pkg/ai"
	"promptpix/pkg/auth"
	"promptpix/pkg/domain"
	"promptpix/pkg/storage"
	"promptpix/pkg/store"
)

// Config wires required dependencies for the HTTP server. Gateway, Fetcher
// and Images may be nil; their endpoints then report not configured.
type Config struct {
	App     *app.App
	Gateway *ai.Gateway
	Fetcher *imagefetch.Fetcher
	Images  storage.ImageStore

	// Rate limiting; skipped entirely when RedisAddr is empty.
	RedisAddr                  string
	RedisPassword              string
	LoginRateLimitPerMinute    int
	GenerateRateLimitPerMinute int
	TrustForwardedHeaders      bool
}

// Server exposes the HTTP API.
type Server struct {
	app     *app.App
	gateway *ai.Gateway
	fetcher *imagefetch.Fetcher
	images  storage.ImageStore
	mux     *http.ServeMux

	trustForwarded  bool
	loginLimiter    *ratelimit.FixedWindowLimiter
	generateLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app:            cfg.App,
		gateway:        cfg.Gateway,
		fetcher:        cfg.Fetcher,
		images:         cfg.Images,
		mux:            http.NewServeMux(),
		trustForwarded: cfg.TrustForwardedHeaders,
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if cfg.LoginRateLimitPerMinute > 0 {
			limiter, err := ratelimit.NewFixedWindowLimiter(client, "login", cfg.LoginRateLimitPerMinute, time.Minute)
			if err != nil {
				return nil, err
			}
			s.loginLimiter = limiter
		}
		if cfg.GenerateRateLimitPerMinute > 0 {
			limiter, err := ratelimit.NewFixedWindowLimiter(client, "generate", cfg.GenerateRateLimitPerMinute, time.Minute)
			if err != nil {
				return nil, err
			}
			s.generateLimiter = limiter
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/history", s.authenticated(s.handleHistory))

	// credit ledger
	s.mux.HandleFunc("/api/credits/init", s.handleInitCredits)
	s.mux.HandleFunc("/api/credits/", s.handleCreditsByKey)

	// admin
	s.mux.Handle("/api/admin/credits", s.adminOnly(s.handleAdminCredits))
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))

	// generation
	s.mux.HandleFunc("/api/generate/prompt", s.handleImageToPrompt)
	s.mux.HandleFunc("/api/generate/analyze", s.handleAnalyzeImage)
	s.mux.HandleFunc("/api/generate/build", s.handleBuildPrompt)
	s.mux.HandleFunc("/api/chat", s.handleChat)

	// images
	s.mux.HandleFunc("/api/image-proxy", s.handleImageProxy)
	s.mux.HandleFunc("/api/images", s.handleImages)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.Admin {
			s.audit(r, "admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

func (s *Server) allowRate(limiter *ratelimit.FixedWindowLimiter, r *http.Request) bool {
	return limiter.Allow(util.ClientIP(r, s.trustForwarded))
}

// audit emits a structured security_event record for auth-sensitive paths.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustForwarded),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(s.loginLimiter, r) {
		s.audit(r, "auth.register", "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(req.Username, req.Password)
	if err != nil {
		s.audit(r, "auth.register", "fail", "reason", err.Error())
		if errors.Is(err, app.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "auth.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(s.loginLimiter, r) {
		s.audit(r, "auth.login", "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.audit(r, "auth.login", "fail", "reason", "invalid_credentials")
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		s.writeAppError(w, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		history, err := s.app.History(user.ID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
	case http.MethodPost:
		var req historyRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if !validAction(req.Action) {
			writeError(w, http.StatusBadRequest, "unknown action")
			return
		}
		entry, err := s.app.AppendHistory(user.ID, req.Action, req.Details, req.Cost)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func validAction(action domain.ActionKind) bool {
	switch action {
	case domain.ActionImageToPrompt, domain.ActionAnalyzeImage, domain.ActionChat, domain.ActionBuildPrompt:
		return true
	}
	return false
}

// writeAppError maps application errors that are not endpoint-specific.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, store.ErrNotConfigured.Error())
	case errors.Is(err, app.ErrNegativeCredits),
		errors.Is(err, app.ErrSessionKeyRequired),
		errors.Is(err, app.ErrUsernameAndPasswordRequired),
		errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type historyRequest struct {
	Action  domain.ActionKind `json:"action"`
	Details string            `json:"details"`
	Cost    int               `json:"cost"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
