// Package chi exposes the answering pipeline over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oriade/ragserve/internal/domain"
	healthuc "github.com/oriade/ragserve/internal/usecase/health"
)

// Error codes returned to clients.
const (
	codeBadRequest      = "bad_request"
	codeUnauthenticated = "unauthenticated"
	codeNotFound        = "not_found"
	codeGenerationError = "generation_error"
	codeInternalError   = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server routes HTTP requests to the pipeline and auth services.
type Server struct {
	pipeline      Pipeline
	login         LoginProvider
	exchanger     Exchanger
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. login and exchanger are mutually
// exclusive: exactly one is non-nil depending on the configured auth mode.
func NewServer(
	pipeline Pipeline,
	login LoginProvider,
	exchanger Exchanger,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	s := &Server{
		pipeline:  pipeline,
		login:     login,
		exchanger: exchanger,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidCredentials, http.StatusUnauthorized, codeUnauthenticated),
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, codeBadRequest),
		sentinelHandler(domain.ErrNoRelevantDocuments, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrGenerationFailed, http.StatusInternalServerError, codeGenerationError),
	}
	return s
}

// Routes mounts all handlers on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/query", s.handleQuery)
	r.Post("/login", s.handleLogin)
	r.Get("/auth/login", s.handleAuthRedirect)
	r.Get("/auth/callback", s.handleAuthCallback)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// handleQuery handles POST /query. The bearer token travels into the
// pipeline as-is; verification is the pipeline's first stage.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	q, err := domain.NewQuery(req.Query, req.TopK)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	ans, err := s.pipeline.Answer(r.Context(), bearerToken(r), q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{Answer: ans.Text})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleLogin handles POST /login. Credentials arrive as form fields.
// Available only in local auth mode.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.login == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "local login is not enabled")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid form body: "+err.Error())
		return
	}

	token, err := s.login.Login(r.PostFormValue("username"), r.PostFormValue("password"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid username or password")
			return
		}
		s.logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleAuthRedirect handles GET /auth/login. Available only in oauth mode.
func (s *Server) handleAuthRedirect(w http.ResponseWriter, r *http.Request) {
	if s.exchanger == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "identity provider login is not enabled")
		return
	}
	http.Redirect(w, r, s.exchanger.AuthCodeURL(), http.StatusFound)
}

// handleAuthCallback handles GET /auth/callback.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.exchanger == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "identity provider login is not enabled")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Authorization code not found")
		return
	}

	tok, err := s.exchanger.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("code exchange failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authorization code rejected")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: tok.AccessToken, TokenType: tok.TokenType})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// bearerToken extracts the token from the Authorization header. An absent or
// malformed header yields an empty credential, which the pipeline rejects
// without touching any downstream component.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(auth, bearerPrefix) {
		return ""
	}
	return auth[len(bearerPrefix):]
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidCredentials,
		domain.ErrInvalidQuery,
		domain.ErrNoRelevantDocuments,
		domain.ErrGenerationFailed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
