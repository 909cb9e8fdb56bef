package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"strategylab/internal/app"
	"strategylab/internal/identity"
	"strategylab/internal/ratelimit"
	"strategylab/internal/usertoken"
	"strategylab/internal/util"
	"strategylab/pkg/ai"
	"strategylab/pkg/domain"
)

// Verbatim auth error bodies the SPA matches on.
const (
	errNoToken      = "No authorization token provided"
	errInvalidToken = "Invalid or expired token"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	Identity        *identity.Client
	TokenVerifier   *usertoken.Verifier // optional signature pre-check
	TrustedProxies  *util.TrustedProxies
	ChatLimiter     *ratelimit.FixedWindowLimiter // nil disables limiting
	AuditLimiter    *ratelimit.FixedWindowLimiter
	GenerateLimiter *ratelimit.FixedWindowLimiter
}

// Server exposes the HTTP endpoints for the strategy lab backend.
type Server struct {
	app             *app.App
	identity        *identity.Client
	tokenVerifier   *usertoken.Verifier
	trustedProxies  *util.TrustedProxies
	chatLimiter     *ratelimit.FixedWindowLimiter
	auditLimiter    *ratelimit.FixedWindowLimiter
	generateLimiter *ratelimit.FixedWindowLimiter
	mux             *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:             cfg.App,
		identity:        cfg.Identity,
		tokenVerifier:   cfg.TokenVerifier,
		trustedProxies:  cfg.TrustedProxies,
		chatLimiter:     cfg.ChatLimiter,
		auditLimiter:    cfg.AuditLimiter,
		generateLimiter: cfg.GenerateLimiter,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware stack applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(s.trustedProxies, h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.Handle("/api/session", s.authenticated(s.handleSession))
	s.mux.Handle("/api/modules", s.authenticated(s.handleModules))
	s.mux.Handle("/api/modules/", s.authenticated(s.handleModuleByNumber))
	s.mux.Handle("/api/ai/chat", s.authenticated(s.limited(s.chatLimiter, s.handleChat)))
	s.mux.Handle("/api/ai/audit", s.authenticated(s.limited(s.auditLimiter, s.handleAudit)))
	s.mux.Handle("/api/documents/generate", s.authenticated(s.limited(s.generateLimiter, s.handleGenerateDocuments)))
	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/documents/export", s.authenticated(s.handleExportDocuments))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth reports which configuration inputs are present for
// operators; it never reveals values.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	envKeys := []string{
		"DATABASE_URL",
		"IDENTITY_BASE_URL",
		"IDENTITY_JWKS_URL",
		"LLM_BASE_URL",
		"LLM_API_KEY",
		"LLM_CHAT_MODEL",
		"LLM_DOCUMENT_MODEL",
		"REDIS_ADDR",
		"ARCHIVE_ENDPOINT",
	}
	env := make(map[string]bool, len(envKeys))
	for _, key := range envKeys {
		env[key] = strings.TrimSpace(os.Getenv(key)) != ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"env":    env,
	})
}

type sessionHandler func(http.ResponseWriter, *http.Request, domain.User, domain.Session)

// authenticated verifies the bearer token and resolves the caller's user
// and canonical session before invoking the handler.
func (s *Server) authenticated(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errNoToken)
			return
		}
		if s.tokenVerifier != nil {
			if _, err := s.tokenVerifier.VerifySubject(token); err != nil {
				writeError(w, http.StatusUnauthorized, errInvalidToken)
				return
			}
		}
		ident, err := s.identity.Introspect(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, errInvalidToken)
				return
			}
			writeError(w, http.StatusInternalServerError, "identity provider unavailable")
			return
		}
		user, session, err := s.app.StartSession(ident)
		if err != nil {
			writeAppError(w, err)
			return
		}
		next(w, r, user, session)
	})
}

// limited enforces a per-user quota on an LLM-backed handler.
// A nil limiter disables the check.
func (s *Server) limited(limiter *ratelimit.FixedWindowLimiter, next sessionHandler) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User, session domain.Session) {
		if limiter != nil && !limiter.Allow(user.ID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again shortly")
			return
		}
		next(w, r, user, session)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, user domain.User, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"session": session,
	})
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request, _ domain.User, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	items, err := s.app.ListModules(session.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": items})
}

type saveModuleRequest struct {
	InputMethod  string               `json:"inputMethod"`
	AITranscript []domain.ChatMessage `json:"aiTranscript,omitempty"`
	FormData     map[string]string    `json:"formData,omitempty"`
	AuditReview  string               `json:"auditReviewDocument,omitempty"`
}

func (s *Server) handleModuleByNumber(w http.ResponseWriter, r *http.Request, _ domain.User, session domain.Session) {
	moduleNumber, ok := modulePath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid module number")
		return
	}
	switch r.Method {
	case http.MethodGet:
		resp, err := s.app.GetModule(session.ID, moduleNumber)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req saveModuleRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		id, _, err := s.app.SaveModule(session.ID, moduleNumber, app.SaveModuleInput{
			InputMethod:  domain.InputMethod(req.InputMethod),
			AITranscript: req.AITranscript,
			FormData:     req.FormData,
			AuditReview:  req.AuditReview,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
	default:
		methodNotAllowed(w)
	}
}

type chatRequest struct {
	Messages      []domain.ChatMessage `json:"messages"`
	ModuleContext string               `json:"moduleContext,omitempty"`
	ModuleNumber  *int                 `json:"moduleNumber,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ domain.User, _ domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	moduleNumber := -1
	if req.ModuleNumber != nil {
		moduleNumber = *req.ModuleNumber
	}
	reply, err := s.app.Chat(r.Context(), moduleNumber, req.ModuleContext, req.Messages)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": reply})
}

type auditRequest struct {
	ModuleNumber int                  `json:"moduleNumber"`
	AITranscript []domain.ChatMessage `json:"aiTranscript,omitempty"`
	FormData     map[string]string    `json:"formData,omitempty"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request, _ domain.User, _ domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req auditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	audit, err := s.app.GenerateAudit(r.Context(), req.ModuleNumber, req.AITranscript, req.FormData)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auditReview": audit})
}

func (s *Server) handleGenerateDocuments(w http.ResponseWriter, r *http.Request, _ domain.User, session domain.Session) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	doc, err := s.app.GenerateFinalDocuments(r.Context(), session.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"combinedOverview": doc.CombinedOverview,
		"actionPlan":       doc.ActionPlan,
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, _ domain.User, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	doc, err := s.app.GetFinalDocuments(session.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleExportDocuments(w http.ResponseWriter, r *http.Request, _ domain.User, session domain.Session) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.ExportFinalDocuments(r.Context(), session.ID)
	if err != nil {
		if errors.Is(err, app.ErrArchiveDisabled) {
			writeError(w, http.StatusNotFound, "document export not available")
			return
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// modulePath extracts the module number from /api/modules/{n}.
func modulePath(path string) (int, bool) {
	raw := strings.TrimPrefix(path, "/api/modules/")
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || !domain.ValidModule(n) {
		return 0, false
	}
	return n, true
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out)
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

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps orchestrator and provider errors onto the HTTP
// error taxonomy.
func writeAppError(w http.ResponseWriter, err error) {
	var incomplete *app.IncompletePrerequisiteError
	switch {
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "all modules must be completed before generating final documents",
			"details": map[string]any{"missingModules": incomplete.Missing},
		})
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ai.ErrConfiguration):
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, ai.ErrUnexpectedResponse):
		writeError(w, http.StatusInternalServerError, "llm returned an unusable response")
	case errors.As(err, new(*ai.UpstreamError)):
		writeError(w, http.StatusInternalServerError, "llm request failed, try again")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
