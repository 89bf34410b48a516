// Package server exposes the Family Art HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"familyart/internal/app"
	"familyart/internal/googleauth"
	"familyart/internal/ratelimit"
	"familyart/internal/util"
	"familyart/pkg/credits"
	"familyart/pkg/domain"
	"familyart/pkg/store"
)

const maxBodyBytes = 48 << 20

// TokenVerifier validates a Google ID token and returns its profile
// claims.
type TokenVerifier interface {
	Verify(token string) (googleauth.Claims, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier TokenVerifier

	RedisAddr                  string
	RedisPassword              string
	GenerateRateLimitPerMinute int

	AdminEmails []string

	// Production gates the test credit top-up behind the admin role.
	Production bool

	// Simulated answers 503 on every endpoint that would call an
	// external provider.
	Simulated bool
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app             *app.App
	tokenVerifier   TokenVerifier
	mux             *http.ServeMux
	adminEmails     map[string]struct{}
	production      bool
	simulated       bool
	generateLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	generateLimit := cfg.GenerateRateLimitPerMinute
	if generateLimit <= 0 {
		generateLimit = 10
	}
	var generateLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "familyart:ratelimit:generate", generateLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init generate limiter: %w", err)
		}
		generateLimiter = limiter
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	s := &Server{
		app:             cfg.App,
		tokenVerifier:   cfg.TokenVerifier,
		mux:             http.NewServeMux(),
		adminEmails:     admins,
		production:      cfg.Production,
		simulated:       cfg.Simulated,
		generateLimiter: generateLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// generation (auth + credits)
	s.mux.Handle("/api/outline", s.authenticated(s.handleGenerateOutline))
	s.mux.Handle("/api/animation", s.authenticated(s.handleGenerateAnimation))

	// submissions
	s.mux.Handle("/api/submissions", s.authenticated(s.handleSaveSubmission))
	s.mux.Handle("/api/submissions/recent", s.adminOnly(s.handleRecentSubmissions))
	s.mux.HandleFunc("/api/submissions/", s.handleGetSubmission)
	s.mux.HandleFunc("/api/animations", s.handleGetAnimations)

	// credits
	s.mux.Handle("/api/credits", s.authenticated(s.handleGetCredits))
	s.mux.Handle("/api/credits/history", s.authenticated(s.handleCreditHistory))
	s.mux.Handle("/api/credits/test", s.authenticated(s.handleAddTestCredits))
	s.mux.HandleFunc("/api/credits/packages", s.handlePackages)

	// payments
	s.mux.Handle("/api/checkout/session", s.authenticated(s.handleCreateCheckout))
	s.mux.HandleFunc("/api/stripe/webhook", s.handleStripeWebhook)
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
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "admin.authorize", "fail", "email", user.Email)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

// authorize verifies the bearer ID token and upserts the signed-in user.
// First sign-in creates the account with a zero balance.
func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	claims, err := s.tokenVerifier.Verify(token)
	if err != nil {
		s.audit(r, "token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	role := domain.RoleUser
	if _, isAdmin := s.adminEmails[claims.Email]; isAdmin {
		role = domain.RoleAdmin
	}
	user, err := s.app.EnsureUser(domain.User{
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.AvatarURL,
		Role:      role,
	})
	if err != nil {
		s.audit(r, "token.verify", "fail", "reason", "ensure_user_failed", "err", err.Error())
		return domain.User{}, false
	}
	return user, true
}

// generation handlers

type outlineRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerateOutline(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.simulated {
		writeError(w, http.StatusServiceUnavailable, "outline generation is disabled in simulated mode")
		return
	}
	if !s.allowRate(w, r, "too many generation requests") {
		return
	}
	var req outlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	if err := s.app.Ledger().DeductCredits(user.Email, 1, "Coloring outline generation"); err != nil {
		writeAppError(w, err)
		return
	}
	result, err := s.app.GenerateOutline(r.Context(), req.Image, req.Prompt)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"submissionId": result.SubmissionID,
		"queueNumber":  result.QueueNumber,
		"outlineUrl":   result.OutlineURL,
	})
}

type animationRequest struct {
	Image       string `json:"image"`
	Prompt      string `json:"prompt"`
	FamilyArtID string `json:"familyArtId"`
}

func (s *Server) handleGenerateAnimation(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.simulated {
		writeError(w, http.StatusServiceUnavailable, "animation generation is disabled in simulated mode")
		return
	}
	if !s.allowRate(w, r, "too many generation requests") {
		return
	}
	var req animationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	if err := s.app.Ledger().DeductCredits(user.Email, 1, "Artwork animation"); err != nil {
		writeAppError(w, err)
		return
	}
	result, err := s.app.GenerateAnimation(r.Context(), req.Image, req.Prompt, req.FamilyArtID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

// submission handlers

type saveSubmissionRequest struct {
	PhotoURL   string `json:"photoUrl"`
	OutlineURL string `json:"outlineUrl"`
}

func (s *Server) handleSaveSubmission(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req saveSubmissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.PhotoURL) == "" {
		writeError(w, http.StatusBadRequest, "photoUrl is required")
		return
	}
	result, err := s.app.SaveSubmission(r.Context(), req.PhotoURL, req.OutlineURL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"submissionId": result.SubmissionID,
		"queueNumber":  result.QueueNumber,
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	queueNumber := strings.TrimPrefix(r.URL.Path, "/api/submissions/")
	if queueNumber == "" || strings.Contains(queueNumber, "/") {
		writeError(w, http.StatusBadRequest, "queue number is required")
		return
	}
	detail, err := s.app.GetSubmissionWithAnimations(queueNumber)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleRecentSubmissions(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	subs, err := s.app.RecentSubmissions()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"count":       len(subs),
	})
}

func (s *Server) handleGetAnimations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if taskID := r.URL.Query().Get("taskId"); taskID != "" {
		task, err := s.app.GetAnimationByTask(taskID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"animations": []domain.AnimationTask{task}, "count": 1})
		return
	}
	queueNumber := r.URL.Query().Get("queueNumber")
	if queueNumber == "" {
		writeError(w, http.StatusBadRequest, "queueNumber or taskId is required")
		return
	}
	animations, err := s.app.GetAnimationsByQueue(queueNumber)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"animations": animations, "count": len(animations)})
}

// credit handlers

func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	balance, err := s.app.Ledger().GetCredits(user.Email)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	history, err := s.app.Ledger().GetCreditHistory(user.Email, credits.DefaultHistoryLimit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if history == nil {
		history = []domain.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": history, "count": len(history)})
}

type testCreditsRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleAddTestCredits(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.production && user.Role != domain.RoleAdmin {
		s.audit(r, "credits.test", "fail", "email", user.Email)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req testCreditsRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount := req.Amount
	if amount <= 0 {
		amount = 5
	}
	balance, err := s.app.AddTestCredits(user.Email, amount)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "credits.test", "success", "email", user.Email, "amount", amount)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": balance})
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": s.app.Packages()})
}

// payment handlers

type checkoutRequest struct {
	PackageID string `json:"packageId"`
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.simulated {
		writeError(w, http.StatusServiceUnavailable, "payments are disabled in simulated mode")
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.PackageID) == "" {
		writeError(w, http.StatusBadRequest, "packageId is required")
		return
	}
	url, err := s.app.CreateCheckoutSession(user.Email, req.PackageID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": url})
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.simulated {
		writeError(w, http.StatusServiceUnavailable, "payments are disabled in simulated mode")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.app.HandleStripeWebhook(payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, app.ErrBadWebhookSignature) {
			s.audit(r, "stripe.webhook", "fail", "reason", "bad_signature")
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// helpers

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r)
	if s.generateLimiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAppError maps application errors onto the status taxonomy the
// client classifies on: 402 insufficient credits, 404 missing records,
// 400 caller mistakes, 500 everything else.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrUnknownPackage):
		writeError(w, http.StatusBadRequest, "unknown credit package")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
