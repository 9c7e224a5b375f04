package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recipesnap/internal/app"
	"recipesnap/internal/ratelimit"
	"recipesnap/internal/usertoken"
	"recipesnap/internal/util"
	"recipesnap/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	TokenVerifier     *usertoken.Verifier
	RedisAddr         string
	RedisPassword     string
	ScanRatePerMinute int
	MaxUploadBytes    int64
	// TrustedProxies lists CIDRs whose forwarded headers are honored
	// when resolving client IPs for logs.
	TrustedProxies []string
}

// Server exposes HTTP endpoints for the recipe backend.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	mux            *http.ServeMux
	maxUploadBytes int64
	scanLimiter    *ratelimit.FixedWindowLimiter
	proxies        *util.TrustedProxies
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, fmt.Errorf("token verifier required")
	}
	scanRate := cfg.ScanRatePerMinute
	if scanRate <= 0 {
		scanRate = 10
	}
	scanLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "recipesnap:ratelimit:scan", scanRate, time.Minute)
	if err != nil {
		return nil, fmt.Errorf("init scan limiter: %w", err)
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		scanLimiter:    scanLimiter,
		proxies:        proxies,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("recipesnap", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/recipes", s.authenticated(s.handleRecipes))
	s.mux.Handle("/api/recipes/", s.authenticated(s.handleRecipeSubtree))
	s.mux.Handle("/api/shared-recipes", s.authenticated(s.handleSharedRecipes))
	s.mux.Handle("/api/user/usage", s.authenticated(s.handleUsage))
	s.mux.Handle("/api/user/upgrade", s.authenticated(s.handleUpgrade))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		identity, err := s.tokenVerifier.VerifyIdentity(token)
		if err != nil {
			slog.Warn("token verification failed", "path", r.URL.Path, "ip", util.ClientIP(r, s.proxies), "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.EnsureUser(identity.Subject, identity.Email, identity.Name)
		if err != nil {
			slog.Error("resolve user failed", "subject", identity.Subject, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next(w, r, user)
	})
}

// /api/recipes
func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleScan(w, r, user)
	case http.MethodGet:
		recipes, err := s.app.ListRecipes(user)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": recipes,
			"count": len(recipes),
		})
	default:
		methodNotAllowed(w)
	}
}

// handleScan ingests an uploaded photo or PDF.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !s.allowScanRate(w, user) {
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required (field: image)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	outcome, err := s.app.IngestImage(r.Context(), user, header.Filename, data)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeIngestOutcome(w, outcome)
}

// /api/recipes/import and /api/recipes/{id}[/...]
func (s *Server) handleRecipeSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/recipes/")
	if path == "import" {
		s.handleImport(w, r, user)
		return
	}
	parts := strings.SplitN(path, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "translate":
			s.handleTranslate(w, r, user, id)
		case "share":
			s.handleShare(w, r, user, id)
		case "image":
			s.handleSourceImage(w, r, user, id)
		default:
			http.NotFound(w, r)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		recipe, err := s.app.GetRecipe(user, id)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recipe)
	case http.MethodPut:
		s.handleUpdateRecipe(w, r, user, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowScanRate(w, user) {
		return
	}
	var req importRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	outcome, err := s.app.ImportFromURL(r.Context(), user, req.URL)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeIngestOutcome(w, outcome)
}

func (s *Server) handleUpdateRecipe(w http.ResponseWriter, r *http.Request, user domain.User, id int64) {
	var req updateRecipeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	updated, err := s.app.UpdateRecipe(user, id, req.Title, req.Summary, req.Content, req.Icon)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request, user domain.User, id int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowScanRate(w, user) {
		return
	}
	var req translateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.LanguageCode) == "" {
		writeError(w, http.StatusBadRequest, "languageCode is required")
		return
	}
	translation, err := s.app.TranslateRecipe(r.Context(), user, id, req.LanguageCode, req.TargetLanguage)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, translation)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request, user domain.User, id int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req shareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := s.app.ShareRecipe(user, id, req.Email); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "shared"})
}

func (s *Server) handleSourceImage(w http.ResponseWriter, r *http.Request, user domain.User, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.SourceImageURL(r.Context(), user, id)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if url == "" {
		writeError(w, http.StatusNotFound, "no source image archived")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleSharedRecipes(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	recipes, err := s.app.ListSharedRecipes(user)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": recipes,
		"count": len(recipes),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Usage(user))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	upgraded, err := s.app.UpgradeToPremium(user)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upgraded)
}

func (s *Server) allowScanRate(w http.ResponseWriter, user domain.User) bool {
	ok, retryAfter := s.scanLimiter.Allow(user.ID)
	if ok {
		return true
	}
	seconds := int64(retryAfter / time.Second)
	if retryAfter%time.Second > 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	writeError(w, http.StatusTooManyRequests, "too many scan requests")
	return false
}

func writeIngestOutcome(w http.ResponseWriter, outcome app.IngestOutcome) {
	if outcome.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{
			"duplicate": true,
			"recipeId":  outcome.Recipe.ID,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     outcome.Recipe.ID,
		"recipe": outcome.Recipe,
	})
}

// writeAppError maps application errors onto HTTP status codes.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var quotaErr *app.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": quotaErr.Error(),
			"limit": quotaErr.Limit,
		})
	case errors.Is(err, app.ErrRecipeNotFound):
		writeError(w, http.StatusNotFound, "recipe not found")
	case errors.Is(err, app.ErrRecipeForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, app.ErrExtractionFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrSynthesisFailed), errors.Is(err, app.ErrTranslationFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type importRequest struct {
	URL string `json:"url"`
}

type updateRecipeRequest struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
	Icon    string `json:"icon"`
}

type translateRequest struct {
	LanguageCode   string `json:"languageCode"`
	TargetLanguage string `json:"targetLanguage"`
}

type shareRequest struct {
	Email string `json:"email"`
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

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 15 * 1024 * 1024
	}
	return value
}
