package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/MagetoJ/EduKE/internal/auth"
	"github.com/MagetoJ/EduKE/internal/authz"
	"github.com/MagetoJ/EduKE/internal/config"
	"github.com/MagetoJ/EduKE/internal/crypto"
	"github.com/MagetoJ/EduKE/internal/model"
	"github.com/MagetoJ/EduKE/internal/repository"
)

type Server struct {
	cfg     config.Config
	store   *repository.Store
	guard   *authz.Guard
	limiter *loginLimiter
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		guard:   authz.NewGuard(cfg.JWTSecret, cfg.JWTIssuer, store),
		limiter: newLoginLimiter(redisClient, cfg.LoginRateLimit, cfg.LoginRateWindow),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/register-school", s.handleRegisterSchool)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Get("/auth/me", s.handleGetMe)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Patch("/{userID}/membership", s.handleSetMembershipActive)
	})

	r.Route("/students", func(r chi.Router) {
		r.Get("/", s.handleListStudents)
		r.Post("/", s.handleCreateStudent)
		r.Get("/{studentID}", s.handleGetStudent)
	})

	r.Route("/assets", func(r chi.Router) {
		r.Get("/", s.handleListAssets)
		r.Post("/", s.handleCreateAsset)
		r.Post("/{assetID}/movements", s.handleMoveAsset)
	})

	r.Route("/fees", func(r chi.Router) {
		r.Get("/invoices", s.handleListInvoices)
		r.Post("/invoices", s.handleCreateInvoice)
		r.Post("/payments", s.handleRecordPayment)
	})

	r.Get("/dashboard", s.handleDashboard)

	r.Route("/platform", func(r chi.Router) {
		r.Get("/stats", s.handlePlatformStats)
		r.Get("/schools", s.handlePlatformListSchools)
		r.Patch("/schools/{schoolID}/status", s.handlePlatformToggleBlock)
		r.Delete("/schools/{schoolID}", s.handlePlatformDeleteSchool)
		r.Post("/schools/{schoolID}/impersonate", s.handlePlatformImpersonate)
		r.Get("/audit-logs", s.handlePlatformAuditLogs)
	})

	return r
}

// authorize runs the tenant guard for the request and writes the
// rejection itself when the guard fails.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, req authz.Requirement) *authz.Context {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return nil
	}
	authCtx, err := s.guard.Authorize(r.Context(), token, req)
	if err != nil {
		status, code := guardStatus(err)
		writeError(w, status, code)
		return nil
	}
	return authCtx
}

func (s *Server) authorizePlatform(w http.ResponseWriter, r *http.Request) *authz.Context {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return nil
	}
	authCtx, err := s.guard.AuthorizePlatform(r.Context(), token)
	if err != nil {
		status, code := guardStatus(err)
		writeError(w, status, code)
		return nil
	}
	return authCtx
}

func guardStatus(err error) (int, string) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, authz.ErrUnscoped):
		return http.StatusForbidden, "token_unscoped"
	case errors.Is(err, authz.ErrTenantUnavailable):
		return http.StatusForbidden, "school_unavailable"
	case errors.Is(err, authz.ErrNotAMember):
		return http.StatusForbidden, "not_a_member"
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

// ---- auth flows ----

type registerSchoolRequest struct {
	SchoolName    string `json:"school_name"`
	AdminFullName string `json:"admin_full_name"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
}

func (s *Server) handleRegisterSchool(w http.ResponseWriter, r *http.Request) {
	var req registerSchoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.SchoolName = strings.TrimSpace(req.SchoolName)
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.SchoolName == "" || req.AdminFullName == "" || req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	slug := slugify(req.SchoolName)
	existing, err := s.store.FindSchoolBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusBadRequest, "school_name_taken")
		return
	}
	if taken, err := s.usernameOrEmailTaken(r, req.Username, req.Email); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	} else if taken {
		writeError(w, http.StatusBadRequest, "user_exists")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	now := time.Now().UTC()
	school := model.School{
		ID:        uuid.NewString(),
		Name:      req.SchoolName,
		Slug:      slug,
		Email:     &req.Email,
		Status:    model.SchoolStatusActive,
		CreatedAt: now,
	}
	admin := model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.AdminFullName,
		Active:       true,
		CreatedAt:    now,
	}

	if err := s.store.CreateSchoolWithAdmin(r.Context(), school, admin); err != nil {
		writeError(w, http.StatusBadRequest, "registration_failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":   "school registered",
		"school_id": school.ID,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	SchoolID    string `json:"school_id,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	allowed, err := s.limiter.Allow(r.Context(), clientIP(r), req.Username)
	if err == nil && !allowed {
		writeError(w, http.StatusTooManyRequests, "too_many_attempts")
		return
	}

	user, err := s.store.FindUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if user == nil || !user.Active || crypto.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	membership, err := s.store.FirstActiveMembership(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	schoolID := ""
	if membership != nil {
		schoolID = membership.SchoolID
	} else if !user.SuperAdmin {
		// Super admins may hold no membership; everyone else must.
		writeError(w, http.StatusForbidden, "no_active_school")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:     user.ID,
		SchoolID:   schoolID,
		SuperAdmin: user.SuperAdmin,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		SchoolID:    schoolID,
	})
}

// handleRefresh reissues a token with the same claims before the old
// one expires. Tokens are stateless, so there is nothing to revoke.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	user, err := s.store.FindUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if user == nil || !user.Active {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	fresh, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID:     user.ID,
		SchoolID:   claims.SchoolID,
		SuperAdmin: user.SuperAdmin,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: fresh,
		TokenType:   "bearer",
		SchoolID:    claims.SchoolID,
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{})
	if authCtx == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     authCtx.UserID,
		"school_id":   authCtx.SchoolID,
		"role":        authCtx.Role,
		"super_admin": authCtx.SuperAdmin,
	})
}

func (s *Server) usernameOrEmailTaken(r *http.Request, username, email string) (bool, error) {
	byName, err := s.store.FindUserByUsername(r.Context(), username)
	if err != nil {
		return false, err
	}
	if byName != nil {
		return true, nil
	}
	byEmail, err := s.store.FindUserByEmail(r.Context(), email)
	if err != nil {
		return false, err
	}
	return byEmail != nil, nil
}

// ---- helpers ----

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Join(strings.Fields(slug), "-")
	return slug
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
