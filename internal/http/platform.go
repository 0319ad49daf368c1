package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MagetoJ/EduKE/internal/auth"
	"github.com/MagetoJ/EduKE/internal/model"
)

// Platform routes serve the super-admin plane. They bypass tenant
// scoping entirely; the guard only requires an authenticated principal
// with the super-admin flag set in storage.

func (s *Server) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	if s.authorizePlatform(w, r) == nil {
		return
	}

	stats, err := s.store.PlatformStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_schools":   stats.TotalSchools,
		"active_schools":  stats.ActiveSchools,
		"blocked_schools": stats.BlockedSchools,
		"total_users":     stats.TotalUsers,
		"total_students":  stats.TotalStudents,
	})
}

func (s *Server) handlePlatformListSchools(w http.ResponseWriter, r *http.Request) {
	if s.authorizePlatform(w, r) == nil {
		return
	}

	schools, err := s.store.ListSchools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if schools == nil {
		schools = []model.School{}
	}
	writeJSON(w, http.StatusOK, schools)
}

func (s *Server) handlePlatformToggleBlock(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorizePlatform(w, r)
	if authCtx == nil {
		return
	}

	schoolID := chi.URLParam(r, "schoolID")
	school, err := s.store.FindSchoolByID(r.Context(), schoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if school == nil {
		writeError(w, http.StatusNotFound, "school_not_found")
		return
	}

	blocked := !school.Blocked
	if err := s.store.SetSchoolBlocked(r.Context(), schoolID, blocked); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	s.auditPlatform(r, authCtx.UserID, "toggle_block_school", &schoolID, map[string]any{
		"blocked": blocked,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"is_blocked": blocked})
}

func (s *Server) handlePlatformDeleteSchool(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorizePlatform(w, r)
	if authCtx == nil {
		return
	}

	schoolID := chi.URLParam(r, "schoolID")
	school, err := s.store.FindSchoolByID(r.Context(), schoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if school == nil {
		writeError(w, http.StatusNotFound, "school_not_found")
		return
	}

	if err := s.store.DeleteSchool(r.Context(), schoolID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "school_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// The school row is gone, so the id lives in details rather than
	// the foreign-keyed target column.
	s.auditPlatform(r, authCtx.UserID, "delete_school", nil, map[string]any{
		"deleted_school_id":   schoolID,
		"deleted_school_name": school.Name,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handlePlatformImpersonate issues a short-lived token scoped to the
// target school so a super admin can act inside it.
func (s *Server) handlePlatformImpersonate(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorizePlatform(w, r)
	if authCtx == nil {
		return
	}

	schoolID := chi.URLParam(r, "schoolID")
	school, err := s.store.FindSchoolByID(r.Context(), schoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if school == nil {
		writeError(w, http.StatusNotFound, "school_not_found")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.ImpersonateTTL, auth.Claims{
		UserID:     authCtx.UserID,
		SchoolID:   schoolID,
		SuperAdmin: true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	s.auditPlatform(r, authCtx.UserID, "impersonate_school", &schoolID, nil)
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"school_name":  school.Name,
	})
}

func (s *Server) handlePlatformAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.authorizePlatform(w, r) == nil {
		return
	}

	logs, err := s.store.ListAdminLogs(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if logs == nil {
		logs = []model.AdminActivityLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) auditPlatform(r *http.Request, adminID, action string, schoolID *string, details map[string]any) {
	ip := clientIP(r)
	entry := model.AdminActivityLog{
		ID:             uuid.NewString(),
		AdminID:        adminID,
		Action:         action,
		TargetSchoolID: schoolID,
		Details:        details,
		IPAddress:      &ip,
		CreatedAt:      time.Now().UTC(),
	}
	// Audit failures never fail the admin action itself.
	_ = s.store.CreateAdminLog(r.Context(), entry)
}
