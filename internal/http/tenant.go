package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MagetoJ/EduKE/internal/authz"
	"github.com/MagetoJ/EduKE/internal/crypto"
	"github.com/MagetoJ/EduKE/internal/model"
	"github.com/MagetoJ/EduKE/internal/repository"
)

// Every handler here receives its school scope from the guard context
// and nowhere else; clients cannot address another tenant's rows.

// ---- users ----

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Active   bool   `json:"is_active"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageUsers})
	if authCtx == nil {
		return
	}

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Username == "" || req.Email == "" || req.FullName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	role, ok := authz.ParseRole(req.Role)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	now := time.Now().UTC()
	membership := model.Membership{
		SchoolID: authCtx.SchoolID,
		Role:     string(role),
		Active:   true,
		JoinedAt: now,
	}

	// An existing user joins this school; a new one is provisioned
	// with the membership in one transaction.
	existing, err := s.store.FindUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if existing != nil {
		membership.UserID = existing.ID
		if err := s.store.AttachMembership(r.Context(), membership); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, userResponse{
			ID:       existing.ID,
			Username: existing.Username,
			Email:    existing.Email,
			FullName: existing.FullName,
			Role:     string(role),
			Active:   existing.Active,
		})
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}
	user := model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Active:       true,
		CreatedAt:    now,
	}
	membership.UserID = user.ID

	if err := s.store.CreateUserWithMembership(r.Context(), user, membership); err != nil {
		writeError(w, http.StatusBadRequest, "user_create_failed")
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     string(role),
		Active:   true,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{})
	if authCtx == nil {
		return
	}

	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role != "" {
		if _, ok := authz.ParseRole(role); !ok {
			writeError(w, http.StatusBadRequest, "invalid_role")
			return
		}
	}

	entries, err := s.store.ListSchoolUsers(r.Context(), authCtx.SchoolID, role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	users := make([]userResponse, 0, len(entries))
	for _, entry := range entries {
		users = append(users, userResponse{
			ID:       entry.User.ID,
			Username: entry.User.Username,
			Email:    entry.User.Email,
			FullName: entry.User.FullName,
			Role:     entry.Role,
			Active:   entry.User.Active,
		})
	}
	writeJSON(w, http.StatusOK, users)
}

type membershipUpdateRequest struct {
	Active bool `json:"is_active"`
}

// handleSetMembershipActive revokes or restores a member's access
// without deleting the row, keeping audit history.
func (s *Server) handleSetMembershipActive(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageUsers})
	if authCtx == nil {
		return
	}

	userID := chi.URLParam(r, "userID")
	var req membershipUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	err := s.store.SetMembershipActive(r.Context(), userID, authCtx.SchoolID, req.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "membership_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_active": req.Active})
}

// ---- students ----

type createStudentRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Grade     string `json:"grade"`
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageUsers})
	if authCtx == nil {
		return
	}

	var req createStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.FirstName == "" || req.LastName == "" || req.Grade == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	student := model.Student{
		ID:        uuid.NewString(),
		SchoolID:  authCtx.SchoolID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Grade:     req.Grade,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateStudent(r.Context(), student); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, student)
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{})
	if authCtx == nil {
		return
	}

	students, err := s.store.ListStudents(r.Context(), authCtx.SchoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	writeJSON(w, http.StatusOK, students)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{})
	if authCtx == nil {
		return
	}

	student, err := s.store.GetStudent(r.Context(), authCtx.SchoolID, chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}
	writeJSON(w, http.StatusOK, student)
}

// ---- assets ----

type createAssetRequest struct {
	Name      string  `json:"name"`
	SKU       *string `json:"sku"`
	Quantity  int     `json:"quantity"`
	AssetType *string `json:"asset_type"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageInventory})
	if authCtx == nil {
		return
	}

	var req createAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Name == "" || req.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	asset := model.Asset{
		ID:        uuid.NewString(),
		SchoolID:  authCtx.SchoolID,
		Name:      req.Name,
		SKU:       req.SKU,
		Quantity:  req.Quantity,
		AssetType: req.AssetType,
	}
	if err := s.store.CreateAsset(r.Context(), asset); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageInventory})
	if authCtx == nil {
		return
	}

	assets, err := s.store.ListAssets(r.Context(), authCtx.SchoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if assets == nil {
		assets = []model.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

type moveAssetRequest struct {
	Quantity     int     `json:"quantity"`
	MovementType string  `json:"movement_type"`
	Notes        *string `json:"notes"`
}

func (s *Server) handleMoveAsset(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermIssueAssets})
	if authCtx == nil {
		return
	}

	var req moveAssetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Quantity <= 0 || (req.MovementType != "IN" && req.MovementType != "OUT") {
		writeError(w, http.StatusBadRequest, "invalid_movement")
		return
	}

	movement := model.AssetMovement{
		ID:           uuid.NewString(),
		AssetID:      chi.URLParam(r, "assetID"),
		UserID:       authCtx.UserID,
		Quantity:     req.Quantity,
		MovementType: req.MovementType,
		Notes:        req.Notes,
		CreatedAt:    time.Now().UTC(),
	}

	err := s.store.MoveAsset(r.Context(), movement, authCtx.SchoolID)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientStock) {
			writeError(w, http.StatusConflict, "insufficient_stock")
			return
		}
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "asset_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

// ---- fees ----

type createInvoiceRequest struct {
	StudentID   string     `json:"student_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	TotalAmount float64    `json:"total_amount"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageFees})
	if authCtx == nil {
		return
	}

	var req createInvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StudentID == "" || req.Title == "" || req.TotalAmount <= 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	student, err := s.store.GetStudent(r.Context(), authCtx.SchoolID, req.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}

	invoice := model.FeeInvoice{
		ID:          uuid.NewString(),
		SchoolID:    authCtx.SchoolID,
		StudentID:   req.StudentID,
		Title:       req.Title,
		Description: req.Description,
		TotalAmount: req.TotalAmount,
		DueDate:     req.DueDate,
		Status:      "unpaid",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateInvoice(r.Context(), invoice); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageFees})
	if authCtx == nil {
		return
	}

	invoices, err := s.store.ListInvoices(r.Context(), authCtx.SchoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if invoices == nil {
		invoices = []model.FeeInvoice{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

type recordPaymentRequest struct {
	StudentID string  `json:"student_id"`
	InvoiceID *string `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	Method    *string `json:"payment_method"`
	Reference *string `json:"reference"`
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermManageFees})
	if authCtx == nil {
		return
	}

	var req recordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.StudentID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	student, err := s.store.GetStudent(r.Context(), authCtx.SchoolID, req.StudentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if student == nil {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}

	payment := model.Payment{
		ID:        uuid.NewString(),
		SchoolID:  authCtx.SchoolID,
		StudentID: req.StudentID,
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.RecordPayment(r.Context(), payment); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "invoice_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// ---- dashboard ----

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	authCtx := s.authorize(w, r, authz.Requirement{Permission: authz.PermViewDashboard})
	if authCtx == nil {
		return
	}

	counts, err := s.store.CountDashboard(r.Context(), authCtx.SchoolID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"students":        counts.Students,
		"active_members":  counts.Users,
		"assets":          counts.Assets,
		"unpaid_invoices": counts.Unpaid,
	})
}
