package model

import "time"

const (
	SchoolStatusActive    = "active"
	SchoolStatusSuspended = "suspended"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"full_name"`
	Active       bool      `json:"is_active"`
	SuperAdmin   bool      `json:"is_super_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

type School struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Email     *string   `json:"email,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Address   *string   `json:"address,omitempty"`
	Status    string    `json:"status"`
	Plan      *string   `json:"subscription_plan,omitempty"`
	Blocked   bool      `json:"is_manually_blocked"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links one user to one school with exactly one role.
// The (school_id, user_id) pair is unique.
type Membership struct {
	SchoolID string    `json:"school_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	Active   bool      `json:"is_active"`
	JoinedAt time.Time `json:"joined_at"`
}

type Student struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"school_id"`
	UserID    *string   `json:"user_id,omitempty"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Grade     string    `json:"grade"`
	Balance   float64   `json:"current_balance"`
	CreatedAt time.Time `json:"created_at"`
}

type Asset struct {
	ID        string  `json:"id"`
	SchoolID  string  `json:"school_id"`
	Name      string  `json:"name"`
	SKU       *string `json:"sku,omitempty"`
	Quantity  int     `json:"quantity"`
	AssetType *string `json:"asset_type,omitempty"`
}

type AssetMovement struct {
	ID           string    `json:"id"`
	AssetID      string    `json:"asset_id"`
	UserID       string    `json:"user_id"`
	Quantity     int       `json:"quantity"`
	MovementType string    `json:"movement_type"`
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type FeeInvoice struct {
	ID          string     `json:"id"`
	SchoolID    string     `json:"school_id"`
	StudentID   string     `json:"student_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	TotalAmount float64    `json:"total_amount"`
	PaidAmount  float64    `json:"paid_amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Payment struct {
	ID        string    `json:"id"`
	SchoolID  string    `json:"school_id"`
	StudentID string    `json:"student_id"`
	InvoiceID *string   `json:"invoice_id,omitempty"`
	Amount    float64   `json:"amount"`
	Method    *string   `json:"payment_method,omitempty"`
	Reference *string   `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type AdminActivityLog struct {
	ID             string         `json:"id"`
	AdminID        string         `json:"admin_id"`
	Action         string         `json:"action"`
	TargetSchoolID *string        `json:"target_school_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	IPAddress      *string        `json:"ip_address,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type PlatformStats struct {
	TotalSchools   int64
	ActiveSchools  int64
	BlockedSchools int64
	TotalUsers     int64
	TotalStudents  int64
}
