package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MagetoJ/EduKE/internal/model"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn inside a transaction; any error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ---- identity ----

const userColumns = `id, username, email, password_hash, full_name, is_active, is_super_admin, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&user.Active,
		&user.SuperAdmin,
		&user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username = $1
	`, username))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email))
}

// ---- schools ----

const schoolColumns = `id, name, slug, email, phone, address, status, subscription_plan, is_manually_blocked, created_at`

func scanSchool(row pgx.Row) (*model.School, error) {
	var school model.School
	err := row.Scan(
		&school.ID,
		&school.Name,
		&school.Slug,
		&school.Email,
		&school.Phone,
		&school.Address,
		&school.Status,
		&school.Plan,
		&school.Blocked,
		&school.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &school, nil
}

func (s *Store) FindSchoolByID(ctx context.Context, id string) (*model.School, error) {
	return scanSchool(s.pool.QueryRow(ctx, `
		SELECT `+schoolColumns+`
		FROM schools
		WHERE id = $1
	`, id))
}

func (s *Store) FindSchoolBySlug(ctx context.Context, slug string) (*model.School, error) {
	return scanSchool(s.pool.QueryRow(ctx, `
		SELECT `+schoolColumns+`
		FROM schools
		WHERE slug = $1
	`, slug))
}

func (s *Store) ListSchools(ctx context.Context) ([]model.School, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+schoolColumns+`
		FROM schools
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schools []model.School
	for rows.Next() {
		school, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		schools = append(schools, *school)
	}
	return schools, rows.Err()
}

func (s *Store) SetSchoolBlocked(ctx context.Context, id string, blocked bool) error {
	status := model.SchoolStatusActive
	if blocked {
		status = model.SchoolStatusSuspended
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE schools
		SET is_manually_blocked = $1, status = $2
		WHERE id = $3
	`, blocked, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteSchool removes the tenant; tenant-owned rows cascade via
// foreign keys.
func (s *Store) DeleteSchool(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schools WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ---- memberships ----

// FindMembership returns the single row for the pair regardless of its
// active flag; callers filter.
func (s *Store) FindMembership(ctx context.Context, userID, schoolID string) (*model.Membership, error) {
	var m model.Membership
	err := s.pool.QueryRow(ctx, `
		SELECT school_id, user_id, role, is_active, joined_at
		FROM school_users
		WHERE user_id = $1 AND school_id = $2
	`, userID, schoolID).Scan(&m.SchoolID, &m.UserID, &m.Role, &m.Active, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FirstActiveMembership picks the school a login-stage token gets
// scoped to, oldest membership first.
func (s *Store) FirstActiveMembership(ctx context.Context, userID string) (*model.Membership, error) {
	var m model.Membership
	err := s.pool.QueryRow(ctx, `
		SELECT school_id, user_id, role, is_active, joined_at
		FROM school_users
		WHERE user_id = $1 AND is_active = true
		ORDER BY joined_at
		LIMIT 1
	`, userID).Scan(&m.SchoolID, &m.UserID, &m.Role, &m.Active, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateSchoolWithAdmin registers a tenant and its first admin user in
// one transaction.
func (s *Store) CreateSchoolWithAdmin(ctx context.Context, school model.School, admin model.User) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO schools (id, name, slug, email, phone, address, status, subscription_plan, is_manually_blocked, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, school.ID, school.Name, school.Slug, school.Email, school.Phone, school.Address, school.Status, school.Plan, school.Blocked, school.CreatedAt); err != nil {
			return err
		}
		if err := insertUser(ctx, tx, admin); err != nil {
			return err
		}
		return insertMembership(ctx, tx, model.Membership{
			SchoolID: school.ID,
			UserID:   admin.ID,
			Role:     "admin",
			Active:   true,
			JoinedAt: school.CreatedAt,
		})
	})
}

// CreateUserWithMembership provisions a user inside a tenant. Re-adding
// an existing member is an idempotent update of role and active flag,
// never a second row.
func (s *Store) CreateUserWithMembership(ctx context.Context, user model.User, membership model.Membership) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		return insertMembership(ctx, tx, membership)
	})
}

// AttachMembership links an existing user to a school, idempotently.
func (s *Store) AttachMembership(ctx context.Context, membership model.Membership) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		return insertMembership(ctx, tx, membership)
	})
}

func (s *Store) SetMembershipActive(ctx context.Context, userID, schoolID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE school_users
		SET is_active = $1
		WHERE user_id = $2 AND school_id = $3
	`, active, userID, schoolID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func insertUser(ctx context.Context, tx pgx.Tx, user model.User) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, full_name, is_active, is_super_admin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Username, user.Email, user.PasswordHash, user.FullName, user.Active, user.SuperAdmin, user.CreatedAt)
	return err
}

func insertMembership(ctx context.Context, tx pgx.Tx, m model.Membership) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO school_users (school_id, user_id, role, is_active, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (school_id, user_id)
		DO UPDATE SET role = EXCLUDED.role, is_active = EXCLUDED.is_active
	`, m.SchoolID, m.UserID, m.Role, m.Active, m.JoinedAt)
	return err
}

type SchoolUser struct {
	User model.User
	Role string
}

func (s *Store) ListSchoolUsers(ctx context.Context, schoolID, role string) ([]SchoolUser, error) {
	query := `
		SELECT u.id, u.username, u.email, u.password_hash, u.full_name, u.is_active, u.is_super_admin, u.created_at, su.role
		FROM users u
		JOIN school_users su ON su.user_id = u.id
		WHERE su.school_id = $1 AND su.is_active = true
	`
	args := []interface{}{schoolID}
	if role != "" {
		query += ` AND su.role = $2`
		args = append(args, role)
	}
	query += ` ORDER BY u.created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SchoolUser
	for rows.Next() {
		var entry SchoolUser
		if err := rows.Scan(
			&entry.User.ID,
			&entry.User.Username,
			&entry.User.Email,
			&entry.User.PasswordHash,
			&entry.User.FullName,
			&entry.User.Active,
			&entry.User.SuperAdmin,
			&entry.User.CreatedAt,
			&entry.Role,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// ---- students ----

func (s *Store) CreateStudent(ctx context.Context, student model.Student) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO students (id, school_id, user_id, first_name, last_name, grade, current_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, student.ID, student.SchoolID, student.UserID, student.FirstName, student.LastName, student.Grade, student.Balance, student.CreatedAt)
	return err
}

func (s *Store) GetStudent(ctx context.Context, schoolID, id string) (*model.Student, error) {
	var st model.Student
	err := s.pool.QueryRow(ctx, `
		SELECT id, school_id, user_id, first_name, last_name, grade, current_balance, created_at
		FROM students
		WHERE id = $1 AND school_id = $2
	`, id, schoolID).Scan(&st.ID, &st.SchoolID, &st.UserID, &st.FirstName, &st.LastName, &st.Grade, &st.Balance, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStudents(ctx context.Context, schoolID string) ([]model.Student, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, school_id, user_id, first_name, last_name, grade, current_balance, created_at
		FROM students
		WHERE school_id = $1
		ORDER BY last_name, first_name
	`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.ID, &st.SchoolID, &st.UserID, &st.FirstName, &st.LastName, &st.Grade, &st.Balance, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// ---- assets ----

func (s *Store) CreateAsset(ctx context.Context, asset model.Asset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (id, school_id, name, sku, quantity, asset_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, asset.ID, asset.SchoolID, asset.Name, asset.SKU, asset.Quantity, asset.AssetType)
	return err
}

func (s *Store) ListAssets(ctx context.Context, schoolID string) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, school_id, name, sku, quantity, asset_type
		FROM assets
		WHERE school_id = $1
		ORDER BY name
	`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.ID, &a.SchoolID, &a.Name, &a.SKU, &a.Quantity, &a.AssetType); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// MoveAsset decrements ("OUT") or increments ("IN") stock and records
// the movement. The row lock makes concurrent movements against the
// same asset serialize instead of losing updates.
func (s *Store) MoveAsset(ctx context.Context, movement model.AssetMovement, schoolID string) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var quantity int
		err := tx.QueryRow(ctx, `
			SELECT quantity
			FROM assets
			WHERE id = $1 AND school_id = $2
			FOR UPDATE
		`, movement.AssetID, schoolID).Scan(&quantity)
		if err != nil {
			return err
		}

		delta := movement.Quantity
		if movement.MovementType == "OUT" {
			if quantity < movement.Quantity {
				return ErrInsufficientStock
			}
			delta = -movement.Quantity
		}

		if _, err := tx.Exec(ctx, `
			UPDATE assets
			SET quantity = quantity + $1
			WHERE id = $2
		`, delta, movement.AssetID); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO asset_movements (id, asset_id, user_id, quantity, movement_type, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, movement.ID, movement.AssetID, movement.UserID, movement.Quantity, movement.MovementType, movement.Notes, movement.CreatedAt)
		return err
	})
}

// ---- fees ----

func (s *Store) CreateInvoice(ctx context.Context, invoice model.FeeInvoice) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO fee_invoices (id, school_id, student_id, title, description, total_amount, paid_amount, due_date, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, invoice.ID, invoice.SchoolID, invoice.StudentID, invoice.Title, invoice.Description, invoice.TotalAmount, invoice.PaidAmount, invoice.DueDate, invoice.Status, invoice.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE students
			SET current_balance = current_balance + $1
			WHERE id = $2 AND school_id = $3
		`, invoice.TotalAmount, invoice.StudentID, invoice.SchoolID)
		return err
	})
}

func (s *Store) ListInvoices(ctx context.Context, schoolID string) ([]model.FeeInvoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, school_id, student_id, title, description, total_amount, paid_amount, due_date, status, created_at
		FROM fee_invoices
		WHERE school_id = $1
		ORDER BY created_at DESC
	`, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []model.FeeInvoice
	for rows.Next() {
		var inv model.FeeInvoice
		if err := rows.Scan(&inv.ID, &inv.SchoolID, &inv.StudentID, &inv.Title, &inv.Description, &inv.TotalAmount, &inv.PaidAmount, &inv.DueDate, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// RecordPayment applies a payment against an invoice under a row lock:
// paid amount and status move together, and the student balance drops
// by the same amount.
func (s *Store) RecordPayment(ctx context.Context, payment model.Payment) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if payment.InvoiceID != nil {
			var total, paid float64
			err := tx.QueryRow(ctx, `
				SELECT total_amount, paid_amount
				FROM fee_invoices
				WHERE id = $1 AND school_id = $2
				FOR UPDATE
			`, *payment.InvoiceID, payment.SchoolID).Scan(&total, &paid)
			if err != nil {
				return err
			}

			paid += payment.Amount
			status := "partial"
			if paid >= total {
				status = "paid"
			}
			if _, err := tx.Exec(ctx, `
				UPDATE fee_invoices
				SET paid_amount = $1, status = $2
				WHERE id = $3
			`, paid, status, *payment.InvoiceID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE students
			SET current_balance = current_balance - $1
			WHERE id = $2 AND school_id = $3
		`, payment.Amount, payment.StudentID, payment.SchoolID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO payments (id, school_id, student_id, invoice_id, amount, payment_method, reference, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, payment.ID, payment.SchoolID, payment.StudentID, payment.InvoiceID, payment.Amount, payment.Method, payment.Reference, payment.CreatedAt)
		return err
	})
}

// ---- dashboard / platform ----

type DashboardCounts struct {
	Students int64
	Users    int64
	Assets   int64
	Unpaid   int64
}

func (s *Store) CountDashboard(ctx context.Context, schoolID string) (DashboardCounts, error) {
	var counts DashboardCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM students WHERE school_id = $1),
			(SELECT COUNT(*) FROM school_users WHERE school_id = $1 AND is_active = true),
			(SELECT COUNT(*) FROM assets WHERE school_id = $1),
			(SELECT COUNT(*) FROM fee_invoices WHERE school_id = $1 AND status IN ('unpaid', 'partial'))
	`, schoolID).Scan(&counts.Students, &counts.Users, &counts.Assets, &counts.Unpaid)
	return counts, err
}

func (s *Store) PlatformStats(ctx context.Context) (model.PlatformStats, error) {
	var stats model.PlatformStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM schools),
			(SELECT COUNT(*) FROM schools WHERE status = 'active'),
			(SELECT COUNT(*) FROM schools WHERE is_manually_blocked = true),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM students)
	`).Scan(&stats.TotalSchools, &stats.ActiveSchools, &stats.BlockedSchools, &stats.TotalUsers, &stats.TotalStudents)
	return stats, err
}

func (s *Store) CreateAdminLog(ctx context.Context, entry model.AdminActivityLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_activity_logs (id, admin_id, action, target_school_id, details, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.AdminID, entry.Action, entry.TargetSchoolID, entry.Details, entry.IPAddress, entry.CreatedAt)
	return err
}

func (s *Store) ListAdminLogs(ctx context.Context, limit int) ([]model.AdminActivityLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, admin_id, action, target_school_id, details, ip_address, created_at
		FROM admin_activity_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AdminActivityLog
	for rows.Next() {
		var entry model.AdminActivityLog
		if err := rows.Scan(&entry.ID, &entry.AdminID, &entry.Action, &entry.TargetSchoolID, &entry.Details, &entry.IPAddress, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
