// Package classroom persists classes and their enrollments. The OTP manager
// uses it for ownership checks and for auto-enrolling students who present a
// valid classroom code.
package classroom

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/common"
)

// Enrollment statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// Class is a taught class owned by one teacher.
type Class struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	TeacherID string    `json:"teacher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists classroom data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetClass returns a class by id.
func (r *Repository) GetClass(ctx context.Context, classID int64) (Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, teacher_id, created_at FROM classes WHERE id = $1
	`, classID)
	var c Class
	if err := row.Scan(&c.ID, &c.Name, &c.TeacherID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Class{}, fmt.Errorf("%w: class %d", common.ErrNotFound, classID)
		}
		return Class{}, fmt.Errorf("%w: get class: %v", common.ErrStorage, err)
	}
	return c, nil
}

// OwnedBy reports whether the class exists and belongs to the teacher.
func (r *Repository) OwnedBy(ctx context.Context, classID int64, teacherID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM classes WHERE id = $1 AND teacher_id = $2
	`, classID, teacherID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: class ownership: %v", common.ErrStorage, err)
	}
	return n > 0, nil
}

// ApproveEnrollment ensures the student is enrolled and approved in the
// class, inserting or upgrading the row as needed. Presenting a valid
// classroom code is treated as sufficient authorization to join.
func (r *Repository) ApproveEnrollment(ctx context.Context, classID int64, studentID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_enrollments (class_id, student_id, status, enrolled_at, approved_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (class_id, student_id) DO UPDATE SET
			status = $3,
			approved_at = COALESCE(class_enrollments.approved_at, NOW())
	`, classID, studentID, StatusApproved)
	if err != nil {
		return fmt.Errorf("%w: approve enrollment: %v", common.ErrStorage, err)
	}
	return nil
}

// EnrollmentStatus returns the student's enrollment status in the class, or
// ("", nil) when no enrollment exists.
func (r *Repository) EnrollmentStatus(ctx context.Context, classID int64, studentID string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM class_enrollments WHERE class_id = $1 AND student_id = $2
	`, classID, studentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: enrollment status: %v", common.ErrStorage, err)
	}
	return status, nil
}
