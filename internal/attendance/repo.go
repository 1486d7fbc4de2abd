package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"faceattend/internal/common"
	"github.com/google/uuid"
)

// Store is the storage contract the guard requires. UpsertByKey must be a
// single atomic operation: concurrent calls for the same key may interleave
// arbitrarily but must converge to exactly one row.
type Store interface {
	UpsertByKey(ctx context.Context, rec Record) (Record, error)
	FindOne(ctx context.Context, key Key) (Record, bool, error)
}

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertByKey inserts the record or, when the unique key already exists,
// updates status, marked_by and marked_at in place. The ON CONFLICT clause
// rides the unique index on (student_id, class_id, slot_number,
// attendance_date), so the check-then-act is one round trip and safe across
// process instances.
func (r *Repository) UpsertByKey(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, class_id, slot_number, attendance_date, day_of_week, status, marked_by, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (student_id, class_id, slot_number, attendance_date) DO UPDATE SET
			status = EXCLUDED.status,
			marked_by = EXCLUDED.marked_by,
			marked_at = NOW()
		RETURNING id, student_id, class_id, slot_number, attendance_date, day_of_week, status, marked_by, marked_at, created_at
	`, rec.ID, rec.StudentID, rec.ClassID, rec.Slot, rec.Date, rec.DayOfWeek, rec.Status, rec.MarkedBy)
	var out Record
	if err := scanRecord(row, &out); err != nil {
		return Record{}, fmt.Errorf("%w: upsert attendance: %v", common.ErrStorage, err)
	}
	return out, nil
}

// FindOne returns the record for the exact key, if any.
func (r *Repository) FindOne(ctx context.Context, key Key) (Record, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, class_id, slot_number, attendance_date, day_of_week, status, marked_by, marked_at, created_at
		FROM attendance
		WHERE student_id = $1 AND class_id = $2 AND slot_number = $3 AND attendance_date = $4
	`, key.StudentID, key.ClassID, key.Slot, key.Date)
	var rec Record
	if err := scanRecord(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: find attendance: %v", common.ErrStorage, err)
	}
	return rec, true, nil
}

// ListForStudent returns a student's records in a class, newest first,
// optionally bounded by [from, to] dates.
func (r *Repository) ListForStudent(ctx context.Context, studentID string, classID int64, from, to *time.Time) ([]Record, error) {
	query := `
		SELECT id, student_id, class_id, slot_number, attendance_date, day_of_week, status, marked_by, marked_at, created_at
		FROM attendance WHERE student_id = $1`
	args := []any{studentID}
	if classID > 0 {
		args = append(args, classID)
		query += fmt.Sprintf(" AND class_id = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND attendance_date >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND attendance_date <= $%d", len(args))
	}
	query += " ORDER BY attendance_date DESC, slot_number DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list attendance: %v", common.ErrStorage, err)
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// RecomputeSummary refreshes the cached present-count for one
// (class, date, slot) cell. The worker calls this after every mark event.
func (r *Repository) RecomputeSummary(ctx context.Context, classID int64, date time.Time, slot int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_summaries (class_id, attendance_date, slot_number, present_count, updated_at)
		SELECT $1, $2, $3, COUNT(1) FILTER (WHERE status = 'present'), NOW()
		FROM attendance
		WHERE class_id = $1 AND attendance_date = $2 AND slot_number = $3
		ON CONFLICT (class_id, attendance_date, slot_number) DO UPDATE SET
			present_count = EXCLUDED.present_count,
			updated_at = NOW()
	`, classID, date, slot)
	if err != nil {
		return fmt.Errorf("%w: recompute summary: %v", common.ErrStorage, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner, rec *Record) error {
	return s.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.Slot, &rec.Date, &rec.DayOfWeek, &rec.Status, &rec.MarkedBy, &rec.MarkedAt, &rec.CreatedAt)
}
