// Package attendance is the ledger for attendance records and the guard
// enforcing at most one record per (student, class, slot, date).
package attendance

import (
	"fmt"
	"time"

	"faceattend/internal/common"
)

// Statuses a record can hold.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

// Mark origins.
const (
	MarkedByTeacher     = "teacher"
	MarkedByRecognition = "recognition"
	MarkedByInstantCode = "instant_password"
)

// Slot bounds for the daily timetable.
const (
	MinSlot = 1
	MaxSlot = 9
)

// Key identifies the unique attendance cell: one student, one class, one
// slot, one calendar day.
type Key struct {
	StudentID string
	ClassID   int64
	Slot      int
	Date      time.Time
}

// Record is one attendance ledger entry.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	ClassID   int64     `json:"class_id"`
	Slot      int       `json:"slot_number"`
	Date      time.Time `json:"attendance_date"`
	DayOfWeek int       `json:"day_of_week"`
	Status    string    `json:"status"`
	MarkedBy  string    `json:"marked_by"`
	MarkedAt  time.Time `json:"marked_at"`
	CreatedAt time.Time `json:"created_at"`
}

// AlreadyMarkedError reports an existing record for the key, carrying the
// original mark time so callers can surface it. It matches
// common.ErrAlreadyMarked via errors.Is.
type AlreadyMarkedError struct {
	Slot     int
	MarkedAt time.Time
}

func (e *AlreadyMarkedError) Error() string {
	return fmt.Sprintf("attendance already marked for slot %d today at %s", e.Slot, e.MarkedAt.Format("3:04 PM"))
}

// Is lets errors.Is(err, common.ErrAlreadyMarked) succeed.
func (e *AlreadyMarkedError) Is(target error) bool {
	return target == common.ErrAlreadyMarked
}

// Day truncates a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidStatus reports whether s is a known attendance status.
func ValidStatus(s string) bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// ValidSlot reports whether n is inside the daily slot range.
func ValidSlot(n int) bool {
	return n >= MinSlot && n <= MaxSlot
}
