package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/classroom"
	"faceattend/internal/common"
	"faceattend/internal/person"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 3 * time.Minute

const issueAttempts = 5

// PersonDirectory resolves external ids to persons.
type PersonDirectory interface {
	GetByExternalID(ctx context.Context, externalID string) (person.Person, error)
}

// ClassDirectory gives the manager class lookups, ownership checks and the
// enrollment upsert used for auto-enroll.
type ClassDirectory interface {
	GetClass(ctx context.Context, classID int64) (classroom.Class, error)
	OwnedBy(ctx context.Context, classID int64, teacherID string) (bool, error)
	ApproveEnrollment(ctx context.Context, classID int64, studentID string) error
	EnrollmentStatus(ctx context.Context, classID int64, studentID string) (string, error)
}

// Ledger is the attendance guard surface the manager needs.
type Ledger interface {
	MarkOnce(ctx context.Context, key attendance.Key, status, markedBy string) (attendance.Record, error)
	Existing(ctx context.Context, key attendance.Key) (attendance.Record, bool, error)
}

// ValidateResult is the dry-run answer handed back before face verification.
type ValidateResult struct {
	ClassID     int64  `json:"class_id"`
	ClassName   string `json:"class_name"`
	StudentName string `json:"student_name"`
	Slot        int    `json:"slot_number"`
}

// Manager is the single authority over the OTP session lifecycle.
type Manager struct {
	store   Store
	people  PersonDirectory
	classes ClassDirectory
	ledger  Ledger
	ttl     time.Duration

	// seams for tests
	now     func() time.Time
	genCode func() string
}

// NewManager wires the session manager.
func NewManager(store Store, people PersonDirectory, classes ClassDirectory, ledger Ledger, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:   store,
		people:  people,
		classes: classes,
		ledger:  ledger,
		ttl:     ttl,
		now:     time.Now,
		genCode: randomCode,
	}
}

// Issue creates a session for (class, slot) after verifying the issuer owns
// the class. Codes collide rarely; Put is retried with fresh codes until one
// is unique among the currently active set.
func (m *Manager) Issue(ctx context.Context, classID int64, slot int, issuerExternalID string) (Session, error) {
	if !attendance.ValidSlot(slot) {
		return Session{}, fmt.Errorf("slot number must be between %d and %d", attendance.MinSlot, attendance.MaxSlot)
	}
	issuer, err := m.people.GetByExternalID(ctx, issuerExternalID)
	if err != nil {
		return Session{}, err
	}
	owns, err := m.classes.OwnedBy(ctx, classID, issuer.ID)
	if err != nil {
		return Session{}, err
	}
	if !owns {
		return Session{}, fmt.Errorf("%w: class %d is not owned by this teacher", common.ErrUnauthorized, classID)
	}

	now := m.now()
	for i := 0; i < issueAttempts; i++ {
		s := Session{
			Code:      m.genCode(),
			ClassID:   classID,
			Slot:      slot,
			IssuerID:  issuer.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		}
		err := m.store.Put(ctx, s)
		if err == ErrCodeTaken {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		issuedTotal.Inc()
		return s, nil
	}
	return Session{}, fmt.Errorf("could not allocate a unique code after %d attempts", issueAttempts)
}

// Invalidate removes a session ahead of its natural expiry. Only the issuing
// teacher may do so; an unknown or already-expired code is treated as
// already gone.
func (m *Manager) Invalidate(ctx context.Context, code, issuerExternalID string) error {
	issuer, err := m.people.GetByExternalID(ctx, issuerExternalID)
	if err != nil {
		return err
	}
	s, ok, err := m.store.Get(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if s.IssuerID != issuer.ID {
		return fmt.Errorf("%w: code was issued by another teacher", common.ErrUnauthorized)
	}
	if err := m.store.Remove(ctx, code); err != nil {
		return err
	}
	invalidatedTotal.Inc()
	return nil
}

// Validate is the dry-run: it checks the code, auto-enrolls the student and
// reports AlreadyMarked, but never writes an attendance record. Callers use
// it before spending time on face verification.
func (m *Manager) Validate(ctx context.Context, code, studentExternalID string) (ValidateResult, error) {
	s, student, class, err := m.resolve(ctx, code, studentExternalID)
	if err != nil {
		return ValidateResult{}, err
	}
	return ValidateResult{
		ClassID:     class.ID,
		ClassName:   class.Name,
		StudentName: student.Name,
		Slot:        s.Slot,
	}, nil
}

// Consume repeats the Validate checks and marks the student present for the
// session's slot today. The session itself stays active: one broadcast code
// serves the whole classroom until it expires.
func (m *Manager) Consume(ctx context.Context, code, studentExternalID string) (attendance.Record, error) {
	s, student, _, err := m.resolve(ctx, code, studentExternalID)
	if err != nil {
		return attendance.Record{}, err
	}
	rec, err := m.ledger.MarkOnce(ctx, attendance.Key{
		StudentID: student.ID,
		ClassID:   s.ClassID,
		Slot:      s.Slot,
		Date:      m.now(),
	}, attendance.StatusPresent, attendance.MarkedByInstantCode)
	if err != nil {
		return attendance.Record{}, err
	}
	consumedTotal.Inc()
	return rec, nil
}

// resolve runs the shared validate/consume pipeline: session lookup, expiry,
// student role gate, auto-enroll, duplicate-mark check.
func (m *Manager) resolve(ctx context.Context, code, studentExternalID string) (Session, person.Person, classroom.Class, error) {
	var none Session
	s, ok, err := m.store.Get(ctx, code)
	if err != nil {
		return none, person.Person{}, classroom.Class{}, err
	}
	if !ok {
		return none, person.Person{}, classroom.Class{}, fmt.Errorf("%w: invalid or expired code, please check with your teacher", common.ErrNotFound)
	}
	if s.ExpiredAt(m.now()) {
		// Opportunistic purge; expiry is authoritative either way.
		_ = m.store.Remove(ctx, code)
		expiredTotal.Inc()
		return none, person.Person{}, classroom.Class{}, fmt.Errorf("%w: code has expired, please ask your teacher for a new one", common.ErrExpired)
	}

	student, err := m.people.GetByExternalID(ctx, studentExternalID)
	if err != nil {
		return none, person.Person{}, classroom.Class{}, err
	}
	if student.Role != person.RoleStudent {
		return none, person.Person{}, classroom.Class{}, fmt.Errorf("%w: only students can mark attendance with a classroom code", common.ErrUnauthorized)
	}

	// A valid code from the teacher doubles as authorization to join the
	// class, so missing or pending enrollments are upgraded in place.
	status, err := m.classes.EnrollmentStatus(ctx, s.ClassID, student.ID)
	if err != nil {
		return none, person.Person{}, classroom.Class{}, err
	}
	if status != classroom.StatusApproved {
		if err := m.classes.ApproveEnrollment(ctx, s.ClassID, student.ID); err != nil {
			return none, person.Person{}, classroom.Class{}, err
		}
	}

	class, err := m.classes.GetClass(ctx, s.ClassID)
	if err != nil {
		return none, person.Person{}, classroom.Class{}, err
	}

	key := attendance.Key{StudentID: student.ID, ClassID: s.ClassID, Slot: s.Slot, Date: m.now()}
	if existing, found, err := m.ledger.Existing(ctx, key); err != nil {
		return none, person.Person{}, classroom.Class{}, err
	} else if found {
		return none, person.Person{}, classroom.Class{}, &attendance.AlreadyMarkedError{Slot: s.Slot, MarkedAt: existing.MarkedAt}
	}
	return s, student, class, nil
}

// randomCode draws a uniformly random 6-digit code.
func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}
