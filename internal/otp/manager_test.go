package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/attendance"
	"faceattend/internal/classroom"
	"faceattend/internal/common"
	"faceattend/internal/person"
)

type fakePeople struct {
	byExternal map[string]person.Person
}

func (f *fakePeople) GetByExternalID(_ context.Context, externalID string) (person.Person, error) {
	p, ok := f.byExternal[externalID]
	if !ok {
		return person.Person{}, common.ErrNotFound
	}
	return p, nil
}

type fakeClasses struct {
	classes     map[int64]classroom.Class
	enrollments map[string]string // classID:studentID -> status
}

func classKey(classID int64, studentID string) string {
	return fmt.Sprintf("%d:%s", classID, studentID)
}

func (f *fakeClasses) GetClass(_ context.Context, classID int64) (classroom.Class, error) {
	c, ok := f.classes[classID]
	if !ok {
		return classroom.Class{}, common.ErrNotFound
	}
	return c, nil
}

func (f *fakeClasses) OwnedBy(_ context.Context, classID int64, teacherID string) (bool, error) {
	c, ok := f.classes[classID]
	return ok && c.TeacherID == teacherID, nil
}

func (f *fakeClasses) ApproveEnrollment(_ context.Context, classID int64, studentID string) error {
	f.enrollments[classKey(classID, studentID)] = classroom.StatusApproved
	return nil
}

func (f *fakeClasses) EnrollmentStatus(_ context.Context, classID int64, studentID string) (string, error) {
	return f.enrollments[classKey(classID, studentID)], nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[attendance.Key]attendance.Record
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[attendance.Key]attendance.Record)}
}

func (f *fakeLedger) MarkOnce(_ context.Context, key attendance.Key, status, markedBy string) (attendance.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key.Date = attendance.Day(key.Date)
	rec := attendance.Record{
		ID:        "rec-1",
		StudentID: key.StudentID,
		ClassID:   key.ClassID,
		Slot:      key.Slot,
		Date:      key.Date,
		Status:    status,
		MarkedBy:  markedBy,
		MarkedAt:  time.Now(),
	}
	f.records[key] = rec
	return rec, nil
}

func (f *fakeLedger) Existing(_ context.Context, key attendance.Key) (attendance.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key.Date = attendance.Day(key.Date)
	rec, ok := f.records[key]
	return rec, ok, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeLedger, *fakeClasses) {
	t.Helper()
	people := &fakePeople{byExternal: map[string]person.Person{
		"teach-1": {ID: "t1", ExternalID: "teach-1", Name: "Ms. Patel", Role: person.RoleTeacher},
		"stud-1":  {ID: "s1", ExternalID: "stud-1", Name: "Asha", Role: person.RoleStudent},
		"stud-2":  {ID: "s2", ExternalID: "stud-2", Name: "Ravi", Role: person.RoleStudent},
	}}
	classes := &fakeClasses{
		classes: map[int64]classroom.Class{
			101: {ID: 101, Name: "Databases", TeacherID: "t1"},
		},
		enrollments: map[string]string{},
	}
	ledger := newFakeLedger()
	m := NewManager(NewMemoryStore(), people, classes, ledger, DefaultTTL)
	return m, ledger, classes
}

func TestIssueGeneratesSixDigitCode(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 3, "teach-1")
	require.NoError(t, err)
	assert.Len(t, s.Code, 6)
	assert.Equal(t, int64(101), s.ClassID)
	assert.Equal(t, 3, s.Slot)
	assert.Equal(t, "t1", s.IssuerID)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), s.ExpiresAt, 2*time.Second)
}

func TestIssueRejectsBadSlot(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Issue(context.Background(), 101, 0, "teach-1")
	require.Error(t, err)
	_, err = m.Issue(context.Background(), 101, 10, "teach-1")
	require.Error(t, err)
}

func TestIssueRejectsForeignClass(t *testing.T) {
	m, _, classes := newTestManager(t)
	classes.classes[202] = classroom.Class{ID: 202, Name: "Networks", TeacherID: "other"}

	_, err := m.Issue(context.Background(), 202, 1, "teach-1")
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestIssueRetriesOnCodeCollision(t *testing.T) {
	m, _, _ := newTestManager(t)

	codes := []string{"111111", "111111", "222222"}
	i := 0
	m.genCode = func() string {
		c := codes[i]
		i++
		return c
	}

	first, err := m.Issue(context.Background(), 101, 1, "teach-1")
	require.NoError(t, err)
	assert.Equal(t, "111111", first.Code)

	second, err := m.Issue(context.Background(), 101, 2, "teach-1")
	require.NoError(t, err)
	assert.Equal(t, "222222", second.Code, "collision with an active code must draw a fresh one")
}

func TestValidateUnknownCode(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Validate(context.Background(), "000000", "stud-1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestValidateExpiredCode(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 2, "teach-1")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Second) }
	_, err = m.Validate(context.Background(), s.Code, "stud-1")
	require.ErrorIs(t, err, common.ErrExpired)

	// The expired session is purged, so the same code reads as unknown now.
	m.now = time.Now
	_, err = m.Validate(context.Background(), s.Code, "stud-1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestValidateRejectsTeachers(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 2, "teach-1")
	require.NoError(t, err)

	_, err = m.Validate(context.Background(), s.Code, "teach-1")
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestValidateAutoEnrolls(t *testing.T) {
	m, _, classes := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 2, "teach-1")
	require.NoError(t, err)

	res, err := m.Validate(context.Background(), s.Code, "stud-1")
	require.NoError(t, err)
	assert.Equal(t, "Databases", res.ClassName)
	assert.Equal(t, "Asha", res.StudentName)
	assert.Equal(t, 2, res.Slot)
	assert.Equal(t, classroom.StatusApproved, classes.enrollments[classKey(101, "s1")])
}

func TestConsumeMarksPresent(t *testing.T) {
	m, ledger, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 4, "teach-1")
	require.NoError(t, err)

	rec, err := m.Consume(context.Background(), s.Code, "stud-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.Equal(t, attendance.MarkedByInstantCode, rec.MarkedBy)
	assert.Len(t, ledger.records, 1)
}

func TestConsumeTwiceReportsAlreadyMarked(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 4, "teach-1")
	require.NoError(t, err)

	first, err := m.Consume(context.Background(), s.Code, "stud-1")
	require.NoError(t, err)

	_, err = m.Consume(context.Background(), s.Code, "stud-1")
	require.ErrorIs(t, err, common.ErrAlreadyMarked)

	var already *attendance.AlreadyMarkedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, 4, already.Slot)
	assert.Equal(t, first.MarkedAt, already.MarkedAt)
}

func TestConsumeAfterManualMarkReportsOriginalTime(t *testing.T) {
	m, ledger, _ := newTestManager(t)

	// Teacher already marked the student by hand for the same slot today.
	manual, err := ledger.MarkOnce(context.Background(), attendance.Key{
		StudentID: "s1", ClassID: 101, Slot: 4, Date: time.Now(),
	}, attendance.StatusPresent, attendance.MarkedByTeacher)
	require.NoError(t, err)

	s, err := m.Issue(context.Background(), 101, 4, "teach-1")
	require.NoError(t, err)

	_, err = m.Validate(context.Background(), s.Code, "stud-1")
	require.ErrorIs(t, err, common.ErrAlreadyMarked)

	var already *attendance.AlreadyMarkedError
	_, err = m.Consume(context.Background(), s.Code, "stud-1")
	require.ErrorAs(t, err, &already)
	assert.Equal(t, manual.MarkedAt, already.MarkedAt)
	assert.Len(t, ledger.records, 1, "the manual record is never duplicated")
}

func TestCodeStaysActiveAcrossStudents(t *testing.T) {
	m, ledger, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 5, "teach-1")
	require.NoError(t, err)

	_, err = m.Consume(context.Background(), s.Code, "stud-1")
	require.NoError(t, err)
	_, err = m.Consume(context.Background(), s.Code, "stud-2")
	require.NoError(t, err)
	assert.Len(t, ledger.records, 2, "one broadcast code serves the whole class")
}

func TestInvalidateByIssuer(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 1, "teach-1")
	require.NoError(t, err)

	require.NoError(t, m.Invalidate(context.Background(), s.Code, "teach-1"))

	_, err = m.Validate(context.Background(), s.Code, "stud-1")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestInvalidateByOtherTeacher(t *testing.T) {
	m, _, _ := newTestManager(t)
	people := m.people.(*fakePeople)
	people.byExternal["teach-2"] = person.Person{ID: "t2", ExternalID: "teach-2", Role: person.RoleTeacher}

	s, err := m.Issue(context.Background(), 101, 1, "teach-1")
	require.NoError(t, err)

	err = m.Invalidate(context.Background(), s.Code, "teach-2")
	require.ErrorIs(t, err, common.ErrUnauthorized)

	// The code remains usable for the class.
	_, err = m.Validate(context.Background(), s.Code, "stud-1")
	require.NoError(t, err)
}

func TestInvalidateUnknownCodeIsNoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.NoError(t, m.Invalidate(context.Background(), "999999", "teach-1"))
}

func TestConcurrentConsumeSameStudent(t *testing.T) {
	m, ledger, _ := newTestManager(t)

	s, err := m.Issue(context.Background(), 101, 6, "teach-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Consume(context.Background(), s.Code, "stud-1")
		}(i)
	}
	wg.Wait()

	// Every racer either marked or saw AlreadyMarked; the ledger holds one row.
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, common.ErrAlreadyMarked), "unexpected error: %v", err)
		}
	}
	assert.Len(t, ledger.records, 1)
}
