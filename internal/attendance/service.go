package attendance

import (
	"context"
	"fmt"
	"time"
)

// Guard is the single gate every attendance write goes through. It validates
// the key and delegates to the store's atomic upsert, so a manual teacher
// mark racing an instant-code mark can never produce two rows.
type Guard struct {
	store Store
}

// NewGuard creates the idempotency gate over a store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// MarkOnce records attendance for the key. An existing record is updated
// (status, marked_by, marked_at), never duplicated.
func (g *Guard) MarkOnce(ctx context.Context, key Key, status, markedBy string) (Record, error) {
	if key.StudentID == "" || key.ClassID <= 0 {
		return Record{}, fmt.Errorf("student and class required")
	}
	if !ValidSlot(key.Slot) {
		return Record{}, fmt.Errorf("slot number must be between %d and %d", MinSlot, MaxSlot)
	}
	if !ValidStatus(status) {
		return Record{}, fmt.Errorf("unknown attendance status %q", status)
	}
	date := Day(key.Date)
	if date.IsZero() {
		date = Day(time.Now())
	}
	// ISO weekday, Monday=1 .. Sunday=7.
	dow := int(date.Weekday())
	if dow == 0 {
		dow = 7
	}
	rec := Record{
		StudentID: key.StudentID,
		ClassID:   key.ClassID,
		Slot:      key.Slot,
		Date:      date,
		DayOfWeek: dow,
		Status:    status,
		MarkedBy:  markedBy,
	}
	return g.store.UpsertByKey(ctx, rec)
}

// Existing returns the record already stored for the key, if any. The OTP
// manager uses it to report the original mark time on AlreadyMarked.
func (g *Guard) Existing(ctx context.Context, key Key) (Record, bool, error) {
	key.Date = Day(key.Date)
	return g.store.FindOne(ctx, key)
}
