// Package otp issues and tracks the short-lived classroom codes teachers
// broadcast for instant attendance. A code stays usable by any number of
// students until it expires or its issuer invalidates it; sessions are
// non-durable by design and vanish on process restart (memory backend) or
// TTL (redis backend).
package otp

import (
	"context"
	"errors"
	"time"
)

// Session is one active classroom code.
type Session struct {
	Code      string    `json:"code"`
	ClassID   int64     `json:"class_id"`
	Slot      int       `json:"slot_number"`
	IssuerID  string    `json:"issuer_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the session is past its TTL at the given instant.
func (s Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ErrCodeTaken is returned by Store.Put when the code is already active; the
// manager retries with a fresh code.
var ErrCodeTaken = errors.New("code already active")

// Store holds active sessions keyed by code. Implementations must make each
// Put/Get/Remove atomic per code; the manager handles expiry semantics.
type Store interface {
	// Put registers a session, failing with ErrCodeTaken when the code is
	// already active.
	Put(ctx context.Context, s Session) error
	// Get returns the session for a code. Expired sessions may still be
	// returned; the caller decides what expiry means.
	Get(ctx context.Context, code string) (Session, bool, error)
	// Remove deletes a session. Removing an absent code is not an error.
	Remove(ctx context.Context, code string) error
}
