// Package common holds sentinel errors shared across the service so callers
// can branch on failure class with errors.Is regardless of which layer
// produced the failure.
package common

import "errors"

var (
	// ErrInvalidImage means the uploaded bytes could not be decoded.
	ErrInvalidImage = errors.New("invalid image")

	// ErrNoFaceDetected means no face was found in the frame.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrMultipleFacesDetected means more than one face was found.
	ErrMultipleFacesDetected = errors.New("multiple faces detected")

	// ErrLivenessFailed means the frame did not pass the liveness check.
	ErrLivenessFailed = errors.New("liveness check failed")

	// ErrNotEnrolled means the person has no stored face embedding.
	ErrNotEnrolled = errors.New("not enrolled")

	// ErrNotFound covers unknown persons, classes and OTP codes.
	ErrNotFound = errors.New("not found")

	// ErrExpired means an OTP session is past its TTL.
	ErrExpired = errors.New("expired")

	// ErrUnauthorized covers issuer mismatches and role violations.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyMarked means attendance already exists for the key.
	ErrAlreadyMarked = errors.New("attendance already marked")

	// ErrStorage wraps transient failures of an external store.
	ErrStorage = errors.New("storage error")
)
