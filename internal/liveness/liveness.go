// Package liveness decides whether a submitted frame shows a live person.
// The decision is expressed as a Strategy so the advanced model, the
// deterministic heuristic and the permissive demo mode can be swapped at
// construction time instead of branching inside the workflows.
package liveness

import (
	"context"
	"image"

	"faceattend/internal/imaging"
)

// Result is a transient per-call verdict; it is never persisted.
type Result struct {
	Passed     bool           `json:"passed"`
	Confidence float64        `json:"confidence"`
	Message    string         `json:"message"`
	Checks     map[string]any `json:"checks,omitempty"`
}

// Strategy scores a single frame for liveness.
type Strategy interface {
	Evaluate(ctx context.Context, frame imaging.Frame) Result
}

// Detector locates faces in a frame. The heuristic needs one; it is backed by
// the face service in production and stubbed in tests.
type Detector interface {
	Detect(ctx context.Context, frame imaging.Frame) ([]image.Rectangle, error)
}
