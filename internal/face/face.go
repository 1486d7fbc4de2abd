// Package face holds the embedding type, the encoder contract and the
// distance-based matcher used by both enrollment and verification.
package face

import (
	"context"
	"fmt"
	"math"

	"faceattend/internal/common"
)

// EmbeddingDim is the fixed dimension every stored embedding must have.
const EmbeddingDim = 128

// DefaultTolerance is the Euclidean distance below which two embeddings are
// considered the same person.
const DefaultTolerance = 0.6

// Embedding is a fixed-length face descriptor.
type Embedding []float64

// Encoder extracts an embedding from an image that contains exactly one face.
// Zero and multiple faces are reported as common.ErrNoFaceDetected and
// common.ErrMultipleFacesDetected respectively, never coerced.
type Encoder interface {
	Encode(ctx context.Context, imageData []byte) (Embedding, error)
}

// MatchResult is the verdict of comparing a candidate against a stored
// embedding. Confidence is 1 - distance and is NOT clamped: at extreme
// distances it goes negative, and callers must not assume [0,1].
type MatchResult struct {
	Matched    bool
	Confidence float64
}

// Match compares two embeddings by Euclidean distance against the tolerance.
func Match(stored, candidate Embedding, tolerance float64) (MatchResult, error) {
	if len(stored) != len(candidate) {
		return MatchResult{}, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(stored), len(candidate))
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	d := Distance(stored, candidate)
	return MatchResult{
		Matched:    d <= tolerance,
		Confidence: 1 - d,
	}, nil
}

// Distance is the Euclidean distance between two same-length embeddings.
func Distance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// validateCount maps a face count to the encoder error contract.
func validateCount(n int) error {
	switch {
	case n == 0:
		return fmt.Errorf("%w: no face detected in the image, please try again", common.ErrNoFaceDetected)
	case n > 1:
		return fmt.Errorf("%w: please ensure only one face is visible", common.ErrMultipleFacesDetected)
	}
	return nil
}
