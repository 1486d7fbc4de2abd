package liveness

import (
	"context"
	"fmt"

	"faceattend/internal/imaging"
)

// Heuristic thresholds. Tuned to be lenient: false rejections frustrate
// students far more than the occasional borderline pass.
const (
	MinFaceSize    = 100 // minimum face box side, pixels
	ContrastFloor  = 20  // grayscale stddev below this reads as a flat photo
	MinBrightness  = 20
	MaxBrightness  = 240
	passConfidence = 0.8
)

// Heuristic is the deterministic fallback evaluator. It checks face count,
// face size, face-region contrast and frame brightness, in that order.
// Blur/sharpness analysis is deliberately not applied: camera autofocus lag
// produced too many false rejections in practice.
type Heuristic struct {
	detector Detector
}

// NewHeuristic creates the fallback evaluator on top of a face detector.
func NewHeuristic(detector Detector) *Heuristic {
	return &Heuristic{detector: detector}
}

// Evaluate runs the heuristic checks. A detector failure degrades to a soft
// pass rather than blocking the caller, mirroring how the original stack
// behaved when the biometric layer misfired.
func (h *Heuristic) Evaluate(ctx context.Context, frame imaging.Frame) Result {
	faces, err := h.detector.Detect(ctx, frame)
	if err != nil {
		return Result{
			Passed:     true,
			Confidence: 0.5,
			Message:    "Liveness check completed with warnings",
			Checks:     map[string]any{"detector_error": err.Error()},
		}
	}

	switch {
	case len(faces) == 0:
		return Result{
			Passed:     false,
			Confidence: 0.1,
			Message:    "No face detected. Please position your face in the camera.",
		}
	case len(faces) > 1:
		return Result{
			Passed:     false,
			Confidence: 0.1,
			Message:    "Please ensure only one face is visible in the camera.",
		}
	}

	box := faces[0]
	if box.Dx() < MinFaceSize || box.Dy() < MinFaceSize {
		return Result{
			Passed:     false,
			Confidence: 0.3,
			Message:    "Face too small. Please move closer to the camera.",
		}
	}

	contrast := imaging.RegionContrast(frame.Image, box)
	if contrast < ContrastFloor {
		return Result{
			Passed:     false,
			Confidence: 0.4,
			Message:    "Low image contrast. This might be a photo. Please ensure you're a real person.",
			Checks:     map[string]any{"contrast": contrast},
		}
	}

	brightness := imaging.MeanBrightness(frame.Image)
	if brightness < MinBrightness || brightness > MaxBrightness {
		return Result{
			Passed:     false,
			Confidence: 0.3,
			Message:    "Extreme lighting conditions. Please adjust lighting.",
			Checks:     map[string]any{"brightness": brightness},
		}
	}

	return Result{
		Passed:     true,
		Confidence: passConfidence,
		Message:    "Basic liveness check passed",
		Checks: map[string]any{
			"face_size":  fmt.Sprintf("%dx%d", box.Dx(), box.Dy()),
			"contrast":   contrast,
			"brightness": brightness,
		},
	}
}
