package liveness

import (
	"context"
	"image"
	"log"

	"faceattend/internal/faceclient"
	"faceattend/internal/imaging"
)

// Advanced delegates to the face service's liveness model and surfaces its
// verdict verbatim. An internal failure of the model path falls back to the
// heuristic instead of failing the request.
type Advanced struct {
	client   *faceclient.Client
	fallback Strategy
}

// NewAdvanced creates the model-backed evaluator with a fallback strategy.
func NewAdvanced(client *faceclient.Client, fallback Strategy) *Advanced {
	return &Advanced{client: client, fallback: fallback}
}

// Evaluate scores the frame with the model, falling back on error.
func (a *Advanced) Evaluate(ctx context.Context, frame imaging.Frame) Result {
	res, err := a.client.Liveness(ctx, frame.Raw)
	if err != nil {
		log.Printf("advanced liveness failed, using heuristic: %v", err)
		return a.fallback.Evaluate(ctx, frame)
	}
	return Result{
		Passed:     res.IsLive,
		Confidence: res.Confidence,
		Message:    res.Message,
		Checks:     res.Checks,
	}
}

// Permissive always passes. Used when no face detection capability is
// configured at all, so callers can run without the biometric stack.
type Permissive struct{}

// Evaluate returns a canned pass.
func (Permissive) Evaluate(context.Context, imaging.Frame) Result {
	return Result{
		Passed:     true,
		Confidence: 0.95,
		Message:    "Liveness check skipped (demo mode)",
	}
}

// RemoteDetector adapts the face service's detect endpoint to the Detector
// interface used by the heuristic.
type RemoteDetector struct {
	client *faceclient.Client
}

// NewRemoteDetector wraps a face service client as a Detector.
func NewRemoteDetector(client *faceclient.Client) *RemoteDetector {
	return &RemoteDetector{client: client}
}

// Detect returns the bounding boxes of the faces in the frame.
func (d *RemoteDetector) Detect(ctx context.Context, frame imaging.Frame) ([]image.Rectangle, error) {
	res, err := d.client.Detect(ctx, frame.Raw)
	if err != nil {
		return nil, err
	}
	rects := make([]image.Rectangle, 0, len(res.Boxes))
	for _, b := range res.Boxes {
		rects = append(rects, b.Rect())
	}
	return rects, nil
}
