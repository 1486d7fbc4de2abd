// Package faceclient talks to the external face model service. The service
// exposes detection, embedding extraction and model-based liveness scoring
// over plain JSON; images travel as base64 data URLs.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"faceattend/internal/imaging"
)

// Box is a face bounding box in pixel coordinates.
type Box struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Rect converts the box to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// DetectResult lists the faces found in a frame.
type DetectResult struct {
	Boxes []Box `json:"faces"`
}

// EmbedResult contains the face embedding and how many faces were seen.
type EmbedResult struct {
	Embedding     []float64 `json:"embedding"`
	FacesDetected int       `json:"faces_detected"`
}

// LivenessResult is the model's own verdict, surfaced verbatim to callers.
type LivenessResult struct {
	IsLive     bool           `json:"is_live"`
	Confidence float64        `json:"confidence"`
	Message    string         `json:"message"`
	Checks     map[string]any `json:"checks"`
}

// Client calls the face model service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip switches every call to canned demo responses so
// the rest of the system can run without the biometric stack.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // model inference can be slow
		},
	}
}

// Detect returns bounding boxes for every face in the image.
func (c *Client) Detect(ctx context.Context, imageData []byte) (*DetectResult, error) {
	if c.Skip {
		return &DetectResult{Boxes: []Box{{Top: 40, Right: 260, Bottom: 260, Left: 40}}}, nil
	}
	var out DetectResult
	if err := c.post(ctx, "/detect", imageData, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Embed extracts a fixed-length embedding for the image. The caller decides
// how to treat faces_detected != 1.
func (c *Client) Embed(ctx context.Context, imageData []byte) (*EmbedResult, error) {
	if c.Skip {
		emb := make([]float64, 128)
		for i := range emb {
			emb[i] = 0.01 * float64(i%16)
		}
		return &EmbedResult{Embedding: emb, FacesDetected: 1}, nil
	}
	var out EmbedResult
	if err := c.post(ctx, "/embed", imageData, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Liveness asks the advanced model whether the frame shows a live person.
func (c *Client) Liveness(ctx context.Context, imageData []byte) (*LivenessResult, error) {
	if c.Skip {
		return &LivenessResult{
			IsLive:     true,
			Confidence: 0.95,
			Message:    "liveness check skipped (demo mode)",
			Checks:     map[string]any{"mock": true},
		}, nil
	}
	var out LivenessResult
	if err := c.post(ctx, "/liveness", imageData, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks if the face service is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, imageData []byte, out any) error {
	body, _ := json.Marshal(map[string]string{"image": imaging.DataURL(imageData, "")})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
