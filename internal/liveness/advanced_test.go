package liveness

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/faceclient"
)

func TestAdvancedSurfacesModelVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/liveness", r.URL.Path)
		json.NewEncoder(w).Encode(faceclient.LivenessResult{
			IsLive:     false,
			Confidence: 0.15,
			Message:    "screen replay suspected",
		})
	}))
	defer srv.Close()

	a := NewAdvanced(faceclient.New(srv.URL, false), Permissive{})
	res := a.Evaluate(context.Background(), flatFrame(128))
	assert.False(t, res.Passed)
	assert.Equal(t, 0.15, res.Confidence)
	assert.Equal(t, "screen replay suspected", res.Message)
}

func TestAdvancedFallsBackOnModelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAdvanced(faceclient.New(srv.URL, false), Permissive{})
	res := a.Evaluate(context.Background(), flatFrame(128))
	assert.True(t, res.Passed, "fallback strategy decides when the model path fails")
	assert.Equal(t, "Liveness check skipped (demo mode)", res.Message)
}

func TestRemoteDetectorSkipMode(t *testing.T) {
	d := NewRemoteDetector(faceclient.New("http://unused", true))
	rects, err := d.Detect(context.Background(), flatFrame(128))
	require.NoError(t, err)
	require.Len(t, rects, 1)
	assert.GreaterOrEqual(t, rects[0].Dx(), MinFaceSize)
}
