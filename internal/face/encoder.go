package face

import (
	"context"
	"fmt"

	"faceattend/internal/faceclient"
)

// RemoteEncoder produces embeddings through the face model service.
type RemoteEncoder struct {
	client *faceclient.Client
}

// NewRemoteEncoder wraps a face service client as an Encoder.
func NewRemoteEncoder(client *faceclient.Client) *RemoteEncoder {
	return &RemoteEncoder{client: client}
}

// Encode requests an embedding and enforces the exactly-one-face contract.
func (e *RemoteEncoder) Encode(ctx context.Context, imageData []byte) (Embedding, error) {
	res, err := e.client.Embed(ctx, imageData)
	if err != nil {
		return nil, err
	}
	if err := validateCount(res.FacesDetected); err != nil {
		return nil, err
	}
	if len(res.Embedding) != EmbeddingDim {
		return nil, fmt.Errorf("face service returned %d-dimensional embedding, want %d", len(res.Embedding), EmbeddingDim)
	}
	return Embedding(res.Embedding), nil
}
