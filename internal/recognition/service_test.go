package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faceattend/internal/common"
	"faceattend/internal/face"
	"faceattend/internal/imaging"
	"faceattend/internal/liveness"
	"faceattend/internal/person"
)

type stubStrategy struct {
	result liveness.Result
	calls  int
}

func (s *stubStrategy) Evaluate(context.Context, imaging.Frame) liveness.Result {
	s.calls++
	return s.result
}

type stubEncoder struct {
	emb   face.Embedding
	err   error
	calls int
}

func (s *stubEncoder) Encode(context.Context, []byte) (face.Embedding, error) {
	s.calls++
	return s.emb, s.err
}

type stubPeople struct {
	persons map[string]person.Person
	photos  map[string]string
}

func (s *stubPeople) GetByExternalID(_ context.Context, externalID string) (person.Person, error) {
	p, ok := s.persons[externalID]
	if !ok {
		return person.Person{}, common.ErrNotFound
	}
	return p, nil
}

func (s *stubPeople) SetProfilePhoto(_ context.Context, internalID, url string) error {
	s.photos[internalID] = url
	return nil
}

type stubEmbeddings struct {
	rows map[string]face.Enrollment
}

func (s *stubEmbeddings) Upsert(_ context.Context, userID string, emb face.Embedding, imageURL string) error {
	s.rows[userID] = face.Enrollment{
		UserID:           userID,
		Embedding:        emb,
		EnrolledImageURL: imageURL,
		CreatedAt:        time.Now(),
	}
	return nil
}

func (s *stubEmbeddings) Get(_ context.Context, userID string) (face.Enrollment, error) {
	enr, ok := s.rows[userID]
	if !ok {
		return face.Enrollment{}, common.ErrNotEnrolled
	}
	return enr, nil
}

func (s *stubEmbeddings) Delete(_ context.Context, userID string) error {
	delete(s.rows, userID)
	return nil
}

type stubUploader struct {
	url string
	err error
}

func (s stubUploader) UploadBytes([]byte, string) (string, error) {
	return s.url, s.err
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 30), uint8(y * 30), 100, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func passLiveness() *stubStrategy {
	return &stubStrategy{result: liveness.Result{Passed: true, Confidence: 0.8}}
}

func sampleEmbedding(fill float64) face.Embedding {
	e := make(face.Embedding, face.EmbeddingDim)
	for i := range e {
		e[i] = fill
	}
	return e
}

func newFixtures() (*stubPeople, *stubEmbeddings) {
	people := &stubPeople{
		persons: map[string]person.Person{
			"stud-1":  {ID: "s1", ExternalID: "stud-1", Name: "Asha", Role: person.RoleStudent},
			"teach-1": {ID: "t1", ExternalID: "teach-1", Name: "Ms. Patel", Role: person.RoleTeacher},
		},
		photos: map[string]string{},
	}
	return people, &stubEmbeddings{rows: map[string]face.Enrollment{}}
}

func TestEnrollHappyPath(t *testing.T) {
	people, embeddings := newFixtures()
	enc := &stubEncoder{emb: sampleEmbedding(0.1)}
	svc := NewService(people, embeddings, passLiveness(), enc, stubUploader{url: "https://cdn/x.jpg"}, 0)

	res, err := svc.Enroll(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Face enrolled successfully", res.Message)
	assert.Contains(t, embeddings.rows, "s1")
	assert.Equal(t, "https://cdn/x.jpg", people.photos["s1"])
}

func TestEnrollRejectsInvalidImage(t *testing.T) {
	people, embeddings := newFixtures()
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{}, nil, 0)

	_, err := svc.Enroll(context.Background(), "stud-1", []byte("not an image"))
	require.ErrorIs(t, err, common.ErrInvalidImage)
}

func TestEnrollLivenessShortCircuitsEncode(t *testing.T) {
	people, embeddings := newFixtures()
	enc := &stubEncoder{emb: sampleEmbedding(0.1)}
	strategy := &stubStrategy{result: liveness.Result{Passed: false, Message: "This might be a photo"}}
	svc := NewService(people, embeddings, strategy, enc, nil, 0)

	res, err := svc.Enroll(context.Background(), "stud-1", testImage(t))
	require.ErrorIs(t, err, common.ErrLivenessFailed)
	assert.Equal(t, "This might be a photo", res.Message)
	assert.Zero(t, enc.calls, "encoding must not run after a failed liveness check")
	assert.Empty(t, embeddings.rows)
}

func TestEnrollRejectsTeachers(t *testing.T) {
	people, embeddings := newFixtures()
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{emb: sampleEmbedding(0.1)}, nil, 0)

	_, err := svc.Enroll(context.Background(), "teach-1", testImage(t))
	require.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestEnrollSurvivesUploadFailure(t *testing.T) {
	people, embeddings := newFixtures()
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{emb: sampleEmbedding(0.1)}, stubUploader{err: errors.New("cloud down")}, 0)

	res, err := svc.Enroll(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "profile photo could not be saved")
	assert.Contains(t, embeddings.rows, "s1", "embedding is stored even when the photo upload fails")
}

func TestReEnrollReplacesEmbedding(t *testing.T) {
	people, embeddings := newFixtures()
	enc := &stubEncoder{emb: sampleEmbedding(0.1)}
	svc := NewService(people, embeddings, passLiveness(), enc, nil, 0)

	_, err := svc.Enroll(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)

	enc.emb = sampleEmbedding(0.2)
	_, err = svc.Enroll(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)

	require.Len(t, embeddings.rows, 1)
	assert.Equal(t, 0.2, embeddings.rows["s1"].Embedding[0])
}

func TestVerifyRecognized(t *testing.T) {
	people, embeddings := newFixtures()
	stored := sampleEmbedding(0.1)
	embeddings.rows["s1"] = face.Enrollment{UserID: "s1", Embedding: stored}
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{emb: sampleEmbedding(0.1)}, nil, 0)

	res, err := svc.Verify(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.True(t, res.Recognized)
	assert.True(t, res.LivenessCheck)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
}

func TestVerifyRejected(t *testing.T) {
	people, embeddings := newFixtures()
	embeddings.rows["s1"] = face.Enrollment{UserID: "s1", Embedding: sampleEmbedding(0.0)}
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{emb: sampleEmbedding(0.9)}, nil, 0)

	res, err := svc.Verify(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.True(t, res.LivenessCheck)
	assert.Equal(t, "Face not recognized", res.Message)
}

func TestVerifyLivenessFailure(t *testing.T) {
	people, embeddings := newFixtures()
	enc := &stubEncoder{emb: sampleEmbedding(0.1)}
	strategy := &stubStrategy{result: liveness.Result{Passed: false, Confidence: 0.4, Message: "Low image contrast"}}
	svc := NewService(people, embeddings, strategy, enc, nil, 0)

	res, err := svc.Verify(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.False(t, res.LivenessCheck)
	assert.Equal(t, 0.4, res.Confidence)
	assert.Zero(t, enc.calls)
}

func TestVerifyNoUsableFace(t *testing.T) {
	people, embeddings := newFixtures()
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{err: common.ErrMultipleFacesDetected}, nil, 0)

	res, err := svc.Verify(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.True(t, res.LivenessCheck, "liveness already passed when encoding failed")
	assert.Contains(t, res.Message, "only one face")
}

func TestVerifyNotEnrolled(t *testing.T) {
	people, embeddings := newFixtures()
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{emb: sampleEmbedding(0.1)}, nil, 0)

	res, err := svc.Verify(context.Background(), "stud-1", testImage(t))
	require.NoError(t, err)
	assert.False(t, res.Recognized)
	assert.Contains(t, res.Message, "enroll your face first")
}

func TestRevokeClearsEmbeddingAndPhoto(t *testing.T) {
	people, embeddings := newFixtures()
	embeddings.rows["s1"] = face.Enrollment{UserID: "s1", Embedding: sampleEmbedding(0.1)}
	people.photos["s1"] = "https://cdn/x.jpg"
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{}, nil, 0)

	require.NoError(t, svc.Revoke(context.Background(), "stud-1"))
	assert.Empty(t, embeddings.rows)
	assert.Empty(t, people.photos["s1"])
}

func TestEnrollmentStatus(t *testing.T) {
	people, embeddings := newFixtures()
	svc := NewService(people, embeddings, passLiveness(), &stubEncoder{}, nil, 0)

	status, err := svc.EnrollmentStatus(context.Background(), "stud-1")
	require.NoError(t, err)
	assert.False(t, status.Enrolled)
	assert.Nil(t, status.EnrolledAt)

	embeddings.rows["s1"] = face.Enrollment{UserID: "s1", Embedding: sampleEmbedding(0.1), CreatedAt: time.Now()}
	status, err = svc.EnrollmentStatus(context.Background(), "stud-1")
	require.NoError(t, err)
	assert.True(t, status.Enrolled)
	require.NotNil(t, status.EnrolledAt)
}
